package models

import "time"

// ExecuteOptions tunes one run of the engine entry point (§6
// "Execute(workflow, envelope, env, options)"). Zero values mean
// "use the engine's configured default" — callers only set what they
// want to override.
type ExecuteOptions struct {
	// MaxLayers caps the number of scheduling layers before the run
	// fails with RuntimeLimitExceeded (§4.3 "MAX_LAYERS"). 0 uses the
	// engine default.
	MaxLayers int `json:"maxLayers,omitempty" validate:"gte=0"`

	// Deadline bounds the wall-clock time of the whole run. 0 means no
	// deadline beyond the caller's own context.
	Deadline time.Duration `json:"deadline,omitempty" validate:"gte=0"`

	// MaxConcurrency bounds how many blocks within one layer execute
	// at once. 0 uses the engine default.
	MaxConcurrency int `json:"maxConcurrency,omitempty" validate:"gte=0"`

	// FailFast stops the run on the first block failure instead of
	// only failing the branch it happened on. Parallel containers have
	// their own, separately configured FailFast (§4.5); this one
	// governs the top-level run.
	FailFast bool `json:"failFast,omitempty"`
}
