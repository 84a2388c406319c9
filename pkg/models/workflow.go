// Package models defines the public domain models for flowrunner.
package models

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// BlockKind enumerates the recognized block kinds. Unknown kinds are
// rejected during workflow validation, not at the type level, so the
// engine can surface InvalidWorkflow with the offending block id.
type BlockKind string

const (
	BlockKindStarter   BlockKind = "starter"
	BlockKindAgent     BlockKind = "agent"
	BlockKindFunction  BlockKind = "function"
	BlockKindApi       BlockKind = "api"
	BlockKindCondition BlockKind = "condition"
	BlockKindRouter    BlockKind = "router"
	BlockKindLoop      BlockKind = "loop"
	BlockKindParallel  BlockKind = "parallel"
	BlockKindResponse  BlockKind = "response"
	BlockKindEvaluator BlockKind = "evaluator"
	BlockKindWebhook   BlockKind = "webhook"
)

// Handle prefixes recognized in Connection.SourceHandle. A handle that
// doesn't match one of these prefixes and isn't empty is still legal —
// the path tracker treats it as a default edge — but these are the ones
// with decision semantics (§4.1).
const (
	HandleParallelStartSource = "parallel-start-source"
	HandleParallelEndSource   = "parallel-end-source"
	HandleLoopStartSource     = "loop-start-source"
	HandleLoopEndSource       = "loop-end-source"
)

// ConditionHandle builds the sourceHandle for the branch of a condition
// block identified by conditionID.
func ConditionHandle(conditionBlockID, conditionID string) string {
	return "condition-" + conditionBlockID + "-" + conditionID
}

// Block is one node of the workflow graph: a unit of work with a kind,
// already-merged config, and declared input/output shape.
type Block struct {
	ID      string                 `json:"id"`
	Kind    BlockKind              `json:"kind"`
	Name    string                 `json:"name"`
	Config  map[string]interface{} `json:"config,omitempty"`
	Inputs  map[string]interface{} `json:"inputs,omitempty"`
	Outputs map[string]interface{} `json:"outputs,omitempty"`
	Enabled bool                   `json:"enabled"`
}

// Validate checks block-local invariants. Edge and container invariants
// are checked at the SerializedWorkflow level since they need the full graph.
func (b *Block) Validate() error {
	if b.ID == "" {
		return &ValidationError{Field: "id", Message: "block id is required"}
	}
	if b.Kind == "" {
		return &ValidationError{Field: "kind", Message: "block kind is required"}
	}
	return nil
}

// Connection is a directed edge between two blocks, optionally carrying
// a handle that selects a branch or marks a subflow boundary (§3, §4.1).
type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// Validate checks that the connection is structurally sane. It cannot
// check that Source/Target exist in the workflow; that's a
// SerializedWorkflow-level check.
func (c *Connection) Validate() error {
	if c.Source == "" || c.Target == "" {
		return &ValidationError{Field: "connection", Message: "source and target are required"}
	}
	if c.Source == c.Target {
		return &ValidationError{Field: "connection", Message: "self-loops outside a loop container are not allowed"}
	}
	return nil
}

// LoopType selects how a Loop container determines its iteration count.
type LoopType string

const (
	LoopTypeFor     LoopType = "for"
	LoopTypeForEach LoopType = "forEach"
)

// ResponseScope is the resolved behavior of a Response block fired from
// inside a Loop or Parallel subflow (§9 open question: the source is
// ambiguous about this, so it is made a configurable field here).
type ResponseScope string

const (
	ResponseScopeIteration ResponseScope = "iteration"
	ResponseScopeLoop      ResponseScope = "loop"
	ResponseScopeRun       ResponseScope = "run"
)

// Loop is a container block whose member blocks execute once per
// iteration (§3, §4.4). The container id equals the LoopId and is
// itself a Block of kind "loop".
type Loop struct {
	Nodes         []string      `json:"nodes"`
	LoopType      LoopType      `json:"loopType"`
	Iterations    int           `json:"iterations,omitempty"`
	ForEachItems  interface{}   `json:"forEachItems,omitempty"`
	ResponseScope ResponseScope `json:"responseScope,omitempty"`
}

// EffectiveResponseScope returns l.ResponseScope, defaulting to "run"
// when unset.
func (l *Loop) EffectiveResponseScope() ResponseScope {
	if l.ResponseScope == "" {
		return ResponseScopeRun
	}
	return l.ResponseScope
}

func (l *Loop) Validate(id string, blocks map[string]*Block) error {
	if len(l.Nodes) == 0 {
		return &ValidationError{Field: "loop." + id, Message: "loop has no member nodes"}
	}
	switch l.LoopType {
	case LoopTypeFor:
		if l.Iterations < 1 {
			return &ValidationError{Field: "loop." + id, Message: "for-loop requires iterations >= 1"}
		}
	case LoopTypeForEach:
		if l.ForEachItems == nil {
			return &ValidationError{Field: "loop." + id, Message: "forEach loop requires forEachItems"}
		}
	default:
		return &ValidationError{Field: "loop." + id, Message: "loopType must be 'for' or 'forEach'"}
	}
	if _, ok := blocks[id]; !ok {
		return &ValidationError{Field: "loop." + id, Message: "loop container id must also be a block"}
	}
	for _, n := range l.Nodes {
		if _, ok := blocks[n]; !ok {
			return &ValidationError{Field: "loop." + id, Message: "loop member " + n + " is not a known block"}
		}
	}
	return nil
}

// ParallelType selects how a Parallel container determines its branch count.
type ParallelType string

const (
	ParallelTypeCount      ParallelType = "count"
	ParallelTypeCollection ParallelType = "collection"
)

// Parallel is a container block that fans out copies of its member
// subgraph into independently executing branches (§3, §4.5).
type Parallel struct {
	Nodes        []string     `json:"nodes"`
	ParallelType ParallelType `json:"parallelType"`
	Count        int          `json:"count,omitempty"`
	Distribution interface{}  `json:"distribution,omitempty"`

	// FailFast aborts sibling branches on the first branch failure
	// when true; default false captures failures per-branch (§4.5).
	FailFast bool `json:"failFast,omitempty"`
}

func (p *Parallel) Validate(id string, blocks map[string]*Block) error {
	if len(p.Nodes) == 0 {
		return &ValidationError{Field: "parallel." + id, Message: "parallel has no member nodes"}
	}
	switch p.ParallelType {
	case ParallelTypeCount:
		if p.Count < 1 {
			return &ValidationError{Field: "parallel." + id, Message: "count parallel requires count >= 1"}
		}
	case ParallelTypeCollection:
		if p.Distribution == nil {
			return &ValidationError{Field: "parallel." + id, Message: "collection parallel requires distribution"}
		}
	default:
		return &ValidationError{Field: "parallel." + id, Message: "parallelType must be 'count' or 'collection'"}
	}
	if _, ok := blocks[id]; !ok {
		return &ValidationError{Field: "parallel." + id, Message: "parallel container id must also be a block"}
	}
	for _, n := range p.Nodes {
		if _, ok := blocks[n]; !ok {
			return &ValidationError{Field: "parallel." + id, Message: "parallel member " + n + " is not a known block"}
		}
	}
	return nil
}

// SerializedWorkflow is the immutable graph description consumed by the
// engine for a single run (§3). It is never mutated once a run starts.
type SerializedWorkflow struct {
	Version     string                 `json:"version"`
	Blocks      map[string]*Block      `json:"blocks"`
	Connections []Connection           `json:"connections"`
	Loops       map[string]*Loop       `json:"loops,omitempty"`
	Parallels   map[string]*Parallel   `json:"parallels,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// BlockByNameOrID returns the block whose id equals key, or failing
// that the first block whose Name equals key (§4.2 "{{blockName_or_id
// .field}}": references may name a block by either its id or its
// display name).
func (w *SerializedWorkflow) BlockByNameOrID(key string) *Block {
	if b, ok := w.Blocks[key]; ok {
		return b
	}
	for _, b := range w.Blocks {
		if b.Name == key {
			return b
		}
	}
	return nil
}

// GetBlock returns the block with the given id, or nil if absent.
func (w *SerializedWorkflow) GetBlock(id string) *Block {
	if w.Blocks == nil {
		return nil
	}
	return w.Blocks[id]
}

// OutgoingConnections returns connections whose Source is blockID, in
// declared order.
func (w *SerializedWorkflow) OutgoingConnections(blockID string) []Connection {
	var out []Connection
	for _, c := range w.Connections {
		if c.Source == blockID {
			out = append(out, c)
		}
	}
	return out
}

// IncomingConnections returns connections whose Target is blockID.
func (w *SerializedWorkflow) IncomingConnections(blockID string) []Connection {
	var in []Connection
	for _, c := range w.Connections {
		if c.Target == blockID {
			in = append(in, c)
		}
	}
	return in
}

// LoopContaining returns the Loop owning blockID as a member, and its
// id, or ("", nil) if blockID is not a loop member.
func (w *SerializedWorkflow) LoopContaining(blockID string) (string, *Loop) {
	for id, l := range w.Loops {
		for _, n := range l.Nodes {
			if n == blockID {
				return id, l
			}
		}
	}
	return "", nil
}

// ParallelContaining returns the Parallel owning blockID as a member,
// and its id, or ("", nil) if blockID is not a parallel member.
func (w *SerializedWorkflow) ParallelContaining(blockID string) (string, *Parallel) {
	for id, p := range w.Parallels {
		for _, n := range p.Nodes {
			if n == blockID {
				return id, p
			}
		}
	}
	return "", nil
}

// Validate enforces the structural invariants of §3: unique starter,
// every connection endpoint resolves to a known block, every loop/parallel
// member id exists, and every container id is itself a block. It does not
// check reachability or cycle-outside-loop rules; BuildDAG does, since
// those need the loop/parallel membership map to tell a legal back-edge
// from an illegal cycle.
func (w *SerializedWorkflow) Validate() error {
	if len(w.Blocks) == 0 {
		return &ValidationError{Field: "blocks", Message: "workflow has no blocks"}
	}

	var starters []string
	for id, b := range w.Blocks {
		if b.ID != "" && b.ID != id {
			return &ValidationError{Field: "blocks." + id, Message: "block id does not match its map key"}
		}
		if err := b.Validate(); err != nil {
			return fmt.Errorf("block %s: %w", id, err)
		}
		if b.Kind == BlockKindStarter {
			starters = append(starters, id)
		}
	}
	if len(starters) == 0 {
		return &ValidationError{Field: "blocks", Message: "workflow has no starter block"}
	}
	if len(starters) > 1 {
		return &ValidationError{Field: "blocks", Message: "workflow has more than one starter block"}
	}

	for i, c := range w.Connections {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("connections[%d]: %w", i, err)
		}
		if _, ok := w.Blocks[c.Source]; !ok {
			return &ValidationError{Field: fmt.Sprintf("connections[%d]", i), Message: "source " + c.Source + " is not a known block"}
		}
		if _, ok := w.Blocks[c.Target]; !ok {
			return &ValidationError{Field: fmt.Sprintf("connections[%d]", i), Message: "target " + c.Target + " is not a known block"}
		}
	}

	for id, l := range w.Loops {
		if err := l.Validate(id, w.Blocks); err != nil {
			return err
		}
	}
	for id, p := range w.Parallels {
		if err := p.Validate(id, w.Blocks); err != nil {
			return err
		}
	}

	return nil
}

// selfReferenceKeys are the bare identifiers the source lets a condition
// expression use to mean "this condition block's own upstream output",
// without naming the upstream block explicitly.
var selfReferenceKeys = []string{"value", "text"}

// Warnings runs non-fatal checks that Validate deliberately leaves out
// because there is no single correct fix, only an ambiguity to surface
// (§9 open question: condition blocks may reference their own upstream
// output under the bare identifier "value"/"text"; when the condition
// block has more than one incoming edge there is no way to tell which
// edge's output that identifier should mean, so this is reported as a
// warning rather than guessed).
func (w *SerializedWorkflow) Warnings() []ValidationWarning {
	var warnings []ValidationWarning
	for id, b := range w.Blocks {
		if b.Kind != BlockKindCondition {
			continue
		}
		if len(w.IncomingConnections(id)) <= 1 {
			continue
		}
		raw, ok := b.Config["conditions"]
		if !ok {
			continue
		}
		if key, ok := conditionsReferenceSelf(raw); ok {
			warnings = append(warnings, ValidationWarning{
				BlockID: id,
				Field:   "config.conditions",
				Message: fmt.Sprintf("condition references its own upstream output via %q, but this block has more than one incoming edge; which edge %q resolves against is ambiguous and not guessed", key, key),
			})
		}
	}
	return warnings
}

// conditionsReferenceSelf checks whether any expression in a condition
// block's "conditions" config value mentions a bare self-reference
// identifier ("value"/"text") rather than an explicit <blockName.field>
// reference.
func conditionsReferenceSelf(raw interface{}) (string, bool) {
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		text = string(data)
	}

	var specs []struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(text), &specs); err != nil {
		return "", false
	}
	for _, spec := range specs {
		for _, key := range selfReferenceKeys {
			if referencesIdentifier(spec.Value, key) {
				return key, true
			}
		}
	}
	return "", false
}

// referencesIdentifier reports whether expr names key as a standalone
// identifier (not as part of a longer word or a <block.field> path).
func referencesIdentifier(expr, key string) bool {
	for i := 0; i+len(key) <= len(expr); i++ {
		if expr[i:i+len(key)] != key {
			continue
		}
		beforeOK := i == 0 || !isIdentChar(expr[i-1])
		afterIdx := i + len(key)
		afterOK := afterIdx == len(expr) || (!isIdentChar(expr[afterIdx]) && expr[afterIdx] != '.')
		if beforeOK && afterOK {
			return true
		}
	}
	return false
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Clone returns a deep copy of the workflow via a JSON round-trip,
// matching the teacher's cloning idiom for graph-shaped value types.
func (w *SerializedWorkflow) Clone() (*SerializedWorkflow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}
	var clone SerializedWorkflow
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &clone, nil
}

// ParseSerializedWorkflowYAML decodes a YAML-encoded workflow document
// (§6: the serialized workflow format is "JSON or equivalent"). YAML is
// decoded into a generic tree and round-tripped through JSON so the
// struct's existing `json` tags drive the mapping rather than needing a
// parallel set of `yaml` tags on every field.
func ParseSerializedWorkflowYAML(data []byte) (*SerializedWorkflow, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parse workflow yaml: %w", err)
	}
	asJSON, err := json.Marshal(normalizeYAML(generic))
	if err != nil {
		return nil, fmt.Errorf("normalize workflow yaml: %w", err)
	}
	var wf SerializedWorkflow
	if err := json.Unmarshal(asJSON, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow yaml: %w", err)
	}
	return &wf, nil
}

// normalizeYAML recursively converts the map[string]interface{}/
// map[interface{}]interface{} mix yaml.v3 produces into the
// map[string]interface{} shape encoding/json expects.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return val
	}
}
