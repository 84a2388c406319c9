package engine

// Default limits honored by the scheduler unless overridden by ExecuteOptions.
const (
	// DefaultMaxLayers is the hard layer cap of §4.3 ("MAX_LAYERS, default 10000").
	DefaultMaxLayers = 10000

	// DefaultMaxConcurrency bounds how many blocks in one layer run at once.
	DefaultMaxConcurrency = 16

	// DefaultConditionCacheCapacity bounds the compiled-expression LRU cache.
	DefaultConditionCacheCapacity = 256
)
