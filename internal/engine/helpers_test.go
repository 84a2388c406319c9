package engine

import (
	"context"

	"github.com/smilemakc/flowrunner/internal/executor"
	"github.com/smilemakc/flowrunner/pkg/models"
)

// newManager builds an executor.Manager with fns registered by block
// kind, for tests that want a handler without going through the real
// goja/HTTP/LLM builtins.
func newManager(fns map[string]func(ctx context.Context, config map[string]interface{}, input interface{}) (interface{}, error)) executor.Manager {
	mgr := executor.NewManager()
	for kind, fn := range fns {
		_ = mgr.Register(kind, executor.NewExecutorFunc(fn, nil))
	}
	return mgr
}

// echoManager registers a single "function" handler that returns its
// resolved config unchanged, the simplest possible work block.
func echoManager() executor.Manager {
	return newManager(map[string]func(context.Context, map[string]interface{}, interface{}) (interface{}, error){
		"function": func(_ context.Context, config map[string]interface{}, _ interface{}) (interface{}, error) {
			return config, nil
		},
	})
}

func block(id string, kind models.BlockKind, config map[string]interface{}) *models.Block {
	return &models.Block{ID: id, Kind: kind, Name: id, Config: config, Enabled: true}
}

func conn(source, target string) models.Connection {
	return models.Connection{Source: source, Target: target}
}

func connHandle(source, target, handle string) models.Connection {
	return models.Connection{Source: source, Target: target, SourceHandle: handle}
}

func newWorkflow(blocks []*models.Block, connections []models.Connection, loops map[string]*models.Loop, parallels map[string]*models.Parallel) *models.SerializedWorkflow {
	m := make(map[string]*models.Block, len(blocks))
	for _, b := range blocks {
		m[b.ID] = b
	}
	return &models.SerializedWorkflow{
		Version:     "1",
		Blocks:      m,
		Connections: connections,
		Loops:       loops,
		Parallels:   parallels,
	}
}

func logForBlock(logs []models.BlockLog, blockID string) []models.BlockLog {
	var out []models.BlockLog
	for _, l := range logs {
		if l.BlockID == blockID {
			out = append(out, l)
		}
	}
	return out
}

func hasLogFor(logs []models.BlockLog, blockID string) bool {
	return len(logForBlock(logs, blockID)) > 0
}
