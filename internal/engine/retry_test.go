package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowrunner/pkg/models"
)

// A handler failure marked Retryable (the Api handler's network-error
// classification, §4.6) must actually be retried by the engine's
// configured RetryPolicy, not just recorded as a dead-end flag.
func TestEngine_RetryableHandlerFailure_IsRetried(t *testing.T) {
	var attempts int32
	mgr := newManager(map[string]func(context.Context, map[string]interface{}, interface{}) (interface{}, error){
		"function": func(_ context.Context, config map[string]interface{}, _ interface{}) (interface{}, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return nil, &models.ExecutionError{
					Kind:      models.KindHandlerFailure,
					Message:   "connection reset by peer",
					Retryable: true,
				}
			}
			return config, nil
		},
	})

	wf := newWorkflow(
		[]*models.Block{
			block("start", models.BlockKindStarter, nil),
			block("fn", models.BlockKindFunction, map[string]interface{}{"x": 1}),
		},
		[]models.Connection{conn("start", "fn")},
		nil, nil,
	)

	eng := NewEngine(mgr, WithRetryPolicy(&RetryPolicy{
		MaxAttempts:     5,
		InitialDelay:    time.Millisecond,
		MaxDelay:        time.Millisecond,
		BackoffStrategy: BackoffConstant,
	}))
	result := eng.Execute(context.Background(), wf, map[string]interface{}{}, nil, models.ExecuteOptions{})

	require.True(t, result.Success, "result: %+v", result.Error)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts), "handler should have been retried until it succeeded")
}

// A non-retryable handler failure must fail the run on the first
// attempt, without the retry policy being invoked at all.
func TestEngine_NonRetryableHandlerFailure_IsNotRetried(t *testing.T) {
	var attempts int32
	mgr := newManager(map[string]func(context.Context, map[string]interface{}, interface{}) (interface{}, error){
		"function": func(_ context.Context, config map[string]interface{}, _ interface{}) (interface{}, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, &models.ExecutionError{Kind: models.KindHandlerFailure, Message: "bad input", Retryable: false}
		},
	})

	wf := newWorkflow(
		[]*models.Block{
			block("start", models.BlockKindStarter, nil),
			block("fn", models.BlockKindFunction, map[string]interface{}{"x": 1}),
		},
		[]models.Connection{conn("start", "fn")},
		nil, nil,
	)

	eng := NewEngine(mgr, WithRetryPolicy(DefaultRetryPolicy()))
	result := eng.Execute(context.Background(), wf, map[string]interface{}{}, nil, models.ExecuteOptions{})

	require.False(t, result.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}
