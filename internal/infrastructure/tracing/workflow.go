package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceBlock wraps a single block's dispatch (internal/engine/dispatch.go
// executeBlock) in a span named after the block kind, the way a scheduler
// traces its unit of work: one span per node, tagged with block id/type,
// closed with an error status on handler failure.
func TraceBlock(ctx context.Context, blockID, blockType string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ctx, span := StartSpan(ctx, "block."+blockType,
		trace.WithAttributes(
			attribute.String("block.id", blockID),
			attribute.String("block.type", blockType),
		),
	)
	defer span.End()

	output, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return output, err
	}
	span.SetStatus(codes.Ok, "")
	return output, nil
}

// TraceLayer wraps one scheduler layer (internal/engine/scheduler.go
// executeLayer): a span covering the concurrent execution of every
// block ready in that layer, tagged with the layer index and block
// count so a trace shows the engine's wave-by-wave shape.
func TraceLayer(ctx context.Context, layerIndex, blockCount int, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, "engine.layer",
		trace.WithAttributes(
			attribute.Int("layer.index", layerIndex),
			attribute.Int("layer.block_count", blockCount),
		),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
