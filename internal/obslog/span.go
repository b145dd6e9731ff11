package obslog

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("lineage")

// Trace wraps one suspension point named by op (e.g. "graph.upsert_node",
// "vectorstore.upsert", "embedding.embed", "reranker.rerank",
// "bus.publish") with an OpenTelemetry span and a zerolog event recording
// duration and outcome, per SPEC_FULL.md §5's ambient requirement. fn
// receives a context carrying the new span so nested spans nest correctly.
func Trace(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	dur := time.Since(start)

	evt := LoggerWithTrace(ctx).Info()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		evt = LoggerWithTrace(ctx).Error().Err(err)
	}
	evt.Str("op", op).Dur("duration", dur).Msg("obslog: suspension point")

	return err
}

// StartSpan is the non-wrapped form of Trace, for call sites that need to
// hold the span open across several steps instead of one function call.
func StartSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, op)
}
