package obslog

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitTracer installs a process-wide TracerProvider tagged with
// serviceName, returning a shutdown func. Generalized from the teacher's
// observability.InitOTel: that function additionally wires an OTLP HTTP
// trace/metric exporter and host metrics, neither of which this system's
// external interfaces (spec.md §6) expose an endpoint for — SPEC_FULL.md's
// scope is the in-process span/log pairing around the suspension points in
// §5, not shipping spans to a collector, so the otlptracehttp/otlpmetrichttp
// exporters and go.opentelemetry.io/contrib/instrumentation/host the
// teacher imports for that are dropped here (see DESIGN.md). The
// TracerProvider still samples and propagates every span, so
// LoggerWithTrace's trace_id/span_id correlation works end to end; only the
// "ship spans to an external backend" leg is out of scope.
func InitTracer(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("obslog: init resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
