package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig controls span export. Enabled=false returns a no-op
// tracer so call sites never need a nil check.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
}

// NewTracerProvider builds a TracerProvider writing spans to stdout, or a
// no-op provider if cfg.Enabled is false. The returned shutdown func must
// be called on process exit to flush any buffered spans.
func NewTracerProvider(cfg TracingConfig) (trace.TracerProvider, func(context.Context) error, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider, provider.Shutdown, nil
}

// StartPolicySpan starts a span around one policy evaluation.
func StartPolicySpan(ctx context.Context, tp trace.TracerProvider, toolName string) (context.Context, trace.Span) {
	return tp.Tracer("mcpgate/policy").Start(ctx, "policy.evaluate",
		trace.WithAttributes(attribute.String("tool_name", toolName)),
	)
}

// StartDispatchSpan starts a span around one dispatcher decision.
func StartDispatchSpan(ctx context.Context, tp trace.TracerProvider, method string) (context.Context, trace.Span) {
	return tp.Tracer("mcpgate/dispatch").Start(ctx, "dispatch.handle",
		trace.WithAttributes(attribute.String("method", method)),
	)
}

// EndWithError records err on span, if non-nil, before the caller ends it.
func EndWithError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
