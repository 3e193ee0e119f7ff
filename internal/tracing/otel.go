package tracing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope of every span kitool starts
const TracerName = "kitool"

// Options configures Setup
type Options struct {
	ServiceName string
	SampleRatio float64

	// SpanLogger receives one debug line per finished span. Without it
	// spans are sampled and propagated but never exported.
	SpanLogger *zerolog.Logger
}

// Provider is the tracer provider installed by Setup. A nil *Provider
// shuts down as a no-op.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup installs a global tracer provider sampling opts.SampleRatio of the
// root spans. Call Shutdown to flush it.
func Setup(ctx context.Context, opts Options) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(opts.ServiceName)),
		resource.WithProcessPID(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
		sdktrace.WithResource(res),
	}
	if opts.SpanLogger != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(&logExporter{logger: *opts.SpanLogger}))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans and puts the no-op provider back.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
	return p.tp.Shutdown(ctx)
}

// StartSpan starts a span under the kitool tracer. The first sampled span
// of a request also becomes its trace ID for logs and audit records.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	if sc := span.SpanContext(); sc.IsValid() && TraceID(ctx) == "" {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}

// logExporter writes finished spans to a zerolog logger
type logExporter struct {
	logger zerolog.Logger
}

func (e *logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		event := e.logger.Debug().
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String()).
			Str("span", span.Name()).
			Dur("duration", span.EndTime().Sub(span.StartTime()))
		for _, kv := range span.Attributes() {
			event = event.Str(string(kv.Key), kv.Value.Emit())
		}
		if status := span.Status(); status.Code == codes.Error {
			event = event.Str("error", status.Description)
		}
		event.Msg("Span finished")
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }
