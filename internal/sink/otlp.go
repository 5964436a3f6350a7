package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/austindbirch/harbor_pulse/internal/tracing"
)

const otlpScope = "github.com/austindbirch/harbor_pulse/internal/sink"

// OTLP turns each event into a finished span on its own tracer provider.
// Requests become SERVER spans and dependencies CLIENT spans, both back-dated
// by the event duration.
type OTLP struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	now    func() time.Time
}

// NewOTLP exports spans for role to the collector at endpoint
func NewOTLP(ctx context.Context, endpoint, role string, batchInterval time.Duration) (*OTLP, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("otlp: %w", ErrMissingIdentifier)
	}
	tp, err := tracing.NewTracerProvider(ctx, tracing.ProviderOptions{
		ServiceName:  role,
		Endpoint:     endpoint,
		BatchTimeout: batchInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("otlp: create tracer provider: %w", err)
	}
	return newOTLPFromProvider(tp), nil
}

func newOTLPFromProvider(tp *sdktrace.TracerProvider) *OTLP {
	return &OTLP{
		tp:     tp,
		tracer: tp.Tracer(otlpScope),
		now:    time.Now,
	}
}

// TrackRequest implements telemetry.Sink
func (o *OTLP) TrackRequest(method, url string, duration time.Duration, statusCode string) {
	end := o.now()
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", method),
		attribute.String("url.full", url),
	}
	code, err := strconv.Atoi(statusCode)
	if err == nil {
		attrs = append(attrs, attribute.Int("http.response.status_code", code))
	}

	_, span := o.tracer.Start(context.Background(), method+" "+url,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(end.Add(-duration)),
		trace.WithAttributes(attrs...),
	)
	if err == nil && code >= 500 {
		span.SetStatus(codes.Error, statusCode)
	}
	span.End(trace.WithTimestamp(end))
}

// TrackDependency implements telemetry.Sink
func (o *OTLP) TrackDependency(name, dependencyType string, duration time.Duration, target string, success bool) {
	end := o.now()
	_, span := o.tracer.Start(context.Background(), name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(end.Add(-duration)),
		trace.WithAttributes(
			attribute.String("dependency.type", dependencyType),
			attribute.String("dependency.target", target),
			attribute.Bool("dependency.success", success),
		),
	)
	if !success {
		span.SetStatus(codes.Error, "dependency call failed")
	}
	span.End(trace.WithTimestamp(end))
}

// Close flushes pending spans and shuts the exporter down
func (o *OTLP) Close(ctx context.Context) error {
	if err := o.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("otlp: shutdown: %w", err)
	}
	return nil
}
