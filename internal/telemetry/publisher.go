package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"code.cloudfoundry.org/clock"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_pulse/internal/logging"
	"github.com/austindbirch/harbor_pulse/internal/metrics"
	"github.com/austindbirch/harbor_pulse/internal/tracing"
)

// DefaultPollInterval is how long the publisher waits after finding the queue empty
const DefaultPollInterval = time.Second

// Publisher is the single consumer of a Queue. It drains the queue and hands
// every event to the Sink in insertion order.
type Publisher struct {
	queue       *Queue
	sink        Sink
	clock       clock.Clock
	interval    time.Duration
	flushOnStop bool
	logger      *logging.Logger
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithPollInterval sets the idle wait between empty drains
func WithPollInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock replaces the wall clock, mainly for tests
func WithClock(c clock.Clock) PublisherOption {
	return func(p *Publisher) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithFlushOnStop makes Run do one last drain after the context is cancelled.
// Without it, events buffered after the final drain are dropped.
func WithFlushOnStop(enabled bool) PublisherOption {
	return func(p *Publisher) {
		p.flushOnStop = enabled
	}
}

// WithPublisherLogger sets the logger used for publisher diagnostics
func WithPublisherLogger(l *logging.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPublisher creates a publisher forwarding q into s
func NewPublisher(q *Queue, s Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		queue:    q,
		sink:     s,
		clock:    clock.NewClock(),
		interval: DefaultPollInterval,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drains and forwards until ctx is cancelled. After a non-empty drain it
// loops straight away; after an empty one it waits for the poll interval.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Component("publisher").
		WithField("poll_interval", p.interval.String()).
		Info("Telemetry publisher started")

	for {
		select {
		case <-ctx.Done():
			p.stop(ctx)
			return
		default:
		}

		if p.PublishOnce(ctx) {
			continue
		}

		select {
		case <-ctx.Done():
			p.stop(ctx)
			return
		case <-p.clock.After(p.interval):
		}
	}
}

// PublishOnce performs a single drain-and-forward pass. It reports whether
// anything was drained.
func (p *Publisher) PublishOnce(ctx context.Context) bool {
	batch, ok := p.queue.Drain()
	if !ok {
		return false
	}

	ctx, span := tracing.StartSpan(ctx, "telemetry.publish_batch",
		attribute.Int("telemetry.batch_size", len(batch)),
	)
	defer span.End()

	metrics.RecordBatch(len(batch))

	failed := 0
	for _, e := range batch {
		if !p.forward(ctx, e) {
			failed++
		}
	}

	if failed > 0 {
		span.SetAttributes(attribute.Int("telemetry.failed", failed))
		tracing.SetSpanError(ctx, fmt.Errorf("sink rejected %d of %d events", failed, len(batch)))
	}

	p.logger.WithContext(ctx).
		WithComponent("publisher").
		WithField("batch_size", len(batch)).
		WithField("failed", failed).
		Debug("Forwarded telemetry batch")

	return true
}

// forward hands one event to the sink. A panicking sink loses that event only.
func (p *Publisher) forward(ctx context.Context, e Event) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordEventDropped("sink_panic")
			tracing.AddSpanEvent(ctx, "telemetry.sink_panic",
				attribute.String("telemetry.event_kind", e.Kind().String()),
				attribute.String("telemetry.panic", fmt.Sprint(rec)),
			)
			p.logger.Component("publisher").
				WithEventKind(e.Kind().String()).
				WithField("panic", rec).
				Error("Telemetry sink panicked")
			ok = false
		}
	}()

	switch ev := e.(type) {
	case HTTPServerEvent:
		p.sink.TrackRequest(ev.Method, ev.URL, ev.Duration, strconv.Itoa(int(ev.StatusCode)))
	case HTTPDependencyEvent:
		p.sink.TrackDependency(ev.Name, ev.DependencyType, ev.Duration, ev.Target, ev.Success)
	default:
		return false
	}

	metrics.RecordEventForwarded(e.Kind().String())
	return true
}

func (p *Publisher) stop(ctx context.Context) {
	if p.flushOnStop {
		p.PublishOnce(context.WithoutCancel(ctx))
	}
	p.logger.Component("publisher").
		WithField("dropped", p.queue.Len()).
		Info("Telemetry publisher stopped")
}
