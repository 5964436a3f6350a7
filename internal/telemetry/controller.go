package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/austindbirch/harbor_pulse/internal/logging"
	"github.com/austindbirch/harbor_pulse/internal/metrics"
)

// State is the controller lifecycle. Transitions only move forward.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateDisabled
	StateShuttingDown
	StateStopped
)

// String returns the label used in logs, health output and metrics
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDisabled:
		return "disabled"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var stateLabels = []string{
	StatePending.String(),
	StateRunning.String(),
	StateDisabled.String(),
	StateShuttingDown.String(),
	StateStopped.String(),
}

// DefaultCloseTimeout bounds how long a sink may take to flush on shutdown
const DefaultCloseTimeout = 5 * time.Second

type settings struct {
	identifier string
	role       string
}

// Controller decides once whether the publisher runs. The pending settings
// are taken with an atomic swap so only one Start can ever build a sink.
type Controller struct {
	queue        *Queue
	factory      SinkFactory
	role         string
	configured   bool
	pending      atomic.Pointer[settings]
	state        atomic.Int32
	done         chan struct{}
	closeTimeout time.Duration
	pubOpts      []PublisherOption
	logger       *logging.Logger
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithPublisher passes options through to the publisher the controller runs
func WithPublisher(opts ...PublisherOption) ControllerOption {
	return func(c *Controller) {
		c.pubOpts = append(c.pubOpts, opts...)
	}
}

// WithCloseTimeout bounds the sink flush on shutdown
func WithCloseTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

// WithLogger sets the logger for the controller and, unless overridden, its publisher
func WithLogger(l *logging.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a controller for q. An empty identifier means the
// backend is not configured and Start will idle in Disabled mode.
func NewController(q *Queue, role, identifier string, factory SinkFactory, opts ...ControllerOption) *Controller {
	c := &Controller{
		queue:        q,
		factory:      factory,
		role:         role,
		configured:   identifier != "",
		done:         make(chan struct{}),
		closeTimeout: DefaultCloseTimeout,
		logger:       logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.configured {
		c.pending.Store(&settings{identifier: identifier, role: role})
	}
	c.setState(StatePending)
	return c
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Done is closed once the Start call that resolved the configuration returns
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start blocks until ctx is cancelled. The first call to resolve the
// configuration either runs the publisher or idles in Disabled mode; any later
// call idles without touching the state.
func (c *Controller) Start(ctx context.Context) {
	s := c.pending.Swap(nil)
	if s == nil {
		if !c.configured && c.state.CompareAndSwap(int32(StatePending), int32(StateDisabled)) {
			c.setState(StateDisabled)
			c.logger.Component("controller").
				WithRole(c.role).
				Info("Telemetry backend not configured; events will not be sent")
			c.idle(ctx, true)
			return
		}
		c.idle(ctx, false)
		return
	}

	sink, err := c.buildSink(ctx, s)
	if err != nil {
		c.setState(StateDisabled)
		c.logger.Component("controller").
			WithRole(s.role).
			WithError(err).
			Error("Failed to create telemetry sink; telemetry disabled")
		c.idle(ctx, true)
		return
	}

	c.setState(StateRunning)
	c.logger.Component("controller").
		WithRole(s.role).
		Info("Telemetry publisher running")

	opts := append([]PublisherOption{WithPublisherLogger(c.logger)}, c.pubOpts...)
	NewPublisher(c.queue, sink, opts...).Run(ctx)

	c.setState(StateShuttingDown)
	c.closeSink(ctx, sink)
	c.finish()
}

func (c *Controller) buildSink(ctx context.Context, s *settings) (Sink, error) {
	if c.factory == nil {
		return nil, errors.New("no sink factory")
	}
	sink, err := c.factory(ctx, s.identifier, s.role)
	if err != nil {
		return nil, fmt.Errorf("build sink: %w", err)
	}
	if sink == nil {
		return nil, errors.New("sink factory returned nil sink")
	}
	return sink, nil
}

// idle waits for shutdown. Only the owning call finishes the lifecycle.
func (c *Controller) idle(ctx context.Context, owner bool) {
	<-ctx.Done()
	if owner {
		c.finish()
	}
}

func (c *Controller) closeSink(ctx context.Context, sink Sink) {
	closer, ok := sink.(Closer)
	if !ok {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.closeTimeout)
	defer cancel()

	if err := closer.Close(closeCtx); err != nil {
		c.logger.Component("controller").
			WithRole(c.role).
			WithError(err).
			Warn("Telemetry sink did not close cleanly")
	}
}

func (c *Controller) finish() {
	c.setState(StateStopped)
	c.logger.Component("controller").WithRole(c.role).Info("Telemetry stopped")
	close(c.done)
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	metrics.SetPublisherState(s.String(), stateLabels)
}
