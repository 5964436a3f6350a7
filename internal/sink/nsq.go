package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/harbor_pulse/internal/logging"
	"github.com/austindbirch/harbor_pulse/internal/metrics"
	"github.com/austindbirch/harbor_pulse/internal/telemetry"
)

const (
	EnvelopeTypeRequest    = "telemetry.request"
	EnvelopeTypeDependency = "telemetry.dependency"
	envelopeVersion        = "v1"
)

// Envelope is the JSON document published for every event
type Envelope struct {
	Type       string `json:"type"`    // telemetry.request or telemetry.dependency
	Version    string `json:"version"` // schema version
	At         string `json:"at"`      // RFC3339 time the event was published
	Role       string `json:"role,omitempty"`
	DurationNS int64  `json:"duration_ns"` // exact duration in nanoseconds

	Method     string `json:"method,omitempty"`
	URL        string `json:"url,omitempty"`
	StatusCode string `json:"status_code,omitempty"`

	Name           string `json:"name,omitempty"`
	DependencyType string `json:"dependency_type,omitempty"`
	Target         string `json:"target,omitempty"`
	Success        *bool  `json:"success,omitempty"`
}

func newRequestEnvelope(role, method, url string, d time.Duration, statusCode string, at time.Time) Envelope {
	return Envelope{
		Type:       EnvelopeTypeRequest,
		Version:    envelopeVersion,
		At:         at.Format(time.RFC3339Nano),
		Role:       role,
		DurationNS: d.Nanoseconds(),
		Method:     method,
		URL:        url,
		StatusCode: statusCode,
	}
}

func newDependencyEnvelope(role, name, depType string, d time.Duration, target string, success bool, at time.Time) Envelope {
	return Envelope{
		Type:           EnvelopeTypeDependency,
		Version:        envelopeVersion,
		At:             at.Format(time.RFC3339Nano),
		Role:           role,
		DurationNS:     d.Nanoseconds(),
		Name:           name,
		DependencyType: depType,
		Target:         target,
		Success:        &success,
	}
}

// ErrBadEnvelope is returned for a published document that cannot be replayed
var ErrBadEnvelope = errors.New("bad telemetry envelope")

// DecodeEnvelope parses a published envelope and checks its version
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Version != envelopeVersion {
		return Envelope{}, fmt.Errorf("%w: unsupported version %q", ErrBadEnvelope, env.Version)
	}
	return env, nil
}

// Duration returns the recorded duration
func (e Envelope) Duration() time.Duration {
	if e.DurationNS <= 0 {
		return 0
	}
	return time.Duration(e.DurationNS)
}

// Replay hands the envelope to t as the event it was published from
func (e Envelope) Replay(t telemetry.Tracker) error {
	switch e.Type {
	case EnvelopeTypeRequest:
		status, err := strconv.ParseUint(e.StatusCode, 10, 16)
		if err != nil {
			return fmt.Errorf("%w: status code %q", ErrBadEnvelope, e.StatusCode)
		}
		t.TrackURLDuration(e.Method, e.URL, uint16(status), e.Duration())
		return nil
	case EnvelopeTypeDependency:
		if e.Success == nil {
			return fmt.Errorf("%w: dependency without success", ErrBadEnvelope)
		}
		t.TrackDependencyDuration(e.Name, e.DependencyType, e.Target, *e.Success, e.Duration())
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadEnvelope, e.Type)
	}
}

// producer is the part of *nsq.Producer the sink uses
type producer interface {
	PublishAsync(topic string, body []byte, doneChan chan *nsq.ProducerTransaction, args ...interface{}) error
	Stop()
}

// NSQ publishes every event as an Envelope to a topic. Publishing is
// asynchronous and unacknowledged; failures are logged and counted.
type NSQ struct {
	producer producer
	topic    string
	role     string
	logger   *logging.Logger
	now      func() time.Time
}

// NewNSQ connects a producer to nsqd at addr
func NewNSQ(addr, topic, role string, logger *logging.Logger) (*NSQ, error) {
	if addr == "" {
		return nil, fmt.Errorf("nsq: %w", ErrMissingIdentifier)
	}
	if topic == "" {
		return nil, fmt.Errorf("nsq: topic is required")
	}

	cfg := nsq.NewConfig()
	prod, err := nsq.NewProducer(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("nsq: create producer: %w", err)
	}
	prod.SetLoggerLevel(nsq.LogLevelWarning)

	return newNSQ(prod, topic, role, logger), nil
}

func newNSQ(p producer, topic, role string, logger *logging.Logger) *NSQ {
	if logger == nil {
		logger = logging.Default()
	}
	return &NSQ{
		producer: p,
		topic:    topic,
		role:     role,
		logger:   logger,
		now:      time.Now,
	}
}

// TrackRequest implements telemetry.Sink
func (n *NSQ) TrackRequest(method, url string, duration time.Duration, statusCode string) {
	n.publish(newRequestEnvelope(n.role, method, url, duration, statusCode, n.now()))
}

// TrackDependency implements telemetry.Sink
func (n *NSQ) TrackDependency(name, dependencyType string, duration time.Duration, target string, success bool) {
	n.publish(newDependencyEnvelope(n.role, name, dependencyType, duration, target, success, n.now()))
}

func (n *NSQ) publish(env Envelope) {
	body, err := json.Marshal(env)
	if err == nil {
		err = n.producer.PublishAsync(n.topic, body, nil)
	}
	if err != nil {
		metrics.RecordEventDropped("publish_failed")
		n.logger.Component("sink").
			WithBackend("nsq").
			WithRole(n.role).
			WithField("topic", n.topic).
			WithField("type", env.Type).
			WithError(err).
			Warn("Failed to publish telemetry envelope")
	}
}

// Close stops the producer, waiting for in-flight publishes
func (n *NSQ) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.producer.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("nsq: stop producer: %w", ctx.Err())
	}
}
