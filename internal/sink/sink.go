// Package sink holds the telemetry backends the publisher forwards to.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/austindbirch/harbor_pulse/internal/config"
	"github.com/austindbirch/harbor_pulse/internal/logging"
	"github.com/austindbirch/harbor_pulse/internal/telemetry"
)

var (
	// ErrUnknownBackend is returned for a backend name the factory does not know
	ErrUnknownBackend = errors.New("unknown telemetry backend")
	// ErrMissingIdentifier is returned when a backend is built without its key or address
	ErrMissingIdentifier = errors.New("missing backend identifier")
)

var (
	_ telemetry.Sink   = (*AppInsights)(nil)
	_ telemetry.Closer = (*AppInsights)(nil)
	_ telemetry.Sink   = (*OTLP)(nil)
	_ telemetry.Closer = (*OTLP)(nil)
	_ telemetry.Sink   = (*NSQ)(nil)
	_ telemetry.Closer = (*NSQ)(nil)
	_ telemetry.Sink   = (*Log)(nil)
)

// Settings selects and configures a backend
type Settings struct {
	Backend             string
	AppInsightsEndpoint string
	NSQTopic            string
	BatchInterval       time.Duration
	Logger              *logging.Logger
}

// SettingsFromConfig extracts the sink settings from the daemon config
func SettingsFromConfig(cfg config.Config, logger *logging.Logger) Settings {
	return Settings{
		Backend:             cfg.Telemetry.Backend,
		AppInsightsEndpoint: cfg.Telemetry.AppInsightsEndpoint,
		NSQTopic:            cfg.Telemetry.NSQTopic,
		BatchInterval:       cfg.Telemetry.SinkInterval,
		Logger:              logger,
	}
}

// New builds the sink for identifier, which is whatever the backend needs to
// reach its destination: an instrumentation key, a collector endpoint or an
// nsqd address.
func New(ctx context.Context, s Settings, identifier, role string) (telemetry.Sink, error) {
	var (
		sink telemetry.Sink
		err  error
	)
	switch s.Backend {
	case config.BackendAppInsights, "":
		var ai *AppInsights
		ai, err = NewAppInsights(AppInsightsOptions{
			InstrumentationKey: identifier,
			Role:               role,
			EndpointURL:        s.AppInsightsEndpoint,
			BatchInterval:      s.BatchInterval,
		}, s.Logger)
		sink = ai
	case config.BackendOTLP:
		var o *OTLP
		o, err = NewOTLP(ctx, identifier, role, s.BatchInterval)
		sink = o
	case config.BackendNSQ:
		var n *NSQ
		n, err = NewNSQ(identifier, s.NSQTopic, role, s.Logger)
		sink = n
	case config.BackendLog:
		sink = NewLog(s.Logger, role)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownBackend, s.Backend)
	}
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// Factory adapts New to the controller's SinkFactory
func Factory(s Settings) telemetry.SinkFactory {
	return func(ctx context.Context, identifier, role string) (telemetry.Sink, error) {
		return New(ctx, s, identifier, role)
	}
}
