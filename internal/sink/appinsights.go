package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/microsoft/ApplicationInsights-Go/appinsights"

	"github.com/austindbirch/harbor_pulse/internal/logging"
)

// AppInsights forwards events to Azure Application Insights. Batching,
// transmission and retry are handled by the SDK's in-memory channel.
type AppInsights struct {
	track  func(appinsights.Telemetry)
	close  func(timeout time.Duration) <-chan struct{}
	detach func()
}

// AppInsightsOptions configures the App Insights client
type AppInsightsOptions struct {
	InstrumentationKey string
	Role               string
	EndpointURL        string        // empty keeps the SDK default
	BatchInterval      time.Duration // how often the SDK channel flushes
}

// NewAppInsights builds a client for the instrumentation key and tags every
// item with the cloud role
func NewAppInsights(opts AppInsightsOptions, logger *logging.Logger) (*AppInsights, error) {
	if strings.TrimSpace(opts.InstrumentationKey) == "" {
		return nil, fmt.Errorf("appinsights: %w", ErrMissingIdentifier)
	}

	cfg := appinsights.NewTelemetryConfiguration(opts.InstrumentationKey)
	if opts.EndpointURL != "" {
		cfg.EndpointUrl = opts.EndpointURL
	}
	if opts.BatchInterval > 0 {
		cfg.MaxBatchInterval = opts.BatchInterval
	}

	client := appinsights.NewTelemetryClientFromConfig(cfg)
	if opts.Role != "" {
		client.Context().Tags.Cloud().SetRole(opts.Role)
	}

	a := &AppInsights{
		track: client.Track,
		close: func(timeout time.Duration) <-chan struct{} {
			if timeout > 0 {
				return client.Channel().Close(timeout)
			}
			return client.Channel().Close()
		},
		detach: func() {},
	}

	if logger != nil {
		listener := appinsights.NewDiagnosticsMessageListener(func(msg string) error {
			logger.Component("sink").
				WithBackend("appinsights").
				WithRole(opts.Role).
				Debug(msg)
			return nil
		})
		a.detach = listener.Remove
	}

	return a, nil
}

// TrackRequest implements telemetry.Sink
func (a *AppInsights) TrackRequest(method, url string, duration time.Duration, statusCode string) {
	a.track(appinsights.NewRequestTelemetry(method, url, duration, statusCode))
}

// TrackDependency implements telemetry.Sink
func (a *AppInsights) TrackDependency(name, dependencyType string, duration time.Duration, target string, success bool) {
	dep := appinsights.NewRemoteDependencyTelemetry(name, dependencyType, target, success)
	dep.Duration = duration
	a.track(dep)
}

// Close flushes buffered items, retrying until ctx expires
func (a *AppInsights) Close(ctx context.Context) error {
	defer a.detach()

	timeout := time.Duration(0)
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	select {
	case <-a.close(timeout):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("appinsights: flush: %w", ctx.Err())
	}
}
