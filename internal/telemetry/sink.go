package telemetry

import (
	"context"
	"time"
)

// Sink is the remote telemetry backend client. Calls are fire-and-forget:
// transmission, batching and retry belong to the implementation.
type Sink interface {
	TrackRequest(method, url string, duration time.Duration, statusCode string)
	TrackDependency(name, dependencyType string, duration time.Duration, target string, success bool)
}

// Closer is implemented by sinks that buffer internally and need a flush
type Closer interface {
	Close(ctx context.Context) error
}

// SinkFactory builds the sink for a backend identifier. The role tag is
// applied once here, never per event.
type SinkFactory func(ctx context.Context, identifier, role string) (Sink, error)

// Tracker is the small surface host code depends on to report durations
type Tracker interface {
	TrackURLDuration(method, url string, statusCode uint16, duration time.Duration)
	TrackDependencyDuration(host, protocol, resource string, success bool, duration time.Duration)
}
