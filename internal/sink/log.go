package sink

import (
	"strconv"
	"time"

	"github.com/austindbirch/harbor_pulse/internal/logging"
)

// Log writes every event as a structured log line. Useful locally, where no
// backend is reachable.
type Log struct {
	logger *logging.Logger
	role   string
}

// NewLog creates a log sink tagging lines with role
func NewLog(logger *logging.Logger, role string) *Log {
	if logger == nil {
		logger = logging.Default()
	}
	return &Log{logger: logger, role: role}
}

// TrackRequest implements telemetry.Sink
func (l *Log) TrackRequest(method, url string, duration time.Duration, statusCode string) {
	entry := l.logger.Component("sink").
		WithBackend("log").
		WithRole(l.role).
		WithEventKind("http_server").
		WithField("method", method).
		WithField("url", url).
		WithField("status_code", statusCode).
		WithField("duration_ms", duration.Milliseconds())

	if code, err := strconv.Atoi(statusCode); err == nil && code >= 500 {
		entry.Warn("request")
		return
	}
	entry.Info("request")
}

// TrackDependency implements telemetry.Sink
func (l *Log) TrackDependency(name, dependencyType string, duration time.Duration, target string, success bool) {
	entry := l.logger.Component("sink").
		WithBackend("log").
		WithRole(l.role).
		WithEventKind("http_dependency").
		WithField("name", name).
		WithField("type", dependencyType).
		WithField("target", target).
		WithField("success", success).
		WithField("duration_ms", duration.Milliseconds())

	if !success {
		entry.Warn("dependency")
		return
	}
	entry.Info("dependency")
}
