package telemetry

import (
	"time"

	"github.com/austindbirch/harbor_pulse/internal/logging"
	"github.com/austindbirch/harbor_pulse/internal/metrics"
)

// Recorder is the producer side handed to request handlers and HTTP clients.
// A nil *Recorder is valid and ignores every call.
type Recorder struct {
	queue  *Queue
	logger *logging.Logger
}

var _ Tracker = (*Recorder)(nil)

// NewRecorder creates a recorder that appends to q
func NewRecorder(q *Queue, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{queue: q, logger: logger}
}

// RecordHTTPServer records one completed inbound request. It returns once the
// event is buffered.
func (r *Recorder) RecordHTTPServer(url, method string, statusCode uint16, duration time.Duration) {
	r.record(NewHTTPServerEvent(url, method, statusCode, duration))
}

// RecordDependency records one completed outbound call
func (r *Recorder) RecordDependency(name, dependencyType, target string, success bool, duration time.Duration) {
	r.record(NewHTTPDependencyEvent(name, dependencyType, target, success, duration))
}

// TrackURLDuration implements Tracker
func (r *Recorder) TrackURLDuration(method, url string, statusCode uint16, duration time.Duration) {
	r.RecordHTTPServer(url, method, statusCode, duration)
}

// TrackDependencyDuration implements Tracker
func (r *Recorder) TrackDependencyDuration(host, protocol, resource string, success bool, duration time.Duration) {
	r.RecordDependency(host, protocol, resource, success, duration)
}

func (r *Recorder) record(e Event) {
	if r == nil || r.queue == nil {
		return
	}
	// Telemetry must never take the request path down with it.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Component("recorder").
				WithEventKind(e.Kind().String()).
				WithField("panic", rec).
				Error("recording telemetry event panicked")
		}
	}()

	if r.queue.Enqueue(e) {
		metrics.RecordEventRecorded(e.Kind().String())
	}
}
