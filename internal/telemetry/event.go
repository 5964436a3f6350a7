package telemetry

import "time"

// Kind identifies which variant an Event is
type Kind int

const (
	KindHTTPServer Kind = iota
	KindHTTPDependency
)

// String returns the label used in logs and metrics
func (k Kind) String() string {
	switch k {
	case KindHTTPServer:
		return "http_server"
	case KindHTTPDependency:
		return "http_dependency"
	default:
		return "unknown"
	}
}

// Event is one observed operation. The set of implementations is closed:
// HTTPServerEvent and HTTPDependencyEvent.
type Event interface {
	Kind() Kind
	isEvent()
}

// HTTPServerEvent describes one inbound request
type HTTPServerEvent struct {
	URL        string
	Method     string
	StatusCode uint16
	Duration   time.Duration
}

func (HTTPServerEvent) Kind() Kind { return KindHTTPServer }
func (HTTPServerEvent) isEvent()   {}

// HTTPDependencyEvent describes one outbound call
type HTTPDependencyEvent struct {
	Name           string
	DependencyType string
	Target         string
	Success        bool
	Duration       time.Duration
}

func (HTTPDependencyEvent) Kind() Kind { return KindHTTPDependency }
func (HTTPDependencyEvent) isEvent()   {}

// NewHTTPServerEvent builds a request event, clamping negative durations to zero
func NewHTTPServerEvent(url, method string, statusCode uint16, duration time.Duration) HTTPServerEvent {
	return HTTPServerEvent{
		URL:        url,
		Method:     method,
		StatusCode: statusCode,
		Duration:   clampDuration(duration),
	}
}

// NewHTTPDependencyEvent builds a dependency event, clamping negative durations to zero
func NewHTTPDependencyEvent(name, dependencyType, target string, success bool, duration time.Duration) HTTPDependencyEvent {
	return HTTPDependencyEvent{
		Name:           name,
		DependencyType: dependencyType,
		Target:         target,
		Success:        success,
		Duration:       clampDuration(duration),
	}
}

func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
