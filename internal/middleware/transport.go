package middleware

import (
	"net/http"
	"time"
)

// DependencyTypeHTTP is the dependency type recorded for outbound HTTP calls
const DependencyTypeHTTP = "HTTP"

// Transport is an http.RoundTripper that records each call as a dependency:
// name is the host, target is "METHOD /path", and the call succeeds when
// there is no transport error and the status is below 400.
type Transport struct {
	Base     http.RoundTripper
	Recorder DependencyRecorder
}

// NewTransport wraps base, falling back to http.DefaultTransport
func NewTransport(rec DependencyRecorder, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Recorder: rec}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)

	success := err == nil && resp != nil && resp.StatusCode < http.StatusBadRequest
	t.Recorder.RecordDependency(req.URL.Host, DependencyTypeHTTP, req.Method+" "+req.URL.Path, success, time.Since(start))

	return resp, err
}
