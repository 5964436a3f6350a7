package telemetry

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/austindbirch/harbor_pulse/internal/logging"
)

type sinkCall struct {
	kind       Kind
	method     string
	url        string
	statusCode string
	name       string
	depType    string
	target     string
	success    bool
	duration   time.Duration
}

// recordingSink captures every call in order
type recordingSink struct {
	mu       sync.Mutex
	calls    []sinkCall
	closed   int
	closeErr error
	panicOn  string // url or name that makes the sink panic
}

func (s *recordingSink) TrackRequest(method, url string, duration time.Duration, statusCode string) {
	if s.panicOn != "" && url == s.panicOn {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{
		kind:       KindHTTPServer,
		method:     method,
		url:        url,
		statusCode: statusCode,
		duration:   duration,
	})
}

func (s *recordingSink) TrackDependency(name, dependencyType string, duration time.Duration, target string, success bool) {
	if s.panicOn != "" && name == s.panicOn {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{
		kind:     KindHTTPDependency,
		name:     name,
		depType:  dependencyType,
		target:   target,
		success:  success,
		duration: duration,
	})
}

func (s *recordingSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

func (s *recordingSink) snapshot() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *recordingSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// quietLogger keeps test output clean
func quietLogger() *logging.Logger {
	l := logging.New("telemetry-test")
	l.SetOutput(&bytes.Buffer{})
	return l
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
