// Package middleware records telemetry for requests a host serves and calls it makes.
package middleware

import (
	"net/http"
	"time"
)

// ServerRecorder receives one event per served request
type ServerRecorder interface {
	RecordHTTPServer(url, method string, statusCode uint16, duration time.Duration)
}

// DependencyRecorder receives one event per outbound call
type DependencyRecorder interface {
	RecordDependency(name, dependencyType, target string, success bool, duration time.Duration)
}

// statusWriter remembers the status code written by the handler
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// HTTP wraps next and records every request it serves. The URL recorded is
// the request path; query strings are left out.
func HTTP(rec ServerRecorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		defer func() {
			status := sw.code()
			if p := recover(); p != nil {
				rec.RecordHTTPServer(r.URL.Path, r.Method, http.StatusInternalServerError, time.Since(start))
				panic(p)
			}
			rec.RecordHTTPServer(r.URL.Path, r.Method, uint16(status), time.Since(start))
		}()

		next.ServeHTTP(sw, r)
	})
}
