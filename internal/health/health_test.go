package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/austindbirch/harbor_pulse/internal/telemetry"
)

type fixedState telemetry.State

func (f fixedState) State() telemetry.State { return telemetry.State(f) }

type fixedDepth int

func (f fixedDepth) Len() int { return int(f) }

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name           string
		state          StateReporter
		queue          DepthReporter
		expectedStatus Status
	}{
		{
			name:           "healthy without telemetry wiring",
			expectedStatus: Status{OK: true, Message: "ok"},
		},
		{
			name:  "running publisher",
			state: fixedState(telemetry.StateRunning),
			queue: fixedDepth(3),
			expectedStatus: Status{
				OK:         true,
				Message:    "ok",
				Telemetry:  "running",
				QueueDepth: 3,
			},
		},
		{
			name:  "disabled telemetry is still healthy",
			state: fixedState(telemetry.StateDisabled),
			queue: fixedDepth(120),
			expectedStatus: Status{
				OK:         true,
				Message:    "telemetry disabled",
				Telemetry:  "disabled",
				QueueDepth: 120,
			},
		},
		{
			name:  "shutting down",
			state: fixedState(telemetry.StateShuttingDown),
			queue: fixedDepth(0),
			expectedStatus: Status{
				OK:        true,
				Message:   "ok",
				Telemetry: "shutting_down",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := HTTPHandler(tt.state, tt.queue)

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("HTTPHandler() status code = %d, want %d", w.Code, http.StatusOK)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("HTTPHandler() Content-Type = %q, want %q", ct, "application/json")
			}

			var got Status
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if got != tt.expectedStatus {
				t.Errorf("HTTPHandler() status = %+v, want %+v", got, tt.expectedStatus)
			}
		})
	}
}

func TestHTTPHandler_LiveQueue(t *testing.T) {
	q := telemetry.NewQueue()
	rec := telemetry.NewRecorder(q, nil)
	rec.RecordHTTPServer("/", "GET", 200, 0)
	rec.RecordHTTPServer("/", "GET", 200, 0)

	w := httptest.NewRecorder()
	HTTPHandler(nil, q)(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var got Status
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.QueueDepth != 2 {
		t.Errorf("QueueDepth = %d, want 2", got.QueueDepth)
	}
}

func TestStatus_JSONShape(t *testing.T) {
	data, err := json.Marshal(Status{OK: true})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"ok":true,"queue_depth":0}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}
