package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/harbor_pulse/internal/logging"
	"github.com/austindbirch/harbor_pulse/internal/metrics"
	"github.com/austindbirch/harbor_pulse/internal/telemetry"
)

func quietLogger() *logging.Logger {
	l := logging.New("relay-test")
	l.SetOutput(io.Discard)
	return l
}

func newTestRelay() (*relay, *telemetry.Queue) {
	q := telemetry.NewQueue()
	return &relay{
		recorder: telemetry.NewRecorder(q, quietLogger()),
		logger:   quietLogger(),
		topic:    "telemetry",
	}, q
}

func message(body string) *nsq.Message {
	var id nsq.MessageID
	copy(id[:], "0123456789abcdef")
	return nsq.NewMessage(id, []byte(body))
}

func TestRelay_HandleMessage(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantEvent   telemetry.Event
		wantDropped float64
	}{
		{
			name: "request envelope",
			body: `{"type":"telemetry.request","version":"v1","role":"orders-api","duration_ns":12500001,"method":"GET","url":"/orders","status_code":"404"}`,
			wantEvent: telemetry.HTTPServerEvent{
				URL:        "/orders",
				Method:     "GET",
				StatusCode: 404,
				Duration:   12500*time.Microsecond + time.Nanosecond,
			},
		},
		{
			name: "dependency envelope",
			body: `{"type":"telemetry.dependency","version":"v1","duration_ns":3000000,"name":"inventory:8080","dependency_type":"HTTP","target":"GET /stock","success":true}`,
			wantEvent: telemetry.HTTPDependencyEvent{
				Name:           "inventory:8080",
				DependencyType: "HTTP",
				Target:         "GET /stock",
				Success:        true,
				Duration:       3 * time.Millisecond,
			},
		},
		{
			name:        "garbage is finished and counted",
			body:        `{{{`,
			wantDropped: 1,
		},
		{
			name:        "unknown version is finished and counted",
			body:        `{"type":"telemetry.request","version":"v2","status_code":"200"}`,
			wantDropped: 1,
		},
		{
			name: "empty body is ignored",
			body: ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics.EventsDroppedTotal.Reset()
			r, q := newTestRelay()

			if err := r.HandleMessage(message(tt.body)); err != nil {
				t.Fatalf("HandleMessage() error = %v, want nil", err)
			}

			batch, ok := q.Drain()
			if tt.wantEvent == nil {
				if ok {
					t.Errorf("Drain() = %v, want empty", batch)
				}
			} else {
				if len(batch) != 1 {
					t.Fatalf("Drain() = %d events, want 1", len(batch))
				}
				if batch[0] != tt.wantEvent {
					t.Errorf("event = %+v, want %+v", batch[0], tt.wantEvent)
				}
			}

			if got := testutil.ToFloat64(metrics.EventsDroppedTotal.WithLabelValues("bad_envelope")); got != tt.wantDropped {
				t.Errorf("dropped bad_envelope = %f, want %f", got, tt.wantDropped)
			}
		})
	}
}

const statsBody = `{
  "version": "1.3.0",
  "health": "OK",
  "topics": [
    {
      "topic_name": "telemetry",
      "channels": [
        {"channel_name": "archive", "depth": 900, "in_flight_count": 0},
        {"channel_name": "relay", "depth": 42, "in_flight_count": 7}
      ]
    },
    {
      "topic_name": "other",
      "channels": [{"channel_name": "relay", "depth": 1000, "in_flight_count": 1000}]
    }
  ]
}`

func TestUpdateBacklog(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantErr      bool
		wantDepth    float64
		wantInFlight float64
	}{
		{name: "channel present", status: http.StatusOK, body: statsBody, wantDepth: 42, wantInFlight: 7},
		{name: "channel not created yet", status: http.StatusOK, body: `{"topics":[]}`, wantDepth: 0, wantInFlight: 0},
		{name: "nsqd error", status: http.StatusInternalServerError, body: `oops`, wantErr: true},
		{name: "bad json", status: http.StatusOK, body: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics.RelayBacklog.Reset()
			metrics.RelayInFlight.Reset()

			var gotQuery string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.RawQuery
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			addr := srv.Listener.Addr().String()
			err := updateBacklog(context.Background(), srv.Client(), addr, "telemetry", "relay")
			if (err != nil) != tt.wantErr {
				t.Fatalf("updateBacklog() error = %v, wantErr %v", err, tt.wantErr)
			}
			if gotQuery != "format=json&topic=telemetry&channel=relay" {
				t.Errorf("stats query = %q", gotQuery)
			}
			if tt.wantErr {
				return
			}

			if got := testutil.ToFloat64(metrics.RelayBacklog.WithLabelValues("telemetry", "relay")); got != tt.wantDepth {
				t.Errorf("backlog = %f, want %f", got, tt.wantDepth)
			}
			if got := testutil.ToFloat64(metrics.RelayInFlight.WithLabelValues("telemetry", "relay")); got != tt.wantInFlight {
				t.Errorf("in flight = %f, want %f", got, tt.wantInFlight)
			}
		})
	}
}

func TestMonitorBacklog_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitorBacklog(ctx, quietLogger(), http.DefaultClient, "127.0.0.1:1", "telemetry", "relay", time.Hour)
		close(done)
	}()

	cancel()
	<-done
}
