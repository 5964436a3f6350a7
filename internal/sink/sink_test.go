package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/austindbirch/harbor_pulse/internal/config"
	"github.com/austindbirch/harbor_pulse/internal/logging"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		backend    string
		identifier string
		wantErr    error
		wantType   string
	}{
		{name: "log backend", backend: config.BackendLog, identifier: "log", wantType: "*sink.Log"},
		{name: "appinsights backend", backend: config.BackendAppInsights, identifier: "ikey", wantType: "*sink.AppInsights"},
		{name: "empty backend defaults to appinsights", backend: "", identifier: "ikey", wantType: "*sink.AppInsights"},
		{name: "appinsights without key", backend: config.BackendAppInsights, identifier: "", wantErr: ErrMissingIdentifier},
		{name: "otlp without endpoint", backend: config.BackendOTLP, identifier: "", wantErr: ErrMissingIdentifier},
		{name: "nsq without address", backend: config.BackendNSQ, identifier: "", wantErr: ErrMissingIdentifier},
		{name: "unknown backend", backend: "kafka", identifier: "kafka", wantErr: ErrUnknownBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Settings{
				Backend:       tt.backend,
				NSQTopic:      "telemetry",
				BatchInterval: time.Second,
				Logger:        quietLogger(),
			}

			got, err := New(context.Background(), s, tt.identifier, "svc")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				if got != nil {
					t.Errorf("New() sink = %v, want nil on error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			var typeName string
			switch got.(type) {
			case *Log:
				typeName = "*sink.Log"
			case *AppInsights:
				typeName = "*sink.AppInsights"
			}
			if typeName != tt.wantType {
				t.Errorf("New() type = %T, want %s", got, tt.wantType)
			}

			if c, ok := got.(interface{ Close(context.Context) error }); ok {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = c.Close(ctx)
			}
		})
	}
}

func TestFactory(t *testing.T) {
	f := Factory(Settings{Backend: config.BackendLog, Logger: quietLogger()})

	s, err := f(context.Background(), "log", "svc")
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	if _, ok := s.(*Log); !ok {
		t.Errorf("Factory() sink type = %T, want *Log", s)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Config{
		Telemetry: config.Telemetry{
			Backend:             config.BackendNSQ,
			AppInsightsEndpoint: "http://collector/v2/track",
			NSQTopic:            "pulse",
			SinkInterval:        3 * time.Second,
		},
	}
	logger := quietLogger()

	got := SettingsFromConfig(cfg, logger)
	want := Settings{
		Backend:             config.BackendNSQ,
		AppInsightsEndpoint: "http://collector/v2/track",
		NSQTopic:            "pulse",
		BatchInterval:       3 * time.Second,
		Logger:              logger,
	}
	if got != want {
		t.Errorf("SettingsFromConfig() = %+v, want %+v", got, want)
	}
}

func TestLog_WritesEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("sink-test")
	logger.SetOutput(&buf)
	l := NewLog(logger, "orders-api")

	l.TrackRequest("GET", "/x", 150*time.Millisecond, "200")
	l.TrackRequest("GET", "/y", time.Millisecond, "502")
	l.TrackDependency("inventory", "HTTP", time.Second, "GET /stock", false)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}

	tests := []struct {
		line      int
		level     string
		msg       string
		eventKind string
	}{
		{0, "info", "request", "http_server"},
		{1, "warn", "request", "http_server"},
		{2, "warn", "dependency", "http_dependency"},
	}
	for _, tt := range tests {
		var m map[string]any
		if err := json.Unmarshal([]byte(lines[tt.line]), &m); err != nil {
			t.Fatalf("line %d: %v", tt.line, err)
		}
		if m["level"] != tt.level || m["msg"] != tt.msg || m["event_kind"] != tt.eventKind {
			t.Errorf("line %d = (%v, %v, %v), want (%s, %s, %s)", tt.line, m["level"], m["msg"], m["event_kind"], tt.level, tt.msg, tt.eventKind)
		}
		if m["role"] != "orders-api" || m["backend"] != "log" {
			t.Errorf("line %d role/backend = (%v, %v)", tt.line, m["role"], m["backend"])
		}
	}

	var first map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	fields := first["fields"].(map[string]any)
	if fields["duration_ms"] != float64(150) || fields["status_code"] != "200" {
		t.Errorf("fields = %v", fields)
	}
}
