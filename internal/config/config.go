package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Telemetry backends understood by the sink factory
const (
	BackendAppInsights = "appinsights"
	BackendOTLP        = "otlp"
	BackendNSQ         = "nsq"
	BackendLog         = "log"
	BackendNone        = "none"
)

type Tracing struct {
	Enabled  bool   // Export the daemon's own spans
	Endpoint string // OTLP collector for the daemon's own spans
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	NsqdHTTPAddr   string // e.g. nsqd:4151, polled for channel depth
	LookupHTTPAddr string // optional nsqlookupd, e.g. nsqlookupd:4161
}

type Telemetry struct {
	Backend             string        // appinsights, otlp, nsq, log or none
	InstrumentationKey  string        // App Insights key; empty disables the appinsights backend
	AppInsightsEndpoint string        // Ingestion URL override, e.g. the fake collector
	OTLPEndpoint        string        // Collector for the otlp backend; empty disables it
	NSQTopic            string        // Topic for the nsq backend
	PollInterval        time.Duration // Publisher wait after an empty drain
	SinkInterval        time.Duration // Sink-side batching interval
	QueueCapacity       int           // 0 means unbounded
	FlushOnShutdown     bool          // Final drain after shutdown is signalled
	ShutdownTimeout     time.Duration // Bound on sink flush and server shutdown
}

type FakeCollector struct {
	FailFirstN      int           // Number of requests to fail initially
	ResponseDelayMS int           // Simulated response delay in milliseconds
	Port            string        // Server listen port
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Relay struct {
	Backend       string        // Backend the relay forwards envelopes to; never nsq
	Channel       string        // NSQ channel the relay consumes from
	MaxInFlight   int           // NSQ consumer max in flight
	Port          string        // Health and metrics listen address
	StatsInterval time.Duration // Backlog poll interval; 0 disables polling
}

type Config struct {
	AppName       string
	RoleName      string // Cloud role tag applied to every telemetry item
	LogLevel      string
	HTTPPort      string // :8080
	GRPCPort      string // :50051
	UpstreamURL   string // Target of the instrumented /upstream handler
	Tracing       Tracing
	NSQ           NSQ
	Telemetry     Telemetry
	FakeCollector FakeCollector
	Relay         Relay
}

// SetDefaults registers every key with its default so AutomaticEnv can find it
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "harbor-pulse")
	v.SetDefault("ROLE_NAME", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_PORT", ":8080")
	v.SetDefault("GRPC_PORT", ":50051")
	v.SetDefault("UPSTREAM_URL", "https://example.com/")

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	v.SetDefault("NSQD_TCP_ADDR", "nsqd:4150")
	v.SetDefault("NSQD_HTTP_ADDR", "nsqd:4151")
	v.SetDefault("NSQLOOKUPD_HTTP_ADDR", "")

	v.SetDefault("TELEMETRY_BACKEND", BackendAppInsights)
	v.SetDefault("APPINSIGHTS_INSTRUMENTATIONKEY", "")
	v.SetDefault("APPINSIGHTS_ENDPOINT_URL", "")
	v.SetDefault("TELEMETRY_OTLP_ENDPOINT", "")
	v.SetDefault("TELEMETRY_NSQ_TOPIC", "telemetry")
	v.SetDefault("TELEMETRY_POLL_INTERVAL", time.Second)
	v.SetDefault("TELEMETRY_SINK_INTERVAL", 5*time.Second)
	v.SetDefault("TELEMETRY_QUEUE_CAPACITY", 0)
	v.SetDefault("TELEMETRY_FLUSH_ON_SHUTDOWN", false)
	v.SetDefault("TELEMETRY_SHUTDOWN_TIMEOUT", 5*time.Second)

	v.SetDefault("FAIL_FIRST_N", 0)
	v.SetDefault("RESPONSE_DELAY_MS", 0)
	v.SetDefault("FAKE_COLLECTOR_PORT", ":8081")
	v.SetDefault("FAKE_COLLECTOR_READ_TIMEOUT", 10*time.Second)
	v.SetDefault("FAKE_COLLECTOR_WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("FAKE_COLLECTOR_IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("RELAY_BACKEND", BackendAppInsights)
	v.SetDefault("RELAY_CHANNEL", "relay")
	v.SetDefault("RELAY_MAX_IN_FLIGHT", 200)
	v.SetDefault("RELAY_HTTP_PORT", ":8082")
	v.SetDefault("RELAY_STATS_INTERVAL", 15*time.Second)
}

// NewViper returns a viper instance reading the environment with all defaults set
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load builds a Config from v. Flags and config files bound to v take
// precedence over the environment, which takes precedence over defaults.
func Load(v *viper.Viper) Config {
	appName := v.GetString("APP_NAME")
	role := v.GetString("ROLE_NAME")
	if role == "" {
		role = appName
	}

	return Config{
		AppName:     appName,
		RoleName:    role,
		LogLevel:    v.GetString("LOG_LEVEL"),
		HTTPPort:    v.GetString("HTTP_PORT"),
		GRPCPort:    v.GetString("GRPC_PORT"),
		UpstreamURL: v.GetString("UPSTREAM_URL"),
		Tracing: Tracing{
			Enabled:  v.GetBool("TRACING_ENABLED"),
			Endpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    v.GetString("NSQD_TCP_ADDR"),
			NsqdHTTPAddr:   v.GetString("NSQD_HTTP_ADDR"),
			LookupHTTPAddr: v.GetString("NSQLOOKUPD_HTTP_ADDR"),
		},
		Telemetry: Telemetry{
			Backend:             strings.ToLower(strings.TrimSpace(v.GetString("TELEMETRY_BACKEND"))),
			InstrumentationKey:  v.GetString("APPINSIGHTS_INSTRUMENTATIONKEY"),
			AppInsightsEndpoint: v.GetString("APPINSIGHTS_ENDPOINT_URL"),
			OTLPEndpoint:        v.GetString("TELEMETRY_OTLP_ENDPOINT"),
			NSQTopic:            v.GetString("TELEMETRY_NSQ_TOPIC"),
			PollInterval:        v.GetDuration("TELEMETRY_POLL_INTERVAL"),
			SinkInterval:        v.GetDuration("TELEMETRY_SINK_INTERVAL"),
			QueueCapacity:       v.GetInt("TELEMETRY_QUEUE_CAPACITY"),
			FlushOnShutdown:     v.GetBool("TELEMETRY_FLUSH_ON_SHUTDOWN"),
			ShutdownTimeout:     v.GetDuration("TELEMETRY_SHUTDOWN_TIMEOUT"),
		},
		FakeCollector: FakeCollector{
			FailFirstN:      v.GetInt("FAIL_FIRST_N"),
			ResponseDelayMS: v.GetInt("RESPONSE_DELAY_MS"),
			Port:            v.GetString("FAKE_COLLECTOR_PORT"),
			ReadTimeout:     v.GetDuration("FAKE_COLLECTOR_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("FAKE_COLLECTOR_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("FAKE_COLLECTOR_IDLE_TIMEOUT"),
		},
		Relay: Relay{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString("RELAY_BACKEND"))),
			Channel:       v.GetString("RELAY_CHANNEL"),
			MaxInFlight:   v.GetInt("RELAY_MAX_IN_FLIGHT"),
			Port:          v.GetString("RELAY_HTTP_PORT"),
			StatsInterval: v.GetDuration("RELAY_STATS_INTERVAL"),
		},
	}
}

// FromEnv loads the configuration from the environment only
func FromEnv() Config {
	return Load(NewViper())
}

// TelemetryIdentifier returns what the selected backend needs to be
// considered configured. Empty means telemetry runs in disabled mode.
// Unknown backends return their own name so the sink factory can reject them.
func (c Config) TelemetryIdentifier() string {
	switch c.Telemetry.Backend {
	case BackendAppInsights, "":
		return c.Telemetry.InstrumentationKey
	case BackendOTLP:
		return c.Telemetry.OTLPEndpoint
	case BackendNSQ:
		return c.NSQ.NsqdTCPAddr
	case BackendLog:
		return BackendLog
	case BackendNone:
		return ""
	default:
		return c.Telemetry.Backend
	}
}

// ForRelay returns a copy of c whose telemetry backend is the relay's
// downstream backend, so TelemetryIdentifier and the sink factory resolve
// the destination instead of the nsq topic being consumed.
func (c Config) ForRelay() Config {
	c.Telemetry.Backend = c.Relay.Backend
	return c
}

// ValidateRelay reports settings telemetry-relay cannot run with
func (c Config) ValidateRelay() error {
	var errs []error
	if c.Relay.Backend == BackendNSQ {
		errs = append(errs, errors.New("RELAY_BACKEND must not be nsq"))
	}
	if c.Telemetry.NSQTopic == "" {
		errs = append(errs, errors.New("TELEMETRY_NSQ_TOPIC is required"))
	}
	if c.Relay.Channel == "" {
		errs = append(errs, errors.New("RELAY_CHANNEL is required"))
	}
	if c.Relay.MaxInFlight <= 0 {
		errs = append(errs, fmt.Errorf("RELAY_MAX_IN_FLIGHT must be positive, got %d", c.Relay.MaxInFlight))
	}
	return errors.Join(errs...)
}

// Validate reports settings the daemon cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Telemetry.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("TELEMETRY_POLL_INTERVAL must be positive, got %s", c.Telemetry.PollInterval))
	}
	if c.Telemetry.SinkInterval <= 0 {
		errs = append(errs, fmt.Errorf("TELEMETRY_SINK_INTERVAL must be positive, got %s", c.Telemetry.SinkInterval))
	}
	if c.Telemetry.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("TELEMETRY_QUEUE_CAPACITY must not be negative, got %d", c.Telemetry.QueueCapacity))
	}
	if c.Telemetry.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("TELEMETRY_SHUTDOWN_TIMEOUT must be positive, got %s", c.Telemetry.ShutdownTimeout))
	}
	if c.Telemetry.Backend == BackendNSQ && c.Telemetry.NSQTopic == "" {
		errs = append(errs, errors.New("TELEMETRY_NSQ_TOPIC is required for the nsq backend"))
	}
	return errors.Join(errs...)
}
