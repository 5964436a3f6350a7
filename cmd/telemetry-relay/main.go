package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/harbor_pulse/internal/config"
	"github.com/austindbirch/harbor_pulse/internal/health"
	"github.com/austindbirch/harbor_pulse/internal/logging"
	"github.com/austindbirch/harbor_pulse/internal/metrics"
	"github.com/austindbirch/harbor_pulse/internal/sink"
	"github.com/austindbirch/harbor_pulse/internal/telemetry"
	"github.com/austindbirch/harbor_pulse/internal/tracing"
)

// relay replays envelopes consumed from NSQ into the local telemetry
// pipeline, which forwards them to the downstream backend
type relay struct {
	recorder *telemetry.Recorder
	logger   *logging.Logger
	topic    string
}

// HandleMessage implements nsq.Handler. Envelopes that cannot be replayed
// are finished and counted; redelivering them would never succeed.
func (r *relay) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	env, err := sink.DecodeEnvelope(m.Body)
	if err == nil {
		err = env.Replay(r.recorder)
	}
	if err != nil {
		metrics.RecordEventDropped("bad_envelope")
		r.logger.Component("relay").
			WithField("topic", r.topic).
			WithField("attempts", m.Attempts).
			WithError(err).
			Warn("Dropping telemetry envelope")
	}
	return nil
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("telemetry-relay")
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	if err := cfg.ValidateRelay(); err != nil {
		logger.Plain().WithError(err).Fatal("Invalid relay configuration")
	}
	downstream := cfg.ForRelay()
	identifier := downstream.TelemetryIdentifier()
	if identifier == "" {
		// Consuming without a destination would acknowledge and lose every envelope.
		logger.Plain().WithBackend(cfg.Relay.Backend).Fatal("Relay backend is not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracing(ctx, "telemetry-relay", cfg.Tracing.Endpoint)
		if err != nil {
			logger.Plain().WithError(err).Warn("Failed to initialize tracing")
		} else {
			defer shutdown()
		}
	}

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	reg.MustRegister(collectors.NewGoCollector())

	queue := telemetry.NewQueue(telemetry.WithCapacity(cfg.Telemetry.QueueCapacity))
	recorder := telemetry.NewRecorder(queue, logger)
	controller := telemetry.NewController(queue, downstream.RoleName, identifier,
		sink.Factory(sink.SettingsFromConfig(downstream, logger)),
		telemetry.WithLogger(logger),
		telemetry.WithCloseTimeout(cfg.Telemetry.ShutdownTimeout),
		telemetry.WithPublisher(
			telemetry.WithPollInterval(cfg.Telemetry.PollInterval),
			telemetry.WithFlushOnStop(true),
		),
	)

	// The publisher outlives the consumer so acknowledged envelopes still get forwarded
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go controller.Start(runCtx)

	// HTTP health/metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(controller, queue))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Relay.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("relay HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("relay HTTP server failed")
		}
	}()

	// NSQ consumer
	conf := nsq.NewConfig()
	conf.MaxInFlight = cfg.Relay.MaxInFlight
	consumer, err := nsq.NewConsumer(cfg.Telemetry.NSQTopic, cfg.Relay.Channel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddHandler(&relay{recorder: recorder, logger: logger, topic: cfg.Telemetry.NSQTopic})

	if cfg.NSQ.LookupHTTPAddr != "" {
		err = consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr)
	} else {
		err = consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr)
	}
	if err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsq failed")
	}

	if cfg.Relay.StatsInterval > 0 {
		go monitorBacklog(ctx, logger, &http.Client{Timeout: 5 * time.Second},
			cfg.NSQ.NsqdHTTPAddr, cfg.Telemetry.NSQTopic, cfg.Relay.Channel, cfg.Relay.StatsInterval)
	}

	logger.Plain().
		WithBackend(cfg.Relay.Backend).
		WithField("topic", cfg.Telemetry.NSQTopic).
		WithField("channel", cfg.Relay.Channel).
		Info("telemetry relay started")

	<-ctx.Done()

	logger.Plain().Info("Shutting down telemetry relay")
	consumer.Stop()
	<-consumer.StopChan

	cancelRun()
	select {
	case <-controller.Done():
	case <-time.After(cfg.Telemetry.ShutdownTimeout):
		logger.Plain().Warn("Telemetry did not stop within the shutdown timeout")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("telemetry relay stopped")
}

// nsqStats is the part of the nsqd /stats document the relay reads
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
	} `json:"topics"`
}

// monitorBacklog polls nsqd until ctx is cancelled
func monitorBacklog(ctx context.Context, logger *logging.Logger, client *http.Client, nsqdHTTPAddr, topic, channel string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := updateBacklog(ctx, client, nsqdHTTPAddr, topic, channel); err != nil {
				logger.Component("backlog").WithError(err).Warn("Failed to update relay backlog")
			}
		}
	}
}

// updateBacklog reads channel depth for topic/channel from nsqd's stats API
func updateBacklog(ctx context.Context, client *http.Client, nsqdHTTPAddr, topic, channel string) error {
	url := fmt.Sprintf("http://%s/stats?format=json&topic=%s&channel=%s", nsqdHTTPAddr, topic, channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build stats request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get NSQ stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("NSQ stats returned status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode NSQ stats: %w", err)
	}

	for _, t := range stats.Topics {
		if t.TopicName != topic {
			continue
		}
		for _, c := range t.Channels {
			if c.ChannelName == channel {
				metrics.UpdateRelayBacklog(topic, channel, c.Depth, c.InFlightCount)
				return nil
			}
		}
	}
	// The channel appears once the consumer has connected
	metrics.UpdateRelayBacklog(topic, channel, 0, 0)
	return nil
}
