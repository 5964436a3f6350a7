package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/harbor_pulse/internal/config"
	"github.com/austindbirch/harbor_pulse/internal/health"
	"github.com/austindbirch/harbor_pulse/internal/logging"
	"github.com/austindbirch/harbor_pulse/internal/metrics"
	"github.com/austindbirch/harbor_pulse/internal/middleware"
	"github.com/austindbirch/harbor_pulse/internal/sink"
	"github.com/austindbirch/harbor_pulse/internal/telemetry"
	"github.com/austindbirch/harbor_pulse/internal/tracing"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the instrumented HTTP and gRPC servers",
	Long: `Run telemetryd. Every HTTP request, gRPC call and outbound call made by
/upstream is recorded and forwarded to the configured telemetry backend.

Without a backend identifier (for example APPINSIGHTS_INSTRUMENTATIONKEY) the
servers still run and telemetry stays disabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(v)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := logging.Default()
		logging.SetDefaultService(cfg.AppName)
		logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

		if cfg.Tracing.Enabled {
			shutdown, err := tracing.InitTracing(ctx, cfg.AppName, cfg.Tracing.Endpoint)
			if err != nil {
				logger.Plain().WithError(err).Warn("Failed to initialize tracing")
			} else {
				defer shutdown()
			}
		}

		d := newDaemon(cfg, logger, sink.Factory(sink.SettingsFromConfig(cfg, logger)))
		return d.run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("http-port", "", "HTTP listen address (default :8080)")
	serveCmd.Flags().String("grpc-port", "", "gRPC listen address (default :50051)")
	serveCmd.Flags().String("upstream-url", "", "URL called by the /upstream handler")
	serveCmd.Flags().Bool("flush-on-shutdown", false, "forward buffered events once more on shutdown")

	bindFlag(v, "HTTP_PORT", serveCmd, "http-port")
	bindFlag(v, "GRPC_PORT", serveCmd, "grpc-port")
	bindFlag(v, "UPSTREAM_URL", serveCmd, "upstream-url")
	bindFlag(v, "TELEMETRY_FLUSH_ON_SHUTDOWN", serveCmd, "flush-on-shutdown")

	rootCmd.AddCommand(serveCmd)
}

// daemon wires the telemetry layer into the servers it instruments
type daemon struct {
	cfg        config.Config
	logger     *logging.Logger
	registry   *prometheus.Registry
	queue      *telemetry.Queue
	recorder   *telemetry.Recorder
	controller *telemetry.Controller
	upstream   *http.Client
	grpcSrv    *grpc.Server
	grpcHealth *grpc_health.Server
}

func newDaemon(cfg config.Config, logger *logging.Logger, factory telemetry.SinkFactory) *daemon {
	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	queue := telemetry.NewQueue(telemetry.WithCapacity(cfg.Telemetry.QueueCapacity))
	recorder := telemetry.NewRecorder(queue, logger)
	controller := telemetry.NewController(queue, cfg.RoleName, cfg.TelemetryIdentifier(), factory,
		telemetry.WithLogger(logger),
		telemetry.WithCloseTimeout(cfg.Telemetry.ShutdownTimeout),
		telemetry.WithPublisher(
			telemetry.WithPollInterval(cfg.Telemetry.PollInterval),
			telemetry.WithFlushOnStop(cfg.Telemetry.FlushOnShutdown),
		),
	)

	grpcSrv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(middleware.UnaryServerInterceptor(recorder)),
		grpc.ChainStreamInterceptor(middleware.StreamServerInterceptor(recorder)),
	)
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)

	return &daemon{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		queue:      queue,
		recorder:   recorder,
		controller: controller,
		upstream: &http.Client{
			Transport: middleware.NewTransport(recorder, nil),
			Timeout:   10 * time.Second,
		},
		grpcSrv:    grpcSrv,
		grpcHealth: hs,
	}
}

// routes builds the HTTP mux: instrumented demo handlers plus health and metrics
func (d *daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/hello", middleware.HTTP(d.recorder, http.HandlerFunc(d.handleHello)))
	mux.Handle("/upstream", middleware.HTTP(d.recorder, http.HandlerFunc(d.handleUpstream)))
	mux.HandleFunc("/healthz", health.HTTPHandler(d.controller, d.queue))
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	return mux
}

func (d *daemon) handleHello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": "hello",
		"role":    d.cfg.RoleName,
	})
}

func (d *daemon) handleUpstream(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, d.cfg.UpstreamURL, nil)
	if err != nil {
		http.Error(w, "bad upstream url", http.StatusInternalServerError)
		return
	}

	resp, err := d.upstream.Do(req)
	if err != nil {
		d.logger.WithContext(r.Context()).
			WithComponent("upstream").
			WithError(err).
			Warn("Upstream call failed")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"upstream": d.cfg.UpstreamURL,
		"status":   resp.StatusCode,
	})
}

// run serves until ctx is cancelled, then shuts everything down within the
// configured timeout
func (d *daemon) run(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", d.cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("gRPC listen: %w", err)
	}
	httpLis, err := net.Listen("tcp", d.cfg.HTTPPort)
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("HTTP listen: %w", err)
	}
	return d.serve(ctx, httpLis, grpcLis)
}

func (d *daemon) serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	// The controller outlives ctx so events recorded by in-flight requests
	// are still flushed after the servers drain.
	ctrlCtx, cancelCtrl := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelCtrl()

	go d.controller.Start(ctrlCtx)

	errCh := make(chan error, 2)
	go func() {
		d.entry().WithField("addr", grpcLis.Addr().String()).Info("gRPC listening")
		if err := d.grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("gRPC serve: %w", err)
		}
	}()

	httpSrv := &http.Server{Handler: d.routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		d.entry().WithField("addr", httpLis.Addr().String()).Info("HTTP listening")
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP serve: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	d.entry().Info("Shutting down")
	d.grpcHealth.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Telemetry.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		d.entry().WithError(err).Warn("HTTP shutdown incomplete")
	}
	d.stopGRPC(shutdownCtx)
	cancelCtrl()

	select {
	case <-d.controller.Done():
	case <-shutdownCtx.Done():
		d.entry().Warn("Telemetry did not stop within the shutdown timeout")
	}

	if serveErr != nil {
		return serveErr
	}
	d.entry().Info("telemetryd stopped")
	return nil
}

// entry starts a fresh log entry; entries are not safe to share
func (d *daemon) entry() *logging.LogEntry {
	return d.logger.Component("telemetryd").WithRole(d.cfg.RoleName)
}

// stopGRPC drains in-flight RPCs, forcing the stop once ctx expires since
// health Watch streams never finish on their own
func (d *daemon) stopGRPC(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		d.grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.grpcSrv.Stop()
		<-done
	}
}
