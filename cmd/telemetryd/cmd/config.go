package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_pulse/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect telemetryd configuration",
	Long:  `Inspect the configuration telemetryd resolves from flags, config file and environment.`,
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the effective configuration. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewConfig(cmd.OutOrStdout(), config.Load(v), v.ConfigFileUsed())
	},
}

func init() {
	configCmd.AddCommand(configViewCmd)
	rootCmd.AddCommand(configCmd)
}

// mask hides all but the last four characters of a secret
func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func viewConfig(out io.Writer, cfg config.Config, configFile string) error {
	telemetryState := "enabled"
	if cfg.TelemetryIdentifier() == "" {
		telemetryState = "disabled"
	}

	if outputJSON {
		return printOutput(out, map[string]any{
			"app_name":            cfg.AppName,
			"role_name":           cfg.RoleName,
			"log_level":           cfg.LogLevel,
			"http_port":           cfg.HTTPPort,
			"grpc_port":           cfg.GRPCPort,
			"upstream_url":        cfg.UpstreamURL,
			"tracing_enabled":     cfg.Tracing.Enabled,
			"telemetry":           telemetryState,
			"backend":             cfg.Telemetry.Backend,
			"instrumentation_key": mask(cfg.Telemetry.InstrumentationKey),
			"poll_interval":       cfg.Telemetry.PollInterval.String(),
			"sink_interval":       cfg.Telemetry.SinkInterval.String(),
			"queue_capacity":      cfg.Telemetry.QueueCapacity,
			"flush_on_shutdown":   cfg.Telemetry.FlushOnShutdown,
			"shutdown_timeout":    cfg.Telemetry.ShutdownTimeout.String(),
			"config_file":         configFile,
		})
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  App name: %s\n", cfg.AppName)
	fmt.Fprintf(out, "  Role name: %s\n", cfg.RoleName)
	fmt.Fprintf(out, "  Log level: %s\n", cfg.LogLevel)
	fmt.Fprintf(out, "  HTTP port: %s\n", cfg.HTTPPort)
	fmt.Fprintf(out, "  gRPC port: %s\n", cfg.GRPCPort)
	fmt.Fprintf(out, "  Upstream URL: %s\n", cfg.UpstreamURL)
	fmt.Fprintf(out, "  Tracing enabled: %v\n", cfg.Tracing.Enabled)
	fmt.Fprintf(out, "  Telemetry: %s (backend %s)\n", telemetryState, cfg.Telemetry.Backend)
	fmt.Fprintf(out, "  Instrumentation key: %s\n", mask(cfg.Telemetry.InstrumentationKey))
	fmt.Fprintf(out, "  Poll interval: %s\n", cfg.Telemetry.PollInterval)
	fmt.Fprintf(out, "  Sink interval: %s\n", cfg.Telemetry.SinkInterval)
	fmt.Fprintf(out, "  Queue capacity: %d\n", cfg.Telemetry.QueueCapacity)
	fmt.Fprintf(out, "  Flush on shutdown: %v\n", cfg.Telemetry.FlushOnShutdown)
	fmt.Fprintf(out, "  Shutdown timeout: %s\n", cfg.Telemetry.ShutdownTimeout)
	if configFile != "" {
		fmt.Fprintf(out, "  Config file: %s\n", configFile)
	} else {
		fmt.Fprintln(out, "  Config file: none (using defaults)")
	}
	return nil
}
