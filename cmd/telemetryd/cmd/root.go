package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/harbor_pulse/internal/config"
)

var (
	cfgFile    string
	outputJSON bool

	// v holds flags, config file and environment for every subcommand
	v = config.NewViper()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "telemetryd",
	Short: "Harbor Pulse - buffered request and dependency telemetry",
	Long: `telemetryd is a reference host for the Harbor Pulse telemetry layer.

It serves instrumented HTTP and gRPC endpoints, buffers a telemetry event for
every request and outbound call, and forwards them in the background to
Application Insights, an OTLP collector, NSQ or the log.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.telemetryd.yaml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().String("log-level", "", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "telemetry backend (appinsights, otlp, nsq, log, none)")
	rootCmd.PersistentFlags().String("role", "", "cloud role name attached to every telemetry item")

	// Bind flags to viper
	bindFlag(v, "LOG_LEVEL", rootCmd, "log-level")
	bindFlag(v, "TELEMETRY_BACKEND", rootCmd, "backend")
	bindFlag(v, "ROLE_NAME", rootCmd, "role")
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	flag := cmd.PersistentFlags().Lookup(name)
	if flag == nil {
		flag = cmd.Flags().Lookup(name)
	}
	cobra.CheckErr(v.BindPFlag(key, flag))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".telemetryd")
	}

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	}
}

// printOutput writes value as indented JSON
func printOutput(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
