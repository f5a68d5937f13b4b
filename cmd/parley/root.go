package parley

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/igorsilveira/parley/pkg/config"
	"github.com/igorsilveira/parley/pkg/telemetry"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "parley",
	Short:         "Parley - an operator console for talking to remote agents",
	Long:          "Parley converses with remote autonomous agents over A2A JSON-RPC or the MCP chat triplet, resolving agent cards and falling back to a same-origin relay when direct calls fail.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.parley/parley.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(mockAgentCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of Parley",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "parley v%s\n", version)
	},
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// commandLogger writes to stderr so command output on stdout stays clean.
func commandLogger(cfg *config.Config) *slog.Logger {
	return telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
}

func initTracing(ctx context.Context, cfg *config.Config, service string) (func(context.Context) error, error) {
	return telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: service,
		Version:     version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
}
