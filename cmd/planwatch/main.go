// Command planwatch harvests public comments from IdoxPA planning portals,
// stores them per environment and geocodes their addresses.
//
// Usage:
//
//	planwatch harvest newham 24/01234/FUL
//	planwatch postcode newham "E15 4HT" --harvest
//	planwatch geocode --council newham
//	planwatch read --council newham
//	planwatch sync --from dev --to prod
//	planwatch serve
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/planwatch/planwatch"
)

var (
	configPath string
	envName    string
	logLevel   string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "planwatch",
	Short:         "Harvest, store and geocode planning application comments.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		logger = newLogger(logLevel)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to planwatch.yaml")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "environment to use (overrides config and PLANWATCH_ENV)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger == nil {
			logger = newLogger(logLevel)
		}
		logger.Error("planwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func loadConfig() (planwatch.Config, error) {
	var cfg planwatch.Config
	if configPath != "" {
		c, err := planwatch.LoadConfigFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = *c
	} else {
		cfg.ApplyEnv(os.Environ())
	}
	// --env wins over PLANWATCH_ENV; DSN overrides cover every environment.
	if envName != "" {
		cfg.Environment = envName
	}
	return cfg, nil
}

// openService builds the service for one command and closes it when the
// command returns.
func openService(cmd *cobra.Command) (*planwatch.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	svc, err := planwatch.New(cmd.Context(), cfg, planwatch.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	cobra.OnFinalize(func() { svc.Close() })
	return svc, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
