package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/studiowebux/swarm/internal/config"
	"github.com/studiowebux/swarm/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exit.err)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// exitError ends the process with a specific exit code
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

// Global flags
var (
	flagConfig   string
	flagLogLevel string
	flagLogJSON  bool
)

// settings is loaded once before any subcommand runs
var settings *config.Settings

var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Distributed load testing for FastAPI applications",
	Long: `swarm simulates users against a FastAPI application and reports
request statistics. It runs in a single process or as a master with workers.

Examples:
  swarm seed                                   # Create the test user and check endpoints
  swarm run --scenario fastapi --users 50      # Local run with the default run time
  swarm run --scenario basic --dashboard       # Live terminal dashboard
  swarm master --headless --local-workers 4    # Master plus 4 local workers
  swarm worker --master-host 10.0.0.5          # Join a remote master
  swarm health                                 # Check master and workers
  swarm report                                 # Write an HTML report
  swarm history                                # List previous runs`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(flagLogLevel, flagLogJSON); err != nil {
			return err
		}

		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		path := flagConfig
		if path == "" {
			path = config.GetSettingsFilePath()
		} else {
			expanded, err := config.ExpandPath(path)
			if err != nil {
				return err
			}
			path = expanded
		}

		s, err := config.Load(path)
		if err != nil {
			return err
		}
		if path != "" {
			logrus.WithField("path", path).Debug("Loaded settings")
		}
		settings = s
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Settings file (.yaml, .json or .jsonc)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Log as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(masterCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(mockapiCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogging(level string, asJSON bool) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)

	if asJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
