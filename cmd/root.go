package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"linkpipe/internal/config"
	"linkpipe/internal/prometheus"
)

var rootCmd = &cobra.Command{
	Use:           "linkpipe",
	Short:         "Link shortener with an asynchronous click and alert pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the YAML config file (default: "+config.DefaultPath+" if present)")
}

// Execute runs the selected command until it returns or SIGINT/SIGTERM
// arrives. A returned error exits non-zero.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads the config, runs validate on it and builds the logger.
func setup(cmd *cobra.Command, component string, validate func(config.Config) error) (config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cfg, nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return cfg, nil, err
	}

	if err := validate(cfg); err != nil {
		logger.WithFields(logrus.Fields{
			"component": component,
			"error":     err,
		}).Error("invalid configuration")
		return cfg, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)
	return logger, nil
}

// serveMetrics exposes /metrics for processes without an HTTP API. A failed
// listener is logged and the process keeps running.
func serveMetrics(listen string, logger *logrus.Logger) (*initprometheus.PrometheusMetrics, func()) {
	metrics := initprometheus.InitPrometheus(prometheus.DefaultRegisterer)
	app, errCh := initprometheus.Serve(listen, metrics)
	go func() {
		if err := <-errCh; err != nil {
			logger.WithFields(logrus.Fields{
				"component": "metrics",
				"listen":    listen,
				"error":     err,
			}).Error("metrics server stopped")
		}
	}()

	return metrics, func() {
		_ = app.Shutdown()
	}
}
