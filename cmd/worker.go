package cmd

import (
	"github.com/spf13/cobra"

	"linkpipe/internal/config"
	"linkpipe/internal/repository/postgres"
	"linkpipe/internal/retry"
	"linkpipe/internal/supervisor"
	"linkpipe/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume click events and update link counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, "click_worker", config.Config.ValidateWorker)
		if err != nil {
			return err
		}
		log := logger.WithField("component", "click_worker")
		ctx := cmd.Context()

		db, err := postgres.Open(ctx, cfg.DB.DSN)
		if err != nil {
			log.WithField("error", err).Error("database init failed")
			return err
		}
		defer db.Close()

		metrics, stopMetrics := serveMetrics(cfg.Metrics.Listen, logger)
		defer stopMetrics()

		w := worker.New(worker.Config{
			Queue:           cfg.Broker.ClickQueue,
			DeadLetterQueue: cfg.Worker.DeadLetterQueue,
			Retry: retry.Policy{
				MaxAttempts: cfg.Worker.RetryAttempts,
				Delay:       cfg.Worker.RetryDelay,
			},
		}, postgres.NewPostgresLinkRepository(db), logger, metrics)

		sup := supervisor.New(supervisor.Config{
			Component: "click_worker",
			URL:       cfg.Broker.URL,
			Backoff:   retry.Unlimited(cfg.Broker.ReconnectDelay),
			Logger:    logger,
			Metrics:   metrics,
		}, w)

		log.Info("worker started")
		if err := sup.Run(ctx); err != nil {
			return err
		}
		log.Info("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
