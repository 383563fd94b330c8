package cmd

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"linkpipe/internal/config"
	"linkpipe/internal/handler"
	"linkpipe/internal/prometheus"
	"linkpipe/internal/publisher"
	"linkpipe/internal/repository/postgres"
	"linkpipe/internal/repository/redis"
	"linkpipe/internal/service"
	"linkpipe/migrations"
)

const shutdownTimeout = 10 * time.Second

var shortenCmd = &cobra.Command{
	Use:   "shorten",
	Short: "Run the link shortening server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, "shorten", config.Config.ValidateShorten)
		if err != nil {
			return err
		}
		log := logger.WithField("component", "shorten")
		ctx := cmd.Context()

		if cfg.DB.Migrations {
			if err := migrations.Run(cfg.DB.DSN, logger); err != nil {
				log.WithField("error", err).Error("migrations failed")
				return err
			}
		}

		db, err := postgres.Open(ctx, cfg.DB.DSN)
		if err != nil {
			log.WithField("error", err).Error("database init failed")
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.WithField("error", err).Error("closing database")
			}
		}()

		redisClient, err := redis.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			log.WithField("error", err).Error("redis init failed")
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.WithField("error", err).Error("closing redis")
			}
		}()

		metrics := initprometheus.InitPrometheus(prometheus.DefaultRegisterer)

		clicks := publisher.NewClicks(publisher.Config{
			URL:     cfg.Broker.URL,
			Timeout: cfg.Broker.PublishTimeout,
			Target:  cfg.Broker.ClickQueue,
		}, logger, metrics)
		alerts := publisher.NewAlerts(publisher.Config{
			URL:     cfg.Broker.URL,
			Timeout: cfg.Broker.PublishTimeout,
			Target:  cfg.Broker.AlertExchange,
		}, logger, metrics)

		linkService := service.NewLinkService(
			postgres.NewPostgresLinkRepository(db),
			redis.NewLink(redisClient, logger),
			clicks,
			alerts,
		)

		app := fiber.New(fiber.Config{DisableStartupMessage: true})
		handler.NewHandler(linkService, metrics, logger, cfg.Server.BaseURL).InitRoutes(app)

		serverErr := make(chan error, 1)
		go func() {
			log.WithField("listen", cfg.Server.Listen).Info("server started")
			serverErr <- app.Listen(cfg.Server.Listen)
		}()

		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
		case err := <-serverErr:
			log.WithField("error", err).Error("server failed")
			return err
		}

		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.WithFields(logrus.Fields{"error": err}).Error("server shutdown")
		}
		log.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shortenCmd)
}
