package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"linkpipe/internal/bot"
	"linkpipe/internal/config"
	"linkpipe/internal/repository/postgres"
	"linkpipe/internal/retry"
	"linkpipe/internal/service"
	"linkpipe/internal/sink"
	"linkpipe/internal/sink/discord"
	"linkpipe/internal/subscriber"
	"linkpipe/internal/supervisor"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Forward broadcast alerts to a notification sink",
}

var notifyTelegramCmd = &cobra.Command{
	Use:   "telegram",
	Short: "Post alerts to a Telegram chat and answer /stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, "notify_telegram", config.Config.ValidateTelegram)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		db, err := postgres.Open(ctx, cfg.DB.DSN)
		if err != nil {
			logger.WithFields(logrus.Fields{"component": "notify_telegram", "error": err}).Error("database init failed")
			return err
		}
		defer db.Close()

		stats := service.NewLinkService(postgres.NewPostgresLinkRepository(db), nil, nil, nil)
		telegram, err := bot.New(bot.Config{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		}, stats, logger)
		if err != nil {
			logger.WithFields(logrus.Fields{"component": "notify_telegram", "error": err}).Error("telegram init failed")
			return err
		}
		go telegram.Start(ctx)

		return runSubscriber(ctx, cfg, logger, "telegram", telegram)
	},
}

var notifyDiscordCmd = &cobra.Command{
	Use:   "discord",
	Short: "Post alerts to a Discord webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, "notify_discord", config.Config.ValidateDiscord)
		if err != nil {
			return err
		}

		webhook, err := discord.New(cfg.Discord.WebhookURL)
		if err != nil {
			return err
		}
		return runSubscriber(cmd.Context(), cfg, logger, "discord", webhook)
	},
}

var notifyLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Write alerts to the structured log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, "notify_log", config.Config.ValidateNotifyLog)
		if err != nil {
			return err
		}
		return runSubscriber(cmd.Context(), cfg, logger, "log", sink.NewLog(logger))
	},
}

func runSubscriber(ctx context.Context, cfg config.Config, logger *logrus.Logger, name string, s sink.Sink) error {
	metrics, stopMetrics := serveMetrics(cfg.Metrics.Listen, logger)
	defer stopMetrics()

	sub := subscriber.New(subscriber.Config{
		Name:        name,
		Exchange:    cfg.Broker.AlertExchange,
		Buffer:      cfg.Subscriber.Buffer,
		SendTimeout: cfg.Subscriber.SendTimeout,
	}, s, logger, metrics)

	sup := supervisor.New(supervisor.Config{
		Component: "alert_subscriber_" + name,
		URL:       cfg.Broker.URL,
		Backoff:   retry.Unlimited(cfg.Broker.ReconnectDelay),
		Logger:    logger,
		Metrics:   metrics,
	}, sub)

	log := logger.WithFields(logrus.Fields{"component": "notify", "subscriber": name})
	log.Info("subscriber started")
	if err := sub.Run(ctx, sup); err != nil {
		return err
	}
	log.Info("subscriber stopped")
	return nil
}

func init() {
	notifyCmd.AddCommand(notifyTelegramCmd, notifyDiscordCmd, notifyLogCmd)
	rootCmd.AddCommand(notifyCmd)
}
