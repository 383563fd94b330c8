package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v4"

	"linkpipe/internal/message"
	"linkpipe/internal/models"
	"linkpipe/internal/service"
	"linkpipe/internal/sink"
)

const startText = "I post link shortener alerts to this chat 🔗\n\n" +
	"Send /stats <code> to see how a short link is doing."

// StatsReader is the part of the link service the bot queries.
type StatsReader interface {
	Stats(ctx context.Context, shortCode string) (models.Link, error)
}

type Config struct {
	Token  string
	ChatID string
	// URL overrides the Bot API endpoint.
	URL     string
	Timeout time.Duration
	// Offline skips the getMe handshake at construction.
	Offline bool
}

// Bot is a Telegram alert sink that also answers /stats.
type Bot struct {
	ctx    context.Context
	bot    *tele.Bot
	chat   tele.Recipient
	stats  StatsReader
	logger *logrus.Entry
}

var _ sink.Sink = (*Bot)(nil)

func New(cfg Config, stats StatsReader, logger *logrus.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	if cfg.ChatID == "" {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	pref := tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.Timeout},
		Client:  &http.Client{Timeout: 2 * cfg.Timeout},
		Offline: cfg.Offline,
	}

	newBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := &Bot{
		ctx:    context.Background(),
		bot:    newBot,
		chat:   recipient(cfg.ChatID),
		stats:  stats,
		logger: logger.WithField("component", "telegram_bot"),
	}
	b.registerHandlers()
	return b, nil
}

// Start polls for commands until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	b.ctx = ctx
	go func() {
		<-ctx.Done()
		b.bot.Stop()
	}()
	b.logger.Info("telegram bot polling")
	b.bot.Start()
}

// Send posts the alert to the configured chat.
func (b *Bot) Send(_ context.Context, alert message.Alert) error {
	if _, err := b.bot.Send(b.chat, sink.Render(alert), tele.ModeMarkdown); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", func(c tele.Context) error {
		return c.Send(startText)
	})
	b.bot.Handle("/stats", func(c tele.Context) error {
		return c.Send(b.statsReply(c.Args()), tele.ModeMarkdown)
	})
}

func (b *Bot) statsReply(args []string) string {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "Usage: /stats <code>"
	}
	code := strings.TrimPrefix(strings.TrimSpace(args[0]), "/")

	link, err := b.stats.Stats(b.ctx, code)
	if errors.Is(err, service.ErrNotFound) {
		return fmt.Sprintf("Sorry, I couldn't find any URL with the code `%s`.", sink.EscapeMarkdown(code))
	}
	if err != nil {
		b.logger.WithFields(logrus.Fields{
			"short_code": code,
			"error":      err,
		}).Error("stats lookup failed")
		return "An unexpected error occurred while fetching the stats."
	}
	return FormatStats(link)
}

// FormatStats renders a link's counters the way /stats replies.
func FormatStats(link models.Link) string {
	limit := "Unlimited"
	if link.MaxClicks > 0 {
		limit = strconv.FormatInt(link.MaxClicks, 10)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *Stats for* `/%s`\n\n", link.ShortCode)
	fmt.Fprintf(&sb, "*Original URL:* %s\n", sink.EscapeMarkdown(link.OriginalURL))
	fmt.Fprintf(&sb, "*Clicks:* %d\n", link.Clicks)
	fmt.Fprintf(&sb, "*Click Limit:* %s\n", limit)
	fmt.Fprintf(&sb, "*Status:* %s\n", link.Status())
	if !link.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "\nCreated on: %s", link.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}
	return sb.String()
}

type chatName string

func (c chatName) Recipient() string { return string(c) }

// recipient accepts numeric chat ids and @channel names.
func recipient(id string) tele.Recipient {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return tele.ChatID(n)
	}
	return chatName(id)
}
