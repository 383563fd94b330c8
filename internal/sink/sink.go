// Package sink holds the destinations an alert subscriber forwards to.
package sink

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"linkpipe/internal/message"
)

// Sink delivers one alert to a human-facing channel.
type Sink interface {
	Send(ctx context.Context, alert message.Alert) error
}

// Func adapts a plain function to Sink.
type Func func(ctx context.Context, alert message.Alert) error

func (f Func) Send(ctx context.Context, alert message.Alert) error {
	return f(ctx, alert)
}

var markdownEscaper = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	`[`, `\[`,
)

// EscapeMarkdown escapes the characters that carry meaning in Telegram's
// legacy Markdown.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func Badge(level message.Level) string {
	switch message.ParseLevel(string(level)) {
	case message.LevelCritical:
		return "🚨"
	case message.LevelWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// Render formats an alert as a bold title over the message body, prefixed
// with a level badge. The message body is passed through as Markdown.
func Render(alert message.Alert) string {
	var b strings.Builder
	b.WriteString(Badge(alert.Level))
	b.WriteString(" *")
	b.WriteString(EscapeMarkdown(alert.Title))
	b.WriteString("*")
	if alert.Message != "" {
		b.WriteString("\n\n")
		b.WriteString(alert.Message)
	}
	return b.String()
}

// Log writes alerts to a logrus logger at a level matching the alert.
type Log struct {
	logger *logrus.Logger
}

func NewLog(logger *logrus.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Send(_ context.Context, alert message.Alert) error {
	entry := l.logger.WithFields(logrus.Fields{
		"component":   "alert_log",
		"alert_level": string(alert.Level),
		"title":       alert.Title,
	})

	switch message.ParseLevel(string(alert.Level)) {
	case message.LevelCritical:
		entry.Error(alert.Message)
	case message.LevelWarning:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
	return nil
}
