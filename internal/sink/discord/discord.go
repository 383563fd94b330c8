// Package discord forwards alerts to a Discord channel webhook as embeds.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"linkpipe/internal/message"
	"linkpipe/internal/sink"
)

const defaultTimeout = 10 * time.Second

// Embed colours per level.
const (
	colorInfo     = 0x3498db
	colorWarning  = 0xf1c40f
	colorCritical = 0xe74c3c
)

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color"`
	Footer      footer `json:"footer"`
}

type footer struct {
	Text string `json:"text"`
}

type payload struct {
	Username string  `json:"username,omitempty"`
	Embeds   []embed `json:"embeds"`
}

type Sink struct {
	client     *resty.Client
	webhookURL string
	username   string
}

func New(webhookURL string) (*Sink, error) {
	if webhookURL == "" {
		return nil, errors.New("discord webhook url is empty")
	}

	client := resty.New().
		SetTimeout(defaultTimeout).
		SetHeader("Content-Type", "application/json")

	return &Sink{client: client, webhookURL: webhookURL, username: "linkpipe"}, nil
}

var _ sink.Sink = (*Sink)(nil)

func (s *Sink) Send(ctx context.Context, alert message.Alert) error {
	level := message.ParseLevel(string(alert.Level))

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload{
			Username: s.username,
			Embeds: []embed{{
				Title:       sink.Badge(level) + " " + alert.Title,
				Description: alert.Message,
				Color:       color(level),
				Footer:      footer{Text: string(level)},
			}},
		}).
		Post(s.webhookURL)
	if err != nil {
		return fmt.Errorf("post discord webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("discord webhook returned %s: %s", resp.Status(), resp.String())
	}
	return nil
}

func color(level message.Level) int {
	switch level {
	case message.LevelCritical:
		return colorCritical
	case message.LevelWarning:
		return colorWarning
	default:
		return colorInfo
	}
}
