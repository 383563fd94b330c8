// Package publisher hands events to the broker from request paths. Every
// publish opens its own short-lived connection, so a broker outage never
// leaves a half-broken shared channel behind, and no publish ever returns an
// error to its caller.
package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"linkpipe/internal/broker"
	"linkpipe/internal/message"
	initprometheus "linkpipe/internal/prometheus"
)

const (
	DefaultTimeout        = 3 * time.Second
	defaultBreakerTimeout = 10 * time.Second
	breakerTripAfter      = 3
)

type Config struct {
	URL string
	// Dial defaults to broker.Dial.
	Dial broker.DialFunc
	// Timeout bounds one dial-declare-send-close round.
	Timeout time.Duration
	// Target is the queue for clicks or the exchange for alerts.
	Target string
	// BreakerTimeout is how long the click breaker stays open.
	BreakerTimeout time.Duration
}

func (c Config) withDefaults(target string) Config {
	if c.Dial == nil {
		c.Dial = broker.Dial
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Target == "" {
		c.Target = target
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = defaultBreakerTimeout
	}
	return c
}

func (c Config) roundTrip(ctx context.Context, fn func(ctx context.Context, conn broker.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	conn, err := c.Dial(ctx, c.URL)
	if err != nil {
		return err
	}
	if err := fn(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}
	return conn.Close()
}

// Clicks publishes click events onto the durable click queue.
type Clicks struct {
	cfg     Config
	cb      *gobreaker.CircuitBreaker
	log     *logrus.Entry
	metrics *initprometheus.PrometheusMetrics
}

func NewClicks(cfg Config, logger *logrus.Logger, metrics *initprometheus.PrometheusMetrics) *Clicks {
	cfg = cfg.withDefaults(message.ClickEventsQueue)
	log := logger.WithFields(logrus.Fields{
		"component": "click_publisher",
		"queue":     cfg.Target,
	})

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "click_publisher",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("click publisher breaker changed state")
		},
	})

	return &Clicks{cfg: cfg, cb: cb, log: log, metrics: metrics}
}

// Publish reports whether the broker accepted the click event for shortCode.
// It never blocks longer than the configured timeout.
func (c *Clicks) Publish(ctx context.Context, shortCode string) bool {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.cfg.roundTrip(ctx, func(ctx context.Context, conn broker.Conn) error {
			if err := conn.DeclareQueue(ctx, c.cfg.Target); err != nil {
				return err
			}
			return conn.Send(ctx, c.cfg.Target, message.EncodeClick(shortCode))
		})
	})

	switch {
	case err == nil:
		c.metrics.ClickPublished("ok")
		return true
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.ClickPublished("breaker_open")
		c.log.WithField("short_code", shortCode).Warn("broker breaker open, click event not sent")
	default:
		c.metrics.ClickPublished("failed")
		c.log.WithFields(logrus.Fields{
			"short_code": shortCode,
			"error":      err,
		}).Error("failed to publish click event")
	}
	return false
}

// Alerts broadcasts operator notifications to the alerts exchange.
type Alerts struct {
	cfg     Config
	log     *logrus.Entry
	metrics *initprometheus.PrometheusMetrics
}

func NewAlerts(cfg Config, logger *logrus.Logger, metrics *initprometheus.PrometheusMetrics) *Alerts {
	cfg = cfg.withDefaults(message.AlertsExchange)
	return &Alerts{
		cfg: cfg,
		log: logger.WithFields(logrus.Fields{
			"component": "alert_publisher",
			"exchange":  cfg.Target,
		}),
		metrics: metrics,
	}
}

// Publish broadcasts the alert on a best-effort basis. Failures are logged
// and never surface to the caller. An unrecognised level is sent as INFO.
func (a *Alerts) Publish(ctx context.Context, title, msg string, level message.Level) {
	body, err := message.EncodeAlert(message.Alert{Title: title, Message: msg, Level: level})
	if err == nil {
		err = a.cfg.roundTrip(ctx, func(ctx context.Context, conn broker.Conn) error {
			if err := conn.DeclareFanout(ctx, a.cfg.Target); err != nil {
				return err
			}
			return conn.Broadcast(ctx, a.cfg.Target, body)
		})
	}

	if err != nil {
		a.metrics.AlertPublished("failed")
		a.log.WithFields(logrus.Fields{
			"title":       title,
			"alert_level": string(message.ParseLevel(string(level))),
			"error":       err,
		}).Error("failed to publish alert")
		return
	}
	a.metrics.AlertPublished("ok")
}
