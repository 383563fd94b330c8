// Package subscriber is the alert subscriber: each instance owns a private
// queue bound to the alerts fanout exchange and hands decoded alerts to a
// sink. The broker side never waits on the sink. Alerts are handed over
// through a bounded buffer, and when it is full the alert is dropped.
package subscriber

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"linkpipe/internal/broker"
	"linkpipe/internal/message"
	initprometheus "linkpipe/internal/prometheus"
	"linkpipe/internal/sink"
)

const (
	DefaultBuffer      = 64
	DefaultSendTimeout = 10 * time.Second
)

type Config struct {
	// Name labels this subscriber in logs and metrics.
	Name        string
	Exchange    string
	Buffer      int
	SendTimeout time.Duration
}

// Runner is what keeps the broker side attached, normally a supervisor.
type Runner interface {
	Run(ctx context.Context) error
}

// Subscriber implements supervisor.Session.
type Subscriber struct {
	cfg     Config
	sink    sink.Sink
	alerts  chan message.Alert
	log     *logrus.Entry
	metrics *initprometheus.PrometheusMetrics
}

func New(cfg Config, s sink.Sink, logger *logrus.Logger, metrics *initprometheus.PrometheusMetrics) *Subscriber {
	if cfg.Exchange == "" {
		cfg.Exchange = message.AlertsExchange
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}

	return &Subscriber{
		cfg:    cfg,
		sink:   s,
		alerts: make(chan message.Alert, cfg.Buffer),
		log: logger.WithFields(logrus.Fields{
			"component":  "alert_subscriber",
			"subscriber": cfg.Name,
			"exchange":   cfg.Exchange,
		}),
		metrics: metrics,
	}
}

// Bind creates a fresh private queue on every connection.
func (s *Subscriber) Bind(ctx context.Context, conn broker.Conn) (<-chan broker.Delivery, error) {
	if err := conn.DeclareFanout(ctx, s.cfg.Exchange); err != nil {
		return nil, err
	}
	return conn.Subscribe(ctx, s.cfg.Exchange)
}

// Handle decodes the alert, queues it for the sink and acknowledges it.
// Nothing a sink does can cause a redelivery.
func (s *Subscriber) Handle(_ context.Context, _ broker.Conn, d broker.Delivery) error {
	alert, err := message.DecodeAlert(d.Body)
	if err != nil {
		s.metrics.SubscriberAlert(s.cfg.Name, "malformed")
		s.log.WithField("error", err).Error("dropping undecodable alert")
		return ack(d)
	}

	select {
	case s.alerts <- alert:
	default:
		s.metrics.SubscriberAlert(s.cfg.Name, "dropped")
		s.log.WithFields(logrus.Fields{
			"title":       alert.Title,
			"alert_level": string(alert.Level),
		}).Warn("sink backlog full, dropping alert")
	}
	return ack(d)
}

// Run drains alerts into the sink while runner keeps the subscription alive.
// It returns runner's result once both have stopped.
func (s *Subscriber) Run(ctx context.Context, runner Runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.drain(ctx)
	}()

	err := runner.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

func (s *Subscriber) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-s.alerts:
			s.deliver(ctx, alert)
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, alert message.Alert) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	log := s.log.WithFields(logrus.Fields{
		"title":       alert.Title,
		"alert_level": string(alert.Level),
	})

	if err := s.sink.Send(ctx, alert); err != nil {
		s.metrics.SubscriberAlert(s.cfg.Name, "sink_error")
		log.WithField("error", err).Error("sink failed to deliver alert")
		return
	}
	s.metrics.SubscriberAlert(s.cfg.Name, "delivered")
	log.Debug("alert delivered")
}

func ack(d broker.Delivery) error {
	if err := d.Ack(); err != nil {
		return broker.Recoverable("ack", err)
	}
	return nil
}
