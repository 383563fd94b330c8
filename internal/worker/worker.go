// Package worker is the click counter: a competing consumer of the click
// queue that bumps a link's counter once per event. A message is
// acknowledged only after the increment has committed, so delivery is at
// least once and a crash between commit and ack counts a click twice.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"linkpipe/internal/broker"
	"linkpipe/internal/message"
	"linkpipe/internal/models"
	initprometheus "linkpipe/internal/prometheus"
	"linkpipe/internal/retry"
)

const (
	DefaultRetryAttempts   = 3
	DefaultRetryDelay      = 500 * time.Millisecond
	DefaultDeadLetterQueue = message.ClickEventsQueue + ".dead"
)

// Store increments a link's click counter atomically and returns the new
// value. Unknown codes yield an error wrapping models.ErrLinkNotFound.
//
//go:generate mockery --name=Store --output=../mocks --filename=click_store.go --structname=ClickStore
type Store interface {
	IncrementClicks(ctx context.Context, shortCode string) (int64, error)
}

type Config struct {
	Queue string
	// DeadLetterQueue receives bodies whose increment kept failing. Empty
	// means such messages are requeued forever.
	DeadLetterQueue string
	// Retry bounds the in-process store retries for one delivery.
	Retry retry.Policy
}

// DefaultConfig dead-letters after three attempts half a second apart.
func DefaultConfig() Config {
	return Config{
		Queue:           message.ClickEventsQueue,
		DeadLetterQueue: DefaultDeadLetterQueue,
		Retry:           retry.Policy{MaxAttempts: DefaultRetryAttempts, Delay: DefaultRetryDelay},
	}
}

// Worker implements supervisor.Session.
type Worker struct {
	cfg     Config
	store   Store
	log     *logrus.Entry
	metrics *initprometheus.PrometheusMetrics
}

func New(cfg Config, store Store, logger *logrus.Logger, metrics *initprometheus.PrometheusMetrics) *Worker {
	if cfg.Queue == "" {
		cfg.Queue = message.ClickEventsQueue
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}

	return &Worker{
		cfg:   cfg,
		store: store,
		log: logger.WithFields(logrus.Fields{
			"component": "click_worker",
			"queue":     cfg.Queue,
		}),
		metrics: metrics,
	}
}

func (w *Worker) Bind(ctx context.Context, conn broker.Conn) (<-chan broker.Delivery, error) {
	if err := conn.DeclareQueue(ctx, w.cfg.Queue); err != nil {
		return nil, err
	}
	if w.cfg.DeadLetterQueue != "" {
		if err := conn.DeclareQueue(ctx, w.cfg.DeadLetterQueue); err != nil {
			return nil, err
		}
	}
	return conn.Consume(ctx, w.cfg.Queue)
}

// Handle applies one click event and settles the delivery. Only failures to
// talk to the broker are returned.
func (w *Worker) Handle(ctx context.Context, conn broker.Conn, d broker.Delivery) error {
	code, err := message.DecodeClick(d.Body)
	if err != nil {
		w.metrics.WorkerMessage("malformed")
		w.log.WithFields(logrus.Fields{
			"error": err,
			"size":  len(d.Body),
		}).Error("dropping undecodable click event")
		return settled("ack", d.Ack())
	}

	log := w.log.WithFields(logrus.Fields{
		"short_code":  code,
		"redelivered": d.Redelivered,
	})
	log.Debug("received click event")

	var clicks int64
	err = w.cfg.Retry.Do(ctx, w.retryable(ctx), func(attempt int) error {
		var ierr error
		clicks, ierr = w.store.IncrementClicks(ctx, code)
		if ierr != nil && w.retryable(ctx)(ierr) {
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"error":   ierr,
			}).Warn("click increment failed")
		}
		return ierr
	})

	switch {
	case err == nil:
		if aerr := d.Ack(); aerr != nil {
			// Committed but unacknowledged: the redelivery will count again.
			log.WithField("error", aerr).Error("ack after commit failed")
			return settled("ack", aerr)
		}
		w.metrics.WorkerMessage("counted")
		log.WithField("clicks", clicks).Info("click counted")
		return nil

	case errors.Is(err, models.ErrLinkNotFound):
		w.metrics.WorkerMessage("not_found")
		log.Warn("short code not found, dropping click event")
		return settled("ack", d.Ack())

	case ctx.Err() != nil:
		w.metrics.WorkerMessage("requeued")
		log.Info("shutting down, returning click event to the queue")
		return settled("reject", d.Reject(true))
	}

	return w.exhausted(ctx, conn, d, log, err)
}

func (w *Worker) exhausted(ctx context.Context, conn broker.Conn, d broker.Delivery, log *logrus.Entry, cause error) error {
	log = log.WithField("error", cause)

	if w.cfg.DeadLetterQueue == "" {
		w.metrics.WorkerMessage("requeued")
		log.Error("click increment failed, requeueing")
		return settled("reject", d.Reject(true))
	}

	if err := conn.Send(ctx, w.cfg.DeadLetterQueue, d.Body); err != nil {
		w.metrics.WorkerMessage("requeued")
		log.WithField("dlq_error", err).Error("dead-lettering failed, requeueing")
		if rerr := d.Reject(true); rerr != nil {
			return settled("reject", rerr)
		}
		return err
	}

	w.metrics.WorkerMessage("dead_lettered")
	log.WithField("dead_letter_queue", w.cfg.DeadLetterQueue).Error("click increment kept failing, moved to dead-letter queue")
	return settled("ack", d.Ack())
}

func (w *Worker) retryable(ctx context.Context) func(error) bool {
	return func(err error) bool {
		return ctx.Err() == nil && !errors.Is(err, models.ErrLinkNotFound)
	}
}

// settled turns a failed ack or reject into a connection-level error.
func settled(op string, err error) error {
	if err == nil {
		return nil
	}
	var berr *broker.Error
	if errors.As(err, &berr) {
		return err
	}
	return broker.Recoverable(op, err)
}
