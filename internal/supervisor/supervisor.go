// Package supervisor keeps a broker consumer attached. It dials, lets a
// Session declare and bind its topology, then feeds it deliveries one at a
// time. Lost connections are redialled after a fixed delay for as long as it
// takes; terminal errors and context cancellation end the loop.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"linkpipe/internal/broker"
	initprometheus "linkpipe/internal/prometheus"
	"linkpipe/internal/retry"
)

// DefaultReconnectDelay is the fixed pause between connection attempts.
const DefaultReconnectDelay = 5 * time.Second

type State int

const (
	Disconnected State = iota
	Connecting
	Bound
	Consuming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Bound:
		return "bound"
	case Consuming:
		return "consuming"
	default:
		return "unknown"
	}
}

// Session is the consumer-specific part of a supervised connection.
type Session interface {
	// Bind declares what the consumer needs on a fresh connection and starts
	// consuming. It runs again after every reconnect.
	Bind(ctx context.Context, conn broker.Conn) (<-chan broker.Delivery, error)
	// Handle processes one delivery and settles it. A non-nil error means the
	// connection is no longer usable and a reconnect is needed.
	Handle(ctx context.Context, conn broker.Conn, d broker.Delivery) error
}

type Config struct {
	// Component names the consumer in logs and metrics.
	Component string
	URL       string
	// Dial defaults to broker.Dial.
	Dial    broker.DialFunc
	Backoff retry.Policy
	Logger  *logrus.Logger
	Metrics *initprometheus.PrometheusMetrics
	// OnState, when set, observes every state change.
	OnState func(State)
}

type Supervisor struct {
	cfg     Config
	session Session
	log     *logrus.Entry
	state   State
}

func New(cfg Config, session Session) *Supervisor {
	if cfg.Dial == nil {
		cfg.Dial = broker.Dial
	}
	if cfg.Backoff.Delay <= 0 {
		cfg.Backoff.Delay = DefaultReconnectDelay
	}
	// Reconnection is never abandoned on transient failures.
	cfg.Backoff.MaxAttempts = 0
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Supervisor{
		cfg:     cfg,
		session: session,
		log:     cfg.Logger.WithField("component", cfg.Component),
		state:   Disconnected,
	}
}

// Run blocks until ctx is done, returning nil, or until a terminal error,
// which it returns. Run must not be called concurrently.
func (s *Supervisor) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		s.transition(Connecting)
		consumed, err := s.connect(ctx)
		s.transition(Disconnected)

		if ctx.Err() != nil {
			s.log.Info("consumer stopped")
			return nil
		}
		if consumed {
			attempt = 1
		}

		if broker.IsTerminal(err) {
			s.log.WithFields(logrus.Fields{
				"attempt": attempt,
				"error":   err,
			}).Error("terminal broker error, giving up")
			return err
		}

		s.log.WithFields(logrus.Fields{
			"attempt":     attempt,
			"retry_delay": s.cfg.Backoff.Delay.String(),
			"error":       err,
		}).Error("broker connection failed, retrying")

		if s.cfg.Backoff.Wait(ctx) != nil {
			return nil
		}
	}
}

// connect runs one connection lifetime. consumed reports whether the
// session got as far as consuming.
func (s *Supervisor) connect(ctx context.Context) (consumed bool, err error) {
	conn, err := s.cfg.Dial(ctx, s.cfg.URL)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, broker.ErrClosed) {
			s.log.WithField("error", cerr).Debug("closing broker connection")
		}
	}()

	deliveries, err := s.session.Bind(ctx, conn)
	if err != nil {
		return false, err
	}
	s.transition(Bound)

	s.transition(Consuming)
	s.log.Info("consuming")

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case <-conn.Done():
			return true, lost(conn)
		case d, ok := <-deliveries:
			if !ok {
				return true, lost(conn)
			}
			if err := s.session.Handle(ctx, conn, d); err != nil {
				return true, err
			}
		}
	}
}

func lost(conn broker.Conn) error {
	if err := conn.Err(); err != nil {
		return err
	}
	return broker.Recoverable("consume", broker.ErrClosed)
}

// State returns the current state. It is only meaningful from the goroutine
// calling Run or from OnState.
func (s *Supervisor) State() State {
	return s.state
}

func (s *Supervisor) transition(next State) {
	if s.state == next {
		return
	}
	s.state = next
	s.log.WithField("state", next.String()).Debug("supervisor state changed")
	s.cfg.Metrics.Transition(s.cfg.Component, next.String())
	if s.cfg.OnState != nil {
		s.cfg.OnState(next)
	}
}
