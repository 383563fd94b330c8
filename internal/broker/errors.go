package broker

import (
	"errors"
	"fmt"
)

// Kind separates failures worth retrying from those that never heal on their own.
type Kind int

const (
	// KindRecoverable covers lost connections, unreachable brokers and timeouts.
	KindRecoverable Kind = iota
	// KindTerminal covers bad credentials, bad URLs and misconfiguration.
	KindTerminal
)

func (k Kind) String() string {
	if k == KindTerminal {
		return "terminal"
	}
	return "recoverable"
}

// Error is a classified broker failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	// ErrClosed is returned by operations on a connection that is gone.
	ErrClosed = errors.New("connection closed")
	// ErrAlreadySettled is returned when a delivery is acked or rejected twice.
	ErrAlreadySettled = errors.New("delivery already settled")
	// ErrUnknownScheme is returned by Dial for URLs no backend registered.
	ErrUnknownScheme = errors.New("unknown broker scheme")
)

// Recoverable wraps err as a failure the reconnection loop should retry.
func Recoverable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindRecoverable, Op: op, Err: err}
}

// Terminal wraps err as a failure that must stop the consumer.
func Terminal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTerminal, Op: op, Err: err}
}

// IsTerminal reports whether err, or anything it wraps, is a terminal broker error.
// Unclassified errors are treated as recoverable.
func IsTerminal(err error) bool {
	var berr *Error
	for err != nil {
		if !errors.As(err, &berr) {
			return false
		}
		if berr.Kind == KindTerminal {
			return true
		}
		err = berr.Err
	}
	return false
}
