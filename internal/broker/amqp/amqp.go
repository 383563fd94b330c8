// Package amqp is the RabbitMQ backend. Durable queues map to durable AMQP
// queues fed through the default exchange; fanout exchanges map to AMQP
// fanout exchanges with one exclusive, auto-deleted queue per subscriber.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"linkpipe/internal/broker"
)

const dialTimeout = 10 * time.Second

func init() {
	broker.Register("amqp", Dial)
	broker.Register("amqps", Dial)
}

// Conn owns one AMQP connection and one channel on it.
type Conn struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	// publishing and consuming share the channel; amqp091 channels are not
	// safe for concurrent publishes.
	pubMu sync.Mutex

	done      chan struct{}
	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
}

// Dial connects, opens a channel and sets a prefetch of one.
func Dial(ctx context.Context, rawURL string) (broker.Conn, error) {
	if _, err := amqp.ParseURI(rawURL); err != nil {
		return nil, broker.Terminal("dial", err)
	}

	conn, err := amqp.DialConfig(rawURL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			return dialContext(ctx, network, addr)
		},
	})
	if err != nil {
		return nil, classify("dial", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, classify("open channel", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, classify("qos", err)
	}

	c := &Conn{conn: conn, ch: ch, done: make(chan struct{})}
	go c.watch(conn.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))
	return c, nil
}

// dialContext honours ctx while connecting. The deadline covers the AMQP
// handshake; amqp091 clears it once the connection is open.
func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Conn) watch(connClosed, chanClosed <-chan *amqp.Error) {
	var cause *amqp.Error
	select {
	case cause = <-connClosed:
	case cause = <-chanClosed:
	}
	if cause != nil {
		c.errMu.Lock()
		c.err = classify("connection", cause)
		c.errMu.Unlock()
	}
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) DeclareQueue(_ context.Context, name string) error {
	_, err := c.ch.QueueDeclare(name, true, false, false, false, nil)
	return classify("declare queue", err)
}

func (c *Conn) Send(ctx context.Context, queue string, body []byte) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	err := c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	return classify("send", err)
}

func (c *Conn) DeclareFanout(_ context.Context, name string) error {
	err := c.ch.ExchangeDeclare(name, amqp.ExchangeFanout, false, false, false, false, nil)
	return classify("declare exchange", err)
}

func (c *Conn) Broadcast(ctx context.Context, exchange string, body []byte) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	err := c.ch.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	return classify("broadcast", err)
}

func (c *Conn) Consume(_ context.Context, queue string) (<-chan broker.Delivery, error) {
	msgs, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, classify("consume", err)
	}
	return c.forward(msgs), nil
}

func (c *Conn) Subscribe(_ context.Context, exchange string) (<-chan broker.Delivery, error) {
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, classify("declare private queue", err)
	}
	if err := c.ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return nil, classify("bind", err)
	}
	msgs, err := c.ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return nil, classify("consume", err)
	}
	return c.forward(msgs), nil
}

func (c *Conn) forward(msgs <-chan amqp.Delivery) <-chan broker.Delivery {
	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		for m := range msgs {
			d := broker.NewDelivery(m.Body, m.Redelivered,
				func() error { return classify("ack", m.Ack(false)) },
				func(requeue bool) error { return classify("reject", m.Nack(false, requeue)) },
			)
			select {
			case out <- d:
			case <-c.done:
				return
			}
		}
	}()
	return out
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	err := c.conn.Close()
	c.closeOnce.Do(func() { close(c.done) })
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close amqp connection: %w", err)
	}
	return nil
}

// classify maps amqp failures onto the broker error kinds. Authentication,
// authorisation and vhost errors never heal by reconnecting.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, amqp.ErrCredentials) || errors.Is(err, amqp.ErrVhost) || errors.Is(err, amqp.ErrSASL) {
		return broker.Terminal(op, err)
	}
	var aerr *amqp.Error
	if errors.As(err, &aerr) {
		switch aerr.Code {
		case amqp.AccessRefused, amqp.NotAllowed, amqp.NotImplemented:
			return broker.Terminal(op, err)
		}
	}
	return broker.Recoverable(op, err)
}
