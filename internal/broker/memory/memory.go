// Package memory is an in-process broker backend. It keeps the delivery
// semantics of the real backends (durable queues shared by competing
// consumers, prefetch of one, redelivery of unacknowledged messages when a
// connection drops, fanout to private queues that vanish with their
// connection) so consumers can be exercised without a running broker.
//
// URLs of the form memory://name share one broker per name within a process.
package memory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"linkpipe/internal/broker"
)

// ErrUnavailable is returned by Dial while the broker simulates an outage.
var ErrUnavailable = errors.New("memory broker unavailable")

// ErrConnectionLost is reported by connections dropped during an outage.
var ErrConnectionLost = errors.New("memory broker connection lost")

func init() {
	broker.Register("memory", dialURL)
}

var (
	namedMu sync.Mutex
	named   = make(map[string]*Broker)
)

// Named returns the process-wide broker registered under name, creating it on first use.
func Named(name string) *Broker {
	namedMu.Lock()
	defer namedMu.Unlock()

	b, ok := named[name]
	if !ok {
		b = New()
		named[name] = b
	}
	return b
}

func dialURL(ctx context.Context, rawURL string) (broker.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, broker.Terminal("dial", err)
	}
	return Named(u.Host).Dial(ctx)
}

// Broker holds queues and exchanges. The zero value is not usable; call New.
type Broker struct {
	mu          sync.Mutex
	queues      map[string]*queue
	exchanges   map[string]map[*queue]struct{}
	conns       map[*Conn]struct{}
	unavailable bool
	dials       int
}

func New() *Broker {
	return &Broker{
		queues:    make(map[string]*queue),
		exchanges: make(map[string]map[*queue]struct{}),
		conns:     make(map[*Conn]struct{}),
	}
}

// Dial opens a connection. It fails with a recoverable error during an outage.
func (b *Broker) Dial(ctx context.Context) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, broker.Recoverable("dial", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.unavailable {
		return nil, broker.Recoverable("dial", ErrUnavailable)
	}

	c := &Conn{b: b, done: make(chan struct{})}
	b.conns[c] = struct{}{}
	return c, nil
}

// DialFunc adapts Dial to broker.DialFunc, ignoring the URL.
func (b *Broker) DialFunc() broker.DialFunc {
	return func(ctx context.Context, _ string) (broker.Conn, error) {
		return b.Dial(ctx)
	}
}

// SetUnavailable starts or ends a simulated outage. Starting one drops every
// open connection; their unacknowledged messages go back to their queues.
func (b *Broker) SetUnavailable(down bool) {
	b.mu.Lock()
	b.unavailable = down
	conns := make([]*Conn, 0, len(b.conns))
	if down {
		for c := range b.conns {
			conns = append(conns, c)
		}
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.shutdown(ErrConnectionLost)
	}
}

// Dials reports how many connection attempts were made, including failed ones.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Len reports the number of ready (not in-flight) messages in queue.
func (b *Broker) Len(queue string) int {
	b.mu.Lock()
	q, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return q.len()
}

// Drain removes and returns the ready messages of queue.
func (b *Broker) Drain(queue string) [][]byte {
	b.mu.Lock()
	q, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return q.drain()
}

// Bindings reports how many private queues are bound to exchange.
func (b *Broker) Bindings(exchange string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.exchanges[exchange])
}

func (b *Broker) durable(name string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = newQueue()
		b.queues[name] = q
	}
	return q
}

func (b *Broker) forget(c *Conn, private []binding) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.conns, c)
	for _, p := range private {
		delete(b.exchanges[p.exchange], p.q)
	}
}

type binding struct {
	exchange string
	q        *queue
}

// Conn is a connection to a memory Broker.
type Conn struct {
	b *Broker

	mu      sync.Mutex
	closed  bool
	err     error
	done    chan struct{}
	private []binding

	wg sync.WaitGroup
}

func (c *Conn) DeclareQueue(ctx context.Context, name string) error {
	if err := c.usable(ctx, "declare queue"); err != nil {
		return err
	}
	c.b.durable(name)
	return nil
}

func (c *Conn) Send(ctx context.Context, queue string, body []byte) error {
	if err := c.usable(ctx, "send"); err != nil {
		return err
	}
	c.b.durable(queue).push(message{body: clone(body)})
	return nil
}

func (c *Conn) DeclareFanout(ctx context.Context, name string) error {
	if err := c.usable(ctx, "declare exchange"); err != nil {
		return err
	}

	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if _, ok := c.b.exchanges[name]; !ok {
		c.b.exchanges[name] = make(map[*queue]struct{})
	}
	return nil
}

func (c *Conn) Broadcast(ctx context.Context, exchange string, body []byte) error {
	if err := c.usable(ctx, "broadcast"); err != nil {
		return err
	}

	c.b.mu.Lock()
	bound, ok := c.b.exchanges[exchange]
	targets := make([]*queue, 0, len(bound))
	for q := range bound {
		targets = append(targets, q)
	}
	c.b.mu.Unlock()

	if !ok {
		return broker.Recoverable("broadcast", fmt.Errorf("exchange %q not found", exchange))
	}
	for _, q := range targets {
		q.push(message{body: clone(body)})
	}
	return nil
}

func (c *Conn) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	if err := c.usable(ctx, "consume"); err != nil {
		return nil, err
	}
	return c.start(c.b.durable(queue))
}

func (c *Conn) Subscribe(ctx context.Context, exchange string) (<-chan broker.Delivery, error) {
	if err := c.usable(ctx, "subscribe"); err != nil {
		return nil, err
	}

	q := newQueue()

	c.b.mu.Lock()
	bound, ok := c.b.exchanges[exchange]
	if !ok {
		c.b.mu.Unlock()
		return nil, broker.Recoverable("subscribe", fmt.Errorf("exchange %q not found", exchange))
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.b.mu.Unlock()
		return nil, broker.Recoverable("subscribe", broker.ErrClosed)
	}
	bound[q] = struct{}{}
	c.private = append(c.private, binding{exchange: exchange, q: q})
	c.mu.Unlock()
	c.b.mu.Unlock()

	return c.start(q)
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close drops the connection. Messages still unacknowledged are requeued as
// redelivered before Close returns.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if cause != nil {
		c.err = broker.Recoverable("connection", cause)
	}
	private := c.private
	close(c.done)
	c.mu.Unlock()

	c.b.forget(c, private)
	c.wg.Wait()
}

func (c *Conn) usable(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return broker.Recoverable(op, err)
	}
	select {
	case <-c.done:
		return broker.Recoverable(op, broker.ErrClosed)
	default:
		return nil
	}
}

type outcome struct {
	requeue bool
}

func (c *Conn) start(q *queue) (<-chan broker.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, broker.Recoverable("consume", broker.ErrClosed)
	}

	out := make(chan broker.Delivery)
	c.wg.Add(1)
	go c.deliver(q, out)
	return out, nil
}

// deliver hands messages to the consumer one at a time and waits for each to
// be settled before taking the next one.
func (c *Conn) deliver(q *queue, out chan<- broker.Delivery) {
	defer c.wg.Done()
	defer close(out)

	for {
		m, ok := q.pop(c.done)
		if !ok {
			return
		}

		settled := make(chan outcome, 1)
		d := broker.NewDelivery(m.body, m.redelivered,
			func() error { return c.settle("ack", settled, outcome{}) },
			func(requeue bool) error { return c.settle("reject", settled, outcome{requeue: requeue}) },
		)

		select {
		case out <- d:
		case <-c.done:
			q.requeue(m)
			return
		}

		select {
		case o := <-settled:
			if o.requeue {
				q.requeue(message{body: m.body, redelivered: true})
			}
		case <-c.done:
			select {
			case o := <-settled:
				if o.requeue {
					q.requeue(message{body: m.body, redelivered: true})
				}
			default:
				q.requeue(message{body: m.body, redelivered: true})
			}
			return
		}
	}
}

func (c *Conn) settle(op string, settled chan<- outcome, o outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broker.Recoverable(op, broker.ErrClosed)
	}
	settled <- o
	return nil
}

type message struct {
	body        []byte
	redelivered bool
}

type queue struct {
	mu     sync.Mutex
	items  []message
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{})}
}

func (q *queue) push(m message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.wake()
	q.mu.Unlock()
}

// requeue puts m back at the head, the way a broker restores a rejected message.
func (q *queue) requeue(m message) {
	q.mu.Lock()
	q.items = append([]message{m}, q.items...)
	q.wake()
	q.mu.Unlock()
}

func (q *queue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *queue) pop(stop <-chan struct{}) (message, bool) {
	for {
		select {
		case <-stop:
			return message{}, false
		default:
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, true
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
		case <-stop:
			return message{}, false
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([][]byte, 0, len(q.items))
	for _, m := range q.items {
		out = append(out, m.body)
	}
	q.items = nil
	return out
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
