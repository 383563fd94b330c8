// Package redis is the Redis backend. A durable queue is a stream read through
// a consumer group named after it, so every worker competes for entries and
// unacknowledged entries stay pending until acked or reclaimed. A fanout
// exchange is a Pub/Sub channel: nothing is stored, and a subscriber only sees
// what is published while it is subscribed.
//
// Durability of queued clicks follows the server's persistence settings
// (appendonly yes is expected in production).
package redis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"linkpipe/internal/broker"
)

const (
	fieldBody        = "body"
	fieldRedelivered = "redelivered"

	groupSuffix      = ".consumers"
	defaultClaimIdle = 30 * time.Second
	readBlock        = 2 * time.Second
	opTimeout        = 5 * time.Second
	pingInterval     = 5 * time.Second
)

func init() {
	broker.Register("redis", Dial)
	broker.Register("rediss", Dial)
}

// Conn is a broker connection backed by a go-redis client.
type Conn struct {
	client    *redis.Client
	consumer  string
	claimIdle time.Duration

	loopCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	subsMu sync.Mutex
	subs   []*redis.PubSub
}

// Dial connects to the server in rawURL. Besides the go-redis URL options it
// understands claim_idle, the idle time after which entries left pending by
// a vanished consumer are redelivered.
func Dial(ctx context.Context, rawURL string) (broker.Conn, error) {
	redisURL, claimIdle, err := splitURL(rawURL)
	if err != nil {
		return nil, broker.Terminal("dial", err)
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, broker.Terminal("dial", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, classify("dial", err)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	c := &Conn{
		client:    client,
		consumer:  "consumer-" + uuid.NewString(),
		claimIdle: claimIdle,
		loopCtx:   loopCtx,
		stop:      stop,
		done:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.keepalive()
	return c, nil
}

func splitURL(rawURL string) (string, time.Duration, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("parse redis url: %w", err)
	}

	claimIdle := defaultClaimIdle
	q := u.Query()
	if v := q.Get("claim_idle"); v != "" {
		claimIdle, err = time.ParseDuration(v)
		if err != nil || claimIdle <= 0 {
			return "", 0, fmt.Errorf("invalid claim_idle %q", v)
		}
		q.Del("claim_idle")
		u.RawQuery = q.Encode()
	}
	return u.String(), claimIdle, nil
}

func group(queue string) string {
	return queue + groupSuffix
}

func (c *Conn) keepalive() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.loopCtx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.loopCtx, opTimeout)
			err := c.client.Ping(ctx).Err()
			cancel()
			if err != nil && c.loopCtx.Err() == nil {
				c.fail(classify("ping", err))
				return
			}
		}
	}
}

func (c *Conn) DeclareQueue(ctx context.Context, name string) error {
	err := c.client.XGroupCreateMkStream(ctx, name, group(name), "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return classify("declare queue", err)
	}
	return nil
}

func (c *Conn) Send(ctx context.Context, queue string, body []byte) error {
	err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: queue,
		Values: map[string]any{fieldBody: body},
	}).Err()
	return classify("send", err)
}

// DeclareFanout is a no-op: Pub/Sub channels need no declaration.
func (c *Conn) DeclareFanout(_ context.Context, _ string) error {
	select {
	case <-c.done:
		return broker.Recoverable("declare exchange", broker.ErrClosed)
	default:
		return nil
	}
}

func (c *Conn) Broadcast(ctx context.Context, exchange string, body []byte) error {
	return classify("broadcast", c.client.Publish(ctx, exchange, body).Err())
}

func (c *Conn) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	if err := c.DeclareQueue(ctx, queue); err != nil {
		return nil, err
	}

	out := make(chan broker.Delivery)
	c.wg.Add(1)
	go c.consume(queue, out)
	return out, nil
}

func (c *Conn) consume(queue string, out chan<- broker.Delivery) {
	defer c.wg.Done()
	defer close(out)

	for {
		select {
		case <-c.done:
			return
		default:
		}

		msg, redelivered, err := c.next(queue)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if c.loopCtx.Err() == nil {
				c.fail(classify("consume", err))
			}
			return
		}

		settled := make(chan struct{})
		d := broker.NewDelivery(entryBody(msg), redelivered,
			func() error {
				defer close(settled)
				return c.settle(queue, msg, false)
			},
			func(requeue bool) error {
				defer close(settled)
				return c.settle(queue, msg, requeue)
			},
		)

		select {
		case out <- d:
		case <-c.done:
			return
		}

		select {
		case <-settled:
		case <-c.done:
			return
		}
	}
}

// next returns an entry abandoned by another consumer if one has been idle
// long enough, and otherwise blocks briefly for a new entry.
func (c *Conn) next(queue string) (redis.XMessage, bool, error) {
	claimed, _, err := c.client.XAutoClaim(c.loopCtx, &redis.XAutoClaimArgs{
		Stream:   queue,
		Group:    group(queue),
		Consumer: c.consumer,
		MinIdle:  c.claimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		return redis.XMessage{}, false, err
	}
	if len(claimed) > 0 {
		return claimed[0], true, nil
	}

	streams, err := c.client.XReadGroup(c.loopCtx, &redis.XReadGroupArgs{
		Group:    group(queue),
		Consumer: c.consumer,
		Streams:  []string{queue, ">"},
		Count:    1,
		Block:    readBlock,
	}).Result()
	if err != nil {
		return redis.XMessage{}, false, err
	}
	for _, s := range streams {
		if len(s.Messages) > 0 {
			m := s.Messages[0]
			return m, m.Values[fieldRedelivered] == "1", nil
		}
	}
	return redis.XMessage{}, false, redis.Nil
}

// settle removes the entry from the group's pending list. A requeue appends a
// copy flagged as redelivered in the same transaction.
func (c *Conn) settle(queue string, msg redis.XMessage, requeue bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if requeue {
			p.XAdd(ctx, &redis.XAddArgs{
				Stream: queue,
				Values: map[string]any{fieldBody: entryBody(msg), fieldRedelivered: "1"},
			})
		}
		p.XAck(ctx, queue, group(queue), msg.ID)
		p.XDel(ctx, queue, msg.ID)
		return nil
	})
	return classify("settle", err)
}

func entryBody(msg redis.XMessage) []byte {
	switch v := msg.Values[fieldBody].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

func (c *Conn) Subscribe(ctx context.Context, exchange string) (<-chan broker.Delivery, error) {
	ps := c.client.Subscribe(ctx, exchange)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, classify("subscribe", err)
	}

	c.subsMu.Lock()
	c.subs = append(c.subs, ps)
	c.subsMu.Unlock()

	out := make(chan broker.Delivery)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)

		msgs := ps.Channel()
		for {
			select {
			case m, ok := <-msgs:
				if !ok {
					return
				}
				d := broker.NewDelivery([]byte(m.Payload), false, noop, func(bool) error { return nil })
				select {
				case out <- d:
				case <-c.done:
					return
				}
			case <-c.done:
				return
			}
		}
	}()
	return out, nil
}

// Pub/Sub has no acknowledgements; settling is local bookkeeping only.
func noop() error { return nil }

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.stop()

	c.subsMu.Lock()
	for _, ps := range c.subs {
		_ = ps.Close()
	}
	c.subs = nil
	c.subsMu.Unlock()

	err := c.client.Close()
	c.wg.Wait()
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// classify treats authentication and permission failures as terminal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, prefix := range []string{"WRONGPASS", "NOAUTH", "NOPERM", "ERR AUTH"} {
		if strings.HasPrefix(msg, prefix) {
			return broker.Terminal(op, err)
		}
	}
	if errors.Is(err, redis.ErrClosed) {
		return broker.Recoverable(op, fmt.Errorf("%w: %w", broker.ErrClosed, err))
	}
	return broker.Recoverable(op, err)
}
