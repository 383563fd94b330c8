// Package kafka is the Kafka backend, built on the same sarama producer and
// consumer-group machinery the link service already used.
//
// A durable queue is a topic read by one shared consumer group, so workers
// compete for partitions and resume from the last committed offset. A
// rejected-with-requeue message ends the group session before its offset is
// marked, which makes the group re-read it. A fanout exchange is a topic read
// by a fresh consumer group per subscription starting at the newest offset:
// every subscriber sees every message published while it is attached and
// nothing from before.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"linkpipe/internal/broker"
)

const workersGroupSuffix = ".workers"

func init() {
	broker.Register("kafka", Dial)
	sarama.Logger = log.New(io.Discard, "", 0)
}

// ParseBrokers extracts the comma separated broker list from kafka://h1:9092,h2:9092.
func ParseBrokers(rawURL string) ([]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse kafka url: %w", err)
	}

	var brokers []string
	for _, b := range strings.Split(u.Host, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka url has no brokers")
	}
	return brokers, nil
}

// NewConfig returns the sarama configuration used for both producing and consuming.
func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "linkpipe"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Offsets.AutoCommit.Interval = time.Second
	return cfg
}

// Conn shares one sarama client between a sync producer and the consumer groups.
type Conn struct {
	brokers  []string
	cfg      *sarama.Config
	client   sarama.Client
	producer sarama.SyncProducer

	loopCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func Dial(ctx context.Context, rawURL string) (broker.Conn, error) {
	brokers, err := ParseBrokers(rawURL)
	if err != nil {
		return nil, broker.Terminal("dial", err)
	}

	cfg := NewConfig()
	if err := cfg.Validate(); err != nil {
		return nil, broker.Terminal("dial", err)
	}

	client, err := newClient(ctx, brokers, cfg)
	if err != nil {
		return nil, classify("dial", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, classify("dial", err)
	}

	return newConn(brokers, cfg, client, producer), nil
}

// newClient connects in the background so a cancelled ctx aborts the wait.
func newClient(ctx context.Context, brokers []string, cfg *sarama.Config) (sarama.Client, error) {
	type result struct {
		client sarama.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := sarama.NewClient(brokers, cfg)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		return r.client, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func newConn(brokers []string, cfg *sarama.Config, client sarama.Client, producer sarama.SyncProducer) *Conn {
	loopCtx, stop := context.WithCancel(context.Background())
	return &Conn{
		brokers:  brokers,
		cfg:      cfg,
		client:   client,
		producer: producer,
		loopCtx:  loopCtx,
		stop:     stop,
		done:     make(chan struct{}),
	}
}

func (c *Conn) DeclareQueue(_ context.Context, name string) error {
	return c.ensureTopic(name)
}

func (c *Conn) DeclareFanout(_ context.Context, name string) error {
	return c.ensureTopic(name)
}

func (c *Conn) ensureTopic(name string) error {
	if err := c.usable("declare"); err != nil {
		return err
	}
	if c.client == nil {
		return nil
	}

	admin, err := sarama.NewClusterAdmin(c.brokers, c.cfg)
	if err != nil {
		return classify("declare", err)
	}
	defer admin.Close()

	err = admin.CreateTopic(name, &sarama.TopicDetail{NumPartitions: 1, ReplicationFactor: 1}, false)
	if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return classify("declare", err)
	}
	return nil
}

func (c *Conn) Send(_ context.Context, queue string, body []byte) error {
	return c.produce("send", queue, body)
}

func (c *Conn) Broadcast(_ context.Context, exchange string, body []byte) error {
	return c.produce("broadcast", exchange, body)
}

func (c *Conn) produce(op, topic string, body []byte) error {
	if err := c.usable(op); err != nil {
		return err
	}
	_, _, err := c.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(body),
	})
	return classify(op, err)
}

func (c *Conn) Consume(_ context.Context, queue string) (<-chan broker.Delivery, error) {
	cfg := *c.cfg
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	return c.join(queue, queue+workersGroupSuffix, &cfg, true)
}

func (c *Conn) Subscribe(_ context.Context, exchange string) (<-chan broker.Delivery, error) {
	cfg := *c.cfg
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	return c.join(exchange, exchange+".sub-"+uuid.NewString(), &cfg, false)
}

func (c *Conn) join(topic, groupID string, cfg *sarama.Config, requeueable bool) (<-chan broker.Delivery, error) {
	if err := c.usable("consume"); err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroup(c.brokers, groupID, cfg)
	if err != nil {
		return nil, classify("consume", err)
	}

	out := make(chan broker.Delivery)
	h := &handler{out: out, done: c.done, requeueable: requeueable}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)
		defer group.Close()

		for {
			sessionCtx, cancel := context.WithCancel(c.loopCtx)
			h.setCancel(cancel)
			err := group.Consume(sessionCtx, []string{topic}, h)
			cancel()

			if c.loopCtx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.fail(classify("consume", err))
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case err, ok := <-group.Errors():
				if !ok {
					return
				}
				if errors.Is(err, sarama.ErrOutOfBrokers) || errors.Is(err, sarama.ErrNotConnected) {
					c.fail(classify("consume", err))
					return
				}
			case <-c.loopCtx.Done():
				return
			}
		}
	}()

	return out, nil
}

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
	c.stop()
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.stop()
	c.wg.Wait()

	var errs []error
	if c.producer != nil {
		if err := c.producer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.client != nil && !c.client.Closed() {
		if err := c.client.Close(); err != nil && !errors.Is(err, sarama.ErrClosedClient) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Conn) usable(op string) error {
	select {
	case <-c.done:
		return broker.Recoverable(op, broker.ErrClosed)
	default:
		return nil
	}
}

type verdict int

const (
	verdictMark verdict = iota
	verdictRequeue
)

// handler bridges sarama's claim loop to the pull-style delivery channel:
// one message at a time is handed out and the claim waits for its verdict.
type handler struct {
	out         chan<- broker.Delivery
	done        <-chan struct{}
	requeueable bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (h *handler) setCancel(cancel context.CancelFunc) {
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
}

func (h *handler) restart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *handler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (h *handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.handle(session, msg) {
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// handle delivers msg and applies the verdict. It returns false when the
// claim should stop.
func (h *handler) handle(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) bool {
	verdicts := make(chan verdict, 1)
	d := broker.NewDelivery(msg.Value, false,
		func() error { verdicts <- verdictMark; return nil },
		func(requeue bool) error {
			if requeue && h.requeueable {
				verdicts <- verdictRequeue
			} else {
				verdicts <- verdictMark
			}
			return nil
		},
	)

	select {
	case h.out <- d:
	case <-session.Context().Done():
		return false
	case <-h.done:
		return false
	}

	select {
	case v := <-verdicts:
		if v == verdictRequeue {
			// The offset stays unmarked; the next session resumes from it.
			h.restart()
			return false
		}
		session.MarkMessage(msg, "")
		return true
	case <-session.Context().Done():
		return false
	case <-h.done:
		return false
	}
}

// classify maps sarama errors. Configuration and authentication problems are
// terminal; everything else is worth another connection attempt.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var cerr sarama.ConfigurationError
	if errors.As(err, &cerr) {
		return broker.Terminal(op, err)
	}
	for _, terminal := range []error{
		sarama.ErrSASLAuthenticationFailed,
		sarama.ErrTopicAuthorizationFailed,
		sarama.ErrGroupAuthorizationFailed,
		sarama.ErrClusterAuthorizationFailed,
		sarama.ErrUnsupportedSASLMechanism,
	} {
		if errors.Is(err, terminal) {
			return broker.Terminal(op, err)
		}
	}
	if errors.Is(err, sarama.ErrClosedClient) || errors.Is(err, sarama.ErrShuttingDown) {
		return broker.Recoverable(op, fmt.Errorf("%w: %w", broker.ErrClosed, err))
	}
	return broker.Recoverable(op, err)
}
