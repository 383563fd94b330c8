// Package brokertest holds a behavioural test suite every broker backend must pass.
package brokertest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"linkpipe/internal/broker"
)

// Suite checks the queue and fanout semantics the pipeline relies on.
// Set Dial before running it; SetupTest is called with fresh names per test.
type Suite struct {
	suite.Suite

	// Dial opens a new connection to the backend under test.
	Dial func(ctx context.Context) (broker.Conn, error)
	// Quiet is how long to wait before concluding nothing will arrive.
	Quiet time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	queue    string
	exchange string
	conns    []broker.Conn
}

func (s *Suite) SetupTest() {
	s.Require().NotNil(s.Dial, "brokertest.Suite needs Dial")
	if s.Quiet == 0 {
		s.Quiet = 300 * time.Millisecond
	}
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 30*time.Second)
	id := uuid.NewString()[:8]
	s.queue = "test_queue_" + id
	s.exchange = "test_exchange_" + id
}

func (s *Suite) TearDownTest() {
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
	s.cancel()
}

func (s *Suite) conn() broker.Conn {
	c, err := s.Dial(s.ctx)
	s.Require().NoError(err)
	s.conns = append(s.conns, c)
	return c
}

func (s *Suite) receive(ch <-chan broker.Delivery) broker.Delivery {
	select {
	case d, ok := <-ch:
		s.Require().True(ok, "delivery channel closed")
		return d
	case <-time.After(10 * time.Second):
		s.FailNow("timed out waiting for a delivery")
		return broker.Delivery{}
	}
}

func (s *Suite) nothing(ch <-chan broker.Delivery) {
	select {
	case d, ok := <-ch:
		if ok {
			s.Failf("unexpected delivery", "body %q", d.Body)
		}
	case <-time.After(s.Quiet):
	}
}

func (s *Suite) TestQueueRoundTrip() {
	c := s.conn()
	s.Require().NoError(c.DeclareQueue(s.ctx, s.queue))
	s.Require().NoError(c.DeclareQueue(s.ctx, s.queue), "declaration must be idempotent")

	deliveries, err := c.Consume(s.ctx, s.queue)
	s.Require().NoError(err)
	s.Require().NoError(c.Send(s.ctx, s.queue, []byte("abc123")))

	d := s.receive(deliveries)
	s.Equal("abc123", string(d.Body))
	s.False(d.Redelivered)
	s.NoError(d.Ack())
	s.ErrorIs(d.Ack(), broker.ErrAlreadySettled)
	s.ErrorIs(d.Reject(true), broker.ErrAlreadySettled)

	s.nothing(deliveries)
}

func (s *Suite) TestCompetingConsumers() {
	const total = 20

	producer := s.conn()
	s.Require().NoError(producer.DeclareQueue(s.ctx, s.queue))

	seen := make(chan string, total*2)
	for i := 0; i < 2; i++ {
		c := s.conn()
		deliveries, err := c.Consume(s.ctx, s.queue)
		s.Require().NoError(err)
		go func() {
			for d := range deliveries {
				seen <- string(d.Body)
				_ = d.Ack()
			}
		}()
	}

	for i := 0; i < total; i++ {
		s.Require().NoError(producer.Send(s.ctx, s.queue, []byte(fmt.Sprintf("code-%d", i))))
	}

	got := make(map[string]int)
	for i := 0; i < total; i++ {
		select {
		case body := <-seen:
			got[body]++
		case <-time.After(10 * time.Second):
			s.FailNow("timed out", "received %d of %d", i, total)
		}
	}
	s.Len(got, total)
	for body, n := range got {
		s.Equal(1, n, "message %s delivered more than once", body)
	}
}

func (s *Suite) TestRejectRequeueRedelivers() {
	c := s.conn()
	s.Require().NoError(c.DeclareQueue(s.ctx, s.queue))
	deliveries, err := c.Consume(s.ctx, s.queue)
	s.Require().NoError(err)
	s.Require().NoError(c.Send(s.ctx, s.queue, []byte("retry-me")))

	first := s.receive(deliveries)
	s.Require().NoError(first.Reject(true))

	second := s.receive(deliveries)
	s.Equal("retry-me", string(second.Body))
	s.True(second.Redelivered)
	s.NoError(second.Ack())
}

func (s *Suite) TestRejectWithoutRequeueDiscards() {
	c := s.conn()
	s.Require().NoError(c.DeclareQueue(s.ctx, s.queue))
	deliveries, err := c.Consume(s.ctx, s.queue)
	s.Require().NoError(err)
	s.Require().NoError(c.Send(s.ctx, s.queue, []byte("drop-me")))

	d := s.receive(deliveries)
	s.Require().NoError(d.Reject(false))
	s.nothing(deliveries)
}

func (s *Suite) TestUnackedMessageSurvivesConsumerCrash() {
	crashed := s.conn()
	s.Require().NoError(crashed.DeclareQueue(s.ctx, s.queue))
	deliveries, err := crashed.Consume(s.ctx, s.queue)
	s.Require().NoError(err)
	s.Require().NoError(crashed.Send(s.ctx, s.queue, []byte("abc123")))

	d := s.receive(deliveries)
	s.Equal("abc123", string(d.Body))
	s.Require().NoError(crashed.Close())
	s.Error(d.Ack(), "ack on a closed connection must fail")

	survivor := s.conn()
	again, err := survivor.Consume(s.ctx, s.queue)
	s.Require().NoError(err)

	redelivered := s.receive(again)
	s.Equal("abc123", string(redelivered.Body))
	s.True(redelivered.Redelivered)
	s.NoError(redelivered.Ack())
}

func (s *Suite) TestFanoutReachesEveryBoundSubscriber() {
	publisher := s.conn()
	s.Require().NoError(publisher.DeclareFanout(s.ctx, s.exchange))

	var subs []<-chan broker.Delivery
	for i := 0; i < 2; i++ {
		c := s.conn()
		s.Require().NoError(c.DeclareFanout(s.ctx, s.exchange))
		ch, err := c.Subscribe(s.ctx, s.exchange)
		s.Require().NoError(err)
		subs = append(subs, ch)
	}

	payload := []byte(`{"title":"Created","message":"code abc","level":"INFO"}`)
	s.Require().NoError(publisher.Broadcast(s.ctx, s.exchange, payload))

	for _, ch := range subs {
		d := s.receive(ch)
		s.Equal(payload, d.Body)
		s.NoError(d.Ack())
	}
}

func (s *Suite) TestLateSubscriberSeesNothing() {
	publisher := s.conn()
	s.Require().NoError(publisher.DeclareFanout(s.ctx, s.exchange))
	s.Require().NoError(publisher.Broadcast(s.ctx, s.exchange,
		[]byte(`{"title":"Expired","message":"code xyz","level":"WARNING"}`)))

	late := s.conn()
	s.Require().NoError(late.DeclareFanout(s.ctx, s.exchange))
	ch, err := late.Subscribe(s.ctx, s.exchange)
	s.Require().NoError(err)

	s.nothing(ch)
}

func (s *Suite) TestDeliveriesCloseWithConnection() {
	c := s.conn()
	s.Require().NoError(c.DeclareQueue(s.ctx, s.queue))
	deliveries, err := c.Consume(s.ctx, s.queue)
	s.Require().NoError(err)

	s.Require().NoError(c.Close())

	select {
	case _, ok := <-deliveries:
		s.False(ok)
	case <-time.After(10 * time.Second):
		s.FailNow("delivery channel not closed")
	}
	select {
	case <-c.Done():
	case <-time.After(10 * time.Second):
		s.FailNow("Done not closed")
	}
}
