package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"linkpipe/internal/broker"
	"linkpipe/internal/broker/memory"
	"linkpipe/internal/message"
	"linkpipe/internal/mocks"
	"linkpipe/internal/models"
	initprometheus "linkpipe/internal/prometheus"
	"linkpipe/internal/retry"
	"linkpipe/internal/supervisor"
)

var errDBDown = errors.New("connection refused")

// memStore is a click store backed by a map. Codes must be seeded to exist.
type memStore struct {
	mu          sync.Mutex
	clicks      map[string]int64
	afterCommit func()
}

func newMemStore(codes ...string) *memStore {
	s := &memStore{clicks: make(map[string]int64)}
	for _, c := range codes {
		s.clicks[c] = 0
	}
	return s
}

func (s *memStore) IncrementClicks(_ context.Context, code string) (int64, error) {
	s.mu.Lock()
	v, ok := s.clicks[code]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", models.ErrLinkNotFound, code)
	}
	v++
	s.clicks[code] = v
	hook := s.afterCommit
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return v, nil
}

func (s *memStore) Clicks(code string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.clicks[code]
	return v, ok
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = retry.Policy{MaxAttempts: 3, Delay: time.Millisecond}
	return cfg
}

func publish(t *testing.T, b *memory.Broker, bodies ...string) {
	t.Helper()
	ctx := context.Background()
	conn, err := b.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.DeclareQueue(ctx, message.ClickEventsQueue))
	for _, body := range bodies {
		require.NoError(t, conn.Send(ctx, message.ClickEventsQueue, []byte(body)))
	}
}

// runWorker supervises w against b until the test ends.
func runWorker(t *testing.T, b *memory.Broker, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	sup := supervisor.New(supervisor.Config{
		Component: "click_worker",
		Dial:      b.DialFunc(),
		Backoff:   retry.Unlimited(10 * time.Millisecond),
		Logger:    quietLogger(),
	}, w)
	go func() { done <- sup.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

// bind attaches w to a fresh connection and returns one delivery.
func bind(t *testing.T, b *memory.Broker, w *Worker) (broker.Conn, <-chan broker.Delivery) {
	t.Helper()
	conn, err := b.Dial(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	deliveries, err := w.Bind(context.Background(), conn)
	require.NoError(t, err)
	return conn, deliveries
}

func next(t *testing.T, deliveries <-chan broker.Delivery) broker.Delivery {
	t.Helper()
	select {
	case d, ok := <-deliveries:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(time.Second):
		t.Fatal("no delivery")
		return broker.Delivery{}
	}
}

func TestWorker_CountsClick(t *testing.T) {
	b := memory.New()
	store := newMemStore("abc123")
	metrics := initprometheus.InitPrometheus(nil)
	runWorker(t, b, New(fastConfig(), store, quietLogger(), metrics))

	publish(t, b, "abc123")

	assert.Eventually(t, func() bool {
		v, _ := store.Clicks("abc123")
		return v == 1
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return b.Len(message.ClickEventsQueue) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WorkerMessagesTotal.WithLabelValues("counted")))
}

func TestWorker_ConvergesToPublishedCount(t *testing.T) {
	const n = 25
	b := memory.New()
	store := newMemStore("abc123")
	runWorker(t, b, New(fastConfig(), store, quietLogger(), nil))

	bodies := make([]string, n)
	for i := range bodies {
		bodies[i] = "abc123"
	}
	publish(t, b, bodies...)

	assert.Eventually(t, func() bool {
		v, _ := store.Clicks("abc123")
		return v == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorker_CompetingWorkersCountEveryEventOnce(t *testing.T) {
	b := memory.New()
	store := newMemStore("a", "b", "c", "d")
	runWorker(t, b, New(fastConfig(), store, quietLogger(), nil))
	runWorker(t, b, New(fastConfig(), store, quietLogger(), nil))

	codes := []string{"a", "b", "c", "d"}
	var bodies []string
	for i := 0; i < 100; i++ {
		bodies = append(bodies, codes[i%len(codes)])
	}
	publish(t, b, bodies...)

	assert.Eventually(t, func() bool {
		var total int64
		for _, c := range codes {
			v, _ := store.Clicks(c)
			total += v
		}
		return total == 100
	}, 3*time.Second, 5*time.Millisecond)

	for _, c := range codes {
		v, _ := store.Clicks(c)
		assert.Equal(t, int64(25), v, c)
	}
}

func TestWorker_UnknownCodeIsAcknowledged(t *testing.T) {
	b := memory.New()
	store := newMemStore("abc123")
	metrics := initprometheus.InitPrometheus(nil)
	runWorker(t, b, New(fastConfig(), store, quietLogger(), metrics))

	publish(t, b, "zzz999")

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.WorkerMessagesTotal.WithLabelValues("not_found")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, b.Len(message.ClickEventsQueue))
	_, created := store.Clicks("zzz999")
	assert.False(t, created)
}

func TestWorker_MalformedBodyIsAcknowledged(t *testing.T) {
	b := memory.New()
	store := mocks.NewClickStore(t)
	metrics := initprometheus.InitPrometheus(nil)
	w := New(fastConfig(), store, quietLogger(), metrics)
	conn, deliveries := bind(t, b, w)

	publish(t, b, string([]byte{0xff, 0xfe}), "   ")

	for i := 0; i < 2; i++ {
		require.NoError(t, w.Handle(context.Background(), conn, next(t, deliveries)))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.WorkerMessagesTotal.WithLabelValues("malformed")))
	assert.Equal(t, 0, b.Len(message.ClickEventsQueue))
	store.AssertNotCalled(t, "IncrementClicks", mock.Anything, mock.Anything)
}

func TestWorker_TransientFailureRecoversInProcess(t *testing.T) {
	b := memory.New()
	store := mocks.NewClickStore(t)
	store.On("IncrementClicks", mock.Anything, "abc123").Return(int64(0), errDBDown).Once()
	store.On("IncrementClicks", mock.Anything, "abc123").Return(int64(1), nil).Once()

	w := New(fastConfig(), store, quietLogger(), nil)
	conn, deliveries := bind(t, b, w)
	publish(t, b, "abc123")

	require.NoError(t, w.Handle(context.Background(), conn, next(t, deliveries)))
	assert.Equal(t, 0, b.Len(message.ClickEventsQueue))
	assert.Equal(t, 0, b.Len(DefaultDeadLetterQueue))
}

func TestWorker_StoreFailureWithoutDeadLetterRedelivers(t *testing.T) {
	b := memory.New()
	store := mocks.NewClickStore(t)
	store.On("IncrementClicks", mock.Anything, "abc123").Return(int64(0), errDBDown).Times(2)
	store.On("IncrementClicks", mock.Anything, "abc123").Return(int64(1), nil).Once()

	cfg := fastConfig()
	cfg.DeadLetterQueue = ""
	cfg.Retry.MaxAttempts = 1
	w := New(cfg, store, quietLogger(), nil)
	conn, deliveries := bind(t, b, w)
	publish(t, b, "abc123")

	first := next(t, deliveries)
	assert.False(t, first.Redelivered)
	require.NoError(t, w.Handle(context.Background(), conn, first))

	second := next(t, deliveries)
	assert.True(t, second.Redelivered)
	assert.Equal(t, "abc123", string(second.Body))
	require.NoError(t, w.Handle(context.Background(), conn, second))

	third := next(t, deliveries)
	require.NoError(t, w.Handle(context.Background(), conn, third))
	assert.Equal(t, 0, b.Len(message.ClickEventsQueue))
}

func TestWorker_ExhaustedRetriesMoveToDeadLetterQueue(t *testing.T) {
	b := memory.New()
	store := mocks.NewClickStore(t)
	store.On("IncrementClicks", mock.Anything, "abc123").Return(int64(0), errDBDown).Times(3)
	metrics := initprometheus.InitPrometheus(nil)

	w := New(fastConfig(), store, quietLogger(), metrics)
	conn, deliveries := bind(t, b, w)
	publish(t, b, "abc123")

	require.NoError(t, w.Handle(context.Background(), conn, next(t, deliveries)))

	assert.Equal(t, 0, b.Len(message.ClickEventsQueue))
	assert.Equal(t, [][]byte{[]byte("abc123")}, b.Drain(DefaultDeadLetterQueue))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WorkerMessagesTotal.WithLabelValues("dead_lettered")))
}

func TestWorker_CrashBetweenCommitAndAckCountsTwice(t *testing.T) {
	b := memory.New()
	store := newMemStore("abc123")
	var crashed sync.Once
	store.afterCommit = func() {
		crashed.Do(func() { b.SetUnavailable(true) })
	}

	w := New(fastConfig(), store, quietLogger(), nil)
	conn, deliveries := bind(t, b, w)
	publish(t, b, "abc123")

	err := w.Handle(context.Background(), conn, next(t, deliveries))
	require.Error(t, err)
	assert.False(t, broker.IsTerminal(err))

	b.SetUnavailable(false)
	conn2, deliveries2 := bind(t, b, w)
	d := next(t, deliveries2)
	assert.True(t, d.Redelivered)
	require.NoError(t, w.Handle(context.Background(), conn2, d))

	v, _ := store.Clicks("abc123")
	assert.Equal(t, int64(2), v, "at-least-once delivery double counts after a crash")
}

func TestWorker_ShutdownReturnsMessageToQueue(t *testing.T) {
	b := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	store := mocks.NewClickStore(t)
	store.On("IncrementClicks", mock.Anything, "abc123").
		Run(func(mock.Arguments) { cancel() }).
		Return(int64(0), errDBDown).Once()

	cfg := fastConfig()
	cfg.Retry.Delay = time.Hour
	w := New(cfg, store, quietLogger(), nil)
	conn, deliveries := bind(t, b, w)
	publish(t, b, "abc123")

	require.NoError(t, w.Handle(ctx, conn, next(t, deliveries)))
	assert.Equal(t, 0, b.Len(DefaultDeadLetterQueue))

	redelivered := next(t, deliveries)
	assert.True(t, redelivered.Redelivered)
	require.NoError(t, redelivered.Ack())
}
