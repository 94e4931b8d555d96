package historian

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSource serves events from a channel, honouring the pop timeout.
type chanSource struct {
	ch chan models.GameEvent
}

func (c *chanSource) Pop(ctx context.Context, timeout time.Duration) (models.GameEvent, bool, error) {
	select {
	case ev := <-c.ch:
		return ev, true, nil
	case <-time.After(timeout):
		return models.GameEvent{}, false, nil
	case <-ctx.Done():
		return models.GameEvent{}, false, ctx.Err()
	}
}

// downSource fails every pop, as a client does when Redis is unreachable.
type downSource struct {
	calls atomic.Int32
}

func (d *downSource) Pop(context.Context, time.Duration) (models.GameEvent, bool, error) {
	d.calls.Add(1)
	return models.GameEvent{}, false, errors.New("connection refused")
}

type mockStore struct {
	mu       sync.Mutex
	failures int
	batches  [][]models.GameEvent
}

func (m *mockStore) InsertEvents(_ context.Context, evs []models.GameEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("db down")
	}
	m.batches = append(m.batches, append([]models.GameEvent(nil), evs...))
	return nil
}

func (m *mockStore) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

type mockSweeper struct {
	mu    sync.Mutex
	calls int
}

func (m *mockSweeper) CancelStaleGames(context.Context, time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return 1, nil
}

func (m *mockSweeper) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBatchFlushesAtSize(t *testing.T) {
	src := &chanSource{ch: make(chan models.GameEvent, 10)}
	store := &mockStore{}
	svc := New(src, store, nil, quietLogger(), Options{
		BatchSize:  3,
		FlushDelay: time.Hour,
		PopTimeout: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	gameID := uuid.New()
	for i := 0; i < 3; i++ {
		src.ch <- models.NewGameEvent(gameID, models.EventGameCreated, nil)
	}
	require.Eventually(t, func() bool { return store.total() == 3 }, 2*time.Second, 5*time.Millisecond)

	store.mu.Lock()
	assert.Len(t, store.batches, 1)
	store.mu.Unlock()
}

func TestPartialBatchFlushesAfterDelay(t *testing.T) {
	src := &chanSource{ch: make(chan models.GameEvent, 10)}
	store := &mockStore{failures: 1}
	svc := New(src, store, nil, quietLogger(), Options{
		BatchSize:  100,
		FlushDelay: 20 * time.Millisecond,
		PopTimeout: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	src.ch <- models.NewGameEvent(uuid.New(), models.EventGameFinished, nil)
	// the first flush fails and the batch is kept for the next one
	require.Eventually(t, func() bool { return store.total() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownFlushesRemainder(t *testing.T) {
	src := &chanSource{ch: make(chan models.GameEvent, 10)}
	store := &mockStore{}
	svc := New(src, store, nil, quietLogger(), Options{
		BatchSize:  100,
		FlushDelay: time.Hour,
		PopTimeout: 5 * time.Millisecond,
	})
	src.ch <- models.NewGameEvent(uuid.New(), models.EventGameCancelled, nil)
	src.ch <- models.NewGameEvent(uuid.New(), models.EventGameCancelled, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return len(src.ch) == 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 2, store.total())
}

func TestSweepRuns(t *testing.T) {
	src := &chanSource{ch: make(chan models.GameEvent)}
	sweeper := &mockSweeper{}
	svc := New(src, &mockStore{}, sweeper, quietLogger(), Options{
		PopTimeout:    5 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, func() bool { return sweeper.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestPopErrorsBackOff(t *testing.T) {
	src := &downSource{}
	svc := New(src, &mockStore{}, nil, quietLogger(), Options{
		RetryInitial: 20 * time.Millisecond,
		RetryMax:     20 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Run(ctx), context.DeadlineExceeded)

	calls := src.calls.Load()
	assert.GreaterOrEqual(t, calls, int32(2))
	assert.LessOrEqual(t, calls, int32(20), "a failing source must not be polled in a tight loop")
}

func TestPendingEventsAreCapped(t *testing.T) {
	src := &chanSource{ch: make(chan models.GameEvent, 20)}
	store := &mockStore{failures: 1 << 20}
	svc := New(src, store, nil, quietLogger(), Options{
		BatchSize:    5,
		MaxPending:   5,
		FlushDelay:   time.Millisecond,
		PopTimeout:   5 * time.Millisecond,
		RetryInitial: 5 * time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	})
	gameID := uuid.New()
	for i := 0; i < 20; i++ {
		src.ch <- models.NewGameEvent(gameID, models.EventGameCreated, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, func() bool { return len(src.ch) == 15 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, src.ch, 15, "nothing more is taken off the queue while the store is down")

	store.mu.Lock()
	store.failures = 0
	store.mu.Unlock()
	require.Eventually(t, func() bool { return store.total() == 20 }, 2*time.Second, 5*time.Millisecond)
}
