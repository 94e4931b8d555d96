package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb, err := Connect(ctx, endpoint, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPublishAndPop(t *testing.T) {
	rdb := setupRedis(t)
	p := NewPublisher(rdb, "test_events", quietLogger())
	ctx := context.Background()

	gameID := uuid.New()
	first := models.NewGameEvent(gameID, models.EventGameCreated, map[string]string{"a": "b"})
	second := models.NewGameEvent(gameID, models.EventGameFinished, nil)
	require.NoError(t, p.Publish(ctx, first))
	require.NoError(t, p.Publish(ctx, second))

	got, ok, err := p.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, models.EventGameCreated, got.Type)
	assert.JSONEq(t, `{"a":"b"}`, string(got.Payload))

	got, ok, err = p.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)

	_, ok, err = p.Pop(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "empty list times out without error")
}

func TestEmitPublishesInBackground(t *testing.T) {
	rdb := setupRedis(t)
	p := NewPublisher(rdb, "", quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	ev := models.NewGameEvent(uuid.New(), models.EventGameStarted, nil)
	p.Emit(ev)

	got, ok, err := p.Pop(context.Background(), 3*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ev.ID, got.ID)
}

func TestPopRejectsGarbage(t *testing.T) {
	rdb := setupRedis(t)
	p := NewPublisher(rdb, "garbage", quietLogger())
	require.NoError(t, rdb.RPush(context.Background(), "garbage", "not json").Err())

	_, ok, err := p.Pop(context.Background(), time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}
