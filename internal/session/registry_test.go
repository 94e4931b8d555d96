package session

import (
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry(quietLogger())
	conn := NewConnection(uuid.New(), "127.0.0.1:1", func() {})

	require.NoError(t, r.Register(conn))
	assert.ErrorIs(t, r.Register(conn), ErrAlreadyRegistered)
	assert.Equal(t, 1, r.Count())

	rec, ok := r.Get(conn.ID)
	require.True(t, ok)
	assert.Equal(t, conn.PlayerID, rec.PlayerID)
	assert.False(t, rec.Queued)
	assert.Equal(t, uuid.Nil, rec.GameID)
}

func TestQueueAndGameState(t *testing.T) {
	r := NewRegistry(quietLogger())
	conn := NewConnection(uuid.New(), "", nil)
	require.NoError(t, r.Register(conn))

	require.NoError(t, r.SetQueued(conn.ID, true, "peer-a"))
	rec, _ := r.Get(conn.ID)
	assert.True(t, rec.Queued)
	assert.Equal(t, "peer-a", rec.PeerID)

	gameID := uuid.New()
	require.NoError(t, r.SetGame(conn.ID, gameID))
	rec, _ = r.Get(conn.ID)
	assert.False(t, rec.Queued)
	assert.Equal(t, gameID, rec.GameID)

	r.ClearGame(conn.ID, uuid.New())
	rec, _ = r.Get(conn.ID)
	assert.Equal(t, gameID, rec.GameID, "clearing a different game is a no-op")

	r.ClearGame(conn.ID, gameID)
	rec, _ = r.Get(conn.ID)
	assert.Equal(t, uuid.Nil, rec.GameID)

	assert.ErrorIs(t, r.SetQueued(uuid.New(), true, ""), ErrUnknownConnection)
	assert.ErrorIs(t, r.SetGame(uuid.New(), gameID), ErrUnknownConnection)
}

func TestSendNonBlocking(t *testing.T) {
	r := NewRegistry(quietLogger())
	conn := NewConnection(uuid.New(), "", nil)
	require.NoError(t, r.Register(conn))

	for i := 0; i < OutBufferSize; i++ {
		require.True(t, r.Send(conn.ID, models.Pong()))
	}
	assert.False(t, r.Send(conn.ID, models.Pong()), "full buffer drops")
	assert.False(t, r.Send(uuid.New(), models.Pong()), "unknown connection")
}

func TestUnregisterClosesChannel(t *testing.T) {
	r := NewRegistry(quietLogger())
	conn := NewConnection(uuid.New(), "", nil)
	require.NoError(t, r.Register(conn))
	require.True(t, r.Send(conn.ID, models.Pong()))

	rec, ok := r.Unregister(conn.ID)
	require.True(t, ok)
	assert.Equal(t, conn.ID, rec.ID)
	assert.Equal(t, 0, r.Count())

	msg, open := <-conn.OutChan
	assert.True(t, open)
	assert.Equal(t, models.MsgPong, msg.Type)
	_, open = <-conn.OutChan
	assert.False(t, open)

	_, ok = r.Unregister(conn.ID)
	assert.False(t, ok)
	assert.False(t, r.Send(conn.ID, models.Pong()))
}
