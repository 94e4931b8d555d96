package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/staredown/internal/arena"
	"github.com/jason-s-yu/staredown/internal/auth"
	"github.com/jason-s-yu/staredown/internal/database"
	"github.com/jason-s-yu/staredown/internal/game"
	"github.com/jason-s-yu/staredown/internal/matchmaking"
	"github.com/jason-s-yu/staredown/internal/models"
	"github.com/jason-s-yu/staredown/internal/session"
	"github.com/jason-s-yu/staredown/internal/signaling"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := auth.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type mockPlayers struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (m *mockPlayers) UpsertPlayer(_ context.Context, id uuid.UUID) (models.PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, id)
	return models.PlayerRecord{ID: id}, nil
}

func (m *mockPlayers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}

type mockLookup struct {
	recs map[uuid.UUID]models.GameRecord
	err  error
}

func (m *mockLookup) GetGame(_ context.Context, id uuid.UUID) (models.GameRecord, error) {
	if m.err != nil {
		return models.GameRecord{}, m.err
	}
	rec, ok := m.recs[id]
	if !ok {
		return models.GameRecord{}, database.ErrNotFound
	}
	return rec, nil
}

type testEnv struct {
	arena   *arena.Arena
	games   *game.Manager
	players *mockPlayers
	lookup  *mockLookup
	srv     *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sessions := session.NewRegistry(logger)
	games := game.NewManager(nil, logger, game.Options{StartDelay: time.Hour, GracePeriod: time.Hour})
	a := arena.New(sessions, matchmaking.NewQueue(), games, signaling.NewRelay(sessions, logger), nil, logger)

	env := &testEnv{
		arena:   a,
		games:   games,
		players: &mockPlayers{},
		lookup:  &mockLookup{recs: map[uuid.UUID]models.GameRecord{}},
	}
	s := NewServer(a, env.players, env.lookup, logger, Options{})
	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		env.srv.Close()
		a.Shutdown()
	})
	return env
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func send(t *testing.T, c *websocket.Conn, msg map[string]any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, data))
}

// readUntil skips messages until one of type typ arrives.
func readUntil(t *testing.T, c *websocket.Conn, typ models.MessageType) models.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := c.Read(ctx)
		require.NoError(t, err, "waiting for %s", typ)
		var msg models.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestWebsocketGameFlow(t *testing.T) {
	env := newTestEnv(t)
	c1, c2 := env.dial(t), env.dial(t)

	hello1 := readUntil(t, c1, models.MsgConnected)
	hello2 := readUntil(t, c2, models.MsgConnected)
	assert.NotEqual(t, hello1.PlayerID, hello2.PlayerID)
	assert.Equal(t, 2, env.players.count())

	send(t, c1, map[string]any{"type": "join_queue", "peerId": "alpha"})
	st := readUntil(t, c1, models.MsgQueueStatus)
	assert.True(t, *st.InQueue)
	send(t, c2, map[string]any{"type": "join_queue", "peerId": "beta"})
	readUntil(t, c2, models.MsgQueueStatus)

	require.True(t, env.arena.RunMatchPass())
	m1 := readUntil(t, c1, models.MsgMatchFound)
	m2 := readUntil(t, c2, models.MsgMatchFound)
	assert.Equal(t, m1.GameID, m2.GameID)
	assert.Equal(t, "beta", m1.OpponentID)
	assert.True(t, *m1.IsInitiator)

	send(t, c2, map[string]any{"type": "offer", "gameId": m1.GameID, "payload": map[string]string{"sdp": "x"}})
	send(t, c1, map[string]any{"type": "answer", "gameId": m1.GameID, "payload": map[string]string{"sdp": "y"}})
	ans := readUntil(t, c2, models.MsgAnswer)
	assert.JSONEq(t, `{"sdp":"y"}`, string(ans.Payload))

	send(t, c1, map[string]any{"type": "player_laughed", "gameId": m1.GameID})
	end1 := readUntil(t, c1, models.MsgGameEnd)
	end2 := readUntil(t, c2, models.MsgGameEnd)
	assert.Equal(t, "lose", end1.Result)
	assert.Equal(t, "win", end2.Result)
	assert.Equal(t, hello2.PlayerID, end2.WinnerID)

	resp, err := http.Get(env.srv.URL + "/games/" + m1.GameID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec models.GameRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, models.StatusFinished, rec.Status)
	require.NotNil(t, rec.WinnerID)
	assert.Equal(t, hello2.PlayerID, rec.WinnerID.String())
}

func TestWebsocketDisconnectNotifiesOpponent(t *testing.T) {
	env := newTestEnv(t)
	c1, c2 := env.dial(t), env.dial(t)
	readUntil(t, c1, models.MsgConnected)
	readUntil(t, c2, models.MsgConnected)

	send(t, c1, map[string]any{"type": "join_queue"})
	readUntil(t, c1, models.MsgQueueStatus)
	send(t, c2, map[string]any{"type": "join_queue"})
	readUntil(t, c2, models.MsgQueueStatus)
	require.True(t, env.arena.RunMatchPass())
	readUntil(t, c1, models.MsgMatchFound)
	readUntil(t, c2, models.MsgMatchFound)

	require.NoError(t, c1.Close(websocket.StatusNormalClosure, "bye"))
	readUntil(t, c2, models.MsgOpponentLeft)

	require.Eventually(t, func() bool {
		s := env.arena.Stats()
		return s.Connections == 1 && s.ActiveGames == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketBadInput(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	readUntil(t, c, models.MsgConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("{nope")))
	assert.Equal(t, "invalid JSON format", readUntil(t, c, models.MsgError).Message)

	send(t, c, map[string]any{"type": "dance"})
	assert.Equal(t, "unknown message type", readUntil(t, c, models.MsgError).Message)

	send(t, c, map[string]any{"type": "player_laughed", "gameId": "nope"})
	assert.Contains(t, readUntil(t, c, models.MsgError).Message, "invalid gameId")

	// a well-formed report for an unknown game is dropped quietly
	send(t, c, map[string]any{"type": "player_laughed", "gameId": uuid.NewString()})
	send(t, c, map[string]any{"type": "ping"})
	readUntil(t, c, models.MsgPong)
}

func TestGameEndpointFallsBackToDatabase(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	env.lookup.recs[id] = models.GameRecord{ID: id, Status: models.StatusCancelled}

	resp, err := http.Get(env.srv.URL + "/games/" + id.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var rec models.GameRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, models.StatusCancelled, rec.Status)

	for path, want := range map[string]int{
		"/games/" + uuid.NewString(): http.StatusNotFound,
		"/games/not-a-uuid":          http.StatusBadRequest,
	} {
		r, err := http.Get(env.srv.URL + path)
		require.NoError(t, err)
		r.Body.Close()
		assert.Equal(t, want, r.StatusCode, path)
	}

	env.lookup.err = errors.New("db down")
	r, err := http.Get(env.srv.URL + "/games/" + id.String())
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, r.StatusCode)
}

func TestStatsAndHealth(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	readUntil(t, c, models.MsgConnected)

	resp, err := http.Get(env.srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats arena.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Connections)

	h, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(h.Body)
	h.Body.Close()
	assert.Equal(t, http.StatusOK, h.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}
