package auth

import (
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestJWTRoundTrip(t *testing.T) {
	id := uuid.NewString()
	token, err := CreateJWT(id)
	require.NoError(t, err)

	sub, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, id, sub)

	_, err = AuthenticateJWT(token + "x")
	assert.Error(t, err)
	_, err = AuthenticateJWT("not-a-token")
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	SetTokenTTL(time.Nanosecond)
	defer SetTokenTTL(0)
	token, err := CreateJWT(uuid.NewString())
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	_, err = AuthenticateJWT(token)
	assert.Error(t, err)
}

func TestInitFromPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "key")
	pubPath := filepath.Join(dir, "key.pub")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o644))

	oldPriv, oldPub := privateKey, publicKey
	defer func() { privateKey, publicKey = oldPriv, oldPub }()

	require.NoError(t, InitFromPath(privPath, pubPath))
	token, err := CreateJWT("p")
	require.NoError(t, err)
	sub, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "p", sub)

	require.NoError(t, os.WriteFile(pubPath, []byte("short"), 0o644))
	assert.Error(t, InitFromPath(privPath, pubPath))
	assert.Error(t, InitFromPath(filepath.Join(dir, "missing"), pubPath))
}

func TestEnsurePlayerIssuesCookie(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)

	id, fresh, err := EnsurePlayer(w, r)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.NotEqual(t, uuid.Nil, id)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// the same cookie maps back to the same player
	w2 := httptest.NewRecorder()
	r2 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r2.AddCookie(cookies[0])
	again, fresh, err := EnsurePlayer(w2, r2)
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, id, again)
	assert.Empty(t, w2.Result().Cookies())
}

func TestEnsurePlayerReplacesBadCookie(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})

	id, fresh, err := EnsurePlayer(w, r)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Len(t, w.Result().Cookies(), 1)
}
