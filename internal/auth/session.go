// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName carries the player's identity token.
const CookieName = "auth_token"

// privateKey and publicKey are used for signing and verifying JWT tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTL is how long an issued token stays valid (0 => never expires).
	tokenTTL time.Duration
)

var ErrNotInitialized = errors.New("auth keys not initialized")

// SetTokenTTL sets the lifetime of newly issued tokens; 0 disables expiry.
func SetTokenTTL(d time.Duration) {
	tokenTTL = d
}

// Init generates a fresh ed25519 key pair at runtime. Tokens issued before a
// restart stop verifying, which only costs anonymous players their id.
func Init() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	publicKey, privateKey = pub, priv
	return nil
}

// InitFromPath reads raw ed25519 private/public keys from file.
func InitFromPath(privatePath, publicPath string) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return fmt.Errorf("unexpected key sizes: private %d, public %d", len(privateKeyData), len(publicKeyData))
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	return nil
}

// CreateJWT creates a signed JWT token with "sub" = playerID, and an exp claim
// when a token TTL is configured.
func CreateJWT(playerID string) (string, error) {
	if privateKey == nil {
		return "", ErrNotInitialized
	}
	claims := jwt.MapClaims{
		"sub": playerID,
		"iat": time.Now().Unix(),
	}
	if tokenTTL > 0 {
		claims["exp"] = time.Now().Add(tokenTTL).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a JWT string, returns the "sub" field if valid, else an error.
func AuthenticateJWT(tokenString string) (string, error) {
	if publicKey == nil {
		return "", ErrNotInitialized
	}
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid jwt claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("missing sub in jwt")
	}
	return sub, nil
}

// EnsurePlayer returns the player id carried by the request's auth cookie. A
// missing or invalid cookie gets a fresh anonymous id and a new cookie on w;
// fresh reports that case. Must run before the response is upgraded.
func EnsurePlayer(w http.ResponseWriter, r *http.Request) (playerID uuid.UUID, fresh bool, err error) {
	if c, cerr := r.Cookie(CookieName); cerr == nil && c.Value != "" {
		if sub, verr := AuthenticateJWT(c.Value); verr == nil {
			if id, perr := uuid.Parse(sub); perr == nil {
				return id, false, nil
			}
		}
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to generate player id: %w", err)
	}
	token, err := CreateJWT(id.String())
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to create player JWT: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	return id, true, nil
}
