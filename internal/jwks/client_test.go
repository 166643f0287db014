package jwks

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	issuer   = "test-issuer"
	audience = "test-audience"
)

func sign(t *testing.T, key ed25519.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": issuer,
		"aud": audience,
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

// jwksServer serves the public half of key under kid and counts fetches.
func jwksServer(t *testing.T, kid string, pub ed25519.PublicKey) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(JWKS{Keys: []JWK{PublicJWK(kid, pub)}})
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func TestValidateJWT(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	srv, fetches := jwksServer(t, "k1", pub)
	c := NewClient(srv.URL)
	ctx := context.Background()

	claims, err := c.ValidateJWT(ctx, sign(t, priv, "k1", validClaims()), issuer, audience)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["sub"])

	_, err = c.ValidateJWT(ctx, sign(t, priv, "k1", validClaims()), issuer, audience)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load(), "key set is cached")

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err = c.ValidateJWT(ctx, sign(t, priv, "k1", expired), issuer, audience)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = c.ValidateJWT(ctx, sign(t, priv, "k1", validClaims()), issuer, "other-audience")
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidAudience)

	_, err = c.ValidateJWT(ctx, sign(t, priv, "k1", validClaims()), "other-issuer", audience)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	noSub := validClaims()
	delete(noSub, "sub")
	_, err = c.ValidateJWT(ctx, sign(t, priv, "k1", noSub), issuer, audience)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidClaims)

	_, err = c.ValidateJWT(ctx, "not.a.jwt", issuer, audience)
	assert.ErrorIs(t, err, jwt.ErrTokenMalformed)
}

func TestValidateJWTRejectsForeignKeys(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, other, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	srv, fetches := jwksServer(t, "k1", pub)
	c := NewClient(srv.URL)
	ctx := context.Background()

	_, err = c.ValidateJWT(ctx, sign(t, other, "k1", validClaims()), issuer, audience)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	_, err = c.ValidateJWT(ctx, sign(t, other, "k2", validClaims()), issuer, audience)
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Equal(t, int32(2), fetches.Load(), "unknown kid forces a refetch")

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	hs.Header["kid"] = "k1"
	s, err := hs.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = c.ValidateJWT(ctx, s, issuer, audience)
	assert.Error(t, err)
}

func TestTestClient(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	c := NewTestClient()
	ctx := context.Background()

	claims, err := c.ValidateJWT(ctx, sign(t, priv, "any", validClaims()), issuer, audience)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["sub"])

	_, err = c.ValidateJWT(ctx, sign(t, priv, "any", validClaims()), issuer, "nope")
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidAudience)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err = c.ValidateJWT(ctx, sign(t, priv, "any", expired), issuer, audience)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = c.ValidateJWT(ctx, "garbage", issuer, audience)
	assert.ErrorIs(t, err, jwt.ErrTokenMalformed)
}
