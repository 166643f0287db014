// Package jwks verifies submitter bearer tokens against a JSON Web Key Set.
package jwks

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"` // Key type
	Kid string `json:"kid"` // Key ID
	Use string `json:"use"` // Public key use
	Alg string `json:"alg"` // Algorithm
	Crv string `json:"crv"` // Curve
	X   string `json:"x"`   // Public key, base64url
}

// PublicJWK returns the JWK form of an Ed25519 public key.
func PublicJWK(kid string, pub ed25519.PublicKey) JWK {
	return JWK{
		Kty: "OKP",
		Kid: kid,
		Use: "sig",
		Alg: "EdDSA",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}
}

// Errors returned by ValidateJWT, beyond the golang-jwt sentinels
// (jwt.ErrTokenMalformed, jwt.ErrTokenExpired, ...), which are wrapped.
var (
	ErrUnknownKey  = errors.New("signing key not found")
	ErrUnsupported = errors.New("unsupported key type or algorithm")
)

const cacheTTL = 5 * time.Minute

// Client handles JWKS discovery and caching
type Client struct {
	jwksURL    string
	httpClient *http.Client
	cache      *jwksCache
	testMode   bool
}

// jwksCache stores cached JWKS with expiration
type jwksCache struct {
	jwks      *JWKS
	expiresAt time.Time
	mutex     sync.RWMutex
}

// NewClient creates a client that fetches keys from jwksURL.
func NewClient(jwksURL string) *Client {
	return &Client{
		jwksURL: jwksURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache: &jwksCache{},
	}
}

// NewTestClient creates a client that skips signature verification but
// still checks issuer, audience and expiry. Only for tests and local dev.
func NewTestClient() *Client {
	return &Client{testMode: true, cache: &jwksCache{}}
}

// fetchJWKS fetches the key set from the configured URL
func (c *Client) fetchJWKS(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS fetch failed with status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}
	return &jwks, nil
}

// getJWKS retrieves JWKS from cache or fetches fresh if needed
func (c *Client) getJWKS(ctx context.Context, refresh bool) (*JWKS, error) {
	if !refresh {
		c.cache.mutex.RLock()
		if c.cache.jwks != nil && time.Now().Before(c.cache.expiresAt) {
			jwks := c.cache.jwks
			c.cache.mutex.RUnlock()
			return jwks, nil
		}
		c.cache.mutex.RUnlock()
	}

	c.cache.mutex.Lock()
	defer c.cache.mutex.Unlock()

	// Double-check after acquiring write lock
	if !refresh && c.cache.jwks != nil && time.Now().Before(c.cache.expiresAt) {
		return c.cache.jwks, nil
	}

	jwks, err := c.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.jwks = jwks
	c.cache.expiresAt = time.Now().Add(cacheTTL)
	return jwks, nil
}

// getKey returns the key with kid. An unknown kid forces one refetch so
// rotated keys are picked up before the cache expires.
func (c *Client) getKey(ctx context.Context, kid string) (*JWK, error) {
	for _, refresh := range []bool{false, true} {
		jwks, err := c.getJWKS(ctx, refresh)
		if err != nil {
			return nil, err
		}
		for _, key := range jwks.Keys {
			if key.Kid == kid {
				return &key, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: kid %s", ErrUnknownKey, kid)
}

// ValidateJWT verifies tokenString and checks its issuer, audience and
// expiry. The returned claims always carry a non-empty "sub".
func (c *Client) ValidateJWT(ctx context.Context, tokenString string, expectedIssuer, expectedAudience string) (jwt.MapClaims, error) {
	var claims jwt.MapClaims
	if c.testMode {
		token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", jwt.ErrTokenMalformed, err)
		}
		claims = token.Claims.(jwt.MapClaims)
		if err := jwt.NewValidator(jwt.WithIssuer(expectedIssuer), jwt.WithAudience(expectedAudience)).Validate(claims); err != nil {
			return nil, err
		}
	} else {
		keyFunc := func(token *jwt.Token) (any, error) {
			kid, ok := token.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, fmt.Errorf("%w: missing kid in JWT header", jwt.ErrTokenMalformed)
			}
			jwk, err := c.getKey(ctx, kid)
			if err != nil {
				return nil, err
			}
			if jwk.Kty != "OKP" || jwk.Crv != "Ed25519" || jwk.Alg != "EdDSA" {
				return nil, ErrUnsupported
			}
			x, err := base64.RawURLEncoding.DecodeString(jwk.X)
			if err != nil || len(x) != ed25519.PublicKeySize {
				return nil, fmt.Errorf("%w: bad public key for kid %s", ErrUnsupported, kid)
			}
			return ed25519.PublicKey(x), nil
		}

		token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, keyFunc,
			jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
			jwt.WithIssuer(expectedIssuer),
			jwt.WithAudience(expectedAudience),
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			return nil, err
		}
		claims = token.Claims.(jwt.MapClaims)
	}

	if sub, err := claims.GetSubject(); err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", jwt.ErrTokenInvalidClaims)
	}
	return claims, nil
}
