// Package conformance provides a test harness for verifying vCon registry compliance.
// It drives the HTTP surface with the canonical fixture corpus and checks
// the outcome of every validation phase, the stored canonical encoding and
// pagination.
package conformance

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/event"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/jwks"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/server"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-vcon-go/pkg/vcon"
	"github.com/golang-jwt/jwt/v5"
)

const keyID = "conformance"

// Harness provides a test harness for vCon registry conformance testing.
type Harness struct {
	server *httptest.Server
	keys   *httptest.Server
	store  storage.Store
	pub    event.Publisher
	key    ed25519.PrivateKey
	cfg    Config
}

// Config holds configuration for the conformance test harness.
type Config struct {
	// JWTIssuer is the expected JWT issuer
	JWTIssuer string

	// JWTAudience is the expected JWT audience
	JWTAudience string

	// MaxDocumentSize bounds request bodies; zero keeps the server default
	MaxDocumentSize int64
}

// NewHarness creates a new conformance test harness. Tokens are signed
// with a fresh Ed25519 key served from a local JWKS endpoint, so the
// registry verifies real signatures.
func NewHarness(cfg Config) (*Harness, error) {
	pubKey, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	keys := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks.JWKS{Keys: []jwks.JWK{jwks.PublicJWK(keyID, pubKey)}})
	}))

	validator, err := schema.NewValidator()
	if err != nil {
		keys.Close()
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}

	store := storage.Instrument(storage.NewMemory())
	pub := event.NewNoop()

	mux := server.NewMux(store, pub, nil, jwks.NewClient(keys.URL), validator, server.Options{
		JWTIssuer:       cfg.JWTIssuer,
		JWTAudience:     cfg.JWTAudience,
		MaxDocumentSize: cfg.MaxDocumentSize,
	})

	return &Harness{
		server: httptest.NewServer(mux),
		keys:   keys,
		store:  store,
		pub:    pub,
		key:    key,
		cfg:    cfg,
	}, nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close shuts down the test servers and cleans up resources.
func (h *Harness) Close() {
	h.server.Close()
	h.keys.Close()
	h.pub.Close()
}

// Token returns a signed bearer token for subject.
func (h *Harness) Token(subject string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"iss": h.cfg.JWTIssuer,
		"aud": h.cfg.JWTAudience,
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = keyID
	return token.SignedString(h.key)
}

// RunConformanceTests runs all conformance tests against the registry.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("Authentication", h.testAuthentication)
	t.Run("Validation", h.testValidation)
	t.Run("Ingest", h.testIngest)
	t.Run("CanonicalEncoding", h.testCanonicalEncoding)
	t.Run("Pagination", h.testPagination)
}

// response is a decoded registry response.
type response struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func (h *Harness) call(t *testing.T, method, path, subject string, body []byte) response {
	t.Helper()
	req, err := http.NewRequest(method, h.URL()+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		token, err := h.Token(subject)
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	out := response{Status: resp.StatusCode}
	if len(raw) > 0 && resp.Header.Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("failed to decode response %s: %v", raw, err)
		}
	}
	return out
}

// testHealthEndpoints tests the health check endpoints.
func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		if got := h.call(t, http.MethodGet, path, "", nil); got.Status != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, got.Status)
		}
	}
}

// testAuthentication checks that writes need a verified token.
func (h *Harness) testAuthentication(t *testing.T) {
	doc := []byte(Fixtures[0].Doc)

	got := h.call(t, http.MethodPost, "/v1/vcon", "", doc)
	if got.Status != http.StatusUnauthorized || got.Error == nil || got.Error.Code != "VCON_AUTHN" {
		t.Errorf("missing token: got %d %+v", got.Status, got.Error)
	}

	// Same claims, foreign key: the signature must not verify.
	_, foreign, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"iss": h.cfg.JWTIssuer,
		"aud": h.cfg.JWTAudience,
		"sub": "mallory",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = keyID
	signed, err := token.SignedString(foreign)
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, h.URL()+"/v1/vcon", bytes.NewReader(doc))
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("foreign signature: got %d", resp.StatusCode)
	}
}

// testValidation checks the dry-run endpoint against every fixture.
func (h *Harness) testValidation(t *testing.T) {
	for _, f := range Fixtures {
		t.Run(f.Name, func(t *testing.T) {
			got := h.call(t, http.MethodPost, "/v1/vcon/validate", "conformance", []byte(f.Doc))
			if got.Status != http.StatusOK {
				t.Fatalf("expected status 200, got %d", got.Status)
			}
			var result model.ValidateResponse
			if err := json.Unmarshal(got.Data, &result); err != nil {
				t.Fatal(err)
			}
			if result.Valid != (f.Phase == "") || result.Phase != f.Phase {
				t.Errorf("expected phase %q, got valid=%v phase=%q violations=%v", f.Phase, result.Valid, result.Phase, result.Violations)
			}
			if !result.Valid && len(result.Violations) == 0 {
				t.Error("rejected document carries no violations")
			}
			for _, v := range result.Violations {
				if f.Phase == model.PhaseReference && v.Kind != vcon.ReferenceViolation {
					t.Errorf("reference phase reported %s violation: %s", v.Kind, v)
				}
			}
		})
	}
}

// testIngest registers every fixture and checks status and error code.
func (h *Harness) testIngest(t *testing.T) {
	for _, f := range Fixtures {
		t.Run(f.Name, func(t *testing.T) {
			got := h.call(t, http.MethodPost, "/v1/vcon", "conformance", []byte(f.Doc))
			if got.Status != f.Status {
				t.Fatalf("expected status %d, got %d", f.Status, got.Status)
			}
			if f.Code == "" {
				return
			}
			if got.Error == nil || got.Error.Code != f.Code {
				t.Fatalf("expected code %s, got %+v", f.Code, got.Error)
			}
			if len(got.Error.Details) == 0 {
				t.Error("error carries no violation details")
			}
		})
	}

	// A second registration of an accepted uuid conflicts.
	got := h.call(t, http.MethodPost, "/v1/vcon", "conformance", []byte(Fixtures[0].Doc))
	if got.Status != http.StatusConflict {
		t.Errorf("duplicate uuid: expected 409, got %d", got.Status)
	}
}

// testCanonicalEncoding checks that stored documents are the engine's
// canonical encoding: decoding and re-encoding them changes nothing.
func (h *Harness) testCanonicalEncoding(t *testing.T) {
	for _, f := range Fixtures {
		if f.Phase != "" {
			continue
		}
		t.Run(f.Name, func(t *testing.T) {
			v, err := vcon.BuildFromJSON([]byte(f.Doc))
			if err != nil {
				t.Fatal(err)
			}
			got := h.call(t, http.MethodGet, "/v1/vcon/"+v.UUID, "", nil)
			if got.Status != http.StatusOK {
				t.Fatalf("expected status 200, got %d", got.Status)
			}
			var rec model.VconRecord
			if err := json.Unmarshal(got.Data, &rec); err != nil {
				t.Fatal(err)
			}
			again, err := rec.Decode()
			if err != nil {
				t.Fatalf("stored document does not decode: %v", err)
			}
			reencoded, err := again.ToJSON()
			if err != nil {
				t.Fatal(err)
			}
			var stored, round any
			_ = json.Unmarshal(rec.Document, &stored)
			_ = json.Unmarshal(reencoded, &round)
			if !jsonEqual(stored, round) {
				t.Errorf("stored document is not canonical:\n%s\n%s", rec.Document, reencoded)
			}
		})
	}
}

// testPagination walks the listing and expects every accepted fixture once.
func (h *Harness) testPagination(t *testing.T) {
	want := 0
	for _, f := range Fixtures {
		if f.Phase == "" {
			want++
		}
	}

	seen := map[string]bool{}
	cursor := ""
	for pages := 0; pages <= want; pages++ {
		path := "/v1/vcon?limit=1"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		got := h.call(t, http.MethodGet, path, "", nil)
		if got.Status != http.StatusOK {
			t.Fatalf("expected status 200, got %d", got.Status)
		}
		var page model.ListVconsResult
		if err := json.Unmarshal(got.Data, &page); err != nil {
			t.Fatal(err)
		}
		for _, rec := range page.Records {
			if seen[rec.UUID] {
				t.Errorf("%s listed twice", rec.UUID)
			}
			seen[rec.UUID] = true
		}
		if cursor = page.NextCursor; cursor == "" {
			break
		}
	}
	if len(seen) != want {
		t.Errorf("expected %d documents, listed %d", want, len(seen))
	}
}

func jsonEqual(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}
