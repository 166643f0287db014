// Package server provides unit tests for the HTTP handlers and routing.
package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/archive"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/jwks"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/storage"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "test-issuer"
	testAudience = "test-audience"
	testUUID     = "0190c5b4-7e4c-7c3e-9a8e-3f6f1a2b3c4d"
)

// validDoc is a small vCon that passes every validation phase.
const validDoc = `{
	"vcon": "0.0.2",
	"uuid": "` + testUUID + `",
	"created_at": "2024-03-01T10:00:00Z",
	"subject": "Billing question",
	"parties": [{"tel": "+15551230001", "name": "Alice"}, {"mailto": "agent@example.com"}],
	"dialog": [
		{"type": "text", "start": "2024-03-01T10:00:00Z", "parties": [0, 1], "originator": 0,
		 "mediatype": "text/plain", "body": "Hello, I have a question.", "encoding": "none"}
	],
	"analysis": [
		{"type": "summary", "dialog": 0, "vendor": "acme", "encoding": "json", "body": {"text": "billing"}}
	]
}`

func docWithUUID(id string) string {
	return strings.Replace(validDoc, testUUID, id, 1)
}

// recordingPublisher implements event.Publisher and remembers what it saw.
type recordingPublisher struct {
	mu      sync.Mutex
	created []model.VconRecord
	updated []model.VconRecord
}

func (p *recordingPublisher) PublishVconCreated(ctx context.Context, rec model.VconRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, rec)
	return nil
}

func (p *recordingPublisher) PublishVconUpdated(ctx context.Context, rec model.VconRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated = append(p.updated, rec)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// memArchive implements archive.Archive in memory.
type memArchive struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newMemArchive() *memArchive { return &memArchive{docs: map[string][]byte{}} }

func (a *memArchive) PutDocument(ctx context.Context, key string, doc []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docs[key] = append([]byte(nil), doc...)
	return nil
}

func (a *memArchive) GetDocument(ctx context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	doc, ok := a.docs[key]
	if !ok {
		return nil, archive.ErrNotFound
	}
	return doc, nil
}

func (a *memArchive) DownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "https://archive.example.com/" + key + "?expires=" + expires.String(), nil
}

type testEnv struct {
	handler http.Handler
	store   storage.Store
	pub     *recordingPublisher
	key     ed25519.PrivateKey
}

func newTestEnv(t *testing.T, arch archive.Archive, opts Options) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, storage.NewMemory(), arch, opts)
}

func newTestEnvWithStore(t *testing.T, store storage.Store, arch archive.Archive, opts Options) *testEnv {
	t.Helper()
	validator, err := schema.NewValidator()
	if err != nil {
		t.Fatal(err)
	}
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	opts.JWTIssuer = testIssuer
	opts.JWTAudience = testAudience

	pub := &recordingPublisher{}
	return &testEnv{
		handler: NewMux(store, pub, arch, jwks.NewTestClient(), validator, opts),
		store:   store,
		pub:     pub,
		key:     key,
	}
}

func (e *testEnv) token(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
	})
	token.Header["kid"] = "test"
	s, err := token.SignedString(e.key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (e *testEnv) do(t *testing.T, method, path, subject, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, subject, time.Hour))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

type errorBody struct {
	Error struct {
		Code          string          `json:"code"`
		Message       string          `json:"message"`
		CorrelationID string          `json:"correlationId"`
		Details       json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rr.Body.String())
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status: got %d want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != code {
		t.Fatalf("code: got %s want %s", body.Error.Code, code)
	}
	if body.Error.CorrelationID == "" {
		t.Error("error body has no correlation id")
	}
	return body
}

func TestHealthzEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	rr := env.do(t, http.MethodGet, "/healthz", "", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("healthz: got %d %q", rr.Code, rr.Body.String())
	}
}

func TestReadyzEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	rr := env.do(t, http.MethodGet, "/readyz", "", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("readyz: got %d %q", rr.Code, rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	env.do(t, http.MethodPost, "/v1/vcon/validate", "alice", validDoc, nil)

	rr := env.do(t, http.MethodGet, "/metrics", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", rr.Code)
	}
	for _, name := range []string{"vcon_http_requests_total", "vcon_validation_total"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestIngestAndGet(t *testing.T) {
	arch := newMemArchive()
	env := newTestEnv(t, arch, Options{})

	rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", validDoc, map[string]string{"X-Correlation-Id": "corr-1"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("ingest: got %d (body %s)", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Correlation-Id"); got != "corr-1" {
		t.Errorf("correlation id: got %q", got)
	}
	var created model.IngestResponse
	decodeData(t, rr, &created)
	if created.UUID != testUUID || created.RKey == "" || created.IndexedAt.IsZero() {
		t.Errorf("unexpected ingest response: %+v", created)
	}
	if created.ArchiveKey != archive.ObjectKey(testUUID, created.RKey) {
		t.Errorf("archive key: got %q", created.ArchiveKey)
	}
	if _, err := arch.GetDocument(context.Background(), created.ArchiveKey); err != nil {
		t.Errorf("document not archived: %v", err)
	}
	if len(env.pub.created) != 1 || env.pub.created[0].Submitter != "alice" {
		t.Errorf("created events: %+v", env.pub.created)
	}

	rr = env.do(t, http.MethodGet, "/v1/vcon/"+testUUID, "", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: got %d", rr.Code)
	}
	var rec model.VconRecord
	decodeData(t, rr, &rec)
	if rec.Submitter != "alice" || rec.Subject != "Billing question" || rec.Version != "0.0.2" {
		t.Errorf("unexpected record: %+v", rec)
	}
	v, err := rec.Decode()
	if err != nil {
		t.Fatalf("stored document does not decode: %v", err)
	}
	if len(v.Parties) != 2 || len(v.Dialog) != 1 || len(v.Analysis) != 1 {
		t.Errorf("stored document lost entities: %s", rec.Document)
	}

	if _, err := env.store.GetSubmitter(context.Background(), "alice"); err != nil {
		t.Errorf("submitter not recorded: %v", err)
	}
}

func TestIngestRejections(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	t.Run("schema", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", `{"uuid":"x","parties":{"tel":"1"}}`, nil)
		body := expectError(t, rr, http.StatusBadRequest, "VCON_SCHEMA_REJECT")
		if !strings.Contains(string(body.Error.Details), `"path":"parties"`) {
			t.Errorf("details: %s", body.Error.Details)
		}
	})

	t.Run("not json", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", `{"uuid":`, nil)
		expectError(t, rr, http.StatusBadRequest, "VCON_SCHEMA_REJECT")
	})

	t.Run("structure", func(t *testing.T) {
		doc := `{"uuid":"` + testUUID + `","created_at":"2024-03-01T10:00:00Z","parties":[{"name":"A"}],
			"dialog":[{"type":"incomplete","start":"2024-03-01T10:00:00Z","parties":0}]}`
		rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", doc, nil)
		body := expectError(t, rr, http.StatusBadRequest, "VCON_STRUCTURE")
		if !strings.Contains(string(body.Error.Details), "disposition required for incomplete dialogs") {
			t.Errorf("details: %s", body.Error.Details)
		}
	})

	t.Run("missing uuid", func(t *testing.T) {
		doc := `{"created_at":"2024-03-01T10:00:00Z","parties":[]}`
		rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", doc, nil)
		body := expectError(t, rr, http.StatusBadRequest, "VCON_STRUCTURE")
		if !strings.Contains(string(body.Error.Details), "Missing required field: uuid") {
			t.Errorf("details: %s", body.Error.Details)
		}
	})

	t.Run("reference", func(t *testing.T) {
		doc := `{"uuid":"` + testUUID + `","created_at":"2024-03-01T10:00:00Z","parties":[{"name":"A"}],
			"dialog":[{"type":"text","start":"2024-03-01T10:00:00Z","parties":999,"body":"hi","encoding":"none"}]}`
		rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", doc, nil)
		body := expectError(t, rr, http.StatusUnprocessableEntity, "VCON_REFERENCE")
		if !strings.Contains(string(body.Error.Details), `"kind":"reference"`) {
			t.Errorf("details: %s", body.Error.Details)
		}
	})

	if len(env.pub.created) != 0 {
		t.Errorf("rejected documents must not be announced: %+v", env.pub.created)
	}
}

func TestIngestConflict(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	if rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", validDoc, nil); rr.Code != http.StatusCreated {
		t.Fatalf("first ingest: got %d", rr.Code)
	}
	rr := env.do(t, http.MethodPost, "/v1/vcon", "bob", validDoc, nil)
	expectError(t, rr, http.StatusConflict, "VCON_CONFLICT")
}

func TestIngestIdempotency(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	headers := map[string]string{"Idempotency-Key": "key-1"}

	first := env.do(t, http.MethodPost, "/v1/vcon", "alice", validDoc, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first ingest: got %d", first.Code)
	}
	replay := env.do(t, http.MethodPost, "/v1/vcon", "alice", validDoc, headers)
	if replay.Code != http.StatusCreated {
		t.Fatalf("replay: got %d (body %s)", replay.Code, replay.Body.String())
	}
	if !bytes.Equal(bytes.TrimSpace(first.Body.Bytes()), bytes.TrimSpace(replay.Body.Bytes())) {
		t.Errorf("replay differs:\n%s\n%s", first.Body.String(), replay.Body.String())
	}
	if len(env.pub.created) != 1 {
		t.Errorf("replay must not publish again, got %d events", len(env.pub.created))
	}

	other := env.do(t, http.MethodPost, "/v1/vcon", "alice", docWithUUID("0190c5b4-7e4c-7c3e-9a8e-000000000002"), headers)
	expectError(t, other, http.StatusConflict, "VCON_CONFLICT")
}

func TestIngestTooLarge(t *testing.T) {
	env := newTestEnv(t, nil, Options{MaxDocumentSize: 64})
	rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", validDoc, nil)
	expectError(t, rr, http.StatusRequestEntityTooLarge, "VCON_TOO_LARGE")
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	rr := env.do(t, http.MethodPost, "/v1/vcon", "", validDoc, nil)
	expectError(t, rr, http.StatusUnauthorized, "VCON_AUTHN")

	rr = env.do(t, http.MethodPost, "/v1/vcon", "", validDoc, map[string]string{"Authorization": "Basic abc"})
	expectError(t, rr, http.StatusUnauthorized, "VCON_AUTHN")

	rr = env.do(t, http.MethodPost, "/v1/vcon", "", validDoc, map[string]string{"Authorization": "Bearer garbage"})
	expectError(t, rr, http.StatusUnauthorized, "VCON_JWT_MALFORMED")

	expired := env.token(t, "alice", -time.Hour)
	rr = env.do(t, http.MethodPost, "/v1/vcon", "", validDoc, map[string]string{"Authorization": "Bearer " + expired})
	expectError(t, rr, http.StatusUnauthorized, "VCON_JWT_EXPIRED")

	// Reads are public.
	rr = env.do(t, http.MethodGet, "/v1/vcon", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("list without token: got %d", rr.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	rr := env.do(t, http.MethodPost, "/v1/vcon/validate", "alice", validDoc, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("validate: got %d", rr.Code)
	}
	var ok model.ValidateResponse
	decodeData(t, rr, &ok)
	if !ok.Valid || ok.Phase != "" || len(ok.Violations) != 0 {
		t.Errorf("valid document reported as %+v", ok)
	}

	doc := `{"uuid":"` + testUUID + `","created_at":"2024-03-01T10:00:00Z","parties":[{"name":"A"}],
		"dialog":[{"type":"text","start":"2024-03-01T10:00:00Z","parties":999,"body":"hi","encoding":"none"}]}`
	rr = env.do(t, http.MethodPost, "/v1/vcon/validate", "alice", doc, nil)
	var bad model.ValidateResponse
	decodeData(t, rr, &bad)
	if bad.Valid || bad.Phase != model.PhaseReference || len(bad.Violations) != 1 {
		t.Fatalf("reference violation reported as %+v", bad)
	}
	if bad.Violations[0].Path != "dialog[0]" {
		t.Errorf("violation path: %q", bad.Violations[0].Path)
	}

	if _, err := env.store.GetVcon(context.Background(), testUUID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("validate must not store, got %v", err)
	}
}

func TestListPagination(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	ids := []string{
		"0190c5b4-7e4c-7c3e-9a8e-000000000001",
		"0190c5b4-7e4c-7c3e-9a8e-000000000002",
		"0190c5b4-7e4c-7c3e-9a8e-000000000003",
	}
	for _, id := range ids {
		if rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", docWithUUID(id), nil); rr.Code != http.StatusCreated {
			t.Fatalf("ingest %s: got %d", id, rr.Code)
		}
	}

	seen := map[string]bool{}
	cursor := ""
	for page := 0; page < 3; page++ {
		path := "/v1/vcon?limit=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		rr := env.do(t, http.MethodGet, path, "", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("list: got %d (body %s)", rr.Code, rr.Body.String())
		}
		var result model.ListVconsResult
		decodeData(t, rr, &result)
		for _, rec := range result.Records {
			if seen[rec.UUID] {
				t.Errorf("%s listed twice", rec.UUID)
			}
			seen[rec.UUID] = true
		}
		cursor = result.NextCursor
		if cursor == "" {
			break
		}
	}
	if len(seen) != len(ids) {
		t.Errorf("listed %d of %d documents", len(seen), len(ids))
	}

	rr := env.do(t, http.MethodGet, "/v1/vcon?submitter=bob", "", "", nil)
	var none model.ListVconsResult
	decodeData(t, rr, &none)
	if len(none.Records) != 0 {
		t.Errorf("submitter filter returned %d records", len(none.Records))
	}

	expectError(t, env.do(t, http.MethodGet, "/v1/vcon?cursor=not-a-cursor", "", "", nil), http.StatusBadRequest, "VCON_CURSOR_INVALID")
	expectError(t, env.do(t, http.MethodGet, "/v1/vcon?limit=abc", "", "", nil), http.StatusBadRequest, "VCON_VALIDATION")
	expectError(t, env.do(t, http.MethodGet, "/v1/vcon?since=yesterday", "", "", nil), http.StatusBadRequest, "VCON_VALIDATION")
}

func TestGetNotFound(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	rr := env.do(t, http.MethodGet, "/v1/vcon/missing", "", "", nil)
	expectError(t, rr, http.StatusNotFound, "VCON_NOT_FOUND")
}

func TestTag(t *testing.T) {
	arch := newMemArchive()
	env := newTestEnv(t, arch, Options{})
	rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", validDoc, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("ingest: got %d", rr.Code)
	}
	var created model.IngestResponse
	decodeData(t, rr, &created)

	rr = env.do(t, http.MethodPost, "/v1/vcon/"+testUUID+"/tags", "alice", `{"name":"priority","value":"high"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("tag: got %d (body %s)", rr.Code, rr.Body.String())
	}
	var tagged model.TagResponse
	decodeData(t, rr, &tagged)
	if tagged.Tags["priority"] != "high" || tagged.UpdatedAt.IsZero() {
		t.Errorf("unexpected tag response: %+v", tagged)
	}
	if len(env.pub.updated) != 1 {
		t.Errorf("updated events: %d", len(env.pub.updated))
	}

	stored, err := env.store.GetVcon(context.Background(), testUUID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.RKey != created.RKey || stored.Submitter != "alice" {
		t.Errorf("tagging changed ownership: %+v", stored)
	}
	if stored.ArchiveKey == created.ArchiveKey || stored.ArchiveKey == "" {
		t.Errorf("tagged version not archived separately: %q", stored.ArchiveKey)
	}
	v, err := stored.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := v.GetTag("priority"); !ok || got != "high" {
		t.Errorf("stored tag: %q %v", got, ok)
	}

	rr = env.do(t, http.MethodPost, "/v1/vcon/"+testUUID+"/tags", "mallory", `{"name":"priority","value":"low"}`, nil)
	expectError(t, rr, http.StatusForbidden, "VCON_AUTHZ")

	rr = env.do(t, http.MethodPost, "/v1/vcon/"+testUUID+"/tags", "alice", `{"value":"x"}`, nil)
	expectError(t, rr, http.StatusBadRequest, "VCON_VALIDATION")

	rr = env.do(t, http.MethodPost, "/v1/vcon/missing/tags", "alice", `{"name":"a","value":"b"}`, nil)
	expectError(t, rr, http.StatusNotFound, "VCON_NOT_FOUND")
}

// slowStore delays writes the way a database round-trip would.
type slowStore struct {
	storage.Store
	delay time.Duration
}

func (s *slowStore) UpdateVcon(ctx context.Context, rec model.VconRecord) error {
	time.Sleep(s.delay)
	return s.Store.UpdateVcon(ctx, rec)
}

// racingStore lets another writer land between each handler read and its
// write, for the first races updates.
type racingStore struct {
	storage.Store
	mu    sync.Mutex
	races int
}

func (s *racingStore) UpdateVcon(ctx context.Context, rec model.VconRecord) error {
	s.mu.Lock()
	race := s.races > 0
	if race {
		s.races--
	}
	s.mu.Unlock()
	if race {
		cur, err := s.Store.GetVcon(ctx, rec.UUID)
		if err != nil {
			return err
		}
		if err := s.Store.UpdateVcon(ctx, *cur); err != nil {
			return err
		}
	}
	return s.Store.UpdateVcon(ctx, rec)
}

func TestTagConcurrentUpdatesAreNotLost(t *testing.T) {
	const n = 20
	env := newTestEnvWithStore(t, &slowStore{Store: storage.NewMemory(), delay: 2 * time.Millisecond}, nil, Options{})
	if rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", validDoc, nil); rr.Code != http.StatusCreated {
		t.Fatalf("ingest: got %d", rr.Code)
	}

	reqs := make([]*http.Request, n)
	for i := range reqs {
		body := fmt.Sprintf(`{"name":"tag-%d","value":"v%d"}`, i, i)
		reqs[i] = httptest.NewRequest(http.MethodPost, "/v1/vcon/"+testUUID+"/tags", strings.NewReader(body))
		reqs[i].Header.Set("Authorization", "Bearer "+env.token(t, "alice", time.Hour))
	}

	codes := make([]int, n)
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := httptest.NewRecorder()
			env.handler.ServeHTTP(rr, req)
			codes[i] = rr.Code
		}()
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("tag-%d: got %d", i, code)
		}
	}
	stored, err := env.store.GetVcon(context.Background(), testUUID)
	if err != nil {
		t.Fatal(err)
	}
	v, err := stored.Decode()
	if err != nil {
		t.Fatal(err)
	}
	tags := v.Tags()
	for i := 0; i < n; i++ {
		if tags[fmt.Sprintf("tag-%d", i)] != fmt.Sprintf("v%d", i) {
			t.Errorf("tag-%d was acknowledged but not stored", i)
		}
	}
	if stored.Revision != n+1 {
		t.Errorf("revision: got %d, want %d", stored.Revision, n+1)
	}
	if len(env.pub.updated) != n {
		t.Errorf("updated events: %d", len(env.pub.updated))
	}
}

func TestTagRetriesAfterStaleRevision(t *testing.T) {
	store := &racingStore{Store: storage.NewMemory(), races: 2}
	env := newTestEnvWithStore(t, store, nil, Options{})
	if rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", validDoc, nil); rr.Code != http.StatusCreated {
		t.Fatalf("ingest: got %d", rr.Code)
	}

	rr := env.do(t, http.MethodPost, "/v1/vcon/"+testUUID+"/tags", "alice", `{"name":"queue","value":"fraud"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("tag: got %d (body %s)", rr.Code, rr.Body.String())
	}
	stored, err := env.store.GetVcon(context.Background(), testUUID)
	if err != nil {
		t.Fatal(err)
	}
	v, err := stored.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := v.GetTag("queue"); !ok || got != "fraud" {
		t.Errorf("stored tag: %q %v", got, ok)
	}
	// Two foreign writes plus the tag itself.
	if stored.Revision != 4 {
		t.Errorf("revision: got %d", stored.Revision)
	}
	if len(env.pub.updated) != 1 || env.pub.updated[0].Revision != stored.Revision {
		t.Errorf("updated events: %+v", env.pub.updated)
	}
}

func TestTagGivesUpWhenAlwaysStale(t *testing.T) {
	store := &racingStore{Store: storage.NewMemory(), races: maxUpdateAttempts}
	env := newTestEnvWithStore(t, store, nil, Options{})
	if rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", validDoc, nil); rr.Code != http.StatusCreated {
		t.Fatalf("ingest: got %d", rr.Code)
	}

	rr := env.do(t, http.MethodPost, "/v1/vcon/"+testUUID+"/tags", "alice", `{"name":"queue","value":"fraud"}`, nil)
	expectError(t, rr, http.StatusConflict, "VCON_CONFLICT")
	if len(env.pub.updated) != 0 {
		t.Errorf("updated events: %d", len(env.pub.updated))
	}
}

func TestArchiveURL(t *testing.T) {
	env := newTestEnv(t, newMemArchive(), Options{})
	if rr := env.do(t, http.MethodPost, "/v1/vcon", "alice", validDoc, nil); rr.Code != http.StatusCreated {
		t.Fatalf("ingest: got %d", rr.Code)
	}

	rr := env.do(t, http.MethodGet, "/v1/vcon/"+testUUID+"/archive", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("archive url: got %d (body %s)", rr.Code, rr.Body.String())
	}
	var link model.ArchiveURLResponse
	decodeData(t, rr, &link)
	if !strings.HasPrefix(link.URL, "https://archive.example.com/vcons/"+testUUID+"/") {
		t.Errorf("url: %s", link.URL)
	}

	plain := newTestEnv(t, nil, Options{})
	plain.do(t, http.MethodPost, "/v1/vcon", "alice", validDoc, nil)
	rr = plain.do(t, http.MethodGet, "/v1/vcon/"+testUUID+"/archive", "", "", nil)
	expectError(t, rr, http.StatusNotFound, "VCON_NOT_FOUND")
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil, Options{CORSAllowedOrigins: []string{"https://app.example.com"}})

	rr := env.do(t, http.MethodOptions, "/v1/vcon", "", "", map[string]string{"Origin": "https://app.example.com"})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight: got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow origin: %q", got)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key") {
		t.Errorf("allow headers: %q", rr.Header().Get("Access-Control-Allow-Headers"))
	}

	rr = env.do(t, http.MethodGet, "/v1/vcon", "", "", map[string]string{"Origin": "https://evil.example.com"})
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin echoed: %q", got)
	}
}
