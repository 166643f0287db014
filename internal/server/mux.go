// Package server implements the HTTP handlers and routing for the vCon registry.
// It provides RESTful endpoints to validate, register, fetch, list and tag
// vCon documents, with JWT authentication, schema validation and event publishing.
package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/archive"
	errordefs "github.com/RegistryAccord/registryaccord-vcon-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/event"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/jwks"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	// Context keys for storing request-scoped values
	ContextKeySubject       ContextKey = "subject"       // JWT subject of the caller
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking

	// Default limits for list operations
	DefaultListLimit = 25  // Default number of records to return
	MaxListLimit     = 100 // Maximum number of records to return

	// DefaultMaxDocumentSize bounds request bodies when Options leaves it open.
	DefaultMaxDocumentSize = 10 << 20

	idempotencyTTL   = 24 * time.Hour
	archiveURLExpiry = 15 * time.Minute

	// maxUpdateAttempts bounds read-modify-write retries after ErrStale.
	maxUpdateAttempts = 5
)

// Options carries the request policy of the registry.
type Options struct {
	JWTIssuer          string   // Expected JWT issuer
	JWTAudience        string   // Expected JWT audience
	MaxDocumentSize    int64    // Request body limit in bytes
	DefaultListLimit   int      // Page size when the caller gives none
	MaxListLimit       int      // Largest page a caller may ask for
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Mux handles HTTP requests for the vCon registry.
type Mux struct {
	mux        *http.ServeMux    // HTTP request multiplexer
	s          storage.Store     // Document storage
	p          event.Publisher   // Event publisher for streaming updates
	archive    archive.Archive   // Document archive, nil when not configured
	jwksClient *jwks.Client      // JWKS client for JWT validation
	validator  *schema.Validator // Wire-shape gate run before decoding
	metrics    *metrics.Metrics  // Metrics for monitoring
	locks      *docLocks         // Per-document write ordering
	opts       Options
}

// docLocks is a fixed set of mutexes striped by document uuid.
type docLocks [64]sync.Mutex

func (l *docLocks) lock(id string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &l[h.Sum32()%uint32(len(l))]
	mu.Lock()
	return mu.Unlock
}

// NewMux creates a new HTTP mux with all registry endpoints.
// arch may be nil, in which case documents are not archived.
func NewMux(s storage.Store, p event.Publisher, arch archive.Archive, jwksClient *jwks.Client, validator *schema.Validator, opts Options) *http.ServeMux {
	if opts.MaxDocumentSize <= 0 {
		opts.MaxDocumentSize = DefaultMaxDocumentSize
	}
	if opts.MaxListLimit <= 0 {
		opts.MaxListLimit = MaxListLimit
	}
	if opts.DefaultListLimit <= 0 {
		opts.DefaultListLimit = DefaultListLimit
	}
	opts.DefaultListLimit = min(opts.DefaultListLimit, opts.MaxListLimit)

	m := &Mux{
		mux:        http.NewServeMux(),
		s:          s,
		p:          p,
		archive:    arch,
		jwksClient: jwksClient,
		validator:  validator,
		metrics:    metrics.NewMetrics(),
		locks:      new(docLocks),
		opts:       opts,
	}

	// Register health endpoints
	m.mux.HandleFunc("GET /healthz", m.handleHealthz)
	m.mux.HandleFunc("GET /readyz", m.handleReadyz)
	m.mux.Handle("GET /metrics", promhttp.Handler())

	// Register vCon endpoints with common middleware
	m.mux.HandleFunc("POST /v1/vcon", m.withMiddleware(m.handleIngest))
	m.mux.HandleFunc("GET /v1/vcon", m.withMiddleware(m.handleList))
	m.mux.HandleFunc("POST /v1/vcon/validate", m.withMiddleware(m.handleValidate))
	m.mux.HandleFunc("GET /v1/vcon/{uuid}", m.withMiddleware(m.handleGet))
	m.mux.HandleFunc("POST /v1/vcon/{uuid}/tags", m.withMiddleware(m.handleTag))
	m.mux.HandleFunc("GET /v1/vcon/{uuid}/archive", m.withMiddleware(m.handleArchiveURL))
	m.mux.HandleFunc("OPTIONS /v1/", m.withMiddleware(func(w http.ResponseWriter, r *http.Request) {}))

	return m.mux
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMiddleware applies CORS, correlation ids, authentication, request
// logging and HTTP metrics to h.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if origin := r.Header.Get("Origin"); origin != "" && m.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, X-Correlation-Id")
				w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Add correlation ID if not present
		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID)
		ctx = event.WithCorrelationID(ctx, correlationID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Correlation-Id", correlationID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			elapsed := time.Since(start)
			m.logRequest(r, rec.status, elapsed, correlationID)
			m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, r.Pattern, strconv.Itoa(rec.status)).Inc()
			m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.Pattern, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())
		}()

		// Apply JWT authentication for mutating endpoints
		if r.Method == http.MethodPost {
			subject, errDef := m.validateJWT(r)
			if errDef != nil {
				errDef.CorrelationID = correlationID
				m.writeErrorDef(rec, errDef)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), ContextKeySubject, subject))
		}

		h(rec, r)
	}
}

func (m *Mux) originAllowed(origin string) bool {
	return slices.Contains(m.opts.CORSAllowedOrigins, "*") || slices.Contains(m.opts.CORSAllowedOrigins, origin)
}

// validateJWT validates the bearer token and returns its subject.
func (m *Mux) validateJWT(r *http.Request) (string, *errordefs.Error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errordefs.New(errordefs.VCON_AUTHN, "missing Authorization header", "")
	}
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenString == "" {
		return "", errordefs.New(errordefs.VCON_AUTHN, "invalid Authorization header format", "")
	}

	claims, err := m.jwksClient.ValidateJWT(r.Context(), tokenString, m.opts.JWTIssuer, m.opts.JWTAudience)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", errordefs.New(errordefs.VCON_JWT_EXPIRED, "JWT token expired", "")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "", errordefs.New(errordefs.VCON_JWT_MALFORMED, "malformed JWT", "")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "", errordefs.New(errordefs.VCON_JWT_INVALID, "invalid JWT issuer", "")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "", errordefs.New(errordefs.VCON_JWT_INVALID, "invalid JWT audience", "")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", errordefs.New(errordefs.VCON_JWT_INVALID, "invalid JWT signature", "")
	default:
		return "", errordefs.New(errordefs.VCON_JWT_INVALID, fmt.Sprintf("failed to validate JWT: %v", err), "")
	}

	subject, _ := claims.GetSubject()
	return subject, nil
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

// writeError writes an error response following the registry error taxonomy
func (m *Mux) writeError(w http.ResponseWriter, statusCode int, code, message, correlationID string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	}
	if details != nil {
		body["details"] = details
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
}

// writeErrorDef writes an error response using the error definitions package
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	m.writeError(w, err.HTTPStatus, string(err.Code), err.Message, err.CorrelationID, err.Details)
}

// fail writes an error with code for the current request.
func (m *Mux) fail(w http.ResponseWriter, ctx context.Context, code errordefs.ErrorCode, message string) {
	m.writeErrorDef(w, errordefs.New(code, message, correlationID(ctx)))
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	if subject := subjectOf(r.Context()); subject != "" {
		attrs = append(attrs, slog.String("subject", subject))
	}

	switch {
	case status >= 500:
		slog.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	case status >= 400:
		slog.LogAttrs(r.Context(), slog.LevelWarn, "request rejected", attrs...)
	default:
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyCorrelationID).(string)
	return id
}

func subjectOf(ctx context.Context) string {
	s, _ := ctx.Value(ContextKeySubject).(string)
	return s
}

// newRKey returns a ULID so record keys sort in write order.
func newRKey() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func hashHex(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports whether storage answers.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// A missing submitter means the store answered.
	_, err := m.s.GetSubmitter(ctx, "health-check")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "readiness probe failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
