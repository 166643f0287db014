// Package storage persists registered vCon documents.
// It provides an in-memory store for development, a PostgreSQL store for
// production and a redis read-through cache that wraps either.
package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound      = errors.New("not found")      // No document, submitter or response under the key
	ErrConflict      = errors.New("conflict")       // Duplicate uuid or reused idempotency key
	ErrInvalidCursor = errors.New("invalid cursor") // Cursor could not be decoded
	ErrStale         = errors.New("stale revision") // Document changed since it was read
)

// Store defines the storage operations required by the registry.
type Store interface {
	// Documents. CreateVcon returns ErrConflict when the uuid exists;
	// GetVcon and UpdateVcon return ErrNotFound when it does not.
	// CreateVcon stores revision 1. UpdateVcon applies only when
	// rec.Revision is the stored revision, returns ErrStale otherwise, and
	// bumps the revision. ListVcons returns newest first.
	CreateVcon(ctx context.Context, rec model.VconRecord) error
	GetVcon(ctx context.Context, uuid string) (*model.VconRecord, error)
	UpdateVcon(ctx context.Context, rec model.VconRecord) error
	ListVcons(ctx context.Context, q model.ListVconsQuery) (*model.ListVconsResult, error)

	// Submitters
	CreateSubmitter(ctx context.Context, id string) error
	GetSubmitter(ctx context.Context, id string) (*model.Submitter, error)

	// Audit log
	AppendOperation(ctx context.Context, entry model.OperationLogEntry) error

	// Idempotency. GetIdempotentResponse returns ErrConflict when the key
	// was first used with a different request hash.
	StoreIdempotentResponse(ctx context.Context, keyHash, requestHash string, responseBody []byte, statusCode int, expiresAt time.Time) error
	GetIdempotentResponse(ctx context.Context, keyHash, requestHash string) ([]byte, int, error)
}

// IdempotentResponse represents a cached idempotent response
type IdempotentResponse struct {
	RequestHash  string    // Hash of the request the key was first used with
	ResponseBody []byte    // Cached response body
	StatusCode   int       // HTTP status code
	ExpiresAt    time.Time // When the entry expires
}

// Page size bounds applied when the caller leaves them open.
const (
	defaultPageSize = 25
	maxPageSize     = 1000
)

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}

// cursorData represents the data encoded in a pagination cursor
type cursorData struct {
	LastIndexedAt time.Time `json:"t"` // IndexedAt of the last record returned
	LastRKey      string    `json:"k"` // RKey of the last record returned
}

// encodeCursor encodes cursor data into a base64 string
func encodeCursor(lastIndexedAt time.Time, lastRKey string) string {
	jsonBytes, _ := json.Marshal(cursorData{LastIndexedAt: lastIndexedAt, LastRKey: lastRKey})
	return base64.RawURLEncoding.EncodeToString(jsonBytes)
}

// decodeCursor decodes a base64 cursor string into cursor data
func decodeCursor(cursor string) (*cursorData, error) {
	dataBytes, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var data cursorData
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if data.LastIndexedAt.IsZero() || data.LastRKey == "" {
		return nil, fmt.Errorf("%w: missing position", ErrInvalidCursor)
	}
	return &data, nil
}

// after reports whether a record at (indexedAt, rkey) sorts after the
// cursor position in newest-first order.
func (c *cursorData) after(indexedAt time.Time, rkey string) bool {
	return indexedAt.Before(c.LastIndexedAt) || (indexedAt.Equal(c.LastIndexedAt) && rkey > c.LastRKey)
}
