package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
)

// memory implements the Store interface using in-memory storage.
// It's intended for development and testing purposes.
type memory struct {
	mu          sync.RWMutex                   // Protects every map below
	submitters  map[string]*model.Submitter    // Submitter id to submitter
	vcons       map[string]*model.VconRecord   // uuid to record
	opLog       []model.OperationLogEntry      // Append-only audit log
	idempotency map[string]*IdempotentResponse // Key hash to stored response
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{
		submitters:  make(map[string]*model.Submitter),
		vcons:       make(map[string]*model.VconRecord),
		idempotency: make(map[string]*IdempotentResponse),
	}
}

func (m *memory) CreateSubmitter(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.submitters[id]; exists {
		return ErrConflict
	}
	m.submitters[id] = &model.Submitter{ID: id, CreatedAt: time.Now().UTC()}
	return nil
}

func (m *memory) GetSubmitter(ctx context.Context, id string) (*model.Submitter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.submitters[id]
	if !exists {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

func (m *memory) CreateVcon(ctx context.Context, rec model.VconRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.submitters[rec.Submitter]; !exists {
		return fmt.Errorf("submitter %q: %w", rec.Submitter, ErrNotFound)
	}
	if _, exists := m.vcons[rec.UUID]; exists {
		return ErrConflict
	}
	stored := cloneRecord(&rec)
	stored.Revision = 1
	m.vcons[rec.UUID] = stored
	return nil
}

func (m *memory) GetVcon(ctx context.Context, uuid string) (*model.VconRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.vcons[uuid]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// UpdateVcon replaces the document and its timestamps when rec carries
// the current revision. Ownership, ordering key and indexing time never
// change.
func (m *memory) UpdateVcon(ctx context.Context, rec model.VconRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.vcons[rec.UUID]
	if !exists {
		return ErrNotFound
	}
	if cur.Revision != rec.Revision {
		return ErrStale
	}
	next := cloneRecord(&rec)
	next.Revision = cur.Revision + 1
	next.RKey = cur.RKey
	next.Submitter = cur.Submitter
	next.IndexedAt = cur.IndexedAt
	if next.ArchiveKey == "" {
		next.ArchiveKey = cur.ArchiveKey
	}
	m.vcons[rec.UUID] = next
	return nil
}

func (m *memory) ListVcons(ctx context.Context, q model.ListVconsQuery) (*model.ListVconsResult, error) {
	var cursor *cursorData
	if q.Cursor != "" {
		c, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		cursor = c
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	filtered := make([]*model.VconRecord, 0, len(m.vcons))
	for _, rec := range m.vcons {
		if q.Submitter != "" && rec.Submitter != q.Submitter {
			continue
		}
		if !q.Since.IsZero() && rec.IndexedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && rec.IndexedAt.After(q.Until) {
			continue
		}
		if cursor != nil && !cursor.after(rec.IndexedAt, rec.RKey) {
			continue
		}
		filtered = append(filtered, rec)
	}

	// Sort by indexedAt descending, then by RKey ascending for stable ordering
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].IndexedAt.Equal(filtered[j].IndexedAt) {
			return filtered[i].RKey < filtered[j].RKey
		}
		return filtered[i].IndexedAt.After(filtered[j].IndexedAt)
	})

	limit := pageSize(q.Limit)
	page := filtered
	if len(page) > limit {
		page = page[:limit]
	}

	result := &model.ListVconsResult{Records: make([]model.VconRecord, len(page))}
	for i, rec := range page {
		result.Records[i] = *cloneRecord(rec)
	}
	if len(filtered) > limit {
		last := page[len(page)-1]
		result.NextCursor = encodeCursor(last.IndexedAt, last.RKey)
	}
	return result, nil
}

func (m *memory) AppendOperation(ctx context.Context, entry model.OperationLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Sequence = int64(len(m.opLog) + 1)
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	m.opLog = append(m.opLog, entry)
	return nil
}

// StoreIdempotentResponse stores an idempotent response in memory
func (m *memory) StoreIdempotentResponse(ctx context.Context, keyHash, requestHash string, responseBody []byte, statusCode int, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, exists := m.idempotency[keyHash]; exists && cur.RequestHash != requestHash && time.Now().UTC().Before(cur.ExpiresAt) {
		return ErrConflict
	}
	m.idempotency[keyHash] = &IdempotentResponse{
		RequestHash:  requestHash,
		ResponseBody: bytes.Clone(responseBody),
		StatusCode:   statusCode,
		ExpiresAt:    expiresAt,
	}
	return nil
}

// GetIdempotentResponse retrieves a cached idempotent response from memory
func (m *memory) GetIdempotentResponse(ctx context.Context, keyHash, requestHash string) ([]byte, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	response, exists := m.idempotency[keyHash]
	if !exists {
		return nil, 0, ErrNotFound
	}
	if time.Now().UTC().After(response.ExpiresAt) {
		delete(m.idempotency, keyHash)
		return nil, 0, ErrNotFound
	}
	if response.RequestHash != requestHash {
		return nil, 0, ErrConflict
	}
	return bytes.Clone(response.ResponseBody), response.StatusCode, nil
}

func cloneRecord(rec *model.VconRecord) *model.VconRecord {
	out := *rec
	out.Document = bytes.Clone(rec.Document)
	if rec.UpdatedAt != nil {
		t := *rec.UpdatedAt
		out.UpdatedAt = &t
	}
	return &out
}
