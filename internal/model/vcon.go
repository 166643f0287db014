// Package model defines the data structures used throughout the vCon registry.
// These structures represent submitters, stored vCon documents and the audit log.
package model

import (
	"encoding/json"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/pkg/vcon"
)

// Submitter is the authenticated principal (the JWT subject) that registers vCons.
// This corresponds to the submitters table in storage.
type Submitter struct {
	ID        string    `json:"id" db:"id"`                // JWT subject (unique)
	CreatedAt time.Time `json:"createdAt" db:"created_at"` // First time the submitter was seen
}

// VconRecord is one registered vCon document.
// Document holds the canonical encoding produced by the engine, never the raw request body.
// This corresponds to the vcons table in storage.
type VconRecord struct {
	UUID       string          `json:"uuid" db:"uuid"`                        // vCon uuid (unique)
	RKey       string          `json:"rkey" db:"rkey"`                        // ULID ordering key
	Submitter  string          `json:"submitter" db:"submitter"`              // Who registered the document
	Version    string          `json:"vcon" db:"version"`                     // vCon syntax version
	Subject    string          `json:"subject,omitempty" db:"subject"`        // Conversation subject, if any
	Document   json.RawMessage `json:"document" db:"document"`                // Canonical JSON encoding
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`             // Document created_at
	UpdatedAt  *time.Time      `json:"updatedAt,omitempty" db:"updated_at"`   // Document updated_at
	IndexedAt  time.Time       `json:"indexedAt" db:"indexed_at"`             // When the registry stored it
	ArchiveKey string          `json:"archiveKey,omitempty" db:"archive_key"` // Object key in the archive bucket
	Revision   int64           `json:"revision" db:"revision"`                // Starts at 1, bumped by every update
}

// RecordFromVcon builds the stored form of v. The caller fills RKey,
// Submitter, IndexedAt and ArchiveKey.
func RecordFromVcon(v *vcon.Vcon) (VconRecord, error) {
	doc, err := v.ToJSON()
	if err != nil {
		return VconRecord{}, err
	}
	rec := VconRecord{
		UUID:      v.UUID,
		Version:   string(v.Vcon),
		Subject:   v.Subject.OrElse(""),
		Document:  doc,
		CreatedAt: v.CreatedAt.Time(),
	}
	if ts, ok := v.UpdatedAt.Get(); ok {
		t := ts.Time()
		rec.UpdatedAt = &t
	}
	return rec, nil
}

// Decode rebuilds the engine value from the stored document.
func (r VconRecord) Decode() (*vcon.Vcon, error) {
	return vcon.BuildFromJSON(r.Document)
}

// OperationLogEntry represents an entry in the operation log.
// This corresponds to the op_log table in storage.
type OperationLogEntry struct {
	Sequence   int64          `json:"sequence" db:"seq"`           // Sequential operation ID
	Type       string         `json:"type" db:"type"`              // vcon.created, vcon.updated
	Reference  string         `json:"reference" db:"ref"`          // uuid of the affected vCon
	Submitter  string         `json:"submitter" db:"submitter"`    // Who performed the operation
	Payload    map[string]any `json:"payload" db:"payload"`        // Operation details
	OccurredAt time.Time      `json:"occurredAt" db:"occurred_at"` // When the operation occurred
}

// Operation types recorded in the log and announced as events.
const (
	OpVconCreated = "vcon.created"
	OpVconUpdated = "vcon.updated"
)

// ListVconsQuery represents the query parameters for listing vCons.
type ListVconsQuery struct {
	Submitter string    `json:"submitter"` // Filter by submitter; empty lists every submitter
	Limit     int       `json:"limit"`     // Maximum number of records to return
	Cursor    string    `json:"cursor"`    // Pagination cursor
	Since     time.Time `json:"since"`     // Only records indexed at or after this time
	Until     time.Time `json:"until"`     // Only records indexed at or before this time
}

// ListVconsResult represents one page of vCons, newest first.
type ListVconsResult struct {
	Records    []VconRecord `json:"records"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// IngestResponse is returned after a vCon has been registered.
type IngestResponse struct {
	UUID       string    `json:"uuid"`
	RKey       string    `json:"rkey"`
	IndexedAt  time.Time `json:"indexedAt"`
	ArchiveKey string    `json:"archiveKey,omitempty"`
}

// Validation phases, in the order they run.
const (
	PhaseSchema    = "schema"
	PhaseStructure = "structure"
	PhaseReference = "reference"
)

// ValidateResponse reports the outcome of a dry-run validation. Phase names
// the first phase that failed and is empty for valid documents.
type ValidateResponse struct {
	Valid      bool             `json:"valid"`
	Phase      string           `json:"phase,omitempty"`
	Violations []vcon.Violation `json:"violations"`
}

// TagRequest sets one tag on a registered vCon.
type TagRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TagResponse carries the tags after an update.
type TagResponse struct {
	UUID      string            `json:"uuid"`
	Tags      map[string]string `json:"tags"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// ArchiveURLResponse is a time-limited link to an archived document version.
type ArchiveURLResponse struct {
	UUID       string    `json:"uuid"`
	ArchiveKey string    `json:"archiveKey"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
