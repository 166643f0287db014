package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/archive"
	errordefs "github.com/RegistryAccord/registryaccord-vcon-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/telemetry"
	"github.com/RegistryAccord/registryaccord-vcon-go/pkg/vcon"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// readBody reads the request body up to the configured document size.
func (m *Mux) readBody(w http.ResponseWriter, r *http.Request) ([]byte, *errordefs.Error) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.opts.MaxDocumentSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errordefs.New(errordefs.VCON_TOO_LARGE, "document exceeds the size limit", correlationID(r.Context()))
		}
		return nil, errordefs.New(errordefs.VCON_BAD_REQUEST, "failed to read request body", correlationID(r.Context()))
	}
	return body, nil
}

// rejection maps a failed validation to the error reported for its phase.
func rejection(resp model.ValidateResponse, correlationID string) *errordefs.Error {
	switch resp.Phase {
	case model.PhaseSchema:
		return errordefs.NewWithDetails(errordefs.VCON_SCHEMA_REJECT, "document does not match the vCon schema", correlationID, resp.Violations)
	case model.PhaseReference:
		return errordefs.NewWithDetails(errordefs.VCON_REFERENCE, "document references missing entities", correlationID, resp.Violations)
	default:
		return errordefs.NewWithDetails(errordefs.VCON_STRUCTURE, "document is not a well-formed vCon", correlationID, resp.Violations)
	}
}

// ensureSubmitter records the caller on first use.
func (m *Mux) ensureSubmitter(r *http.Request, subject string) error {
	ctx := r.Context()
	if _, err := m.s.GetSubmitter(ctx, subject); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := m.s.CreateSubmitter(ctx, subject); err != nil && !errors.Is(err, storage.ErrConflict) {
		return err
	}
	return nil
}

// archiveDocument stores one version in the archive and returns its key.
// A failed upload is logged and leaves the record without an archive key.
func (m *Mux) archiveDocument(r *http.Request, rec model.VconRecord) string {
	if m.archive == nil {
		return ""
	}
	key := archive.ObjectKey(rec.UUID, rec.RKey)
	if err := m.archive.PutDocument(r.Context(), key, rec.Document); err != nil {
		slog.WarnContext(r.Context(), "failed to archive document", "uuid", rec.UUID, "key", key, "error", err)
		return ""
	}
	return key
}

func (m *Mux) appendOperation(r *http.Request, opType string, rec model.VconRecord) {
	entry := model.OperationLogEntry{
		Type:      opType,
		Reference: rec.UUID,
		Submitter: subjectOf(r.Context()),
		Payload: map[string]any{
			"rkey":       rec.RKey,
			"archiveKey": rec.ArchiveKey,
		},
		OccurredAt: time.Now().UTC(),
	}
	if err := m.s.AppendOperation(r.Context(), entry); err != nil {
		slog.WarnContext(r.Context(), "failed to append operation", "type", opType, "uuid", rec.UUID, "error", err)
	}
}

// handleIngest handles POST /v1/vcon with idempotency support
func (m *Mux) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "handleIngest")
	defer span.End()
	r = r.WithContext(ctx)
	corr := correlationID(ctx)
	subject := subjectOf(ctx)

	body, errDef := m.readBody(w, r)
	if errDef != nil {
		span.SetStatus(codes.Error, errDef.Message)
		m.writeErrorDef(w, errDef)
		return
	}

	// Replay a stored response when the key was seen with the same request
	idemKey := r.Header.Get("Idempotency-Key")
	var keyHash, requestHash string
	if idemKey != "" {
		keyHash = hashHex([]byte(idemKey))
		requestHash = hashHex([]byte(subject), body)
		responseBody, statusCode, err := m.s.GetIdempotentResponse(ctx, keyHash, requestHash)
		switch {
		case err == nil:
			span.SetAttributes(attribute.Bool("idempotent_replay", true))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(statusCode)
			_, _ = w.Write(responseBody)
			return
		case errors.Is(err, storage.ErrConflict):
			m.fail(w, ctx, errordefs.VCON_CONFLICT, "idempotency key conflict: different payload for same key")
			return
		case !errors.Is(err, storage.ErrNotFound):
			slog.WarnContext(ctx, "failed to read idempotent response", "error", err)
		}
	}

	v, result := m.check(ctx, body)
	if !result.Valid {
		span.SetStatus(codes.Error, "validation failed in phase "+result.Phase)
		m.writeErrorDef(w, rejection(result, corr))
		return
	}
	span.SetAttributes(attribute.String("vcon.uuid", v.UUID))

	rec, err := model.RecordFromVcon(v)
	if err != nil {
		m.fail(w, ctx, errordefs.VCON_INTERNAL, "failed to encode document")
		return
	}

	if _, err := m.s.GetVcon(ctx, rec.UUID); err == nil {
		m.fail(w, ctx, errordefs.VCON_CONFLICT, "vcon already registered")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		m.fail(w, ctx, errordefs.VCON_INTERNAL, "failed to check for existing vcon")
		return
	}

	if err := m.ensureSubmitter(r, subject); err != nil {
		m.fail(w, ctx, errordefs.VCON_INTERNAL, "failed to record submitter")
		return
	}

	rec.RKey = newRKey()
	rec.Submitter = subject
	rec.IndexedAt = time.Now().UTC()
	rec.ArchiveKey = m.archiveDocument(r, rec)

	if err := m.s.CreateVcon(ctx, rec); err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, storage.ErrConflict) {
			m.fail(w, ctx, errordefs.VCON_CONFLICT, "vcon already registered")
			return
		}
		m.fail(w, ctx, errordefs.VCON_INTERNAL, "failed to store vcon")
		return
	}

	m.appendOperation(r, model.OpVconCreated, rec)
	if err := m.p.PublishVconCreated(ctx, rec); err != nil {
		slog.WarnContext(ctx, "failed to publish vcon created event", "uuid", rec.UUID, "error", err)
	}

	response := model.IngestResponse{
		UUID:       rec.UUID,
		RKey:       rec.RKey,
		IndexedAt:  rec.IndexedAt,
		ArchiveKey: rec.ArchiveKey,
	}

	if idemKey != "" {
		responseBody, _ := json.Marshal(map[string]any{"data": response})
		expiresAt := time.Now().UTC().Add(idempotencyTTL)
		if err := m.s.StoreIdempotentResponse(ctx, keyHash, requestHash, responseBody, http.StatusCreated, expiresAt); err != nil {
			slog.WarnContext(ctx, "failed to store idempotent response", "error", err)
		}
	}

	m.writeSuccess(w, http.StatusCreated, response)
}

// handleValidate handles POST /v1/vcon/validate. It reports violations
// without storing anything.
func (m *Mux) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "handleValidate")
	defer span.End()
	r = r.WithContext(ctx)

	body, errDef := m.readBody(w, r)
	if errDef != nil {
		m.writeErrorDef(w, errDef)
		return
	}
	_, result := m.check(ctx, body)
	m.writeSuccess(w, http.StatusOK, result)
}

// handleGet handles GET /v1/vcon/{uuid}
func (m *Mux) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "handleGet")
	defer span.End()

	id := r.PathValue("uuid")
	span.SetAttributes(attribute.String("vcon.uuid", id))

	rec, err := m.s.GetVcon(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.fail(w, ctx, errordefs.VCON_NOT_FOUND, "vcon not found")
			return
		}
		span.SetStatus(codes.Error, err.Error())
		m.fail(w, ctx, errordefs.VCON_INTERNAL, "failed to get vcon")
		return
	}
	m.writeSuccess(w, http.StatusOK, rec)
}

// handleList handles GET /v1/vcon with cursor pagination, newest first.
func (m *Mux) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "handleList")
	defer span.End()

	q := r.URL.Query()
	query := model.ListVconsQuery{
		Submitter: q.Get("submitter"),
		Cursor:    q.Get("cursor"),
		Limit:     m.opts.DefaultListLimit,
	}

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			m.fail(w, ctx, errordefs.VCON_VALIDATION, "limit must be a positive integer")
			return
		}
		query.Limit = min(limit, m.opts.MaxListLimit)
	}
	for name, dst := range map[string]*time.Time{"since": &query.Since, "until": &query.Until} {
		s := q.Get(name)
		if s == "" {
			continue
		}
		ts, err := vcon.ParseTimestamp(s)
		if err != nil {
			m.fail(w, ctx, errordefs.VCON_VALIDATION, name+" must be an ISO 8601 timestamp")
			return
		}
		*dst = ts.Time()
	}
	span.SetAttributes(
		attribute.Int("limit", query.Limit),
		attribute.Bool("has_cursor", query.Cursor != ""),
	)

	result, err := m.s.ListVcons(ctx, query)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			m.fail(w, ctx, errordefs.VCON_CURSOR_INVALID, "invalid cursor")
			return
		}
		span.SetStatus(codes.Error, err.Error())
		m.fail(w, ctx, errordefs.VCON_INTERNAL, "failed to list vcons")
		return
	}
	m.writeSuccess(w, http.StatusOK, result)
}

// handleTag handles POST /v1/vcon/{uuid}/tags. Only the submitter that
// registered a vCon may tag it.
func (m *Mux) handleTag(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "handleTag")
	defer span.End()
	r = r.WithContext(ctx)

	id := r.PathValue("uuid")
	span.SetAttributes(attribute.String("vcon.uuid", id))

	body, errDef := m.readBody(w, r)
	if errDef != nil {
		m.writeErrorDef(w, errDef)
		return
	}
	var req model.TagRequest
	if err := json.Unmarshal(body, &req); err != nil {
		m.fail(w, ctx, errordefs.VCON_VALIDATION, "invalid JSON")
		return
	}
	if req.Name == "" {
		m.fail(w, ctx, errordefs.VCON_VALIDATION, "name is required")
		return
	}

	// The lock orders tag requests within this process; the revision check
	// in UpdateVcon fences writers in other processes.
	unlock := m.locks.lock(id)
	defer unlock()

	var (
		rec model.VconRecord
		v   *vcon.Vcon
	)
	for attempt := 1; ; attempt++ {
		stored, err := m.s.GetVcon(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				m.fail(w, ctx, errordefs.VCON_NOT_FOUND, "vcon not found")
				return
			}
			m.fail(w, ctx, errordefs.VCON_INTERNAL, "failed to get vcon")
			return
		}
		if stored.Submitter != subjectOf(ctx) {
			m.fail(w, ctx, errordefs.VCON_AUTHZ, "only the submitter may tag this vcon")
			return
		}

		v, err = stored.Decode()
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			m.fail(w, ctx, errordefs.VCON_INTERNAL, "stored document no longer decodes")
			return
		}
		v.AddTag(req.Name, req.Value)

		rec, err = model.RecordFromVcon(v)
		if err != nil {
			m.fail(w, ctx, errordefs.VCON_INTERNAL, "failed to encode document")
			return
		}
		rec.RKey = stored.RKey
		rec.Submitter = stored.Submitter
		rec.IndexedAt = stored.IndexedAt
		rec.ArchiveKey = stored.ArchiveKey
		rec.Revision = stored.Revision
		if m.archive != nil {
			version := rec
			version.RKey = newRKey()
			if key := m.archiveDocument(r, version); key != "" {
				rec.ArchiveKey = key
			}
		}

		err = m.s.UpdateVcon(ctx, rec)
		if err == nil {
			rec.Revision++
			break
		}
		if errors.Is(err, storage.ErrStale) && attempt < maxUpdateAttempts {
			slog.DebugContext(ctx, "vcon changed during tag update, retrying", "uuid", id, "attempt", attempt)
			continue
		}
		switch {
		case errors.Is(err, storage.ErrNotFound):
			m.fail(w, ctx, errordefs.VCON_NOT_FOUND, "vcon not found")
		case errors.Is(err, storage.ErrStale):
			m.fail(w, ctx, errordefs.VCON_CONFLICT, "vcon changed concurrently, retry the request")
		default:
			m.fail(w, ctx, errordefs.VCON_INTERNAL, "failed to update vcon")
		}
		return
	}

	m.appendOperation(r, model.OpVconUpdated, rec)
	if err := m.p.PublishVconUpdated(ctx, rec); err != nil {
		slog.WarnContext(ctx, "failed to publish vcon updated event", "uuid", rec.UUID, "error", err)
	}

	m.writeSuccess(w, http.StatusOK, model.TagResponse{
		UUID:      rec.UUID,
		Tags:      v.Tags(),
		UpdatedAt: *rec.UpdatedAt,
	})
}

// handleArchiveURL handles GET /v1/vcon/{uuid}/archive and returns a
// presigned link to the latest archived version.
func (m *Mux) handleArchiveURL(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "handleArchiveURL")
	defer span.End()

	id := r.PathValue("uuid")
	rec, err := m.s.GetVcon(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.fail(w, ctx, errordefs.VCON_NOT_FOUND, "vcon not found")
			return
		}
		m.fail(w, ctx, errordefs.VCON_INTERNAL, "failed to get vcon")
		return
	}
	if m.archive == nil || rec.ArchiveKey == "" {
		m.fail(w, ctx, errordefs.VCON_NOT_FOUND, "vcon has no archived copy")
		return
	}

	url, err := m.archive.DownloadURL(ctx, rec.ArchiveKey, archiveURLExpiry)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.fail(w, ctx, errordefs.VCON_UNAVAILABLE, "failed to sign archive URL")
		return
	}
	m.writeSuccess(w, http.StatusOK, model.ArchiveURLResponse{
		UUID:       rec.UUID,
		ArchiveKey: rec.ArchiveKey,
		URL:        url,
		ExpiresAt:  time.Now().UTC().Add(archiveURLExpiry),
	})
}
