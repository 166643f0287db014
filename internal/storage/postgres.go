package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgres provides persistent storage for submitters, documents and the audit log.
type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

// NewPostgres connects to dsn, verifies the connection and creates the
// schema when it does not exist yet.
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates all required tables and indexes if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS submitters (
		    id TEXT PRIMARY KEY,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		-- document holds the canonical encoding; JSONB keeps it queryable
		CREATE TABLE IF NOT EXISTS vcons (
		    uuid TEXT PRIMARY KEY,
		    rkey TEXT NOT NULL UNIQUE,
		    submitter TEXT NOT NULL REFERENCES submitters(id),
		    version TEXT NOT NULL,
		    subject TEXT NOT NULL DEFAULT '',
		    document JSONB NOT NULL,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    updated_at TIMESTAMP WITH TIME ZONE,
		    indexed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    archive_key TEXT NOT NULL DEFAULT '',
		    revision BIGINT NOT NULL DEFAULT 1
		);

		ALTER TABLE vcons ADD COLUMN IF NOT EXISTS revision BIGINT NOT NULL DEFAULT 1;

		CREATE INDEX IF NOT EXISTS idx_vcons_submitter_indexed_at ON vcons(submitter, indexed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_vcons_indexed_at ON vcons(indexed_at DESC, rkey);

		CREATE TABLE IF NOT EXISTS idempotency (
		    key_hash TEXT PRIMARY KEY,
		    request_hash TEXT NOT NULL,
		    response_body BYTEA NOT NULL,
		    response_status INTEGER NOT NULL,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    expires_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_idempotency_expires_at ON idempotency(expires_at);

		-- Operation log table (append-only) for audit trail
		CREATE TABLE IF NOT EXISTS op_log (
		    seq BIGSERIAL PRIMARY KEY,
		    type TEXT NOT NULL,
		    ref TEXT NOT NULL,
		    submitter TEXT NOT NULL REFERENCES submitters(id),
		    payload JSONB NOT NULL,
		    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_op_log_ref ON op_log(ref);
		CREATE INDEX IF NOT EXISTS idx_op_log_occurred_at ON op_log(occurred_at);
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (p *postgres) CreateSubmitter(ctx context.Context, id string) error {
	_, err := p.db.Exec(ctx, `INSERT INTO submitters (id, created_at) VALUES ($1, $2)`, id, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create submitter: %w", err)
	}
	return nil
}

func (p *postgres) GetSubmitter(ctx context.Context, id string) (*model.Submitter, error) {
	var s model.Submitter
	err := p.db.QueryRow(ctx, `SELECT id, created_at FROM submitters WHERE id = $1`, id).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get submitter: %w", err)
	}
	return &s, nil
}

func (p *postgres) CreateVcon(ctx context.Context, rec model.VconRecord) error {
	if _, err := p.GetSubmitter(ctx, rec.Submitter); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("submitter %q: %w", rec.Submitter, ErrNotFound)
		}
		return fmt.Errorf("failed to check submitter: %w", err)
	}

	query := `INSERT INTO vcons (uuid, rkey, submitter, version, subject, document, created_at, updated_at, indexed_at, archive_key)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := p.db.Exec(ctx, query,
		rec.UUID,
		rec.RKey,
		rec.Submitter,
		rec.Version,
		rec.Subject,
		[]byte(rec.Document),
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.IndexedAt,
		rec.ArchiveKey)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create vcon: %w", err)
	}
	return nil
}

const selectVcon = `SELECT uuid, rkey, submitter, version, subject, document, created_at, updated_at, indexed_at, archive_key, revision FROM vcons`

func scanVcon(row pgx.Row) (*model.VconRecord, error) {
	var rec model.VconRecord
	var doc []byte
	err := row.Scan(
		&rec.UUID,
		&rec.RKey,
		&rec.Submitter,
		&rec.Version,
		&rec.Subject,
		&doc,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.IndexedAt,
		&rec.ArchiveKey,
		&rec.Revision,
	)
	if err != nil {
		return nil, err
	}
	rec.Document = json.RawMessage(doc)
	return &rec, nil
}

func (p *postgres) GetVcon(ctx context.Context, uuid string) (*model.VconRecord, error) {
	rec, err := scanVcon(p.db.QueryRow(ctx, selectVcon+` WHERE uuid = $1`, uuid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get vcon: %w", err)
	}
	return rec, nil
}

// UpdateVcon is a compare-and-swap on the revision column.
func (p *postgres) UpdateVcon(ctx context.Context, rec model.VconRecord) error {
	query := `UPDATE vcons SET version = $1, subject = $2, document = $3, created_at = $4, updated_at = $5,
	          archive_key = COALESCE(NULLIF($6, ''), archive_key), revision = revision + 1
	          WHERE uuid = $7 AND revision = $8`

	result, err := p.db.Exec(ctx, query,
		rec.Version,
		rec.Subject,
		[]byte(rec.Document),
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.ArchiveKey,
		rec.UUID,
		rec.Revision)
	if err != nil {
		return fmt.Errorf("failed to update vcon: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vcons WHERE uuid = $1)`, rec.UUID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check vcon: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStale
}

// ListVcons lists documents newest first with cursor-based pagination.
func (p *postgres) ListVcons(ctx context.Context, q model.ListVconsQuery) (*model.ListVconsResult, error) {
	query := selectVcon + ` WHERE TRUE`
	args := []any{}
	argIndex := 1

	if q.Submitter != "" {
		query += fmt.Sprintf(" AND submitter = $%d", argIndex)
		args = append(args, q.Submitter)
		argIndex++
	}

	if !q.Since.IsZero() {
		query += fmt.Sprintf(" AND indexed_at >= $%d", argIndex)
		args = append(args, q.Since)
		argIndex++
	}

	if !q.Until.IsZero() {
		query += fmt.Sprintf(" AND indexed_at <= $%d", argIndex)
		args = append(args, q.Until)
		argIndex++
	}

	if q.Cursor != "" {
		cursor, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		query += fmt.Sprintf(" AND (indexed_at < $%d OR (indexed_at = $%d AND rkey > $%d))", argIndex, argIndex, argIndex+1)
		args = append(args, cursor.LastIndexedAt, cursor.LastRKey)
		argIndex += 2
	}

	limit := pageSize(q.Limit)
	query += fmt.Sprintf(" ORDER BY indexed_at DESC, rkey ASC LIMIT $%d", argIndex)
	// One extra row tells whether another page exists.
	args = append(args, limit+1)

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list vcons: %w", err)
	}
	defer rows.Close()

	records := make([]model.VconRecord, 0, limit)
	more := false
	for rows.Next() {
		if len(records) == limit {
			more = true
			break
		}
		rec, err := scanVcon(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vcon: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vcons: %w", err)
	}

	result := &model.ListVconsResult{Records: records}
	if more {
		last := records[len(records)-1]
		result.NextCursor = encodeCursor(last.IndexedAt, last.RKey)
	}
	return result, nil
}

func (p *postgres) AppendOperation(ctx context.Context, entry model.OperationLogEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal operation payload: %w", err)
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO op_log (type, ref, submitter, payload, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.Type, entry.Reference, entry.Submitter, payload, entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}
	return nil
}

// StoreIdempotentResponse stores an idempotent response. A live entry
// under the same key for another request is a conflict.
func (p *postgres) StoreIdempotentResponse(ctx context.Context, keyHash, requestHash string, responseBody []byte, statusCode int, expiresAt time.Time) error {
	query := `INSERT INTO idempotency (key_hash, request_hash, response_body, response_status, created_at, expires_at)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (key_hash) DO UPDATE
	          SET request_hash = $2, response_body = $3, response_status = $4, created_at = $5, expires_at = $6
	          WHERE idempotency.request_hash = $2 OR idempotency.expires_at <= $5`

	now := time.Now().UTC()
	result, err := p.db.Exec(ctx, query, keyHash, requestHash, responseBody, statusCode, now, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// GetIdempotentResponse retrieves a live cached response.
func (p *postgres) GetIdempotentResponse(ctx context.Context, keyHash, requestHash string) ([]byte, int, error) {
	query := `SELECT request_hash, response_body, response_status FROM idempotency
	          WHERE key_hash = $1 AND expires_at > $2`

	var storedHash string
	var responseBody []byte
	var statusCode int

	err := p.db.QueryRow(ctx, query, keyHash, time.Now().UTC()).Scan(&storedHash, &responseBody, &statusCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to get idempotent response: %w", err)
	}
	if storedHash != requestHash {
		return nil, 0, ErrConflict
	}
	return responseBody, statusCode, nil
}
