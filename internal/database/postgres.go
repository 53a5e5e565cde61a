package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"docman/internal/coordinator"
	"docman/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements coordinator.RelationalStore over a pgx pool.
// It is the source of truth for entity existence and lifecycle status;
// compare-and-set updates on status columns are its concurrency primitive.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and verifies the connection
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	log.Println("✅ PostgreSQL connected")
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// Ping verifies connectivity for health probes
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Initialize creates the schema if it does not exist
func (p *PostgresStore) Initialize(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			CHECK (expires_at > created_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status_expiry ON sessions (status, expires_at)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			content_hash TEXT NOT NULL,
			storage_key TEXT NOT NULL DEFAULT '',
			size BIGINT NOT NULL,
			mime_type TEXT NOT NULL,
			filename TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_session ON documents (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_storage_key ON documents (storage_key)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_dedup
			ON documents (session_id, content_hash) WHERE status = 'stored'`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			sequence_index INT NOT NULL,
			text TEXT NOT NULL,
			vector_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'ok',
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (document_id, sequence_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_vector ON chunks (vector_id)`,
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema initialization failed: %w", err)
		}
	}
	log.Println("✅ PostgreSQL schema initialized")
	return nil
}

// wrapErr translates driver errors into the coordinator taxonomy without
// leaking backend error text to callers
func wrapErr(entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return coordinator.ErrNotFound(entity, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23xxx: integrity violations surface as conflicts
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "23" {
			return coordinator.ErrConflict(entity, id, "constraint violation")
		}
		return coordinator.ErrBackendUnavailable("postgres", err)
	}
	return coordinator.ErrBackendUnavailable("postgres", err)
}

// --- Sessions ---

const sessionColumns = `id, user_id, status, created_at, expires_at, metadata`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var meta []byte
	if err := row.Scan(&s.ID, &s.UserID, &s.Status, &s.CreatedAt, &s.ExpiresAt, &meta); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Metadata); err != nil {
			return nil, err
		}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	return &s, nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *models.Session) error {
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return coordinator.ErrInvalid("session metadata is not serializable")
	}
	if s.Metadata == nil {
		meta = []byte(`{}`)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, status, created_at, expires_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UserID, s.Status, s.CreatedAt, s.ExpiresAt, meta)
	return wrapErr("session", s.ID, err)
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, wrapErr("session", id, err)
	}
	return s, nil
}

func (p *PostgresStore) UpdateSession(ctx context.Context, id string, mergeMetadata map[string]any, expiresAt *time.Time) (*models.Session, error) {
	merge := mergeMetadata
	if merge == nil {
		merge = map[string]any{}
	}
	mergeJSON, err := json.Marshal(merge)
	if err != nil {
		return nil, coordinator.ErrInvalid("session metadata is not serializable")
	}
	// The status predicate rides with the statement: an expiry change that
	// raced a sweep or finalize must not land on a non-active session
	row := p.pool.QueryRow(ctx,
		`UPDATE sessions
		 SET metadata = metadata || $2::jsonb,
		     expires_at = COALESCE($3::timestamptz, expires_at)
		 WHERE id = $1 AND ($3::timestamptz IS NULL OR status = 'active')
		 RETURNING `+sessionColumns,
		id, mergeJSON, expiresAt)
	s, err := scanSession(row)
	if err != nil {
		if expiresAt != nil && errors.Is(err, pgx.ErrNoRows) {
			// Either the row is gone or the session left active between
			// the caller's read and this write; report which
			cur, getErr := p.GetSession(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return nil, coordinator.ErrSessionInactive(id, string(cur.Status))
		}
		return nil, wrapErr("session", id, err)
	}
	return s, nil
}

func (p *PostgresStore) CompareAndSetSessionStatus(ctx context.Context, id string, expected, next models.SessionStatus) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sessions SET status = $3 WHERE id = $1 AND status = $2`,
		id, expected, next)
	if err != nil {
		return wrapErr("session", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row
		var exists bool
		if err := p.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return wrapErr("session", id, err)
		}
		if !exists {
			return coordinator.ErrNotFound("session", id)
		}
		return coordinator.ErrConflict("session", id,
			fmt.Sprintf("status is no longer %s", expected))
	}
	return nil
}

func (p *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return wrapErr("session", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coordinator.ErrNotFound("session", id)
	}
	return nil
}

func (p *PostgresStore) ListSessions(ctx context.Context, f coordinator.SessionFilter) ([]*models.Session, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.UserID != "" {
		where += ` AND user_id = ` + arg(f.UserID)
	}
	if f.Status != "" {
		where += ` AND status = ` + arg(f.Status)
	}
	if !f.ExpiresBefore.IsZero() {
		where += ` AND expires_at < ` + arg(f.ExpiresBefore)
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapErr("session", "", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ` + arg(f.Offset)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapErr("session", "", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, wrapErr("session", "", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, total, wrapErr("session", "", rows.Err())
}

// --- Documents ---

const documentColumns = `id, session_id, content_hash, storage_key, size, mime_type, filename, metadata, status, created_at, updated_at`

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	var meta []byte
	err := row.Scan(&d.ID, &d.SessionID, &d.ContentHash, &d.StorageKey,
		&d.Size, &d.MimeType, &d.Filename, &meta, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func (p *PostgresStore) CreateDocument(ctx context.Context, d *models.Document) error {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return coordinator.ErrInvalid("document metadata is not serializable")
	}
	if d.Metadata == nil {
		meta = []byte(`{}`)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.SessionID, d.ContentHash, d.StorageKey,
		d.Size, d.MimeType, d.Filename, meta, d.Status, d.CreatedAt, d.UpdatedAt)
	return wrapErr("document", d.ID, err)
}

func (p *PostgresStore) UpdateDocumentMetadata(ctx context.Context, id string, mergeMetadata map[string]any) (*models.Document, error) {
	merge := mergeMetadata
	if merge == nil {
		merge = map[string]any{}
	}
	mergeJSON, err := json.Marshal(merge)
	if err != nil {
		return nil, coordinator.ErrInvalid("document metadata is not serializable")
	}
	row := p.pool.QueryRow(ctx,
		`UPDATE documents
		 SET metadata = metadata || $2::jsonb, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+documentColumns,
		id, mergeJSON)
	d, err := scanDocument(row)
	if err != nil {
		return nil, wrapErr("document", id, err)
	}
	return d, nil
}

func (p *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	d, err := scanDocument(row)
	if err != nil {
		return nil, wrapErr("document", id, err)
	}
	return d, nil
}

func (p *PostgresStore) FindDocumentByHash(ctx context.Context, sessionID, contentHash string) (*models.Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE session_id = $1 AND content_hash = $2 AND status = 'stored'`,
		sessionID, contentHash)
	d, err := scanDocument(row)
	if err != nil {
		return nil, wrapErr("document", "", err)
	}
	return d, nil
}

func (p *PostgresStore) CompareAndSetDocumentStatus(ctx context.Context, id string, expected, next models.DocumentStatus, storageKey string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE documents
		 SET status = $3,
		     storage_key = CASE WHEN $4 <> '' THEN $4 ELSE storage_key END,
		     updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id, expected, next, storageKey)
	if err != nil {
		return wrapErr("document", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := p.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
			return wrapErr("document", id, err)
		}
		if !exists {
			return coordinator.ErrNotFound("document", id)
		}
		return coordinator.ErrConflict("document", id,
			fmt.Sprintf("status is no longer %s", expected))
	}
	return nil
}

func (p *PostgresStore) ListDocuments(ctx context.Context, sessionID string, limit, offset int) ([]*models.Document, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, wrapErr("document", "", err)
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE session_id = $1 ORDER BY created_at`
	args := []any{sessionID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapErr("document", "", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, wrapErr("document", "", err)
		}
		docs = append(docs, d)
	}
	return docs, total, wrapErr("document", "", rows.Err())
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return wrapErr("document", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coordinator.ErrNotFound("document", id)
	}
	return nil
}

func (p *PostgresStore) DeleteDocumentsBySession(ctx context.Context, sessionID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE session_id = $1`, sessionID)
	return wrapErr("document", "", err)
}

// --- Chunks ---

const chunkColumns = `id, document_id, session_id, sequence_index, text, vector_id, status, created_at`

func scanChunk(row pgx.Row) (*models.Chunk, error) {
	var c models.Chunk
	err := row.Scan(&c.ID, &c.DocumentID, &c.SessionID, &c.SequenceIndex,
		&c.Text, &c.VectorID, &c.Status, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertChunks writes all rows inside a single transaction so a batch is
// never half-visible
func (p *PostgresStore) InsertChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return wrapErr("chunk", "", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunks (`+chunkColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.DocumentID, c.SessionID, c.SequenceIndex,
			c.Text, c.VectorID, c.Status, c.CreatedAt); err != nil {
			return wrapErr("chunk", c.ID, err)
		}
	}
	return wrapErr("chunk", "", tx.Commit(ctx))
}

func (p *PostgresStore) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = $1`, id)
	c, err := scanChunk(row)
	if err != nil {
		return nil, wrapErr("chunk", id, err)
	}
	return c, nil
}

func (p *PostgresStore) ListChunks(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	return p.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = $1 ORDER BY sequence_index`, documentID)
}

func (p *PostgresStore) ListChunksBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error) {
	return p.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE session_id = $1 ORDER BY document_id, sequence_index`, sessionID)
}

func (p *PostgresStore) queryChunks(ctx context.Context, query string, arg any) ([]*models.Chunk, error) {
	rows, err := p.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, wrapErr("chunk", "", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, wrapErr("chunk", "", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, wrapErr("chunk", "", rows.Err())
}

func (p *PostgresStore) SetChunkVector(ctx context.Context, id, vectorID string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE chunks SET vector_id = $2, status = 'ok' WHERE id = $1`, id, vectorID)
	if err != nil {
		return wrapErr("chunk", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coordinator.ErrNotFound("chunk", id)
	}
	return nil
}

func (p *PostgresStore) MarkChunkDegraded(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE chunks SET status = 'degraded' WHERE id = $1`, id)
	if err != nil {
		return wrapErr("chunk", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coordinator.ErrNotFound("chunk", id)
	}
	return nil
}

func (p *PostgresStore) DeleteChunks(ctx context.Context, documentID string, ids []string) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1 AND id = ANY($2)`, documentID, ids)
	if err != nil {
		return 0, wrapErr("chunk", "", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *PostgresStore) DeleteChunksBySession(ctx context.Context, sessionID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE session_id = $1`, sessionID)
	return wrapErr("chunk", "", err)
}

// --- Aggregates and reconciliation lookups ---

func (p *PostgresStore) CountSessionContents(ctx context.Context, sessionID string) (int, int, error) {
	var docs, chunks int
	err := p.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM documents WHERE session_id = $1),
			(SELECT COUNT(*) FROM chunks WHERE session_id = $1)`,
		sessionID).Scan(&docs, &chunks)
	if err != nil {
		return 0, 0, wrapErr("session", sessionID, err)
	}
	return docs, chunks, nil
}

func (p *PostgresStore) HasStorageKey(ctx context.Context, storageKey string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE storage_key = $1)`, storageKey).Scan(&exists)
	if err != nil {
		return false, wrapErr("document", "", err)
	}
	return exists, nil
}

// ResolveVectorOwner matches a vector id against either the recorded
// vector_id or the chunk id itself, since the chunk id is the upsert's
// idempotency hint
func (p *PostgresStore) ResolveVectorOwner(ctx context.Context, vectorID string) (*models.Chunk, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE vector_id = $1 OR id::text = $1`, vectorID)
	c, err := scanChunk(row)
	if err != nil {
		return nil, wrapErr("chunk", vectorID, err)
	}
	return c, nil
}
