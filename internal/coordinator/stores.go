package coordinator

import (
	"context"
	"time"

	"docman/internal/models"
)

// SessionFilter narrows a session listing
type SessionFilter struct {
	UserID        string
	Status        models.SessionStatus
	ExpiresBefore time.Time // zero value means no expiry threshold
	Limit         int
	Offset        int
}

// RelationalStore is the capability interface the coordinator needs from the
// metadata database. It is the source of truth for the existence and status
// of sessions, documents and chunks. Compare-and-set on status fields is the
// only cross-instance concurrency primitive; implementations must fail with
// a conflict when the stored status does not match the expected one.
type RelationalStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// UpdateSession merges metadata and optionally replaces expires_at.
	// Keys absent from the merge are preserved. When expiresAt is non-nil
	// the write applies only while the session is still active; the status
	// check travels with the statement so an extension that raced an
	// expiration cannot land, and implementations return a session-inactive
	// error instead.
	UpdateSession(ctx context.Context, id string, mergeMetadata map[string]any, expiresAt *time.Time) (*models.Session, error)
	CompareAndSetSessionStatus(ctx context.Context, id string, expected, next models.SessionStatus) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, f SessionFilter) ([]*models.Session, int, error)

	CreateDocument(ctx context.Context, d *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// FindDocumentByHash returns the stored document with the given content
	// hash inside the session scope, for dedup short-circuiting
	FindDocumentByHash(ctx context.Context, sessionID, contentHash string) (*models.Document, error)
	// CompareAndSetDocumentStatus transitions document status and, when
	// storageKey is non-empty, records it in the same statement
	CompareAndSetDocumentStatus(ctx context.Context, id string, expected, next models.DocumentStatus, storageKey string) error
	// UpdateDocumentMetadata merges metadata into the document row,
	// preserving keys absent from the merge
	UpdateDocumentMetadata(ctx context.Context, id string, mergeMetadata map[string]any) (*models.Document, error)
	ListDocuments(ctx context.Context, sessionID string, limit, offset int) ([]*models.Document, int, error)
	DeleteDocument(ctx context.Context, id string) error
	DeleteDocumentsBySession(ctx context.Context, sessionID string) error

	// InsertChunks writes all rows in a single local transaction
	InsertChunks(ctx context.Context, chunks []*models.Chunk) error
	ListChunks(ctx context.Context, documentID string) ([]*models.Chunk, error)
	ListChunksBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error)
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	SetChunkVector(ctx context.Context, id, vectorID string) error
	MarkChunkDegraded(ctx context.Context, id string) error
	DeleteChunks(ctx context.Context, documentID string, ids []string) (int, error)
	DeleteChunksBySession(ctx context.Context, sessionID string) error

	// CountSessionContents returns document and chunk counts for the
	// finalization snapshot
	CountSessionContents(ctx context.Context, sessionID string) (docs int, chunks int, err error)

	// HasStorageKey and ResolveVectorOwner support the reconciliation sweep.
	// ResolveVectorOwner finds the chunk that owns a vector id, matching
	// either the recorded vector_id or the chunk id itself (the idempotency
	// hint), so a crash before vector_id was persisted is still resolvable.
	HasStorageKey(ctx context.Context, storageKey string) (bool, error)
	ResolveVectorOwner(ctx context.Context, vectorID string) (*models.Chunk, error)

	Ping(ctx context.Context) error
}

// BlobStore is the capability interface for content-addressed object storage.
// Put is idempotent for identical bytes; Delete of a missing key is not an
// error.
type BlobStore interface {
	Put(ctx context.Context, data []byte, contentHash, mimeType string) (storageKey string, err error)
	Get(ctx context.Context, storageKey string) ([]byte, error)
	Delete(ctx context.Context, storageKey string) error
	// ListKeys enumerates stored object keys for the reconciliation sweep
	ListKeys(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// VectorPayload travels with an embedding into the vector store and comes
// back on search hits
type VectorPayload struct {
	ChunkID    string
	DocumentID string
	SessionID  string
	Text       string
}

// VectorHit is one ranked search result from the vector store, ordered by
// descending score with a stable tie-break on vector id
type VectorHit struct {
	VectorID string
	Score    float32
	Payload  VectorPayload
}

// VectorFilter scopes a similarity search
type VectorFilter struct {
	SessionID  string
	DocumentID string
}

// VectorStore is the capability interface for embedding storage and search.
// Upsert with the same hint id is idempotent and replaces the vector in
// place; Delete of unknown ids is not an error.
type VectorStore interface {
	Upsert(ctx context.Context, hintID string, embedding []float32, payload VectorPayload) (vectorID string, err error)
	Search(ctx context.Context, embedding []float32, filter VectorFilter, topK int) ([]VectorHit, error)
	Delete(ctx context.Context, vectorIDs []string) error
	// ListIDs enumerates stored vector ids for the reconciliation sweep
	ListIDs(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}
