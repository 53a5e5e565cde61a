package coordinator

import (
	"context"
	"log"
	"log/slog"
	"time"

	"docman/internal/logging"
	"docman/internal/models"
	"docman/internal/services"

	"github.com/google/uuid"
)

const (
	// MaxUploadSize caps ingested document size
	MaxUploadSize = 50 * 1024 * 1024

	// defaultRetries bounds retries of backend calls that failed with
	// a connectivity error
	defaultRetries     = 3
	defaultBackoffBase = 100 * time.Millisecond
)

// AllowedMimeTypes lists the content types accepted for ingestion
var AllowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain":      true,
	"text/markdown":   true,
	"application/rtf": true,
}

// Coordinator sequences logical operations across the relational, blob and
// vector stores. It never holds an in-process lock across a backend call;
// cross-instance exclusion relies entirely on compare-and-set against status
// fields in the relational store, so multiple coordinator instances can run
// concurrently.
type Coordinator struct {
	relational RelationalStore
	blobs      BlobStore
	vectors    VectorStore

	retries     int
	backoffBase time.Duration
}

// New creates a coordinator over explicit store capabilities. Passing the
// stores in (rather than constructing them here) lets tests substitute
// in-memory fakes.
func New(relational RelationalStore, blobs BlobStore, vectors VectorStore) *Coordinator {
	return &Coordinator{
		relational:  relational,
		blobs:       blobs,
		vectors:     vectors,
		retries:     defaultRetries,
		backoffBase: defaultBackoffBase,
	}
}

// withRetry re-runs fn a bounded number of times with exponential backoff,
// but only for connectivity failures. Typed conflicts and not-founds are
// surfaced immediately.
func (c *Coordinator) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < c.retries; attempt++ {
		if err = fn(); err == nil || !IsKind(err, KindBackendUnavailable) {
			return err
		}
		delay := c.backoffBase << attempt
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ErrBackendUnavailable("context", ctx.Err())
		}
	}
	return err
}

func record(operation, backend, status string, start time.Time) {
	if m := services.GetMetrics(); m != nil {
		m.RecordOperation(operation, backend, status, time.Since(start))
	}
}

// removeBlobIfUnreferenced deletes a blob only when no document row still
// references its key. Blobs are content-addressed, so documents holding
// identical bytes share one object; deleting it while any stored document
// points at it would break that document's content.
func (c *Coordinator) removeBlobIfUnreferenced(ctx context.Context, storageKey string) error {
	referenced, err := c.relational.HasStorageKey(ctx, storageKey)
	if err != nil {
		return err
	}
	if referenced {
		return nil
	}
	return c.blobs.Delete(ctx, storageKey)
}

// CreateSession registers a new active session. The expiry must lie in the
// future; expires_at > created_at holds from the first observable state.
func (c *Coordinator) CreateSession(ctx context.Context, userID string, expiresAt time.Time, metadata map[string]any) (*models.Session, error) {
	start := time.Now()
	if userID == "" {
		return nil, ErrInvalid("user_id is required")
	}
	now := time.Now().UTC()
	if !expiresAt.After(now) {
		return nil, ErrInvalid("expires_at must be in the future")
	}

	session := &models.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    models.SessionActive,
		CreatedAt: now,
		ExpiresAt: expiresAt.UTC(),
		Metadata:  metadata,
	}
	if err := session.Validate(); err != nil {
		return nil, ErrInvalid(err.Error())
	}

	if err := c.relational.CreateSession(ctx, session); err != nil {
		record("create_session", "relational", "error", start)
		return nil, err
	}

	logging.WithSession(session.ID, userID).Info("session created", "expires_at", session.ExpiresAt)
	record("create_session", "relational", "success", start)
	return session, nil
}

// GetSession returns a session by id
func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session *models.Session
	err := c.withRetry(ctx, func() error {
		var err error
		session, err = c.relational.GetSession(ctx, sessionID)
		return err
	})
	return session, err
}

// UpdateSession merges metadata into the session and optionally extends its
// expiry. Extension is permitted only while the session is active; metadata
// merges are allowed in any state so that expired sessions stay annotatable.
func (c *Coordinator) UpdateSession(ctx context.Context, sessionID string, mergeMetadata map[string]any, extendBy time.Duration) (*models.Session, error) {
	start := time.Now()
	session, err := c.relational.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var newExpiry *time.Time
	if extendBy > 0 {
		if !session.IsActive() {
			return nil, ErrSessionInactive(sessionID, string(session.Status))
		}
		t := session.ExpiresAt.Add(extendBy)
		newExpiry = &t
	}

	updated, err := c.relational.UpdateSession(ctx, sessionID, mergeMetadata, newExpiry)
	if err != nil {
		record("update_session", "relational", "error", start)
		return nil, err
	}
	record("update_session", "relational", "success", start)
	return updated, nil
}

// ListSessions returns sessions matching the filter plus the total count
func (c *Coordinator) ListSessions(ctx context.Context, f SessionFilter) ([]*models.Session, int, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	return c.relational.ListSessions(ctx, f)
}

// FinalizeSession transitions active -> finalized via compare-and-set and
// snapshots document/chunk counts into the session metadata. A concurrent
// expiration that lands first wins; the caller observes a conflict.
func (c *Coordinator) FinalizeSession(ctx context.Context, sessionID string) (*models.Session, error) {
	start := time.Now()
	if err := c.relational.CompareAndSetSessionStatus(ctx, sessionID, models.SessionActive, models.SessionFinalized); err != nil {
		record("finalize_session", "relational", "error", start)
		return nil, err
	}

	// The session is terminal for writes now, so the counts are exact as of
	// the transition; counting earlier would miss ingests racing the CAS
	docs, chunks, err := c.relational.CountSessionContents(ctx, sessionID)
	if err != nil {
		// The transition itself committed; the snapshot is best-effort
		log.Printf("[COORDINATOR] finalize snapshot failed for session %s: %v", sessionID, err)
		return c.relational.GetSession(ctx, sessionID)
	}

	snapshot := map[string]any{
		"finalized_at":        time.Now().UTC().Format(time.RFC3339),
		"finalized_documents": docs,
		"finalized_chunks":    chunks,
	}
	session, err := c.relational.UpdateSession(ctx, sessionID, snapshot, nil)
	if err != nil {
		log.Printf("[COORDINATOR] finalize snapshot write failed for session %s: %v", sessionID, err)
		return c.relational.GetSession(ctx, sessionID)
	}

	slog.Info("session finalized", "session_id", sessionID, "documents", docs, "chunks", chunks)
	record("finalize_session", "relational", "success", start)
	return session, nil
}

// ExpireSession transitions active -> expired via compare-and-set. Documents
// and chunks are left untouched; physical cleanup is a separate, deliberate
// DeleteSession call.
func (c *Coordinator) ExpireSession(ctx context.Context, sessionID string) error {
	return c.relational.CompareAndSetSessionStatus(ctx, sessionID, models.SessionActive, models.SessionExpired)
}

// DeleteSession removes the session and everything it owns. Relational rows
// go first, child before parent, then the physical artifacts. A crash midway
// therefore leaves orphaned blobs/vectors but never dangling references; the
// reconciliation sweep removes the leftovers.
func (c *Coordinator) DeleteSession(ctx context.Context, sessionID string) error {
	start := time.Now()
	if _, err := c.relational.GetSession(ctx, sessionID); err != nil {
		return err
	}

	chunks, err := c.relational.ListChunksBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	documents, _, err := c.relational.ListDocuments(ctx, sessionID, 0, 0)
	if err != nil {
		return err
	}

	vectorIDs := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		if ch.VectorID != "" {
			vectorIDs = append(vectorIDs, ch.VectorID)
		}
	}
	storageKeys := make([]string, 0, len(documents))
	for _, d := range documents {
		if d.StorageKey != "" {
			storageKeys = append(storageKeys, d.StorageKey)
		}
	}

	// 1. Chunk rows
	if err := c.relational.DeleteChunksBySession(ctx, sessionID); err != nil {
		record("delete_session", "relational", "error", start)
		return err
	}
	// 2. Vectors (rows are gone; a failure here leaves orphans, not dangling refs)
	var orphaned int
	if len(vectorIDs) > 0 {
		if err := c.vectors.Delete(ctx, vectorIDs); err != nil {
			orphaned += len(vectorIDs)
			log.Printf("[COORDINATOR] vector delete failed for session %s, %d vectors left for reconciliation: %v",
				sessionID, len(vectorIDs), err)
		}
	}
	// 3. Document rows
	if err := c.relational.DeleteDocumentsBySession(ctx, sessionID); err != nil {
		record("delete_session", "relational", "error", start)
		return ErrPartialFailure("session", sessionID, "chunk rows removed but document rows remain", err)
	}
	// 4. Blobs. The owning rows are gone, so a key still referenced belongs
	// to another session's document with the same bytes and must survive.
	for _, key := range storageKeys {
		if err := c.removeBlobIfUnreferenced(ctx, key); err != nil {
			orphaned++
			log.Printf("[COORDINATOR] blob delete failed for key %s (session %s), left for reconciliation: %v",
				key, sessionID, err)
		}
	}
	// 5. Session row
	if err := c.relational.DeleteSession(ctx, sessionID); err != nil {
		record("delete_session", "relational", "error", start)
		return ErrPartialFailure("session", sessionID, "child rows removed but session row remains", err)
	}

	slog.Info("session deleted", "session_id", sessionID,
		"documents", len(documents), "chunks", len(chunks), "orphaned_artifacts", orphaned)
	record("delete_session", "relational", "success", start)

	if orphaned > 0 {
		return ErrPartialFailure("session", sessionID, "metadata removed, physical artifacts pending reconciliation", nil)
	}
	return nil
}
