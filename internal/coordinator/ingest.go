package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"log/slog"
	"time"

	"docman/internal/logging"
	"docman/internal/models"
	"docman/internal/services"

	"github.com/google/uuid"
)

// ContentHash returns the hex sha256 digest used for content addressing
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IngestDocument stores raw bytes for an active session. The write order is
// fixed: pending row first (the durability anchor), then the blob, then the
// compare-and-set to stored. Each step compensates for the previous ones on
// failure, so the observable outcomes are exactly: stored, failed with no
// blob, or failed with the blob removed.
func (c *Coordinator) IngestDocument(ctx context.Context, sessionID string, data []byte, filename, mimeType string) (*models.Document, error) {
	start := time.Now()

	if len(data) == 0 {
		return nil, ErrInvalid("document is empty")
	}
	if len(data) > MaxUploadSize {
		return nil, ErrInvalid("document exceeds maximum upload size")
	}
	if filename == "" {
		return nil, ErrInvalid("filename is required")
	}
	if !AllowedMimeTypes[mimeType] {
		return nil, ErrInvalid("unsupported content type " + mimeType)
	}

	// 1. The session must exist and accept writes
	session, err := c.relational.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, ErrSessionInactive(sessionID, string(session.Status))
	}

	// 2. Dedup short-circuit: identical bytes already ingested in this
	// session return the existing document without touching any backend
	hash := ContentHash(data)
	if existing, err := c.relational.FindDocumentByHash(ctx, sessionID, hash); err == nil {
		slog.Debug("ingest dedup hit", "session_id", sessionID, "document_id", existing.ID, "content_hash", hash)
		record("ingest_document", "relational", "dedup", start)
		return existing, nil
	} else if !IsKind(err, KindNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		ContentHash: hash,
		Size:        int64(len(data)),
		MimeType:    mimeType,
		Filename:    filename,
		Status:      models.DocumentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// 3. Pending row commits before the blob write starts
	if err := c.relational.CreateDocument(ctx, doc); err != nil {
		record("ingest_document", "relational", "error", start)
		return nil, err
	}

	// 4. Blob write. Nothing to compensate in the blob store on failure;
	// the row flips to failed so the dedup index never matches it.
	var storageKey string
	err = c.withRetry(ctx, func() error {
		var putErr error
		storageKey, putErr = c.blobs.Put(ctx, data, hash, mimeType)
		return putErr
	})
	if err != nil {
		if casErr := c.relational.CompareAndSetDocumentStatus(ctx, doc.ID, models.DocumentPending, models.DocumentFailed, ""); casErr != nil {
			log.Printf("[COORDINATOR] could not mark document %s failed: %v", doc.ID, casErr)
		}
		record("ingest_document", "blob", "error", start)
		return nil, err
	}

	// 5. Promote pending -> stored. If this loses (say the session was
	// deleted mid-flight), the blob is removed unless a stored document in
	// another session shares the same bytes.
	if err := c.relational.CompareAndSetDocumentStatus(ctx, doc.ID, models.DocumentPending, models.DocumentStored, storageKey); err != nil {
		if delErr := c.removeBlobIfUnreferenced(ctx, storageKey); delErr != nil {
			log.Printf("[COORDINATOR] compensation delete failed for blob %s, left for reconciliation: %v", storageKey, delErr)
			record("ingest_document", "relational", "error", start)
			return nil, ErrPartialFailure("document", doc.ID, "metadata commit failed and blob compensation incomplete", err)
		}
		record("ingest_document", "relational", "error", start)
		return nil, err
	}

	doc.StorageKey = storageKey
	doc.Status = models.DocumentStored

	if m := services.GetMetrics(); m != nil {
		m.ObserveUploadSize(len(data))
	}
	logging.WithDocument(logging.WithSession(sessionID, session.UserID), doc.ID, filename).
		Info("document ingested", "size", doc.Size, "content_hash", hash)
	record("ingest_document", "blob", "success", start)
	return doc, nil
}

// GetDocument returns document metadata by id
func (c *Coordinator) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var doc *models.Document
	err := c.withRetry(ctx, func() error {
		var err error
		doc, err = c.relational.GetDocument(ctx, documentID)
		return err
	})
	return doc, err
}

// GetDocumentContent fetches the raw bytes of a stored document from the
// blob store
func (c *Coordinator) GetDocumentContent(ctx context.Context, documentID string) (*models.Document, []byte, error) {
	doc, err := c.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	if doc.Status != models.DocumentStored {
		return nil, nil, ErrNotFound("document content", documentID)
	}
	var data []byte
	err = c.withRetry(ctx, func() error {
		var err error
		data, err = c.blobs.Get(ctx, doc.StorageKey)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return doc, data, nil
}

// ListDocuments returns documents for a session with the total count
func (c *Coordinator) ListDocuments(ctx context.Context, sessionID string, limit, offset int) ([]*models.Document, int, error) {
	if _, err := c.relational.GetSession(ctx, sessionID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 100
	}
	return c.relational.ListDocuments(ctx, sessionID, limit, offset)
}

// UpdateDocumentMetadata merges caller-supplied metadata into the document.
// Keys absent from the merge are preserved.
func (c *Coordinator) UpdateDocumentMetadata(ctx context.Context, documentID string, mergeMetadata map[string]any) (*models.Document, error) {
	start := time.Now()
	if len(mergeMetadata) == 0 {
		return nil, ErrInvalid("no metadata supplied")
	}
	doc, err := c.relational.UpdateDocumentMetadata(ctx, documentID, mergeMetadata)
	if err != nil {
		record("update_document", "relational", "error", start)
		return nil, err
	}
	record("update_document", "relational", "success", start)
	return doc, nil
}

// DeleteDocument removes a single document together with its chunks and their
// vectors, then the blob unless another document shares the same bytes. Rows
// go before physical artifacts, so a crash midway leaves orphans for the
// reconciliation sweep, never dangling references.
func (c *Coordinator) DeleteDocument(ctx context.Context, documentID string) error {
	start := time.Now()
	doc, err := c.relational.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	var orphaned int
	chunksDeleted, err := c.DeleteChunks(ctx, documentID, nil)
	if err != nil {
		if !IsKind(err, KindPartialFailure) {
			record("delete_document", "relational", "error", start)
			return err
		}
		orphaned++
	}

	if err := c.relational.DeleteDocument(ctx, documentID); err != nil {
		record("delete_document", "relational", "error", start)
		return ErrPartialFailure("document", documentID, "chunk rows removed but document row remains", err)
	}

	if doc.StorageKey != "" {
		if err := c.removeBlobIfUnreferenced(ctx, doc.StorageKey); err != nil {
			orphaned++
			log.Printf("[COORDINATOR] blob delete failed for key %s (document %s), left for reconciliation: %v",
				doc.StorageKey, documentID, err)
		}
	}

	slog.Info("document deleted", "document_id", documentID,
		"session_id", doc.SessionID, "chunks", chunksDeleted, "orphaned_artifacts", orphaned)
	record("delete_document", "relational", "success", start)

	if orphaned > 0 {
		return ErrPartialFailure("document", documentID, "metadata removed, physical artifacts pending reconciliation", nil)
	}
	return nil
}
