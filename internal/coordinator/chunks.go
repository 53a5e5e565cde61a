package coordinator

import (
	"context"
	"log"
	"log/slog"
	"time"

	"docman/internal/models"
	"docman/internal/services"

	"github.com/google/uuid"
)

// ChunkSpec is one chunk to upsert. Input order is authoritative: the
// coordinator assigns sequence_index 0..n-1 in the order given.
type ChunkSpec struct {
	Text      string
	Embedding []float32
}

// SearchHit is one enriched search result
type SearchHit struct {
	Chunk    *models.Chunk `json:"chunk"`
	Document string        `json:"document_filename"`
	Score    float32       `json:"score"`
}

// UpsertChunks inserts chunk rows in one local transaction, then upserts
// each embedding into the vector store using the chunk id as the idempotency
// hint. A persistently failing upsert leaves that chunk degraded with a null
// vector id; searches miss it instead of erroring. A crash between the
// upsert and the vector_id write-back is healed by the reconciliation sweep,
// which re-derives the id from the same hint.
func (c *Coordinator) UpsertChunks(ctx context.Context, documentID string, specs []ChunkSpec) ([]*models.Chunk, error) {
	start := time.Now()
	if len(specs) == 0 {
		return nil, ErrInvalid("no chunks supplied")
	}
	for _, s := range specs {
		if s.Text == "" {
			return nil, ErrInvalid("chunk text must not be empty")
		}
	}

	doc, err := c.relational.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.DocumentStored {
		return nil, ErrInvalid("document is " + string(doc.Status) + ", chunks require a stored document")
	}

	now := time.Now().UTC()
	chunks := make([]*models.Chunk, len(specs))
	for i, spec := range specs {
		chunks[i] = &models.Chunk{
			ID:            uuid.New().String(),
			DocumentID:    documentID,
			SessionID:     doc.SessionID,
			SequenceIndex: i,
			Text:          spec.Text,
			Status:        models.ChunkOK,
			CreatedAt:     now,
		}
	}
	if err := models.ValidateSequence(chunks); err != nil {
		return nil, ErrInvalid(err.Error())
	}

	if err := c.relational.InsertChunks(ctx, chunks); err != nil {
		record("upsert_chunks", "relational", "error", start)
		return nil, err
	}

	degraded := 0
	for i, chunk := range chunks {
		if len(specs[i].Embedding) == 0 {
			continue
		}
		var vectorID string
		err := c.withRetry(ctx, func() error {
			var upErr error
			vectorID, upErr = c.vectors.Upsert(ctx, chunk.ID, specs[i].Embedding, VectorPayload{
				ChunkID:    chunk.ID,
				DocumentID: documentID,
				SessionID:  doc.SessionID,
				Text:       chunk.Text,
			})
			return upErr
		})
		if err != nil {
			degraded++
			chunk.Status = models.ChunkDegraded
			if markErr := c.relational.MarkChunkDegraded(ctx, chunk.ID); markErr != nil {
				log.Printf("[COORDINATOR] could not mark chunk %s degraded: %v", chunk.ID, markErr)
			}
			log.Printf("[COORDINATOR] vector upsert failed persistently for chunk %s (doc %s): %v",
				chunk.ID, documentID, err)
			continue
		}
		// Best-effort write-back; the sweep heals a miss here
		if err := c.relational.SetChunkVector(ctx, chunk.ID, vectorID); err != nil {
			log.Printf("[COORDINATOR] vector_id write-back failed for chunk %s, sweep will heal: %v", chunk.ID, err)
			continue
		}
		chunk.VectorID = vectorID
	}

	slog.Info("chunks upserted", "document_id", documentID,
		"count", len(chunks), "degraded", degraded)
	record("upsert_chunks", "vector", "success", start)
	return chunks, nil
}

// ListChunks returns all chunks for a document in sequence order
func (c *Coordinator) ListChunks(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	if _, err := c.relational.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return c.relational.ListChunks(ctx, documentID)
}

// DeleteChunks removes chunks for a document, either the whole batch or an
// explicit id set, together with their vectors. Partial-sequence deletion by
// range is deliberately unsupported; callers delete whole documents' chunk
// sets or named ids.
func (c *Coordinator) DeleteChunks(ctx context.Context, documentID string, ids []string) (int, error) {
	start := time.Now()
	chunks, err := c.relational.ListChunks(ctx, documentID)
	if err != nil {
		return 0, err
	}

	selected := chunks
	if len(ids) > 0 {
		wanted := make(map[string]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}
		selected = selected[:0]
		for _, ch := range chunks {
			if wanted[ch.ID] {
				selected = append(selected, ch)
			}
		}
	}
	if len(selected) == 0 {
		return 0, nil
	}

	selectedIDs := make([]string, len(selected))
	vectorIDs := make([]string, 0, len(selected))
	for i, ch := range selected {
		selectedIDs[i] = ch.ID
		if ch.VectorID != "" {
			vectorIDs = append(vectorIDs, ch.VectorID)
		}
	}

	deleted, err := c.relational.DeleteChunks(ctx, documentID, selectedIDs)
	if err != nil {
		record("delete_chunks", "relational", "error", start)
		return 0, err
	}
	if len(vectorIDs) > 0 {
		if err := c.vectors.Delete(ctx, vectorIDs); err != nil {
			log.Printf("[COORDINATOR] vector delete failed for document %s, %d vectors left for reconciliation: %v",
				documentID, len(vectorIDs), err)
			return deleted, ErrPartialFailure("chunk", documentID, "rows removed, vectors pending reconciliation", err)
		}
	}

	record("delete_chunks", "relational", "success", start)
	return deleted, nil
}

// SearchChunks runs a similarity search scoped to a session and enriches
// each hit with its relational rows. Hits whose chunk row disappeared in a
// race with deletion are dropped, not surfaced as errors; degraded chunks
// never appear because they have no vector.
func (c *Coordinator) SearchChunks(ctx context.Context, sessionID string, embedding []float32, filter VectorFilter, topK int) ([]SearchHit, error) {
	start := time.Now()
	if len(embedding) == 0 {
		return nil, ErrInvalid("query embedding is required")
	}
	if topK <= 0 {
		topK = 5
	}
	if _, err := c.relational.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	filter.SessionID = sessionID

	var raw []VectorHit
	err := c.withRetry(ctx, func() error {
		var err error
		raw, err = c.vectors.Search(ctx, embedding, filter, topK)
		return err
	})
	if err != nil {
		record("search_chunks", "vector", "error", start)
		return nil, err
	}

	hits := make([]SearchHit, 0, len(raw))
	for _, h := range raw {
		chunk, err := c.relational.GetChunk(ctx, h.Payload.ChunkID)
		if err != nil {
			if IsKind(err, KindNotFound) {
				continue
			}
			return nil, err
		}
		filename := ""
		if doc, err := c.relational.GetDocument(ctx, chunk.DocumentID); err == nil {
			filename = doc.Filename
		}
		hits = append(hits, SearchHit{Chunk: chunk, Document: filename, Score: h.Score})
	}

	if m := services.GetMetrics(); m != nil {
		m.ObserveSearch(time.Since(start), len(hits))
	}
	record("search_chunks", "vector", "success", start)
	return hits, nil
}
