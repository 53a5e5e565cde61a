package coordinator

import (
	"context"
	"testing"
)

func TestReconcileRemovesOrphanedBlobs(t *testing.T) {
	c, _, blobs, _ := newTestCoordinator()
	ctx := context.Background()
	session := mustCreateSession(t, c)

	ingestTestDocument(t, c, session.ID, "kept.txt", "referenced bytes")

	// A blob no row references, as left by a crash between the blob write
	// and the metadata commit
	if _, err := blobs.Put(ctx, []byte("orphan"), "deadbeef", "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	summary, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if summary.BlobsRemoved != 1 {
		t.Errorf("blobs_removed = %d, want 1", summary.BlobsRemoved)
	}
	if blobs.count() != 1 {
		t.Errorf("blob store holds %d objects, want the referenced one only", blobs.count())
	}
}

func TestReconcileRemovesOrphanedVectors(t *testing.T) {
	c, _, _, vectors := newTestCoordinator()
	ctx := context.Background()

	vectors.injectPoint("ghost-vector", VectorPayload{ChunkID: "gone", SessionID: "gone"})

	summary, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if summary.VectorsRemoved != 1 {
		t.Errorf("vectors_removed = %d, want 1", summary.VectorsRemoved)
	}
	if vectors.count() != 0 {
		t.Errorf("vector store holds %d points, want 0", vectors.count())
	}
}

func TestReconcileHealsLostVectorIDWriteBack(t *testing.T) {
	c, relational, _, vectors := newTestCoordinator()
	ctx := context.Background()
	session := mustCreateSession(t, c)
	doc := ingestTestDocument(t, c, session.ID, "healed.txt", "heal me")

	chunks, err := c.UpsertChunks(ctx, doc.ID, []ChunkSpec{
		{Text: "heal me", Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("UpsertChunks failed: %v", err)
	}
	chunkID := chunks[0].ID

	// Simulate a crash after the vector upsert but before the write-back:
	// the point exists under the chunk-id hint, the row never learned it
	relational.mu.Lock()
	relational.chunks[chunkID].VectorID = ""
	relational.mu.Unlock()

	summary, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if summary.VectorsHealed != 1 {
		t.Errorf("vectors_healed = %d, want 1", summary.VectorsHealed)
	}
	if summary.VectorsRemoved != 0 {
		t.Errorf("healable vector was removed instead")
	}
	healed, err := relational.GetChunk(ctx, chunkID)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if healed.VectorID != chunkID {
		t.Errorf("vector_id = %q, want the chunk id hint %q", healed.VectorID, chunkID)
	}
	if vectors.count() != 1 {
		t.Errorf("vector store holds %d points, want 1", vectors.count())
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	c, _, blobs, vectors := newTestCoordinator()
	ctx := context.Background()

	if _, err := blobs.Put(ctx, []byte("orphan"), "deadbeef", "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	vectors.injectPoint("ghost", VectorPayload{ChunkID: "gone"})

	if _, err := c.Reconcile(ctx); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	second, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if second.BlobsRemoved != 0 || second.VectorsRemoved != 0 || second.VectorsHealed != 0 {
		t.Errorf("second pass did work: %+v", second)
	}
}

func TestDeleteThenReconcileConverges(t *testing.T) {
	c, _, blobs, vectors := newTestCoordinator()
	ctx := context.Background()
	session := mustCreateSession(t, c)

	doc := ingestTestDocument(t, c, session.ID, "doomed.txt", "to be orphaned")
	if _, err := c.UpsertChunks(ctx, doc.ID, []ChunkSpec{
		{Text: "to be", Embedding: []float32{1, 0}},
		{Text: "orphaned", Embedding: []float32{0, 1}},
	}); err != nil {
		t.Fatalf("UpsertChunks failed: %v", err)
	}

	// Physical deletes fail, leaving orphans behind
	vectors.delErr = ErrBackendUnavailable("vector", context.DeadlineExceeded)
	blobs.delErr = ErrBackendUnavailable("blob", context.DeadlineExceeded)
	if err := c.DeleteSession(ctx, session.ID); !IsKind(err, KindPartialFailure) {
		t.Fatalf("expected partial_failure, got %v", err)
	}
	if blobs.count() == 0 || vectors.count() == 0 {
		t.Fatal("expected orphans after the failed physical deletes")
	}

	// Backends recover; one reconciliation pass converges to zero orphans
	vectors.delErr = nil
	blobs.delErr = nil
	summary, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if blobs.count() != 0 {
		t.Errorf("blob store holds %d objects after reconcile, want 0", blobs.count())
	}
	if vectors.count() != 0 {
		t.Errorf("vector store holds %d points after reconcile, want 0", vectors.count())
	}
	if summary.BlobsRemoved != 1 || summary.VectorsRemoved != 2 {
		t.Errorf("summary = %+v, want 1 blob and 2 vectors removed", summary)
	}
}

func TestSystemStatsCountsByStatus(t *testing.T) {
	c, _, _, vectors := newTestCoordinator()
	ctx := context.Background()

	a := mustCreateSession(t, c)
	mustCreateSession(t, c)
	if err := c.ExpireSession(ctx, a.ID); err != nil {
		t.Fatalf("ExpireSession failed: %v", err)
	}
	vectors.injectPoint("v1", VectorPayload{})

	stats, err := c.SystemStats(ctx)
	if err != nil {
		t.Fatalf("SystemStats failed: %v", err)
	}
	if stats.SessionsByStatus["active"] != 1 {
		t.Errorf("active = %d, want 1", stats.SessionsByStatus["active"])
	}
	if stats.SessionsByStatus["expired"] != 1 {
		t.Errorf("expired = %d, want 1", stats.SessionsByStatus["expired"])
	}
	if stats.VectorCount != 1 {
		t.Errorf("vector_count = %d, want 1", stats.VectorCount)
	}
}
