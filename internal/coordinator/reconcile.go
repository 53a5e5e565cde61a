package coordinator

import (
	"context"
	"log"
	"log/slog"

	"docman/internal/models"
	"docman/internal/services"
)

// ReconcileSummary reports one reconciliation pass
type ReconcileSummary struct {
	BlobsScanned   int `json:"blobs_scanned"`
	BlobsRemoved   int `json:"blobs_removed"`
	VectorsScanned int `json:"vectors_scanned"`
	VectorsRemoved int `json:"vectors_removed"`
	VectorsHealed  int `json:"vectors_healed"`
	Errors         int `json:"errors"`
}

// Reconcile removes physical artifacts with no corresponding metadata row
// and heals chunks whose vector_id write-back was lost. The relational store
// is authoritative: a blob or vector it does not reference is an orphan no
// matter why it exists. The pass is idempotent and safe to re-run at any
// time, concurrently with regular traffic.
func (c *Coordinator) Reconcile(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary

	keys, err := c.blobs.ListKeys(ctx)
	if err != nil {
		return summary, err
	}
	for _, key := range keys {
		summary.BlobsScanned++
		referenced, err := c.relational.HasStorageKey(ctx, key)
		if err != nil {
			summary.Errors++
			log.Printf("[RECONCILE] could not resolve blob %s: %v", key, err)
			continue
		}
		if referenced {
			continue
		}
		if err := c.blobs.Delete(ctx, key); err != nil {
			summary.Errors++
			log.Printf("[RECONCILE] could not remove orphaned blob %s: %v", key, err)
			continue
		}
		summary.BlobsRemoved++
	}

	vectorIDs, err := c.vectors.ListIDs(ctx)
	if err != nil {
		return summary, err
	}
	var orphans []string
	for _, id := range vectorIDs {
		summary.VectorsScanned++
		chunk, err := c.relational.ResolveVectorOwner(ctx, id)
		if err != nil {
			if IsKind(err, KindNotFound) {
				orphans = append(orphans, id)
				continue
			}
			summary.Errors++
			log.Printf("[RECONCILE] could not resolve vector %s: %v", id, err)
			continue
		}
		// Owner exists but never learned its vector id: the upsert hint is
		// the chunk id, so the mapping is re-derivable
		if chunk.VectorID == "" {
			if err := c.relational.SetChunkVector(ctx, chunk.ID, id); err != nil {
				summary.Errors++
				log.Printf("[RECONCILE] could not heal vector_id for chunk %s: %v", chunk.ID, err)
				continue
			}
			summary.VectorsHealed++
		}
	}
	if len(orphans) > 0 {
		if err := c.vectors.Delete(ctx, orphans); err != nil {
			summary.Errors++
			log.Printf("[RECONCILE] could not remove %d orphaned vectors: %v", len(orphans), err)
		} else {
			summary.VectorsRemoved = len(orphans)
		}
	}

	if m := services.GetMetrics(); m != nil {
		m.RecordOrphansRemoved("blob", summary.BlobsRemoved)
		m.RecordOrphansRemoved("vector", summary.VectorsRemoved)
	}
	slog.Info("reconciliation pass complete",
		"blobs_removed", summary.BlobsRemoved,
		"vectors_removed", summary.VectorsRemoved,
		"vectors_healed", summary.VectorsHealed,
		"errors", summary.Errors)
	return summary, nil
}

// Stats is the aggregate system view served by the admin surface
type Stats struct {
	SessionsByStatus map[string]int `json:"sessions_by_status"`
	VectorCount      int            `json:"vector_count"`
}

// SystemStats builds a read-only projection over the stores. The vector
// count degrades to zero when the vector store is unreachable rather than
// failing the whole call.
func (c *Coordinator) SystemStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{SessionsByStatus: make(map[string]int)}

	for _, status := range []models.SessionStatus{models.SessionActive, models.SessionExpired, models.SessionFinalized} {
		_, total, err := c.relational.ListSessions(ctx, SessionFilter{Status: status, Limit: 1})
		if err != nil {
			return nil, err
		}
		stats.SessionsByStatus[string(status)] = total
	}

	if ids, err := c.vectors.ListIDs(ctx); err == nil {
		stats.VectorCount = len(ids)
	}
	return stats, nil
}
