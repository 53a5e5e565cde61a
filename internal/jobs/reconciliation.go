package jobs

import (
	"context"
	"log"
	"time"

	"docman/internal/coordinator"
)

// Reconciler is the slice of the coordinator the reconciliation job needs
type Reconciler interface {
	Reconcile(ctx context.Context) (coordinator.ReconcileSummary, error)
}

// ReconciliationJob removes orphaned blobs and vectors left behind by
// crashes or failed compensation, and heals lost vector_id write-backs.
// The underlying pass is idempotent, so overlapping runs are harmless.
type ReconciliationJob struct {
	reconciler Reconciler
	budget     time.Duration
}

// NewReconciliationJob creates the reconciliation job
func NewReconciliationJob(reconciler Reconciler, budget time.Duration) *ReconciliationJob {
	if budget <= 0 {
		budget = 5 * time.Minute
	}
	return &ReconciliationJob{reconciler: reconciler, budget: budget}
}

func (j *ReconciliationJob) Name() string { return "reconciliation" }

// Run performs one bounded reconciliation pass
func (j *ReconciliationJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.budget)
	defer cancel()

	summary, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		log.Printf("[RECONCILE] Pass failed: %v", err)
		return err
	}
	if summary.BlobsRemoved+summary.VectorsRemoved+summary.VectorsHealed > 0 {
		log.Printf("[RECONCILE] Pass complete: blobs_removed=%d vectors_removed=%d vectors_healed=%d errors=%d",
			summary.BlobsRemoved, summary.VectorsRemoved, summary.VectorsHealed, summary.Errors)
	}
	return nil
}
