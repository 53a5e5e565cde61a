package jobs

import (
	"context"
	"log"
	"time"

	"docman/internal/coordinator"
	"docman/internal/services"
)

// Sweeper is the slice of the coordinator the expiration job needs
type Sweeper interface {
	SweepExpired(ctx context.Context, batchSize int) (coordinator.SweepSummary, error)
}

// SessionExpirationJob marks overdue active sessions as expired. It only
// flips status; purging belongs to the retention cleanup job.
type SessionExpirationJob struct {
	sweeper   Sweeper
	batchSize int
	budget    time.Duration
}

// NewSessionExpirationJob creates the expiration sweep job. budget bounds
// one pass's wall-clock time regardless of backend slowness.
func NewSessionExpirationJob(sweeper Sweeper, batchSize int, budget time.Duration) *SessionExpirationJob {
	if budget <= 0 {
		budget = time.Minute
	}
	return &SessionExpirationJob{sweeper: sweeper, batchSize: batchSize, budget: budget}
}

func (j *SessionExpirationJob) Name() string { return "session-expiration" }

// Run performs one bounded sweep pass
func (j *SessionExpirationJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.budget)
	defer cancel()

	summary, err := j.sweeper.SweepExpired(ctx, j.batchSize)
	if err != nil {
		log.Printf("[EXPIRATION] Sweep aborted after %d sessions: %v", summary.Scanned, err)
		return err
	}

	if summary.Scanned > 0 {
		log.Printf("[EXPIRATION] Sweep complete: expired=%d raced=%d failed=%d",
			summary.Expired, summary.AlreadyTransitioned, summary.Failed)
	}
	if m := services.GetMetrics(); m != nil {
		m.RecordSessionsExpired(summary.Expired)
	}
	return nil
}
