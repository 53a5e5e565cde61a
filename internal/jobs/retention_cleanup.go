package jobs

import (
	"context"
	"log"
	"time"
)

// Purger is the slice of the coordinator the cleanup job needs
type Purger interface {
	PurgeExpired(ctx context.Context, retention time.Duration, batchSize int) (int, error)
}

// RetentionCleanupJob deletes sessions that have stayed expired beyond the
// retention window. Expired sessions remain inspectable until this policy
// decides to purge them; expiration itself never removes data.
type RetentionCleanupJob struct {
	purger    Purger
	retention time.Duration
	batchSize int
}

// NewRetentionCleanupJob creates the cleanup job
func NewRetentionCleanupJob(purger Purger, retention time.Duration, batchSize int) *RetentionCleanupJob {
	return &RetentionCleanupJob{purger: purger, retention: retention, batchSize: batchSize}
}

func (j *RetentionCleanupJob) Name() string { return "retention-cleanup" }

// Run purges one batch of over-retained expired sessions
func (j *RetentionCleanupJob) Run(ctx context.Context) error {
	log.Printf("[CLEANUP] Purging sessions expired for more than %v...", j.retention)
	purged, err := j.purger.PurgeExpired(ctx, j.retention, j.batchSize)
	if err != nil {
		log.Printf("[CLEANUP] Purge failed after %d sessions: %v", purged, err)
		return err
	}
	if purged > 0 {
		log.Printf("[CLEANUP] Purged %d sessions", purged)
	}
	return nil
}
