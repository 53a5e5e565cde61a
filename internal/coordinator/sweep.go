package coordinator

import (
	"context"
	"log"
	"time"

	"docman/internal/models"
)

// SweepSummary reports one expiration pass
type SweepSummary struct {
	Scanned             int `json:"scanned"`
	Expired             int `json:"expired"`
	AlreadyTransitioned int `json:"already_transitioned"`
	Failed              int `json:"failed"`
}

// SweepExpired marks active sessions whose expiry has passed as expired.
// Sessions are fetched in bounded batches and transitioned one by one with
// compare-and-set, so a concurrent finalize simply wins the race and counts
// as already-transitioned, not as an error. The cutoff is frozen at the start
// of the pass, so the candidate set only shrinks as sessions transition;
// sessions whose transition failed stay in it and are skipped by offset, which
// keeps every candidate counted exactly once. The sweep never deletes data.
func (c *Coordinator) SweepExpired(ctx context.Context, batchSize int) (SweepSummary, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	cutoff := time.Now().UTC()

	var summary SweepSummary
	for {
		sessions, _, err := c.relational.ListSessions(ctx, SessionFilter{
			Status:        models.SessionActive,
			ExpiresBefore: cutoff,
			Limit:         batchSize,
			Offset:        summary.Failed,
		})
		if err != nil {
			return summary, err
		}
		if len(sessions) == 0 {
			return summary, nil
		}

		for _, s := range sessions {
			summary.Scanned++
			err := c.relational.CompareAndSetSessionStatus(ctx, s.ID, models.SessionActive, models.SessionExpired)
			switch {
			case err == nil:
				summary.Expired++
			case IsKind(err, KindConflict), IsKind(err, KindNotFound):
				// Raced with a finalize or a delete; nothing to do
				summary.AlreadyTransitioned++
			default:
				summary.Failed++
				log.Printf("[SWEEP] could not expire session %s: %v", s.ID, err)
			}
			if ctx.Err() != nil {
				return summary, ErrBackendUnavailable("context", ctx.Err())
			}
		}
		if len(sessions) < batchSize {
			return summary, nil
		}
	}
}

// PurgeExpired deletes sessions that have been expired for longer than the
// retention window. This is the deliberate cleanup policy layered on top of
// the sweep; the sweep itself only flips status.
func (c *Coordinator) PurgeExpired(ctx context.Context, retention time.Duration, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	cutoff := time.Now().UTC().Add(-retention)

	sessions, _, err := c.relational.ListSessions(ctx, SessionFilter{
		Status:        models.SessionExpired,
		ExpiresBefore: cutoff,
		Limit:         batchSize,
	})
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, s := range sessions {
		if err := c.DeleteSession(ctx, s.ID); err != nil && !IsKind(err, KindPartialFailure) {
			log.Printf("[CLEANUP] could not purge session %s: %v", s.ID, err)
			continue
		}
		purged++
	}
	return purged, nil
}
