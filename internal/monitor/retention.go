package monitor

import (
	"context"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultRetentionDays is how long checks are kept when no retention is
// configured.
const DefaultRetentionDays = 30

// CleanupOldChecks deletes checks older than retentionDays. Monitors and
// incidents are not touched.
func (s *Service) CleanupOldChecks(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := s.clock.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	n, err := s.store.DeleteChecksBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Annotatef(err, "deleting checks before %s", cutoff.Format(time.RFC3339))
	}
	s.metrics.checksRemoved(n)
	s.logger.WithFields(log.Fields{
		"deleted":        n,
		"retention_days": retentionDays,
	}).Info("old checks cleaned up")
	return n, nil
}

// RunJanitor runs CleanupOldChecks every interval until ctx is done.
// Failures are logged and retried on the next round.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration, retentionDays int) error {
	if interval <= 0 {
		interval = time.Hour
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(interval):
		}
		if _, err := s.CleanupOldChecks(ctx, retentionDays); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Error("retention cleanup failed")
		}
	}
}
