package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// RecorderConfig holds the dependencies of a Recorder.
type RecorderConfig struct {
	Store     Store
	Incidents *IncidentManager
	Board     StatusBoard
	Clock     clock.Clock
	Logger    *log.Entry
	Metrics   *Metrics
}

// Recorder turns probe results into checks, monitor state and incidents.
type Recorder struct {
	store     Store
	incidents *IncidentManager
	board     StatusBoard
	clock     clock.Clock
	logger    *log.Entry
	metrics   *Metrics
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	r := &Recorder{
		store:     cfg.Store,
		incidents: cfg.Incidents,
		board:     cfg.Board,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if r.board == nil {
		r.board = nopBoard{}
	}
	if r.clock == nil {
		r.clock = clock.WallClock
	}
	if r.logger == nil {
		r.logger = log.NewEntry(log.StandardLogger())
	}
	r.logger = r.logger.WithField("component", "recorder")
	if r.incidents == nil {
		r.incidents = NewIncidentManager(IncidentManagerConfig{
			Store:   cfg.Store,
			Clock:   r.clock,
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
		})
	}
	return r
}

// RecordCheckResult persists a probe result and applies it to the monitor
// and its incidents in one transaction. It returns the stored check, the
// incident that was opened, extended or resolved (nil if none), and whether
// the incident is new.
//
// MonitorNotFound means the monitor was deleted while the probe was in
// flight; the result should be discarded.
func (r *Recorder) RecordCheckResult(ctx context.Context, monitorID string, res CheckResult) (Check, *Incident, bool, error) {
	return r.record(ctx, monitorID, nil, res)
}

// RecordClaimedResult is RecordCheckResult for a scheduled job. The result
// is only applied while the job still holds its claim; otherwise ClaimLost is
// returned and nothing is stored.
func (r *Recorder) RecordClaimedResult(ctx context.Context, job CheckJob, res CheckResult) (Check, *Incident, bool, error) {
	lease := job.LeaseUntil
	return r.record(ctx, job.Monitor.ID, &lease, res)
}

func (r *Recorder) record(ctx context.Context, monitorID string, lease *time.Time, res CheckResult) (Check, *Incident, bool, error) {
	var (
		check    Check
		updated  Monitor
		decision Decision
		change   incidentChange
	)
	err := r.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		m, err := tx.GetMonitor(ctx, monitorID)
		if err != nil {
			return err
		}
		if lease != nil && m.IsActive && (m.NextCheckAt == nil || !m.NextCheckAt.Equal(*lease)) {
			return ClaimLost
		}
		now := r.clock.Now()

		check = Check{
			ID:             uuid.NewString(),
			MonitorID:      m.ID,
			IsUp:           res.IsUp,
			StatusCode:     res.StatusCode,
			ResponseTimeMs: res.ResponseTimeMs,
			ErrorMessage:   res.ErrorMessage,
			ErrorType:      res.ErrorType,
			CheckedAt:      res.CheckedAt,
		}
		if check.CheckedAt.IsZero() {
			check.CheckedAt = now
		}
		if err := tx.InsertCheck(ctx, check); err != nil {
			return errors.Annotate(err, "inserting check")
		}

		updated, decision = Transition(m, res, now)
		if decision.Skipped {
			return nil
		}
		if err := tx.UpdateMonitor(ctx, updated); err != nil {
			return errors.Annotate(err, "updating monitor")
		}

		switch decision.Action {
		case ActionNone:
			// Raising the threshold can leave an incident open under a
			// shorter failure run; the first success still settles it.
			if res.IsUp && (decision.From == StatusDegraded || decision.From == StatusDown) {
				change, err = r.incidents.applyRecovery(ctx, tx, updated, &res, now)
			}
		case ActionFailure:
			change, err = r.incidents.applyFailure(ctx, tx, updated, res, now)
		case ActionRecovery:
			change, err = r.incidents.applyRecovery(ctx, tx, updated, &res, now)
		}
		return err
	})
	if err != nil {
		return Check{}, nil, false, errors.Annotatef(err, "recording check for monitor %q", monitorID)
	}

	r.metrics.checkRecorded(res.IsUp)
	if decision.Skipped {
		r.logger.WithField("monitor_id", monitorID).Debug("result for paused monitor recorded without state change")
		return check, nil, false, nil
	}
	r.board.Publish(updated)

	logger := r.logger.WithFields(log.Fields{
		"monitor_id": monitorID,
		"up":         res.IsUp,
		"failures":   updated.ConsecutiveFailures,
	})
	if decision.From != decision.To {
		logger.WithFields(log.Fields{"from": decision.From, "to": decision.To}).Info("monitor status changed")
	} else {
		logger.Debug("check recorded")
	}

	if change.kind == changeNone {
		return check, nil, false, nil
	}
	inc := r.incidents.afterCommit(ctx, change)
	return check, &inc, change.kind == changeOpened, nil
}
