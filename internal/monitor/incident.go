package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// IncidentManagerConfig holds the dependencies of an IncidentManager.
type IncidentManagerConfig struct {
	Store    Store
	Tickets  Ticketer
	Notifier Notifier
	Clock    clock.Clock
	Logger   *log.Entry
	Metrics  *Metrics
}

// IncidentManager owns the incident lifecycle and drives the ticket and
// notification ports.
//
// State changes happen inside a store transaction; ticket and notification
// calls run after the commit and can only fail as logged SideEffectErrors.
type IncidentManager struct {
	store    Store
	tickets  Ticketer
	notifier Notifier
	clock    clock.Clock
	logger   *log.Entry
	metrics  *Metrics
}

func NewIncidentManager(cfg IncidentManagerConfig) *IncidentManager {
	im := &IncidentManager{
		store:    cfg.Store,
		tickets:  cfg.Tickets,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if im.tickets == nil {
		im.tickets = nopTicketer{}
	}
	if im.notifier == nil {
		im.notifier = nopNotifier{}
	}
	if im.clock == nil {
		im.clock = clock.WallClock
	}
	if im.logger == nil {
		im.logger = log.NewEntry(log.StandardLogger())
	}
	im.logger = im.logger.WithField("component", "incidents")
	return im
}

type changeKind int

const (
	changeNone changeKind = iota
	changeOpened
	changeExtended
	changeResolved
)

// incidentChange is a committed incident transition waiting for its side
// effects.
type incidentChange struct {
	kind     changeKind
	monitor  Monitor
	incident Incident
	result   *CheckResult
	manual   bool
}

// HandleFailure opens a new incident for the monitor, or extends its ongoing
// one, and reports whether the incident is new.
func (im *IncidentManager) HandleFailure(ctx context.Context, m Monitor, res CheckResult) (Incident, bool, error) {
	var ch incidentChange
	err := im.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		ch, err = im.applyFailure(ctx, tx, m, res, im.clock.Now())
		return err
	})
	if err != nil {
		return Incident{}, false, errors.Trace(err)
	}
	inc := im.afterCommit(ctx, ch)
	return inc, ch.kind == changeOpened, nil
}

// HandleRecovery resolves the monitor's ongoing incident. Without an ongoing
// incident it does nothing and returns nil, so repeated calls are harmless.
func (im *IncidentManager) HandleRecovery(ctx context.Context, m Monitor) (*Incident, error) {
	var ch incidentChange
	err := im.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		ch, err = im.applyRecovery(ctx, tx, m, nil, im.clock.Now())
		return err
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if ch.kind == changeNone {
		return nil, nil
	}
	inc := im.afterCommit(ctx, ch)
	return &inc, nil
}

// ResolveIncident resolves an incident by hand. The monitor's failure run is
// reset but its status is left for the next check to decide. Resolving an
// already resolved incident only updates the post-mortem fields that are
// given; empty ones keep their stored value.
func (im *IncidentManager) ResolveIncident(ctx context.Context, id, notes, rootCause string) (Incident, error) {
	var ch incidentChange
	err := im.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		now := im.clock.Now()
		inc, err := tx.GetIncident(ctx, id)
		if err != nil {
			return err
		}

		if inc.Status == IncidentResolved {
			if notes != "" {
				inc.ResolutionNotes = notes
			}
			if rootCause != "" {
				inc.RootCause = rootCause
			}
			ch = incidentChange{kind: changeNone, incident: inc}
			if notes == "" && rootCause == "" {
				return nil
			}
			inc.UpdatedAt = now
			ch.incident = inc
			return tx.UpdateIncident(ctx, inc)
		}

		inc.ResolutionNotes = notes
		inc.RootCause = rootCause

		resolve(&inc, now)
		if err := tx.UpdateIncident(ctx, inc); err != nil {
			return err
		}

		m, err := tx.GetMonitor(ctx, inc.MonitorID)
		if err != nil {
			return err
		}
		m.ConsecutiveFailures = 0
		m.UpdatedAt = now
		if err := tx.UpdateMonitor(ctx, m); err != nil {
			return err
		}
		ch = incidentChange{kind: changeResolved, monitor: m, incident: inc, manual: true}
		return nil
	})
	if err != nil {
		return Incident{}, errors.Annotatef(err, "resolving incident %q", id)
	}
	return im.afterCommit(ctx, ch), nil
}

// AcknowledgeIncident records who acknowledged the incident. The status is
// not touched; the first acknowledgement is kept.
func (im *IncidentManager) AcknowledgeIncident(ctx context.Context, id, actorID string) (Incident, error) {
	var inc Incident
	err := im.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		inc, err = tx.GetIncident(ctx, id)
		if err != nil {
			return err
		}
		if inc.AcknowledgedAt != nil {
			return nil
		}
		now := im.clock.Now()
		inc.AcknowledgedAt = &now
		inc.AcknowledgedByID = actorID
		inc.UpdatedAt = now
		return tx.UpdateIncident(ctx, inc)
	})
	if err != nil {
		return Incident{}, errors.Annotatef(err, "acknowledging incident %q", id)
	}
	im.logger.WithFields(log.Fields{"incident_id": inc.ID, "actor_id": actorID}).Info("incident acknowledged")
	return inc, nil
}

// UpdatePostmortem sets the resolution notes and root cause.
func (im *IncidentManager) UpdatePostmortem(ctx context.Context, id, notes, rootCause string) (Incident, error) {
	var inc Incident
	err := im.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		inc, err = tx.GetIncident(ctx, id)
		if err != nil {
			return err
		}
		inc.ResolutionNotes = notes
		inc.RootCause = rootCause
		inc.UpdatedAt = im.clock.Now()
		return tx.UpdateIncident(ctx, inc)
	})
	if err != nil {
		return Incident{}, errors.Annotatef(err, "updating post-mortem of incident %q", id)
	}
	return inc, nil
}

func (im *IncidentManager) GetIncident(ctx context.Context, id string) (Incident, error) {
	inc, err := im.store.GetIncident(ctx, id)
	return inc, errors.Trace(err)
}

func (im *IncidentManager) ListIncidents(ctx context.Context, f IncidentFilter) ([]Incident, error) {
	incs, err := im.store.ListIncidents(ctx, f)
	return incs, errors.Trace(err)
}

func (im *IncidentManager) applyFailure(ctx context.Context, tx Tx, m Monitor, res CheckResult, now time.Time) (incidentChange, error) {
	inc, found, err := tx.OngoingIncident(ctx, m.ID)
	if err != nil {
		return incidentChange{}, err
	}
	if found {
		inc.LastErrorMessage = res.ErrorMessage
		inc.LastErrorType = res.ErrorType
		inc.TotalChecks++
		inc.FailedChecks++
		inc.UpdatedAt = now
		if err := tx.UpdateIncident(ctx, inc); err != nil {
			return incidentChange{}, err
		}
		return incidentChange{kind: changeExtended, monitor: m, incident: inc, result: &res}, nil
	}

	startedAt := res.CheckedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	inc = Incident{
		ID:                uuid.NewString(),
		MonitorID:         m.ID,
		WorkspaceID:       m.WorkspaceID,
		Status:            IncidentOngoing,
		StartedAt:         startedAt,
		FirstErrorMessage: res.ErrorMessage,
		FirstErrorType:    res.ErrorType,
		LastErrorMessage:  res.ErrorMessage,
		LastErrorType:     res.ErrorType,
		TotalChecks:       1,
		FailedChecks:      1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.InsertIncident(ctx, inc); err != nil {
		return incidentChange{}, err
	}
	return incidentChange{kind: changeOpened, monitor: m, incident: inc, result: &res}, nil
}

// applyRecovery resolves the ongoing incident. res is the successful check
// that caused it, and is counted towards the incident's total checks.
func (im *IncidentManager) applyRecovery(ctx context.Context, tx Tx, m Monitor, res *CheckResult, now time.Time) (incidentChange, error) {
	inc, found, err := tx.OngoingIncident(ctx, m.ID)
	if err != nil {
		return incidentChange{}, err
	}
	if !found {
		im.logger.WithField("monitor_id", m.ID).Debug("recovery without an ongoing incident")
		return incidentChange{kind: changeNone, monitor: m}, nil
	}
	resolve(&inc, now)
	if res != nil {
		inc.TotalChecks++
	}
	if err := tx.UpdateIncident(ctx, inc); err != nil {
		return incidentChange{}, err
	}
	return incidentChange{kind: changeResolved, monitor: m, incident: inc, result: res}, nil
}

func resolve(inc *Incident, now time.Time) {
	inc.Status = IncidentResolved
	inc.ResolvedAt = &now
	inc.UpdatedAt = now
}

// afterCommit fires the ticket and notification calls for a committed change
// and returns the incident as the caller should see it.
func (im *IncidentManager) afterCommit(ctx context.Context, ch incidentChange) Incident {
	inc := ch.incident
	logger := im.logger.WithFields(log.Fields{
		"monitor_id":   ch.monitor.ID,
		"workspace_id": ch.monitor.WorkspaceID,
		"incident_id":  inc.ID,
	})

	switch ch.kind {
	case changeNone:
	case changeOpened:
		im.metrics.incidentOpened()
		logger.WithField("error", inc.FirstErrorMessage).Warn("incident opened")
		if ch.monitor.Subscribes(ChannelTicket) {
			inc.TicketID = im.openTicket(ctx, ch.monitor, inc, ch.result)
		}
		ch.incident = inc
		im.notify(ctx, EventIncidentOpened, ch)
	case changeExtended:
		if inc.TicketID != "" {
			text := failureComment(inc)
			im.sideEffect("add_comment", inc, func() error {
				return im.tickets.AddComment(ctx, inc.TicketID, text)
			})
		}
	case changeResolved:
		how := "check"
		if ch.manual {
			how = "manual"
		}
		im.metrics.incidentResolved(how)
		logger.WithFields(log.Fields{
			"duration": inc.Duration(im.clock.Now()).Round(time.Second).String(),
			"how":      how,
		}).Info("incident resolved")
		if inc.TicketID != "" {
			heading := "Monitor recovered."
			if ch.manual {
				heading = "Incident resolved manually."
			}
			summary := resolutionSummary(inc, heading)
			im.sideEffect("close_ticket", inc, func() error {
				return im.tickets.CloseTicket(ctx, inc.TicketID, summary)
			})
		}
		if ch.monitor.NotifyOnRecovery {
			ch.incident = inc
			im.notify(ctx, EventIncidentResolved, ch)
		}
	}
	return inc
}

func (im *IncidentManager) openTicket(ctx context.Context, m Monitor, inc Incident, res *CheckResult) string {
	req := TicketRequest{
		Monitor:  m,
		Incident: inc,
		Priority: TicketUrgent,
		Severity: m.Severity,
	}
	if res != nil {
		req.Result = *res
	}
	if !req.Severity.Valid() {
		req.Severity = SeverityHigh
	}

	var ticketID string
	im.sideEffect("create_ticket", inc, func() error {
		var err error
		ticketID, err = im.tickets.CreateTicket(ctx, req)
		return err
	})
	if ticketID == "" {
		return ""
	}

	var linked bool
	im.sideEffect("link_ticket", inc, func() error {
		var err error
		linked, err = im.store.SetIncidentTicket(ctx, inc.ID, ticketID)
		return err
	})
	if !linked {
		return ""
	}

	// The incident may have been resolved while the ticket was created. Its
	// resolution saw no ticket, so the close falls to us.
	cur, err := im.store.GetIncident(ctx, inc.ID)
	if err != nil {
		im.sideEffect("recheck_incident", inc, func() error { return errors.Trace(err) })
		return ticketID
	}
	if cur.Status == IncidentResolved && cur.ResolvedAt != nil {
		summary := resolutionSummary(cur, "Incident resolved before its ticket was filed.")
		im.sideEffect("close_ticket", cur, func() error {
			return im.tickets.CloseTicket(ctx, ticketID, summary)
		})
	}
	return ticketID
}

func (im *IncidentManager) notify(ctx context.Context, kind EventKind, ch incidentChange) {
	if len(ch.monitor.NotificationChannels) == 0 {
		return
	}
	ev := Event{
		Kind:     kind,
		Monitor:  ch.monitor,
		Incident: ch.incident,
		Channels: ch.monitor.NotificationChannels,
		Result:   ch.result,
		At:       im.clock.Now(),
	}
	im.sideEffect(string(kind), ch.incident, func() error {
		return im.notifier.Notify(ctx, ev)
	})
}

// sideEffect runs fn and logs its failure. Nothing is returned: a failed
// side effect never affects the committed state.
func (im *IncidentManager) sideEffect(op string, inc Incident, fn func() error) {
	err := fn()
	if err == nil {
		return
	}
	logger := im.logger.WithFields(log.Fields{"op": op, "incident_id": inc.ID, "monitor_id": inc.MonitorID})
	if errors.Is(err, TicketAlreadyClosed) {
		logger.Debug("ticket already closed")
		return
	}
	se := &SideEffectError{Op: op, IncidentID: inc.ID, Err: err}
	logger.WithError(se).Warn("side effect failed")
	im.metrics.sideEffectFailed(op)
}

func failureComment(inc Incident) string {
	return fmt.Sprintf("Monitor still failing (%d of %d checks failed). Last error: %s",
		inc.FailedChecks, inc.TotalChecks, describeError(inc.LastErrorType, inc.LastErrorMessage))
}

func resolutionSummary(inc Incident, heading string) string {
	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Duration: %s\n", inc.Duration(*inc.ResolvedAt).Round(time.Second))
	fmt.Fprintf(&b, "Checks: %d total, %d failed\n", inc.TotalChecks, inc.FailedChecks)
	if inc.RootCause != "" {
		fmt.Fprintf(&b, "Root cause: %s\n", inc.RootCause)
	}
	if inc.ResolutionNotes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", inc.ResolutionNotes)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func describeError(t ErrorType, msg string) string {
	switch {
	case t == ErrorNone && msg == "":
		return "unknown"
	case t == ErrorNone:
		return msg
	case msg == "":
		return string(t)
	}
	return fmt.Sprintf("%s: %s", t, msg)
}
