package monitor

import (
	"fmt"
	"time"
)

// IncidentAction is what the incident manager must do after a transition.
type IncidentAction int

const (
	// ActionNone leaves incidents alone.
	ActionNone IncidentAction = iota
	// ActionFailure opens a new incident or extends the ongoing one.
	ActionFailure
	// ActionRecovery resolves the ongoing incident, if any.
	ActionRecovery
)

func (a IncidentAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionFailure:
		return "failure"
	case ActionRecovery:
		return "recovery"
	}
	return fmt.Sprintf("IncidentAction(%d)", int(a))
}

// Decision describes one state machine step.
type Decision struct {
	From   Status
	To     Status
	Action IncidentAction
	// Skipped is set when the monitor was paused and nothing changed.
	Skipped bool
}

// Transition applies a check result to a monitor. It is pure: the returned
// monitor is a modified copy, and the decision tells the caller which
// incident handler to run.
//
// Success resets the failure run; recovery is only signalled when the run
// had reached the threshold. Failures below the threshold degrade the
// monitor without alerting.
func Transition(m Monitor, res CheckResult, now time.Time) (Monitor, Decision) {
	d := Decision{From: m.CurrentStatus, To: m.CurrentStatus}

	switch m.CurrentStatus {
	case StatusPaused:
		d.Skipped = true
		return m, d
	case StatusUnknown, StatusUp, StatusDegraded, StatusDown:
	default:
		// Corrupt rows are healed by the next result.
		d.From = StatusUnknown
	}

	checkedAt := res.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = now
	}
	next := now.Add(m.Interval())

	m.LastCheckAt = &checkedAt
	m.NextCheckAt = &next
	m.LastResponseTimeMs = res.ResponseTimeMs
	m.UpdatedAt = now

	threshold := m.ConsecutiveFailuresThreshold
	if threshold < 1 {
		threshold = 1
	}

	if res.IsUp {
		hadCrossed := m.ConsecutiveFailures >= threshold
		m.ConsecutiveFailures = 0
		m.CurrentStatus = StatusUp
		m.LastErrorMessage = ""
		if hadCrossed {
			d.Action = ActionRecovery
		}
	} else {
		m.ConsecutiveFailures++
		m.LastErrorMessage = res.ErrorMessage
		m.CurrentStatus = statusForFailures(m.ConsecutiveFailures, threshold)
		if m.CurrentStatus == StatusDown {
			d.Action = ActionFailure
		}
	}

	d.To = m.CurrentStatus
	return m, d
}

// statusForFailures maps a failure run onto a status.
func statusForFailures(failures, threshold int) Status {
	switch {
	case failures <= 0:
		return StatusUp
	case failures >= threshold:
		return StatusDown
	default:
		return StatusDegraded
	}
}
