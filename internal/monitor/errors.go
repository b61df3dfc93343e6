package monitor

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// MonitorNotFound is returned when a monitor lookup finds nothing,
	// including a result arriving for a monitor deleted mid-probe.
	MonitorNotFound = errors.ConstError("monitor not found")

	// IncidentNotFound is returned when an incident lookup finds nothing.
	IncidentNotFound = errors.ConstError("incident not found")

	// DuplicateMonitorName is returned when a workspace already has a
	// monitor with the requested name.
	DuplicateMonitorName = errors.ConstError("duplicate monitor name")

	// InvalidMonitor is returned when a monitor definition fails validation.
	InvalidMonitor = errors.ConstError("invalid monitor")

	// ClaimLost is returned when a claimed result arrives after the
	// monitor's claim expired and was taken again.
	ClaimLost = errors.ConstError("claim lost")

	// TicketAlreadyClosed is returned by ticketers closing a ticket twice.
	// The engine treats it as success.
	TicketAlreadyClosed = errors.ConstError("ticket already closed")
)

// SideEffectError is a failed ticket or notification call. It is logged and
// counted but never returned from the check pipeline.
type SideEffectError struct {
	Op         string
	IncidentID string
	Err        error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("%s for incident %s: %v", e.Op, e.IncidentID, e.Err)
}

func (e *SideEffectError) Unwrap() error {
	return e.Err
}

func invalidf(format string, args ...any) error {
	return errors.Annotatef(InvalidMonitor, format, args...)
}
