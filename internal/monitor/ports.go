package monitor

import (
	"context"
	"time"
)

// Prober executes one check against a monitor's target. Probe failures are
// reported in the result, never as errors.
type Prober interface {
	Probe(ctx context.Context, m Monitor) CheckResult
}

// TicketPriority is the priority requested for an incident ticket.
type TicketPriority string

const TicketUrgent TicketPriority = "urgent"

// TicketRequest carries everything a ticketer needs to open an incident ticket.
type TicketRequest struct {
	Monitor  Monitor
	Incident Incident
	Result   CheckResult
	Priority TicketPriority
	Severity Severity
}

// Ticketer is the narrow port to an external ticket system. Implementations
// must tolerate duplicate calls; closing a closed ticket should return
// TicketAlreadyClosed or nil.
type Ticketer interface {
	// CreateTicket returns the new ticket's id, or "" if none was created.
	CreateTicket(ctx context.Context, req TicketRequest) (string, error)
	AddComment(ctx context.Context, ticketID, text string) error
	CloseTicket(ctx context.Context, ticketID, summary string) error
}

// EventKind names an incident state transition.
type EventKind string

const (
	EventIncidentOpened   EventKind = "incident_opened"
	EventIncidentResolved EventKind = "incident_resolved"
)

// Event is emitted to the notifier on incident transitions, tagged with the
// monitor's subscribed channels.
type Event struct {
	Kind     EventKind
	Monitor  Monitor
	Incident Incident
	Channels []Channel
	// Result is the check that caused the transition, nil for manual resolves.
	Result *CheckResult
	At     time.Time
}

// Notifier delivers events. Delivery mechanics are up to the implementation.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// StatusBoard receives the latest state of monitors for live views.
type StatusBoard interface {
	Publish(m Monitor)
	Remove(monitorID string)
}

type nopTicketer struct{}

func (nopTicketer) CreateTicket(context.Context, TicketRequest) (string, error) { return "", nil }
func (nopTicketer) AddComment(context.Context, string, string) error            { return nil }
func (nopTicketer) CloseTicket(context.Context, string, string) error           { return nil }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

type nopBoard struct{}

func (nopBoard) Publish(Monitor) {}
func (nopBoard) Remove(string)   {}
