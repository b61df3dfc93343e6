package monitor

import (
	"context"
	"time"
)

// MonitorStore persists monitors.
type MonitorStore interface {
	// CreateMonitor returns DuplicateMonitorName if the workspace already has
	// a monitor with the same name.
	CreateMonitor(ctx context.Context, m Monitor) error
	// GetMonitor returns MonitorNotFound if there is no such monitor. Inside
	// a transaction the row stays locked until the transaction ends.
	GetMonitor(ctx context.Context, id string) (Monitor, error)
	FindMonitorByName(ctx context.Context, workspaceID, name string) (Monitor, error)
	ListMonitors(ctx context.Context, workspaceID string) ([]Monitor, error)
	UpdateMonitor(ctx context.Context, m Monitor) error
	// DeleteMonitor removes the monitor with its checks and incidents.
	DeleteMonitor(ctx context.Context, id string) error

	// DueMonitors returns active monitors with next_check_at <= now, oldest
	// first, at most limit of them.
	DueMonitors(ctx context.Context, now time.Time, limit int) ([]Monitor, error)
	// ClaimMonitor moves next_check_at from expected to next only if it still
	// equals expected. It reports whether the swap happened.
	ClaimMonitor(ctx context.Context, id string, expected, next time.Time) (bool, error)
}

// CheckCounts aggregates checks of one monitor over a window.
type CheckCounts struct {
	Total int64
	Up    int64
	// AvgResponseTimeMs is the mean over successful checks with a measured
	// response time, nil if there are none.
	AvgResponseTimeMs *float64
}

// CheckStore persists the append-only check log.
type CheckStore interface {
	InsertCheck(ctx context.Context, c Check) error
	// ListChecks returns the most recent checks first.
	ListChecks(ctx context.Context, monitorID string, limit int) ([]Check, error)
	// CountChecks aggregates checks with start <= checked_at <= end.
	CountChecks(ctx context.Context, monitorID string, start, end time.Time) (CheckCounts, error)
	DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// IncidentFilter narrows ListIncidents. Zero values do not filter.
type IncidentFilter struct {
	WorkspaceID   string
	MonitorID     string
	Status        IncidentStatus
	ResolvedSince *time.Time
	Limit         int
}

// IncidentStore persists incidents.
type IncidentStore interface {
	InsertIncident(ctx context.Context, inc Incident) error
	UpdateIncident(ctx context.Context, inc Incident) error
	// GetIncident returns IncidentNotFound if there is no such incident.
	GetIncident(ctx context.Context, id string) (Incident, error)
	// OngoingIncident returns the monitor's ongoing incident, if any.
	OngoingIncident(ctx context.Context, monitorID string) (Incident, bool, error)
	// ListIncidents returns matching incidents, newest first.
	ListIncidents(ctx context.Context, f IncidentFilter) ([]Incident, error)
	// SetIncidentTicket links a ticket only if none is linked yet.
	SetIncidentTicket(ctx context.Context, incidentID, ticketID string) (bool, error)
}

// Tx is the view of the stores inside one transaction.
type Tx interface {
	MonitorStore
	CheckStore
	IncidentStore
}

// Store is the persistence port of the engine. WithTx commits when fn
// returns nil and rolls back otherwise.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
