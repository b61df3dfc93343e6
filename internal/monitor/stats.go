package monitor

import (
	"context"
	"time"

	"github.com/juju/errors"
)

// MonitorStats summarises one monitor over a window.
type MonitorStats struct {
	MonitorID         string    `json:"monitor_id"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	TotalChecks       int64     `json:"total_checks"`
	UpChecks          int64     `json:"up_checks"`
	UptimePercentage  float64   `json:"uptime_percentage"`
	AvgResponseTimeMs *float64  `json:"avg_response_time_ms"`
	CurrentStatus     Status    `json:"current_status"`
}

// WorkspaceStats summarises the monitors of a workspace over a window.
// Uptime and latency are means of the per-monitor figures of active
// monitors, not pooled over all checks.
type WorkspaceStats struct {
	WorkspaceID       string         `json:"workspace_id"`
	Start             time.Time      `json:"start"`
	End               time.Time      `json:"end"`
	TotalMonitors     int            `json:"total_monitors"`
	ActiveMonitors    int            `json:"active_monitors"`
	MonitorsByStatus  map[Status]int `json:"monitors_by_status"`
	UptimePercentage  float64        `json:"uptime_percentage"`
	AvgResponseTimeMs *float64       `json:"avg_response_time_ms"`
	OngoingIncidents  int            `json:"ongoing_incidents"`
	ResolvedIncidents int            `json:"resolved_incidents"`
}

// Statistics reads the check and incident logs for reporting.
type Statistics struct {
	store Store
}

func NewStatistics(store Store) *Statistics {
	return &Statistics{store: store}
}

// UptimePercentage is up/total*100 over checks in [start, end]. A window
// without checks counts as fully up.
func (s *Statistics) UptimePercentage(ctx context.Context, monitorID string, start, end time.Time) (float64, error) {
	counts, err := s.store.CountChecks(ctx, monitorID, start, end)
	if err != nil {
		return 0, errors.Annotatef(err, "counting checks for monitor %q", monitorID)
	}
	return uptimePercent(counts.Total, counts.Up), nil
}

// AvgResponseTime is the mean response time of successful checks in
// [start, end], nil if there are none.
func (s *Statistics) AvgResponseTime(ctx context.Context, monitorID string, start, end time.Time) (*float64, error) {
	counts, err := s.store.CountChecks(ctx, monitorID, start, end)
	if err != nil {
		return nil, errors.Annotatef(err, "counting checks for monitor %q", monitorID)
	}
	return counts.AvgResponseTimeMs, nil
}

func (s *Statistics) MonitorStatistics(ctx context.Context, monitorID string, start, end time.Time) (MonitorStats, error) {
	m, err := s.store.GetMonitor(ctx, monitorID)
	if err != nil {
		return MonitorStats{}, errors.Trace(err)
	}
	counts, err := s.store.CountChecks(ctx, monitorID, start, end)
	if err != nil {
		return MonitorStats{}, errors.Annotatef(err, "counting checks for monitor %q", monitorID)
	}
	return MonitorStats{
		MonitorID:         m.ID,
		Start:             start,
		End:               end,
		TotalChecks:       counts.Total,
		UpChecks:          counts.Up,
		UptimePercentage:  uptimePercent(counts.Total, counts.Up),
		AvgResponseTimeMs: counts.AvgResponseTimeMs,
		CurrentStatus:     m.CurrentStatus,
	}, nil
}

func (s *Statistics) WorkspaceStatistics(ctx context.Context, workspaceID string, start, end time.Time) (WorkspaceStats, error) {
	monitors, err := s.store.ListMonitors(ctx, workspaceID)
	if err != nil {
		return WorkspaceStats{}, errors.Annotatef(err, "listing monitors of workspace %q", workspaceID)
	}

	stats := WorkspaceStats{
		WorkspaceID:      workspaceID,
		Start:            start,
		End:              end,
		TotalMonitors:    len(monitors),
		MonitorsByStatus: make(map[Status]int),
		UptimePercentage: 100,
	}

	var (
		uptimeSum  float64
		latencySum float64
		latencyN   int
	)
	for _, m := range monitors {
		stats.MonitorsByStatus[m.CurrentStatus]++
		if !m.IsActive {
			continue
		}
		stats.ActiveMonitors++
		counts, err := s.store.CountChecks(ctx, m.ID, start, end)
		if err != nil {
			return WorkspaceStats{}, errors.Annotatef(err, "counting checks for monitor %q", m.ID)
		}
		uptimeSum += uptimePercent(counts.Total, counts.Up)
		if counts.AvgResponseTimeMs != nil {
			latencySum += *counts.AvgResponseTimeMs
			latencyN++
		}
	}
	if stats.ActiveMonitors > 0 {
		stats.UptimePercentage = uptimeSum / float64(stats.ActiveMonitors)
	}
	if latencyN > 0 {
		avg := latencySum / float64(latencyN)
		stats.AvgResponseTimeMs = &avg
	}

	ongoing, err := s.store.ListIncidents(ctx, IncidentFilter{
		WorkspaceID: workspaceID,
		Status:      IncidentOngoing,
	})
	if err != nil {
		return WorkspaceStats{}, errors.Annotate(err, "listing ongoing incidents")
	}
	stats.OngoingIncidents = len(ongoing)

	resolved, err := s.store.ListIncidents(ctx, IncidentFilter{
		WorkspaceID:   workspaceID,
		Status:        IncidentResolved,
		ResolvedSince: &start,
	})
	if err != nil {
		return WorkspaceStats{}, errors.Annotate(err, "listing resolved incidents")
	}
	for _, inc := range resolved {
		if inc.ResolvedAt != nil && !inc.ResolvedAt.After(end) {
			stats.ResolvedIncidents++
		}
	}
	return stats, nil
}

func uptimePercent(total, up int64) float64 {
	if total == 0 {
		return 100
	}
	return float64(up) / float64(total) * 100
}
