// Package memstore is an in-memory monitor.Store for tests and for running
// without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"

	"uptime-incident-engine/internal/monitor"
)

// Store keeps everything in process memory. Transactions are serialised:
// WithTx works on a copy of the data that replaces the original on commit.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

var _ monitor.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newDataset()}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx monitor.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	tx := s.data.clone()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.data = tx
	return nil
}

func (s *Store) CreateMonitor(ctx context.Context, m monitor.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.CreateMonitor(ctx, m)
}

func (s *Store) GetMonitor(ctx context.Context, id string) (monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.GetMonitor(ctx, id)
}

func (s *Store) FindMonitorByName(ctx context.Context, workspaceID, name string) (monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.FindMonitorByName(ctx, workspaceID, name)
}

func (s *Store) ListMonitors(ctx context.Context, workspaceID string) ([]monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ListMonitors(ctx, workspaceID)
}

func (s *Store) UpdateMonitor(ctx context.Context, m monitor.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.UpdateMonitor(ctx, m)
}

func (s *Store) DeleteMonitor(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.DeleteMonitor(ctx, id)
}

func (s *Store) DueMonitors(ctx context.Context, now time.Time, limit int) ([]monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.DueMonitors(ctx, now, limit)
}

func (s *Store) ClaimMonitor(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ClaimMonitor(ctx, id, expected, next)
}

func (s *Store) InsertCheck(ctx context.Context, c monitor.Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.InsertCheck(ctx, c)
}

func (s *Store) ListChecks(ctx context.Context, monitorID string, limit int) ([]monitor.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ListChecks(ctx, monitorID, limit)
}

func (s *Store) CountChecks(ctx context.Context, monitorID string, start, end time.Time) (monitor.CheckCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.CountChecks(ctx, monitorID, start, end)
}

func (s *Store) DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.DeleteChecksBefore(ctx, cutoff)
}

func (s *Store) InsertIncident(ctx context.Context, inc monitor.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.InsertIncident(ctx, inc)
}

func (s *Store) UpdateIncident(ctx context.Context, inc monitor.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.UpdateIncident(ctx, inc)
}

func (s *Store) GetIncident(ctx context.Context, id string) (monitor.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.GetIncident(ctx, id)
}

func (s *Store) OngoingIncident(ctx context.Context, monitorID string) (monitor.Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.OngoingIncident(ctx, monitorID)
}

func (s *Store) ListIncidents(ctx context.Context, f monitor.IncidentFilter) ([]monitor.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ListIncidents(ctx, f)
}

func (s *Store) SetIncidentTicket(ctx context.Context, incidentID, ticketID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SetIncidentTicket(ctx, incidentID, ticketID)
}

// dataset is one consistent copy of the data. It implements monitor.Tx.
type dataset struct {
	monitors  map[string]monitor.Monitor
	checks    []monitor.Check
	incidents map[string]monitor.Incident
}

func newDataset() *dataset {
	return &dataset{
		monitors:  make(map[string]monitor.Monitor),
		incidents: make(map[string]monitor.Incident),
	}
}

// clone copies the maps. The checks slice is shared with its capacity
// capped, so appends in the copy never write into the original.
func (d *dataset) clone() *dataset {
	c := &dataset{
		monitors:  make(map[string]monitor.Monitor, len(d.monitors)),
		checks:    d.checks[:len(d.checks):len(d.checks)],
		incidents: make(map[string]monitor.Incident, len(d.incidents)),
	}
	for k, v := range d.monitors {
		c.monitors[k] = v
	}
	for k, v := range d.incidents {
		c.incidents[k] = v
	}
	return c
}

func copyMonitor(m monitor.Monitor) monitor.Monitor {
	m.NotificationChannels = append([]monitor.Channel(nil), m.NotificationChannels...)
	return m
}

func (d *dataset) nameTaken(workspaceID, name, exceptID string) bool {
	for _, m := range d.monitors {
		if m.WorkspaceID == workspaceID && m.Name == name && m.ID != exceptID {
			return true
		}
	}
	return false
}

func (d *dataset) CreateMonitor(_ context.Context, m monitor.Monitor) error {
	if _, ok := d.monitors[m.ID]; ok {
		return errors.AlreadyExistsf("monitor %q", m.ID)
	}
	if d.nameTaken(m.WorkspaceID, m.Name, m.ID) {
		return errors.Annotatef(monitor.DuplicateMonitorName, "%q", m.Name)
	}
	d.monitors[m.ID] = copyMonitor(m)
	return nil
}

func (d *dataset) GetMonitor(_ context.Context, id string) (monitor.Monitor, error) {
	m, ok := d.monitors[id]
	if !ok {
		return monitor.Monitor{}, errors.Annotatef(monitor.MonitorNotFound, "%q", id)
	}
	return copyMonitor(m), nil
}

func (d *dataset) FindMonitorByName(_ context.Context, workspaceID, name string) (monitor.Monitor, error) {
	for _, m := range d.monitors {
		if m.WorkspaceID == workspaceID && m.Name == name {
			return copyMonitor(m), nil
		}
	}
	return monitor.Monitor{}, errors.Annotatef(monitor.MonitorNotFound, "%q in workspace %q", name, workspaceID)
}

func (d *dataset) ListMonitors(_ context.Context, workspaceID string) ([]monitor.Monitor, error) {
	var out []monitor.Monitor
	for _, m := range d.monitors {
		if workspaceID == "" || m.WorkspaceID == workspaceID {
			out = append(out, copyMonitor(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (d *dataset) UpdateMonitor(_ context.Context, m monitor.Monitor) error {
	if _, ok := d.monitors[m.ID]; !ok {
		return errors.Annotatef(monitor.MonitorNotFound, "%q", m.ID)
	}
	if d.nameTaken(m.WorkspaceID, m.Name, m.ID) {
		return errors.Annotatef(monitor.DuplicateMonitorName, "%q", m.Name)
	}
	d.monitors[m.ID] = copyMonitor(m)
	return nil
}

func (d *dataset) DeleteMonitor(_ context.Context, id string) error {
	if _, ok := d.monitors[id]; !ok {
		return errors.Annotatef(monitor.MonitorNotFound, "%q", id)
	}
	delete(d.monitors, id)

	kept := make([]monitor.Check, 0, len(d.checks))
	for _, c := range d.checks {
		if c.MonitorID != id {
			kept = append(kept, c)
		}
	}
	d.checks = kept

	for k, inc := range d.incidents {
		if inc.MonitorID == id {
			delete(d.incidents, k)
		}
	}
	return nil
}

func (d *dataset) DueMonitors(_ context.Context, now time.Time, limit int) ([]monitor.Monitor, error) {
	var due []monitor.Monitor
	for _, m := range d.monitors {
		if m.IsActive && m.NextCheckAt != nil && !m.NextCheckAt.After(now) {
			due = append(due, copyMonitor(m))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextCheckAt.Before(*due[j].NextCheckAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (d *dataset) ClaimMonitor(_ context.Context, id string, expected, next time.Time) (bool, error) {
	m, ok := d.monitors[id]
	if !ok || m.NextCheckAt == nil || !m.NextCheckAt.Equal(expected) {
		return false, nil
	}
	m.NextCheckAt = &next
	d.monitors[id] = m
	return true, nil
}

func (d *dataset) InsertCheck(_ context.Context, c monitor.Check) error {
	d.checks = append(d.checks, c)
	return nil
}

func (d *dataset) ListChecks(_ context.Context, monitorID string, limit int) ([]monitor.Check, error) {
	var out []monitor.Check
	for _, c := range d.checks {
		if c.MonitorID == monitorID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CheckedAt.After(out[j].CheckedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *dataset) CountChecks(_ context.Context, monitorID string, start, end time.Time) (monitor.CheckCounts, error) {
	var (
		counts monitor.CheckCounts
		sum    float64
		n      int
	)
	for _, c := range d.checks {
		if c.MonitorID != monitorID || c.CheckedAt.Before(start) || c.CheckedAt.After(end) {
			continue
		}
		counts.Total++
		if !c.IsUp {
			continue
		}
		counts.Up++
		if c.ResponseTimeMs != nil {
			sum += float64(*c.ResponseTimeMs)
			n++
		}
	}
	if n > 0 {
		avg := sum / float64(n)
		counts.AvgResponseTimeMs = &avg
	}
	return counts, nil
}

func (d *dataset) DeleteChecksBefore(_ context.Context, cutoff time.Time) (int64, error) {
	kept := make([]monitor.Check, 0, len(d.checks))
	for _, c := range d.checks {
		if !c.CheckedAt.Before(cutoff) {
			kept = append(kept, c)
		}
	}
	deleted := int64(len(d.checks) - len(kept))
	d.checks = kept
	return deleted, nil
}

func (d *dataset) InsertIncident(ctx context.Context, inc monitor.Incident) error {
	if _, ok := d.incidents[inc.ID]; ok {
		return errors.AlreadyExistsf("incident %q", inc.ID)
	}
	if inc.Status == monitor.IncidentOngoing {
		if _, found, _ := d.OngoingIncident(ctx, inc.MonitorID); found {
			return errors.AlreadyExistsf("ongoing incident for monitor %q", inc.MonitorID)
		}
	}
	d.incidents[inc.ID] = inc
	return nil
}

func (d *dataset) UpdateIncident(_ context.Context, inc monitor.Incident) error {
	if _, ok := d.incidents[inc.ID]; !ok {
		return errors.Annotatef(monitor.IncidentNotFound, "%q", inc.ID)
	}
	d.incidents[inc.ID] = inc
	return nil
}

func (d *dataset) GetIncident(_ context.Context, id string) (monitor.Incident, error) {
	inc, ok := d.incidents[id]
	if !ok {
		return monitor.Incident{}, errors.Annotatef(monitor.IncidentNotFound, "%q", id)
	}
	return inc, nil
}

func (d *dataset) OngoingIncident(_ context.Context, monitorID string) (monitor.Incident, bool, error) {
	for _, inc := range d.incidents {
		if inc.MonitorID == monitorID && inc.Status == monitor.IncidentOngoing {
			return inc, true, nil
		}
	}
	return monitor.Incident{}, false, nil
}

func (d *dataset) ListIncidents(_ context.Context, f monitor.IncidentFilter) ([]monitor.Incident, error) {
	var out []monitor.Incident
	for _, inc := range d.incidents {
		switch {
		case f.WorkspaceID != "" && inc.WorkspaceID != f.WorkspaceID:
		case f.MonitorID != "" && inc.MonitorID != f.MonitorID:
		case f.Status != "" && inc.Status != f.Status:
		case f.ResolvedSince != nil && (inc.ResolvedAt == nil || inc.ResolvedAt.Before(*f.ResolvedSince)):
		default:
			out = append(out, inc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (d *dataset) SetIncidentTicket(_ context.Context, incidentID, ticketID string) (bool, error) {
	inc, ok := d.incidents[incidentID]
	if !ok {
		return false, errors.Annotatef(monitor.IncidentNotFound, "%q", incidentID)
	}
	if inc.TicketID != "" {
		return false, nil
	}
	inc.TicketID = ticketID
	d.incidents[incidentID] = inc
	return true, nil
}
