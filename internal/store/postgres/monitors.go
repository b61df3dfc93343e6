package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"

	"uptime-incident-engine/internal/monitor"
)

const monitorColumns = `
	id, workspace_id, name, check_type, url, host, port, method, expected_status, keyword,
	check_interval_seconds, timeout_seconds, consecutive_failures_threshold,
	severity, notification_channels, notify_on_recovery,
	is_active, current_status, consecutive_failures, last_check_at, next_check_at,
	last_response_time_ms, last_error_message, created_at, updated_at`

const monitorUniqueName = "monitors_workspace_name_key"

func scanMonitor(row pgx.Row) (monitor.Monitor, error) {
	var (
		m        monitor.Monitor
		channels []string
	)
	err := row.Scan(
		&m.ID, &m.WorkspaceID, &m.Name, &m.CheckType, &m.URL, &m.Host, &m.Port, &m.Method, &m.ExpectedStatus, &m.Keyword,
		&m.CheckIntervalSeconds, &m.TimeoutSeconds, &m.ConsecutiveFailuresThreshold,
		&m.Severity, &channels, &m.NotifyOnRecovery,
		&m.IsActive, &m.CurrentStatus, &m.ConsecutiveFailures, &m.LastCheckAt, &m.NextCheckAt,
		&m.LastResponseTimeMs, &m.LastErrorMessage, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return monitor.Monitor{}, err
	}
	for _, c := range channels {
		m.NotificationChannels = append(m.NotificationChannels, monitor.Channel(c))
	}
	return m, nil
}

func channelStrings(cs []monitor.Channel) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, string(c))
	}
	return out
}

func (q *queries) CreateMonitor(ctx context.Context, m monitor.Monitor) error {
	_, err := q.q.Exec(ctx, `
		INSERT INTO monitors (`+monitorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		m.ID, m.WorkspaceID, m.Name, string(m.CheckType), m.URL, m.Host, m.Port, m.Method, m.ExpectedStatus, m.Keyword,
		m.CheckIntervalSeconds, m.TimeoutSeconds, m.ConsecutiveFailuresThreshold,
		string(m.Severity), channelStrings(m.NotificationChannels), m.NotifyOnRecovery,
		m.IsActive, string(m.CurrentStatus), m.ConsecutiveFailures, m.LastCheckAt, m.NextCheckAt,
		m.LastResponseTimeMs, m.LastErrorMessage, m.CreatedAt, m.UpdatedAt,
	)
	if uniqueViolation(err, monitorUniqueName) {
		return errors.Annotatef(monitor.DuplicateMonitorName, "%q", m.Name)
	}
	return errors.Annotate(err, "inserting monitor")
}

func (q *queries) GetMonitor(ctx context.Context, id string) (monitor.Monitor, error) {
	sql := `SELECT ` + monitorColumns + ` FROM monitors WHERE id = $1`
	if q.forUpdate {
		sql += ` FOR UPDATE`
	}
	m, err := scanMonitor(q.q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Monitor{}, errors.Annotatef(monitor.MonitorNotFound, "%q", id)
	}
	return m, errors.Annotatef(err, "reading monitor %q", id)
}

func (q *queries) FindMonitorByName(ctx context.Context, workspaceID, name string) (monitor.Monitor, error) {
	m, err := scanMonitor(q.q.QueryRow(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE workspace_id = $1 AND name = $2`,
		workspaceID, name,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Monitor{}, errors.Annotatef(monitor.MonitorNotFound, "%q in workspace %q", name, workspaceID)
	}
	return m, errors.Annotatef(err, "reading monitor %q", name)
}

func (q *queries) ListMonitors(ctx context.Context, workspaceID string) ([]monitor.Monitor, error) {
	rows, err := q.q.Query(ctx, `
		SELECT `+monitorColumns+`
		  FROM monitors
		 WHERE $1 = '' OR workspace_id = $1
		 ORDER BY created_at, name`,
		workspaceID,
	)
	if err != nil {
		return nil, errors.Annotate(err, "listing monitors")
	}
	return collectMonitors(rows)
}

func collectMonitors(rows pgx.Rows) ([]monitor.Monitor, error) {
	defer rows.Close()
	var out []monitor.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, m)
	}
	return out, errors.Trace(rows.Err())
}

func (q *queries) UpdateMonitor(ctx context.Context, m monitor.Monitor) error {
	tag, err := q.q.Exec(ctx, `
		UPDATE monitors
		   SET name = $2, check_type = $3, url = $4, host = $5, port = $6, method = $7,
		       expected_status = $8, keyword = $9,
		       check_interval_seconds = $10, timeout_seconds = $11, consecutive_failures_threshold = $12,
		       severity = $13, notification_channels = $14, notify_on_recovery = $15,
		       is_active = $16, current_status = $17, consecutive_failures = $18,
		       last_check_at = $19, next_check_at = $20, last_response_time_ms = $21,
		       last_error_message = $22, updated_at = $23
		 WHERE id = $1`,
		m.ID, m.Name, string(m.CheckType), m.URL, m.Host, m.Port, m.Method,
		m.ExpectedStatus, m.Keyword,
		m.CheckIntervalSeconds, m.TimeoutSeconds, m.ConsecutiveFailuresThreshold,
		string(m.Severity), channelStrings(m.NotificationChannels), m.NotifyOnRecovery,
		m.IsActive, string(m.CurrentStatus), m.ConsecutiveFailures,
		m.LastCheckAt, m.NextCheckAt, m.LastResponseTimeMs,
		m.LastErrorMessage, m.UpdatedAt,
	)
	if uniqueViolation(err, monitorUniqueName) {
		return errors.Annotatef(monitor.DuplicateMonitorName, "%q", m.Name)
	}
	if err != nil {
		return errors.Annotatef(err, "updating monitor %q", m.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Annotatef(monitor.MonitorNotFound, "%q", m.ID)
	}
	return nil
}

// DeleteMonitor relies on ON DELETE CASCADE for checks and incidents.
func (q *queries) DeleteMonitor(ctx context.Context, id string) error {
	tag, err := q.q.Exec(ctx, `DELETE FROM monitors WHERE id = $1`, id)
	if err != nil {
		return errors.Annotatef(err, "deleting monitor %q", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Annotatef(monitor.MonitorNotFound, "%q", id)
	}
	return nil
}

func (q *queries) DueMonitors(ctx context.Context, now time.Time, limit int) ([]monitor.Monitor, error) {
	rows, err := q.q.Query(ctx, `
		SELECT `+monitorColumns+`
		  FROM monitors
		 WHERE is_active AND next_check_at <= $1
		 ORDER BY next_check_at
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, errors.Annotate(err, "selecting due monitors")
	}
	return collectMonitors(rows)
}

// ClaimMonitor is a compare-and-swap on next_check_at. Only one of several
// concurrent claimers holding the same expected value succeeds.
func (q *queries) ClaimMonitor(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	tag, err := q.q.Exec(ctx, `
		UPDATE monitors
		   SET next_check_at = $3
		 WHERE id = $1 AND next_check_at = $2`,
		id, expected, next,
	)
	if err != nil {
		return false, errors.Annotatef(err, "claiming monitor %q", id)
	}
	return tag.RowsAffected() == 1, nil
}
