package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"

	"uptime-incident-engine/internal/monitor"
)

const incidentColumns = `
	id, monitor_id, workspace_id, status, started_at, resolved_at,
	first_error_message, first_error_type, last_error_message, last_error_type,
	total_checks, failed_checks, ticket_id,
	acknowledged_at, acknowledged_by_id, resolution_notes, root_cause,
	created_at, updated_at`

const incidentOneOngoing = "incidents_one_ongoing_idx"

func scanIncident(row pgx.Row) (monitor.Incident, error) {
	var inc monitor.Incident
	err := row.Scan(
		&inc.ID, &inc.MonitorID, &inc.WorkspaceID, &inc.Status, &inc.StartedAt, &inc.ResolvedAt,
		&inc.FirstErrorMessage, &inc.FirstErrorType, &inc.LastErrorMessage, &inc.LastErrorType,
		&inc.TotalChecks, &inc.FailedChecks, &inc.TicketID,
		&inc.AcknowledgedAt, &inc.AcknowledgedByID, &inc.ResolutionNotes, &inc.RootCause,
		&inc.CreatedAt, &inc.UpdatedAt,
	)
	return inc, err
}

func (q *queries) InsertIncident(ctx context.Context, inc monitor.Incident) error {
	_, err := q.q.Exec(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		inc.ID, inc.MonitorID, inc.WorkspaceID, string(inc.Status), inc.StartedAt, inc.ResolvedAt,
		inc.FirstErrorMessage, string(inc.FirstErrorType), inc.LastErrorMessage, string(inc.LastErrorType),
		inc.TotalChecks, inc.FailedChecks, inc.TicketID,
		inc.AcknowledgedAt, inc.AcknowledgedByID, inc.ResolutionNotes, inc.RootCause,
		inc.CreatedAt, inc.UpdatedAt,
	)
	if uniqueViolation(err, incidentOneOngoing) {
		return errors.AlreadyExistsf("ongoing incident for monitor %q", inc.MonitorID)
	}
	return errors.Annotate(err, "inserting incident")
}

func (q *queries) UpdateIncident(ctx context.Context, inc monitor.Incident) error {
	tag, err := q.q.Exec(ctx, `
		UPDATE incidents
		   SET status = $2, resolved_at = $3,
		       last_error_message = $4, last_error_type = $5,
		       total_checks = $6, failed_checks = $7, ticket_id = $8,
		       acknowledged_at = $9, acknowledged_by_id = $10,
		       resolution_notes = $11, root_cause = $12, updated_at = $13
		 WHERE id = $1`,
		inc.ID, string(inc.Status), inc.ResolvedAt,
		inc.LastErrorMessage, string(inc.LastErrorType),
		inc.TotalChecks, inc.FailedChecks, inc.TicketID,
		inc.AcknowledgedAt, inc.AcknowledgedByID,
		inc.ResolutionNotes, inc.RootCause, inc.UpdatedAt,
	)
	if err != nil {
		return errors.Annotatef(err, "updating incident %q", inc.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Annotatef(monitor.IncidentNotFound, "%q", inc.ID)
	}
	return nil
}

func (q *queries) GetIncident(ctx context.Context, id string) (monitor.Incident, error) {
	sql := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	if q.forUpdate {
		sql += ` FOR UPDATE`
	}
	inc, err := scanIncident(q.q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Incident{}, errors.Annotatef(monitor.IncidentNotFound, "%q", id)
	}
	return inc, errors.Annotatef(err, "reading incident %q", id)
}

func (q *queries) OngoingIncident(ctx context.Context, monitorID string) (monitor.Incident, bool, error) {
	inc, err := scanIncident(q.q.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE monitor_id = $1 AND status = 'ongoing'`,
		monitorID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Incident{}, false, nil
	}
	if err != nil {
		return monitor.Incident{}, false, errors.Annotatef(err, "reading ongoing incident of %q", monitorID)
	}
	return inc, true, nil
}

func (q *queries) ListIncidents(ctx context.Context, f monitor.IncidentFilter) ([]monitor.Incident, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.WorkspaceID != "" {
		add("workspace_id = $%d", f.WorkspaceID)
	}
	if f.MonitorID != "" {
		add("monitor_id = $%d", f.MonitorID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.ResolvedSince != nil {
		add("resolved_at >= $%d", *f.ResolvedSince)
	}

	sql := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY started_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := q.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Annotate(err, "listing incidents")
	}
	defer rows.Close()

	var out []monitor.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, inc)
	}
	return out, errors.Trace(rows.Err())
}

func (q *queries) SetIncidentTicket(ctx context.Context, incidentID, ticketID string) (bool, error) {
	tag, err := q.q.Exec(ctx, `
		UPDATE incidents
		   SET ticket_id = $2, updated_at = now()
		 WHERE id = $1 AND ticket_id = ''`,
		incidentID, ticketID,
	)
	if err != nil {
		return false, errors.Annotatef(err, "linking ticket to incident %q", incidentID)
	}
	return tag.RowsAffected() == 1, nil
}
