package postgres

import (
	"context"
	"time"

	"github.com/juju/errors"

	"uptime-incident-engine/internal/monitor"
)

func (q *queries) InsertCheck(ctx context.Context, c monitor.Check) error {
	_, err := q.q.Exec(ctx, `
		INSERT INTO checks (id, monitor_id, is_up, status_code, response_time_ms, error_message, error_type, checked_at)
		VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, $7, $8)`,
		c.ID, c.MonitorID, c.IsUp, c.StatusCode, c.ResponseTimeMs, c.ErrorMessage, string(c.ErrorType), c.CheckedAt,
	)
	return errors.Annotate(err, "inserting check")
}

func (q *queries) ListChecks(ctx context.Context, monitorID string, limit int) ([]monitor.Check, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := q.q.Query(ctx, `
		SELECT id, monitor_id, is_up, COALESCE(status_code, 0), response_time_ms, error_message, error_type, checked_at
		  FROM checks
		 WHERE monitor_id = $1
		 ORDER BY checked_at DESC
		 LIMIT $2`,
		monitorID, limit,
	)
	if err != nil {
		return nil, errors.Annotate(err, "listing checks")
	}
	defer rows.Close()

	var out []monitor.Check
	for rows.Next() {
		var c monitor.Check
		if err := rows.Scan(&c.ID, &c.MonitorID, &c.IsUp, &c.StatusCode, &c.ResponseTimeMs,
			&c.ErrorMessage, &c.ErrorType, &c.CheckedAt); err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, c)
	}
	return out, errors.Trace(rows.Err())
}

func (q *queries) CountChecks(ctx context.Context, monitorID string, start, end time.Time) (monitor.CheckCounts, error) {
	var counts monitor.CheckCounts
	err := q.q.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE is_up) AS up,
			AVG(response_time_ms) FILTER (WHERE is_up AND response_time_ms IS NOT NULL)::float8 AS avg_ms
		  FROM checks
		 WHERE monitor_id = $1 AND checked_at >= $2 AND checked_at <= $3`,
		monitorID, start, end,
	).Scan(&counts.Total, &counts.Up, &counts.AvgResponseTimeMs)
	if err != nil {
		return monitor.CheckCounts{}, errors.Annotate(err, "counting checks")
	}
	return counts, nil
}

func (q *queries) DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.q.Exec(ctx, `DELETE FROM checks WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Annotate(err, "deleting checks")
	}
	return tag.RowsAffected(), nil
}
