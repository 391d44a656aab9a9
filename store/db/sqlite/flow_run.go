package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vaanihq/vaani/store"
)

func (d *DB) UpsertFlowRun(ctx context.Context, upsert *store.UpsertFlowRun) (*store.FlowRun, error) {
	fields := []string{"run_id", "flow_id", "flow_version", "session_id", "user_id", "current_state", "context", "status", "started_ts", "updated_ts"}
	args := []any{upsert.RunID, upsert.FlowID, upsert.FlowVersion, upsert.SessionID, upsert.UserID, upsert.CurrentState, upsert.Context, upsert.Status, upsert.StartedTs, time.Now().Unix()}

	stmt := `INSERT INTO flow_run (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT (run_id) DO UPDATE SET
			current_state = EXCLUDED.current_state,
			context = EXCLUDED.context,
			status = EXCLUDED.status,
			updated_ts = EXCLUDED.updated_ts
		RETURNING run_id, flow_id, flow_version, session_id, user_id, current_state, context, status, started_ts, updated_ts`

	run := &store.FlowRun{}
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&run.RunID, &run.FlowID, &run.FlowVersion, &run.SessionID, &run.UserID,
		&run.CurrentState, &run.Context, &run.Status, &run.StartedTs, &run.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert flow_run: %w", err)
	}
	return run, nil
}

func (d *DB) ListFlowRuns(ctx context.Context, find *store.FindFlowRun) ([]*store.FlowRun, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.RunID != nil {
		where, args = append(where, "run_id = "+placeholder(len(args)+1)), append(args, *find.RunID)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
	}

	query := `SELECT run_id, flow_id, flow_version, session_id, user_id, current_state, context, status, started_ts, updated_ts
		FROM flow_run
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list flow_runs: %w", err)
	}
	defer rows.Close()

	list := make([]*store.FlowRun, 0)
	for rows.Next() {
		run := &store.FlowRun{}
		if err := rows.Scan(
			&run.RunID, &run.FlowID, &run.FlowVersion, &run.SessionID, &run.UserID,
			&run.CurrentState, &run.Context, &run.Status, &run.StartedTs, &run.UpdatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flow_run: %w", err)
		}
		list = append(list, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow_runs: %w", err)
	}
	return list, nil
}
