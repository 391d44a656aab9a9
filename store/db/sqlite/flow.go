package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vaanihq/vaani/store"
)

func (d *DB) UpsertFlow(ctx context.Context, upsert *store.UpsertFlow) (*store.Flow, error) {
	fields := []string{"id", "version", "name", "description", "module", "trigger_intent", "states", "initial_state", "final_states", "enabled", "updated_ts"}
	args := []any{upsert.ID, upsert.Version, upsert.Name, upsert.Description, upsert.Module, upsert.Trigger, upsert.States, upsert.InitialState, upsert.FinalStates, upsert.Enabled, time.Now().Unix()}

	stmt := `INSERT INTO flow (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT (id, version) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			module = EXCLUDED.module,
			trigger_intent = EXCLUDED.trigger_intent,
			states = EXCLUDED.states,
			initial_state = EXCLUDED.initial_state,
			final_states = EXCLUDED.final_states,
			enabled = EXCLUDED.enabled,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, version, name, description, module, trigger_intent, states, initial_state, final_states, enabled, updated_ts`

	flow := &store.Flow{}
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&flow.ID, &flow.Version, &flow.Name, &flow.Description, &flow.Module, &flow.Trigger,
		&flow.States, &flow.InitialState, &flow.FinalStates, &flow.Enabled, &flow.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert flow: %w", err)
	}
	return flow, nil
}

func (d *DB) ListFlows(ctx context.Context, find *store.FindFlow) ([]*store.Flow, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Module != nil {
		where, args = append(where, "module = "+placeholder(len(args)+1)), append(args, *find.Module)
	}
	if find.Trigger != nil {
		where, args = append(where, "trigger_intent = "+placeholder(len(args)+1)), append(args, *find.Trigger)
	}
	if find.Enabled != nil {
		where, args = append(where, "enabled = "+placeholder(len(args)+1)), append(args, *find.Enabled)
	}

	query := `SELECT id, version, name, description, module, trigger_intent, states, initial_state, final_states, enabled, updated_ts
		FROM flow
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id ASC, version DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Flow, 0)
	for rows.Next() {
		flow := &store.Flow{}
		if err := rows.Scan(
			&flow.ID, &flow.Version, &flow.Name, &flow.Description, &flow.Module, &flow.Trigger,
			&flow.States, &flow.InitialState, &flow.FinalStates, &flow.Enabled, &flow.UpdatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		list = append(list, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flows: %w", err)
	}
	return list, nil
}

// UpdateFlow applies the partial update to every version of the flow, so a
// toggle affects the flow regardless of which version is live.
func (d *DB) UpdateFlow(ctx context.Context, update *store.UpdateFlow) (*store.Flow, error) {
	set, args := []string{}, []any{}

	if update.Enabled != nil {
		set, args = append(set, "enabled = "+placeholder(len(args)+1)), append(args, *update.Enabled)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())

	args = append(args, update.ID)
	stmt := `UPDATE flow SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, version, name, description, module, trigger_intent, states, initial_state, final_states, enabled, updated_ts`

	flow := &store.Flow{}
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&flow.ID, &flow.Version, &flow.Name, &flow.Description, &flow.Module, &flow.Trigger,
		&flow.States, &flow.InitialState, &flow.FinalStates, &flow.Enabled, &flow.UpdatedTs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("flow not found")
		}
		return nil, fmt.Errorf("failed to update flow: %w", err)
	}
	return flow, nil
}

func (d *DB) DeleteFlow(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM flow WHERE id = `+placeholder(1), id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("flow not found")
	}
	return nil
}
