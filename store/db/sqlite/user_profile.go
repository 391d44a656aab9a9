package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vaanihq/vaani/store"
)

func (d *DB) UpsertUserProfile(ctx context.Context, upsert *store.UpsertUserProfile) (*store.UserProfile, error) {
	stmt := `INSERT INTO user_profile (user_id, attrs, completeness, updated_ts)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (user_id) DO UPDATE SET
			attrs = EXCLUDED.attrs,
			completeness = EXCLUDED.completeness,
			updated_ts = EXCLUDED.updated_ts
		RETURNING user_id, attrs, completeness, updated_ts`

	p := &store.UserProfile{}
	if err := d.db.QueryRowContext(ctx, stmt, upsert.UserID, normalizeJSONB(upsert.Attrs), upsert.Completeness, time.Now().Unix()).Scan(
		&p.UserID, &p.Attrs, &p.Completeness, &p.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert user_profile: %w", err)
	}
	return p, nil
}

// GetUserProfile returns (nil, nil) when no profile exists yet.
func (d *DB) GetUserProfile(ctx context.Context, userID string) (*store.UserProfile, error) {
	p := &store.UserProfile{}
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, attrs, completeness, updated_ts FROM user_profile WHERE user_id = `+placeholder(1),
		userID,
	).Scan(&p.UserID, &p.Attrs, &p.Completeness, &p.UpdatedTs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user_profile: %w", err)
	}
	return p, nil
}
