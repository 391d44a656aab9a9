package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vaanihq/vaani/store"
)

func (d *DB) CreateTrainingSample(ctx context.Context, create *store.CreateTrainingSample) (*store.TrainingSample, error) {
	fields := []string{"text", "intent", "entities", "language", "confidence", "source", "review_status", "created_ts"}
	createdTs := time.Now().Unix()
	args := []any{create.Text, create.Intent, normalizeJSONB(create.Entities), create.Language, create.Confidence, create.Source, create.ReviewStatus, createdTs}

	stmt := `INSERT INTO training_sample (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`

	sample := &store.TrainingSample{
		Text:         create.Text,
		Intent:       create.Intent,
		Entities:     create.Entities,
		Language:     create.Language,
		Confidence:   create.Confidence,
		Source:       create.Source,
		ReviewStatus: create.ReviewStatus,
		CreatedTs:    createdTs,
	}
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&sample.ID); err != nil {
		return nil, fmt.Errorf("failed to create training_sample: %w", err)
	}
	return sample, nil
}

func (d *DB) ListTrainingSamples(ctx context.Context, find *store.FindTrainingSample) ([]*store.TrainingSample, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.Intent != nil {
		where, args = append(where, "intent = "+placeholder(len(args)+1)), append(args, *find.Intent)
	}
	if find.ReviewStatus != nil {
		where, args = append(where, "review_status = "+placeholder(len(args)+1)), append(args, *find.ReviewStatus)
	}

	query := `SELECT id, text, intent, entities, language, confidence, source, review_status, created_ts
		FROM training_sample
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id DESC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list training_samples: %w", err)
	}
	defer rows.Close()

	list := make([]*store.TrainingSample, 0)
	for rows.Next() {
		s := &store.TrainingSample{}
		if err := rows.Scan(&s.ID, &s.Text, &s.Intent, &s.Entities, &s.Language, &s.Confidence, &s.Source, &s.ReviewStatus, &s.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan training_sample: %w", err)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate training_samples: %w", err)
	}
	return list, nil
}
