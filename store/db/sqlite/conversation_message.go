package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vaanihq/vaani/store"
)

func (d *DB) CreateConversationMessage(ctx context.Context, create *store.CreateConversationMessage) (*store.ConversationMessage, error) {
	fields := []string{"session_id", "recipient_id", "platform", "role", "content", "intent", "confidence", "entities", "turn_number", "routing_decision", "processing_ms", "created_ts"}
	createdTs := time.Now().Unix()
	args := []any{create.SessionID, create.RecipientID, create.Platform, create.Role, create.Content, create.Intent, create.Confidence, normalizeJSONB(create.Entities), create.TurnNumber, create.RoutingDecision, create.ProcessingMs, createdTs}

	stmt := `INSERT INTO conversation_message (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`

	message := &store.ConversationMessage{
		SessionID:       create.SessionID,
		RecipientID:     create.RecipientID,
		Platform:        create.Platform,
		Role:            create.Role,
		Content:         create.Content,
		Intent:          create.Intent,
		Confidence:      create.Confidence,
		Entities:        create.Entities,
		TurnNumber:      create.TurnNumber,
		RoutingDecision: create.RoutingDecision,
		ProcessingMs:    create.ProcessingMs,
		CreatedTs:       createdTs,
	}
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&message.ID); err != nil {
		return nil, fmt.Errorf("failed to create conversation_message: %w", err)
	}
	return message, nil
}

func (d *DB) ListConversationMessages(ctx context.Context, find *store.FindConversationMessage) ([]*store.ConversationMessage, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}
	if find.RecipientID != nil {
		where, args = append(where, "recipient_id = "+placeholder(len(args)+1)), append(args, *find.RecipientID)
	}
	if find.Role != nil {
		where, args = append(where, "role = "+placeholder(len(args)+1)), append(args, *find.Role)
	}

	query := `SELECT id, session_id, recipient_id, platform, role, content, intent, confidence, entities, turn_number, routing_decision, processing_ms, created_ts
		FROM conversation_message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
		if find.Offset != nil {
			query += fmt.Sprintf(" OFFSET %d", *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation_messages: %w", err)
	}
	defer rows.Close()

	list := make([]*store.ConversationMessage, 0)
	for rows.Next() {
		m := &store.ConversationMessage{}
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.RecipientID, &m.Platform, &m.Role, &m.Content,
			&m.Intent, &m.Confidence, &m.Entities, &m.TurnNumber, &m.RoutingDecision,
			&m.ProcessingMs, &m.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation_message: %w", err)
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation_messages: %w", err)
	}
	return list, nil
}

func (d *DB) DeleteConversationMessages(ctx context.Context, sessionID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM conversation_message WHERE session_id = `+placeholder(1), sessionID); err != nil {
		return fmt.Errorf("failed to delete conversation_messages: %w", err)
	}
	return nil
}

// normalizeJSONB keeps jsonb columns non-nil; Postgres rejects a nil []byte
// for a jsonb parameter.
func normalizeJSONB(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
