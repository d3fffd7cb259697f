package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

const messageColumns = "id, chat_id, role, content, experimental_attachments, parts, message_group_id, model, created_at"

// InsertMessage appends one message. A missing id or timestamp is assigned
// here so callers can pass partially filled records.
func (s *Store) InsertMessage(ctx context.Context, m Message) (Message, error) {
	m = withMessageDefaults(m)

	q := s.sql.Insert("messages").
		Columns("id", "chat_id", "role", "content", "experimental_attachments", "parts", "message_group_id", "model", "created_at").
		Values(m.ID, m.ChatID, m.Role, m.Content, m.Attachments, m.Parts, m.MessageGroupID, m.Model, m.CreatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build insert message query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// InsertMessages bulk-inserts messages, used when seeding a fresh chat.
func (s *Store) InsertMessages(ctx context.Context, msgs []Message) ([]Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	q := s.sql.Insert("messages").
		Columns("id", "chat_id", "role", "content", "experimental_attachments", "parts", "message_group_id", "model", "created_at")
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		m = withMessageDefaults(m)
		out = append(out, m)
		q = q.Values(m.ID, m.ChatID, m.Role, m.Content, m.Attachments, m.Parts, m.MessageGroupID, m.Model, m.CreatedAt)
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build bulk insert messages query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("bulk insert messages: %w", err)
	}
	return out, nil
}

// ListMessages returns a chat's messages in conversation order.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	q := s.sql.Select(messageColumns).
		From("messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID,
			&m.ChatID,
			&m.Role,
			&m.Content,
			&m.Attachments,
			&m.Parts,
			&m.MessageGroupID,
			&m.Model,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

// DeleteMessages removes all messages for a chat.
func (s *Store) DeleteMessages(ctx context.Context, chatID string) error {
	q := s.sql.Delete("messages").Where(sq.Eq{"chat_id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete messages query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

func withMessageDefaults(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m
}
