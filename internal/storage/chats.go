package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

const chatColumns = "id, user_id, title, model, system_prompt, public, project_id, pinned, pinned_at, created_at, updated_at"

type CreateChatParams struct {
	UserID       string
	Title        string
	Model        string
	SystemPrompt string
	ProjectID    *string
}

// CreateChat inserts a new chat and returns the authoritative record with
// its store-assigned id and timestamps.
func (s *Store) CreateChat(ctx context.Context, p CreateChatParams) (Chat, error) {
	now := time.Now().UTC()
	chat := Chat{
		ID:           uuid.New().String(),
		UserID:       p.UserID,
		Title:        strings.TrimSpace(p.Title),
		Model:        p.Model,
		SystemPrompt: p.SystemPrompt,
		Public:       true,
		ProjectID:    p.ProjectID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if chat.Title == "" {
		chat.Title = "New Chat"
	}

	q := s.sql.Insert("chats").
		Columns("id", "user_id", "title", "model", "system_prompt", "public", "project_id", "pinned", "pinned_at", "created_at", "updated_at").
		Values(chat.ID, chat.UserID, chat.Title, chat.Model, chat.SystemPrompt, chat.Public, chat.ProjectID, false, nil, chat.CreatedAt, chat.UpdatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build create chat query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// ListChats returns a user's chats in display order: pinned first, most
// recently pinned at the top, then by update recency.
func (s *Store) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	q := s.sql.Select(chatColumns).
		From("chats").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("pinned DESC", "pinned_at DESC NULLS LAST", "updated_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := make([]Chat, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	return out, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (Chat, error) {
	q := s.sql.Select(chatColumns).From("chats").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build get chat query: %w", err)
	}
	c, err := scanChat(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, ErrNotFound
		}
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

// UpdateChatTitle renames a chat and advances updated_at.
func (s *Store) UpdateChatTitle(ctx context.Context, id, title string) error {
	return s.updateChat(ctx, id, map[string]any{
		"title":      title,
		"updated_at": time.Now().UTC(),
	})
}

// UpdateChatModel switches the chat's model and advances updated_at.
func (s *Store) UpdateChatModel(ctx context.Context, id, model string) error {
	return s.updateChat(ctx, id, map[string]any{
		"model":      model,
		"updated_at": time.Now().UTC(),
	})
}

// TouchChat advances updated_at after message activity.
func (s *Store) TouchChat(ctx context.Context, id string, at time.Time) error {
	return s.updateChat(ctx, id, map[string]any{"updated_at": at.UTC()})
}

// SetChatPinned pins or unpins a chat. pinned_at is set on pin and cleared
// on unpin.
func (s *Store) SetChatPinned(ctx context.Context, id string, pinned bool, at time.Time) error {
	values := map[string]any{"pinned": pinned, "pinned_at": nil}
	if pinned {
		values["pinned_at"] = at.UTC()
	}
	return s.updateChat(ctx, id, values)
}

func (s *Store) updateChat(ctx context.Context, id string, values map[string]any) error {
	q := s.sql.Update("chats").SetMap(values).Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update chat query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChat removes a chat and its messages.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	if err := s.DeleteMessages(ctx, id); err != nil {
		return err
	}

	q := s.sql.Delete("chats").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete chat query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (Chat, error) {
	var c Chat
	var projectID sql.NullString
	var pinnedAt sql.NullTime
	if err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Title,
		&c.Model,
		&c.SystemPrompt,
		&c.Public,
		&projectID,
		&c.Pinned,
		&pinnedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Chat{}, err
	}
	if projectID.Valid {
		c.ProjectID = &projectID.String
	}
	if pinnedAt.Valid {
		t := pinnedAt.Time
		c.PinnedAt = &t
	}
	return c, nil
}
