package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Store is the local offline mirror of chats and messages. It keeps a
// deliberately flat subset of the remote schema and may be wiped and rebuilt
// at any time; the remote store stays authoritative for synchronized rows.
type Store struct {
	db  *sql.DB
	sql sq.StatementBuilderType
}

type Chat struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID        string
	ChatID    string
	Content   string
	Role      string
	CreatedAt time.Time
}

func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	return &Store{
		db:  db,
		sql: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_messages_chat_id ON messages(chat_id);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Chats returns every cached chat, most recently updated first.
func (s *Store) Chats(ctx context.Context) ([]Chat, error) {
	q := s.sql.Select("id", "title", "created_at", "updated_at").
		From("chats").
		OrderBy("updated_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cached chats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("cached chats: %w", err)
	}
	defer rows.Close()

	out := make([]Chat, 0)
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cached chat: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached chats: %w", err)
	}
	return out, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (Chat, error) {
	q := s.sql.Select("id", "title", "created_at", "updated_at").
		From("chats").
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build cached chat query: %w", err)
	}

	var c Chat
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, ErrNotFound
		}
		return Chat{}, fmt.Errorf("cached chat: %w", err)
	}
	return c, nil
}

// PutChat upserts one chat row.
func (s *Store) PutChat(ctx context.Context, c Chat) error {
	q := s.sql.Insert("chats").
		Columns("id", "title", "created_at", "updated_at").
		Values(c.ID, c.Title, c.CreatedAt, c.UpdatedAt).
		Suffix("ON CONFLICT(id) DO UPDATE SET title=excluded.title, created_at=excluded.created_at, updated_at=excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build put chat query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("put chat: %w", err)
	}
	return nil
}

// PutChats bulk-upserts chat rows.
func (s *Store) PutChats(ctx context.Context, chats []Chat) error {
	for _, c := range chats {
		if err := s.PutChat(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteChat(ctx context.Context, id string) error {
	q := s.sql.Delete("chats").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete cached chat query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete cached chat: %w", err)
	}
	return nil
}

// MessagesByChat returns a chat's cached messages in conversation order.
func (s *Store) MessagesByChat(ctx context.Context, chatID string) ([]Message, error) {
	q := s.sql.Select("id", "chat_id", "content", "role", "created_at").
		From("messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cached messages query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("cached messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Content, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cached message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached messages: %w", err)
	}
	return out, nil
}

// PutMessage upserts one message row.
func (s *Store) PutMessage(ctx context.Context, m Message) error {
	q := s.sql.Insert("messages").
		Columns("id", "chat_id", "content", "role", "created_at").
		Values(m.ID, m.ChatID, m.Content, m.Role, m.CreatedAt).
		Suffix("ON CONFLICT(id) DO UPDATE SET chat_id=excluded.chat_id, content=excluded.content, role=excluded.role, created_at=excluded.created_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build put message query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

// PutMessages bulk-upserts message rows.
func (s *Store) PutMessages(ctx context.Context, msgs []Message) error {
	for _, m := range msgs {
		if err := s.PutMessage(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMessagesByChat removes all cached messages for a chat.
func (s *Store) DeleteMessagesByChat(ctx context.Context, chatID string) error {
	q := s.sql.Delete("messages").Where(sq.Eq{"chat_id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete cached messages query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete cached messages: %w", err)
	}
	return nil
}

// Wipe drops all cached data. Safe because the remote store is the source of
// truth for any synchronized entity.
func (s *Store) Wipe(ctx context.Context) error {
	for _, table := range []string{"messages", "chats"} {
		q := s.sql.Delete(table)
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build wipe query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	return nil
}
