package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"tenai/internal/providers"
)

// UpsertUserKey stores a user's encrypted provider credential, replacing any
// existing row for that (user, provider) pair.
func (s *Store) UpsertUserKey(ctx context.Context, userID string, provider providers.ID, encAPIKey string) error {
	now := time.Now().UTC()
	q := s.sql.Insert("user_keys").
		Columns("user_id", "provider", "enc_api_key", "created_at", "updated_at").
		Values(userID, provider, encAPIKey, now, now).
		Suffix("ON CONFLICT(user_id, provider) DO UPDATE SET enc_api_key=excluded.enc_api_key, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert user key query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert user key: %w", err)
	}
	return nil
}

func (s *Store) DeleteUserKey(ctx context.Context, userID string, provider providers.ID) error {
	q := s.sql.Delete("user_keys").Where(sq.Eq{"user_id": userID, "provider": provider})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete user key query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete user key: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserKeyProviders lists the providers a user has stored a personal key for.
func (s *Store) UserKeyProviders(ctx context.Context, userID string) ([]providers.ID, error) {
	q := s.sql.Select("provider").From("user_keys").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user key providers query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("user key providers: %w", err)
	}
	defer rows.Close()

	out := make([]providers.ID, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan user key row: %w", err)
		}
		if id, ok := providers.Parse(raw); ok {
			out = append(out, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user key rows: %w", err)
	}
	return out, nil
}

// GetUserKey returns the encrypted credential for one (user, provider) pair.
func (s *Store) GetUserKey(ctx context.Context, userID string, provider providers.ID) (UserKey, error) {
	q := s.sql.Select("user_id", "provider", "enc_api_key", "created_at", "updated_at").
		From("user_keys").
		Where(sq.Eq{"user_id": userID, "provider": provider})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return UserKey{}, fmt.Errorf("build get user key query: %w", err)
	}

	var k UserKey
	var rawProvider string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&k.UserID,
		&rawProvider,
		&k.EncAPIKey,
		&k.CreatedAt,
		&k.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserKey{}, ErrNotFound
		}
		return UserKey{}, fmt.Errorf("get user key: %w", err)
	}
	k.Provider, _ = providers.Parse(rawProvider)
	return k, nil
}
