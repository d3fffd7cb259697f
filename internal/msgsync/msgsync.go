package msgsync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tenai/internal/cache"
	"tenai/internal/storage"
)

// Source says where a fetch's messages actually came from. A failed fetch
// returns an empty list rather than an error so callers can always render.
type Source string

const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
	SourceFailed Source = "failed"
)

type FetchResult struct {
	Messages []storage.Message
	Source   Source
	Err      error
}

// RemoteStore is the slice of the remote store messages sync against.
// Satisfied by *storage.Store; nil means cache-only operation.
type RemoteStore interface {
	ListMessages(ctx context.Context, chatID string) ([]storage.Message, error)
	InsertMessage(ctx context.Context, m storage.Message) (storage.Message, error)
	InsertMessages(ctx context.Context, msgs []storage.Message) ([]storage.Message, error)
	DeleteMessages(ctx context.Context, chatID string) error
}

// CacheStore is the slice of the local mirror messages are written through.
type CacheStore interface {
	MessagesByChat(ctx context.Context, chatID string) ([]cache.Message, error)
	PutMessage(ctx context.Context, m cache.Message) error
	PutMessages(ctx context.Context, msgs []cache.Message) error
	DeleteMessagesByChat(ctx context.Context, chatID string) error
}

// Syncer mirrors chat messages between the remote store and the local cache.
// The remote store is authoritative when enabled; the cache keeps a flattened
// copy that loses attachments, parts, group ids, and model stamps.
type Syncer struct {
	remote RemoteStore
	cache  CacheStore
	log    zerolog.Logger
}

func New(remote RemoteStore, cacheStore CacheStore, log zerolog.Logger) *Syncer {
	return &Syncer{
		remote: remote,
		cache:  cacheStore,
		log:    log.With().Str("component", "msgsync").Logger(),
	}
}

// Fetch loads a chat's messages, preferring the remote store and falling back
// to the cache. The result names its source; a total failure yields an empty
// list, never an error to the caller's render path.
func (s *Syncer) Fetch(ctx context.Context, chatID string) FetchResult {
	if s.remote == nil {
		return s.fetchCache(ctx, chatID, nil)
	}

	msgs, err := s.remote.ListMessages(ctx, chatID)
	if err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("remote fetch failed, trying cache")
		return s.fetchCache(ctx, chatID, err)
	}

	mirror := make([]cache.Message, 0, len(msgs))
	for _, m := range msgs {
		mirror = append(mirror, toCacheMessage(m))
	}
	if err := s.cache.PutMessages(ctx, mirror); err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("cache mirror failed after fetch")
	}
	return FetchResult{Messages: msgs, Source: SourceRemote}
}

func (s *Syncer) fetchCache(ctx context.Context, chatID string, remoteErr error) FetchResult {
	cached, err := s.cache.MessagesByChat(ctx, chatID)
	if err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("cache fetch failed")
		if remoteErr == nil {
			remoteErr = err
		}
		return FetchResult{Messages: []storage.Message{}, Source: SourceFailed, Err: remoteErr}
	}
	out := make([]storage.Message, 0, len(cached))
	for _, m := range cached {
		out = append(out, fromCacheMessage(m))
	}
	return FetchResult{Messages: out, Source: SourceCache, Err: remoteErr}
}

// Append records one message in the remote store and mirrors it to the cache,
// each best-effort. It fails only when no store recorded the message.
func (s *Syncer) Append(ctx context.Context, m storage.Message) (storage.Message, error) {
	var remoteErr error
	if s.remote != nil {
		stored, err := s.remote.InsertMessage(ctx, m)
		if err != nil {
			remoteErr = err
			s.log.Warn().Err(err).Str("chat_id", m.ChatID).Msg("remote append failed")
		} else {
			m = stored
		}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	if err := s.cache.PutMessage(ctx, toCacheMessage(m)); err != nil {
		s.log.Warn().Err(err).Str("chat_id", m.ChatID).Msg("cache append failed")
		if remoteErr != nil || s.remote == nil {
			return storage.Message{}, fmt.Errorf("append message: %w", err)
		}
	}
	return m, nil
}

// ReplaceAll swaps a chat's full message history, used when seeding a chat.
func (s *Syncer) ReplaceAll(ctx context.Context, chatID string, msgs []storage.Message) ([]storage.Message, error) {
	for i := range msgs {
		msgs[i].ChatID = chatID
	}

	if s.remote != nil {
		if err := s.remote.DeleteMessages(ctx, chatID); err != nil {
			return nil, fmt.Errorf("clear remote messages: %w", err)
		}
		stored, err := s.remote.InsertMessages(ctx, msgs)
		if err != nil {
			return nil, fmt.Errorf("seed remote messages: %w", err)
		}
		msgs = stored
	} else {
		for i := range msgs {
			if msgs[i].ID == "" {
				msgs[i].ID = uuid.New().String()
			}
			if msgs[i].CreatedAt.IsZero() {
				msgs[i].CreatedAt = time.Now().UTC()
			}
		}
	}

	if err := s.cache.DeleteMessagesByChat(ctx, chatID); err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("cache clear failed during reseed")
	}
	mirror := make([]cache.Message, 0, len(msgs))
	for _, m := range msgs {
		mirror = append(mirror, toCacheMessage(m))
	}
	if err := s.cache.PutMessages(ctx, mirror); err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("cache mirror failed during reseed")
	}
	return msgs, nil
}

// Clear removes a chat's messages everywhere. A remote deletion failure is
// logged but never blocks the local clear.
func (s *Syncer) Clear(ctx context.Context, chatID string) error {
	if s.remote != nil {
		if err := s.remote.DeleteMessages(ctx, chatID); err != nil {
			s.log.Warn().Err(err).Str("chat_id", chatID).Msg("remote clear failed")
		}
	}
	if err := s.cache.DeleteMessagesByChat(ctx, chatID); err != nil {
		return fmt.Errorf("clear cached messages: %w", err)
	}
	return nil
}

// toCacheMessage flattens a runtime message into the cache row shape.
// Attachments, parts, group id, and model stamp do not survive the trip.
func toCacheMessage(m storage.Message) cache.Message {
	return cache.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Content:   m.Content,
		Role:      m.Role,
		CreatedAt: m.CreatedAt,
	}
}

func fromCacheMessage(m cache.Message) storage.Message {
	return storage.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Content:   m.Content,
		Role:      m.Role,
		CreatedAt: m.CreatedAt,
	}
}
