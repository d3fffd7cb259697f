package chatsync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tenai/internal/cache"
	"tenai/internal/metrics"
	"tenai/internal/storage"
)

// RemoteStore is the slice of the remote chat store the controller commits
// through. Satisfied by *storage.Store; nil means cache-only operation.
type RemoteStore interface {
	CreateChat(ctx context.Context, p storage.CreateChatParams) (storage.Chat, error)
	ListChats(ctx context.Context, userID string) ([]storage.Chat, error)
	UpdateChatTitle(ctx context.Context, id, title string) error
	UpdateChatModel(ctx context.Context, id, model string) error
	SetChatPinned(ctx context.Context, id string, pinned bool, at time.Time) error
	DeleteChat(ctx context.Context, id string) error
}

// CacheStore is the slice of the local mirror the controller writes through.
// Every cache write is best-effort: failures are logged, never rolled back.
type CacheStore interface {
	Chats(ctx context.Context) ([]cache.Chat, error)
	PutChat(ctx context.Context, c cache.Chat) error
	PutChats(ctx context.Context, chats []cache.Chat) error
	DeleteChat(ctx context.Context, id string) error
	DeleteMessagesByChat(ctx context.Context, chatID string) error
}

// Notification is a user-facing error surfaced by a failed mutation. Exactly
// one is emitted per rollback.
type Notification struct {
	Status string
	Title  string
}

type Notifier func(Notification)

type Config struct {
	UserID       string
	DefaultModel string
	Remote       RemoteStore
	Cache        CacheStore
	Notify       Notifier
	Log          zerolog.Logger
}

// Controller keeps one user's visible chat list consistent with the remote
// store and the local cache. Mutations apply locally first and roll back to
// the pre-mutation snapshot if the remote commit fails; mutations on the same
// chat id are serialized.
type Controller struct {
	userID       string
	defaultModel string
	remote       RemoteStore
	cache        CacheStore
	notify       Notifier
	log          zerolog.Logger
	m            *metrics.Metrics
	now          func() time.Time

	mu    sync.Mutex
	chats []storage.Chat

	lockMu    sync.Mutex
	chatLocks map[string]*sync.Mutex
}

func New(cfg Config) *Controller {
	return &Controller{
		userID:       cfg.UserID,
		defaultModel: cfg.DefaultModel,
		remote:       cfg.Remote,
		cache:        cfg.Cache,
		notify:       cfg.Notify,
		log:          cfg.Log.With().Str("component", "chatsync").Str("user_id", cfg.UserID).Logger(),
		m:            metrics.Global(),
		now:          time.Now,
		chatLocks:    make(map[string]*sync.Mutex),
	}
}

// Chats returns the visible list in display order.
func (c *Controller) Chats() []storage.Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]storage.Chat, len(c.chats))
	copy(out, c.chats)
	return out
}

// Get finds a chat in the visible list.
func (c *Controller) Get(id string) (storage.Chat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chat := range c.chats {
		if chat.ID == id {
			return chat, true
		}
	}
	return storage.Chat{}, false
}

// PinnedChats returns pinned chats outside any project, most recently pinned
// first.
func (c *Controller) PinnedChats() []storage.Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]storage.Chat, 0)
	for _, chat := range c.chats {
		if chat.Pinned && chat.ProjectID == nil {
			out = append(out, chat)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return pinnedAtAfter(out[i], out[j])
	})
	return out
}

// Refresh replaces the visible list wholesale from the remote store, or from
// the cache when remote sync is disabled.
func (c *Controller) Refresh(ctx context.Context) error {
	if c.remote == nil {
		cached, err := c.cache.Chats(ctx)
		if err != nil {
			return fmt.Errorf("refresh from cache: %w", err)
		}
		chats := make([]storage.Chat, 0, len(cached))
		for _, cc := range cached {
			chats = append(chats, storage.Chat{
				ID:        cc.ID,
				UserID:    c.userID,
				Title:     cc.Title,
				Model:     c.defaultModel,
				CreatedAt: cc.CreatedAt,
				UpdatedAt: cc.UpdatedAt,
			})
		}
		c.replaceAll(chats)
		return nil
	}

	chats, err := c.remote.ListChats(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("refresh chats: %w", err)
	}
	c.replaceAll(chats)

	mirror := make([]cache.Chat, 0, len(chats))
	for _, chat := range chats {
		mirror = append(mirror, toCacheChat(chat))
	}
	if err := c.cache.PutChats(ctx, mirror); err != nil {
		c.log.Warn().Err(err).Msg("cache mirror failed after refresh")
	}
	return nil
}

type CreateParams struct {
	Title        string
	Model        string
	SystemPrompt string
	ProjectID    *string
}

// Create inserts an optimistic placeholder, commits to the remote store, and
// swaps the placeholder for the authoritative record. On failure the
// placeholder is removed and one notification is emitted.
func (c *Controller) Create(ctx context.Context, p CreateParams) (storage.Chat, error) {
	c.m.MutationsTotal.WithLabelValues("create").Inc()

	now := c.now().UTC()
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = "New Chat"
	}
	model := p.Model
	if model == "" {
		model = c.defaultModel
	}
	temp := storage.Chat{
		ID:           "optimistic-" + uuid.New().String(),
		UserID:       c.userID,
		Title:        title,
		Model:        model,
		SystemPrompt: p.SystemPrompt,
		Public:       true,
		ProjectID:    p.ProjectID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if c.remote == nil {
		chat := temp
		chat.ID = uuid.New().String()
		c.insert(chat)
		c.mirrorChat(ctx, chat)
		return chat, nil
	}

	var created storage.Chat
	err := applyOptimistic(c.snapshot, func() {
		c.insert(temp)
	}, func() error {
		chat, err := c.remote.CreateChat(ctx, storage.CreateChatParams{
			UserID:       c.userID,
			Title:        title,
			Model:        model,
			SystemPrompt: p.SystemPrompt,
			ProjectID:    p.ProjectID,
		})
		if err != nil {
			return err
		}
		created = chat
		c.swap(temp.ID, chat)
		return nil
	}, c.restore)
	if err != nil {
		c.rollback("create", "Failed to create chat")
		return storage.Chat{}, fmt.Errorf("create chat: %w", err)
	}

	c.mirrorChat(ctx, created)
	return created, nil
}

// Rename retitles a chat and advances its update time.
func (c *Controller) Rename(ctx context.Context, id, title string) error {
	return c.mutateChat(ctx, "rename", "Failed to update title", id,
		func(chat *storage.Chat) {
			chat.Title = title
			chat.UpdatedAt = c.now().UTC()
		},
		func(ctx context.Context) error {
			return c.remote.UpdateChatTitle(ctx, id, title)
		})
}

// SetModel switches the chat's model and advances its update time.
func (c *Controller) SetModel(ctx context.Context, id, model string) error {
	return c.mutateChat(ctx, "set_model", "Failed to update chat model", id,
		func(chat *storage.Chat) {
			chat.Model = model
			chat.UpdatedAt = c.now().UTC()
		},
		func(ctx context.Context) error {
			return c.remote.UpdateChatModel(ctx, id, model)
		})
}

// TogglePinned flips the chat's pinned state, stamping pinned_at on pin and
// clearing it on unpin.
func (c *Controller) TogglePinned(ctx context.Context, id string) error {
	chat, ok := c.Get(id)
	if !ok {
		return fmt.Errorf("toggle pinned: %w", storage.ErrNotFound)
	}
	pinned := !chat.Pinned
	at := c.now().UTC()

	return c.mutateChat(ctx, "toggle_pinned", "Failed to update pinned", id,
		func(chat *storage.Chat) {
			chat.Pinned = pinned
			if pinned {
				t := at
				chat.PinnedAt = &t
			} else {
				chat.PinnedAt = nil
			}
		},
		func(ctx context.Context) error {
			return c.remote.SetChatPinned(ctx, id, pinned, at)
		})
}

// Delete removes a chat everywhere. redirect, when non-nil, runs after a
// successful delete so the caller can leave the deleted conversation.
func (c *Controller) Delete(ctx context.Context, id string, redirect func()) error {
	c.m.MutationsTotal.WithLabelValues("delete").Inc()
	unlock := c.lockChat(id)
	defer unlock()

	err := applyOptimistic(c.snapshot, func() {
		c.remove(id)
	}, func() error {
		if c.remote == nil {
			return nil
		}
		return c.remote.DeleteChat(ctx, id)
	}, c.restore)
	if err != nil {
		c.rollback("delete", "Failed to delete chat")
		return fmt.Errorf("delete chat: %w", err)
	}

	if err := c.cache.DeleteChat(ctx, id); err != nil {
		c.log.Warn().Err(err).Str("chat_id", id).Msg("cache delete failed")
	}
	if err := c.cache.DeleteMessagesByChat(ctx, id); err != nil {
		c.log.Warn().Err(err).Str("chat_id", id).Msg("cache message delete failed")
	}
	if redirect != nil {
		redirect()
	}
	return nil
}

// Bump advances a chat's update time locally and resorts the visible list.
// No remote call is made; message writes already touch the remote row.
func (c *Controller) Bump(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.chats {
		if c.chats[i].ID == id {
			c.chats[i].UpdatedAt = c.now().UTC()
			break
		}
	}
	c.sortLocked()
}

// mutateChat is the shared optimistic path for single-chat field mutations.
func (c *Controller) mutateChat(ctx context.Context, op, toast, id string, apply func(*storage.Chat), commit func(context.Context) error) error {
	c.m.MutationsTotal.WithLabelValues(op).Inc()
	unlock := c.lockChat(id)
	defer unlock()

	var mutated storage.Chat
	err := applyOptimistic(c.snapshot, func() {
		mutated = c.update(id, apply)
	}, func() error {
		if c.remote == nil {
			return nil
		}
		return commit(ctx)
	}, c.restore)
	if err != nil {
		c.rollback(op, toast)
		return fmt.Errorf("%s chat: %w", op, err)
	}

	if mutated.ID != "" {
		c.mirrorChat(ctx, mutated)
	}
	return nil
}

func (c *Controller) rollback(op, toast string) {
	c.m.RollbacksTotal.WithLabelValues(op).Inc()
	if c.notify != nil {
		c.notify(Notification{Status: "error", Title: toast})
	}
}

func (c *Controller) snapshot() []storage.Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]storage.Chat, len(c.chats))
	copy(out, c.chats)
	return out
}

func (c *Controller) restore(snap []storage.Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = snap
}

func (c *Controller) replaceAll(chats []storage.Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = chats
	c.sortLocked()
}

func (c *Controller) insert(chat storage.Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = append([]storage.Chat{chat}, c.chats...)
	c.sortLocked()
}

func (c *Controller) swap(oldID string, chat storage.Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.chats {
		if c.chats[i].ID == oldID {
			c.chats[i] = chat
			break
		}
	}
	c.sortLocked()
}

func (c *Controller) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.chats[:0]
	for _, chat := range c.chats {
		if chat.ID != id {
			out = append(out, chat)
		}
	}
	c.chats = out
}

func (c *Controller) update(id string, apply func(*storage.Chat)) storage.Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	var mutated storage.Chat
	for i := range c.chats {
		if c.chats[i].ID == id {
			apply(&c.chats[i])
			mutated = c.chats[i]
			break
		}
	}
	c.sortLocked()
	return mutated
}

// sortLocked orders chats pinned-first, most recently pinned at the top, then
// by update recency. Caller holds mu.
func (c *Controller) sortLocked() {
	sort.SliceStable(c.chats, func(i, j int) bool {
		a, b := c.chats[i], c.chats[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.Pinned && b.Pinned && !pinnedAtEqual(a, b) {
			return pinnedAtAfter(a, b)
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
}

func (c *Controller) lockChat(id string) func() {
	c.lockMu.Lock()
	l, ok := c.chatLocks[id]
	if !ok {
		l = &sync.Mutex{}
		c.chatLocks[id] = l
	}
	c.lockMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (c *Controller) mirrorChat(ctx context.Context, chat storage.Chat) {
	if err := c.cache.PutChat(ctx, toCacheChat(chat)); err != nil {
		c.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("cache write failed")
	}
}

func toCacheChat(chat storage.Chat) cache.Chat {
	return cache.Chat{
		ID:        chat.ID,
		Title:     chat.Title,
		CreatedAt: chat.CreatedAt,
		UpdatedAt: chat.UpdatedAt,
	}
}

// pinnedAtAfter orders by pinned_at descending, nil timestamps last.
func pinnedAtAfter(a, b storage.Chat) bool {
	switch {
	case a.PinnedAt == nil:
		return false
	case b.PinnedAt == nil:
		return true
	default:
		return a.PinnedAt.After(*b.PinnedAt)
	}
}

func pinnedAtEqual(a, b storage.Chat) bool {
	if a.PinnedAt == nil || b.PinnedAt == nil {
		return a.PinnedAt == b.PinnedAt
	}
	return a.PinnedAt.Equal(*b.PinnedAt)
}
