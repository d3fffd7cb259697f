package chatsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tenai/internal/cache"
	"tenai/internal/storage"
)

type fakeRemote struct {
	mu    sync.Mutex
	chats map[string]storage.Chat

	failCreate bool
	failUpdate bool
	failDelete bool
	calls      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{chats: make(map[string]storage.Chat)}
}

func (f *fakeRemote) CreateChat(_ context.Context, p storage.CreateChatParams) (storage.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failCreate {
		return storage.Chat{}, errors.New("remote down")
	}
	now := time.Now().UTC()
	chat := storage.Chat{
		ID:        uuid.New().String(),
		UserID:    p.UserID,
		Title:     p.Title,
		Model:     p.Model,
		Public:    true,
		ProjectID: p.ProjectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.chats[chat.ID] = chat
	return chat, nil
}

func (f *fakeRemote) ListChats(_ context.Context, userID string) ([]storage.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.Chat, 0)
	for _, c := range f.chats {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRemote) UpdateChatTitle(_ context.Context, id, title string) error {
	return f.update(id, func(c *storage.Chat) { c.Title = title })
}

func (f *fakeRemote) UpdateChatModel(_ context.Context, id, model string) error {
	return f.update(id, func(c *storage.Chat) { c.Model = model })
}

func (f *fakeRemote) SetChatPinned(_ context.Context, id string, pinned bool, at time.Time) error {
	return f.update(id, func(c *storage.Chat) {
		c.Pinned = pinned
		if pinned {
			t := at
			c.PinnedAt = &t
		} else {
			c.PinnedAt = nil
		}
	})
}

func (f *fakeRemote) update(id string, apply func(*storage.Chat)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failUpdate {
		return errors.New("remote down")
	}
	c, ok := f.chats[id]
	if !ok {
		return storage.ErrNotFound
	}
	apply(&c)
	f.chats[id] = c
	return nil
}

func (f *fakeRemote) DeleteChat(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failDelete {
		return errors.New("remote down")
	}
	delete(f.chats, id)
	return nil
}

type fakeCache struct {
	mu       sync.Mutex
	chats    map[string]cache.Chat
	messages map[string][]cache.Message
	failPut  bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{chats: make(map[string]cache.Chat), messages: make(map[string][]cache.Message)}
}

func (f *fakeCache) Chats(_ context.Context) ([]cache.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]cache.Chat, 0)
	for _, c := range f.chats {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCache) PutChat(_ context.Context, c cache.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return errors.New("cache down")
	}
	f.chats[c.ID] = c
	return nil
}

func (f *fakeCache) PutChats(ctx context.Context, chats []cache.Chat) error {
	for _, c := range chats {
		if err := f.PutChat(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCache) DeleteChat(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chats, id)
	return nil
}

func (f *fakeCache) DeleteMessagesByChat(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, chatID)
	return nil
}

type notifications struct {
	mu   sync.Mutex
	seen []Notification
}

func (n *notifications) notify(msg Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, msg)
}

func (n *notifications) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

func newTestController(remote RemoteStore, store CacheStore, n *notifications) *Controller {
	return New(Config{
		UserID:       "u1",
		DefaultModel: "gpt-5-nano",
		Remote:       remote,
		Cache:        store,
		Notify:       n.notify,
		Log:          zerolog.Nop(),
	})
}

func TestCreateSwapsOptimisticID(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeCache()
	n := &notifications{}
	c := newTestController(remote, store, n)
	ctx := context.Background()

	chat, err := c.Create(ctx, CreateParams{Title: "first"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if strings.HasPrefix(chat.ID, "optimistic-") {
		t.Fatalf("expected authoritative id, got %q", chat.ID)
	}
	if chat.Model != "gpt-5-nano" {
		t.Fatalf("expected default model applied, got %q", chat.Model)
	}

	chats := c.Chats()
	if len(chats) != 1 || chats[0].ID != chat.ID {
		t.Fatalf("expected visible list to hold the committed chat, got %+v", chats)
	}
	if _, ok := store.chats[chat.ID]; !ok {
		t.Fatalf("expected chat mirrored to cache")
	}
	if n.count() != 0 {
		t.Fatalf("expected no notifications, got %d", n.count())
	}
}

func TestCreateRollbackRemovesPlaceholder(t *testing.T) {
	remote := newFakeRemote()
	remote.failCreate = true
	n := &notifications{}
	c := newTestController(remote, newFakeCache(), n)

	if _, err := c.Create(context.Background(), CreateParams{Title: "doomed"}); err == nil {
		t.Fatalf("expected create to fail")
	}
	if got := len(c.Chats()); got != 0 {
		t.Fatalf("expected placeholder removed, got %d chats", got)
	}
	if n.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", n.count())
	}
}

func TestRenameRollbackRestoresSnapshot(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeCache()
	n := &notifications{}
	c := newTestController(remote, store, n)
	ctx := context.Background()

	chat, err := c.Create(ctx, CreateParams{Title: "original"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	remote.failUpdate = true
	if err := c.Rename(ctx, chat.ID, "renamed"); err == nil {
		t.Fatalf("expected rename to fail")
	}

	got, ok := c.Get(chat.ID)
	if !ok {
		t.Fatalf("chat missing after rollback")
	}
	if got.Title != "original" {
		t.Fatalf("expected title restored, got %q", got.Title)
	}
	if got.UpdatedAt != chat.UpdatedAt {
		t.Fatalf("expected updated_at restored, got %v want %v", got.UpdatedAt, chat.UpdatedAt)
	}
	if n.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", n.count())
	}
}

func TestRenameSucceedsDespiteCacheFailure(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeCache()
	n := &notifications{}
	c := newTestController(remote, store, n)
	ctx := context.Background()

	chat, err := c.Create(ctx, CreateParams{Title: "original"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.failPut = true
	if err := c.Rename(ctx, chat.ID, "renamed"); err != nil {
		t.Fatalf("expected rename to succeed past cache failure, got %v", err)
	}
	got, _ := c.Get(chat.ID)
	if got.Title != "renamed" {
		t.Fatalf("expected rename kept, got %q", got.Title)
	}
	if n.count() != 0 {
		t.Fatalf("cache failure must not notify, got %d", n.count())
	}
}

func TestTogglePinnedAndPinnedView(t *testing.T) {
	remote := newFakeRemote()
	n := &notifications{}
	c := newTestController(remote, newFakeCache(), n)
	ctx := context.Background()

	first, err := c.Create(ctx, CreateParams{Title: "first"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := c.Create(ctx, CreateParams{Title: "second"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	projectID := "p1"
	project, err := c.Create(ctx, CreateParams{Title: "project", ProjectID: &projectID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, id := range []string{first.ID, second.ID, project.ID} {
		if err := c.TogglePinned(ctx, id); err != nil {
			t.Fatalf("pin %s: %v", id, err)
		}
	}

	pinned := c.PinnedChats()
	if len(pinned) != 2 {
		t.Fatalf("expected project chat excluded, got %d pinned", len(pinned))
	}
	if pinned[0].ID != second.ID || pinned[1].ID != first.ID {
		t.Fatalf("expected most recently pinned first, got %s then %s", pinned[0].ID, pinned[1].ID)
	}

	if err := c.TogglePinned(ctx, first.ID); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	got, _ := c.Get(first.ID)
	if got.Pinned || got.PinnedAt != nil {
		t.Fatalf("expected unpinned with nil pinned_at, got %+v", got)
	}
}

func TestBumpReordersWithoutRemoteCall(t *testing.T) {
	remote := newFakeRemote()
	c := newTestController(remote, newFakeCache(), &notifications{})
	ctx := context.Background()

	older, err := c.Create(ctx, CreateParams{Title: "older"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.Create(ctx, CreateParams{Title: "newer"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	remote.mu.Lock()
	before := remote.calls
	remote.mu.Unlock()

	c.Bump(older.ID)

	chats := c.Chats()
	if chats[0].ID != older.ID {
		t.Fatalf("expected bumped chat first, got %s", chats[0].ID)
	}
	remote.mu.Lock()
	after := remote.calls
	remote.mu.Unlock()
	if after != before {
		t.Fatalf("bump must not call the remote store")
	}
}

func TestDeleteCleansCacheAndRedirects(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeCache()
	c := newTestController(remote, store, &notifications{})
	ctx := context.Background()

	chat, err := c.Create(ctx, CreateParams{Title: "bye"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	store.messages[chat.ID] = []cache.Message{{ID: "m1", ChatID: chat.ID}}

	redirected := false
	if err := c.Delete(ctx, chat.ID, func() { redirected = true }); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !redirected {
		t.Fatalf("expected redirect callback")
	}
	if len(c.Chats()) != 0 {
		t.Fatalf("expected chat removed from visible list")
	}
	if _, ok := store.chats[chat.ID]; ok {
		t.Fatalf("expected cached chat removed")
	}
	if _, ok := store.messages[chat.ID]; ok {
		t.Fatalf("expected cached messages removed")
	}
}

func TestDeleteRollbackKeepsChat(t *testing.T) {
	remote := newFakeRemote()
	n := &notifications{}
	c := newTestController(remote, newFakeCache(), n)
	ctx := context.Background()

	chat, err := c.Create(ctx, CreateParams{Title: "survivor"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	remote.failDelete = true
	redirected := false
	if err := c.Delete(ctx, chat.ID, func() { redirected = true }); err == nil {
		t.Fatalf("expected delete to fail")
	}
	if redirected {
		t.Fatalf("redirect must not run on rollback")
	}
	if _, ok := c.Get(chat.ID); !ok {
		t.Fatalf("expected chat restored after rollback")
	}
	if n.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", n.count())
	}
}

func TestRefreshFallsBackToCache(t *testing.T) {
	store := newFakeCache()
	now := time.Now().UTC()
	store.chats["c1"] = cache.Chat{ID: "c1", Title: "offline", CreatedAt: now, UpdatedAt: now}

	c := newTestController(nil, store, &notifications{})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	chats := c.Chats()
	if len(chats) != 1 || chats[0].ID != "c1" || chats[0].Title != "offline" {
		t.Fatalf("expected cache contents, got %+v", chats)
	}
}

func TestRefreshReplacesWholesale(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeCache()
	c := newTestController(remote, store, &notifications{})
	ctx := context.Background()

	chat, err := c.Create(ctx, CreateParams{Title: "kept"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	remote.mu.Lock()
	delete(remote.chats, chat.ID)
	remote.chats["r1"] = storage.Chat{ID: "r1", UserID: "u1", Title: "remote truth", UpdatedAt: time.Now().UTC()}
	remote.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	chats := c.Chats()
	if len(chats) != 1 || chats[0].ID != "r1" {
		t.Fatalf("expected wholesale replacement, got %+v", chats)
	}
	if _, ok := store.chats["r1"]; !ok {
		t.Fatalf("expected refresh mirrored to cache")
	}
}
