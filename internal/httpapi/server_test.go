package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tenai/internal/access"
	"tenai/internal/cache"
	"tenai/internal/catalog"
	"tenai/internal/keyring"
	"tenai/internal/providers"
	"tenai/internal/providers/registry"
	"tenai/internal/ratelimit"
	"tenai/internal/storage"
)

type testEnv struct {
	handler http.Handler
	server  *Server
	token   string
	cookie  *http.Cookie
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter, complete CompleteFunc) *testEnv {
	t.Helper()
	ctx := context.Background()

	remote, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "remote.db"), true, "")
	if err != nil {
		t.Fatalf("open remote store: %v", err)
	}
	t.Cleanup(func() { _ = remote.Close() })

	local, err := cache.Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = local.Close() })

	ring, err := keyring.New("k1", bytes32(0x24))
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	cat := catalog.New(catalog.StaticModels(), time.Minute)
	envKeys := map[providers.ID]string{providers.OpenAI: "env-openai"}
	resolver := access.NewResolver(cat, remote, ring, envKeys, []string{"openrouter:deepseek/deepseek-chat-v3"}, zerolog.Nop())

	if complete == nil {
		complete = func(_ context.Context, _ registry.BuildOptions, _ providers.Request) (providers.Response, error) {
			return providers.Response{Text: "stub reply"}, nil
		}
	}

	srv := NewServer(Options{
		Remote:       remote,
		Cache:        local,
		Catalog:      cat,
		Resolver:     resolver,
		Limiter:      limiter,
		Keyring:      ring,
		CSRF:         NewCSRF("test-secret", "csrf_token", "X-CSRF-Token"),
		DefaultModel: "gpt-5-nano",
		BaseURLs:     map[providers.ID]string{providers.OpenAI: "http://unused"},
		Complete:     complete,
		Log:          zerolog.Nop(),
	})

	env := &testEnv{handler: srv.Router(), server: srv}
	env.fetchCSRF(t)
	return env
}

func bytes32(b byte) map[string][]byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return map[string][]byte{"k1": key}
}

func (e *testEnv) fetchCSRF(t *testing.T) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/csrf", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf fetch: status %d", rec.Code)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	e.token = body.Token
	for _, c := range rec.Result().Cookies() {
		if c.Name == "csrf_token" {
			e.cookie = c
		}
	}
	if e.cookie == nil {
		t.Fatalf("expected csrf cookie set")
	}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any, withCSRF bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if withCSRF {
		req.AddCookie(e.cookie)
		req.Header.Set("X-CSRF-Token", e.token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
}

func TestCSRFGateRejectsUnsafeRequests(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/create-chat", "u1", map[string]string{"title": "x"}, false)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/create-chat", bytes.NewBufferString(`{"title":"x"}`))
	req.Header.Set("X-User-ID", "u1")
	req.AddCookie(env.cookie)
	req.Header.Set("X-CSRF-Token", "forged.token")
	rec2 := httptest.NewRecorder()
	env.handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with mismatched token, got %d", rec2.Code)
	}

	rec3 := env.do(t, http.MethodGet, "/api/models", "", nil, false)
	if rec3.Code != http.StatusOK {
		t.Fatalf("expected GET to bypass the gate, got %d", rec3.Code)
	}
}

func TestCreateAndListChats(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/create-chat", "u1", map[string]string{"title": "  my chat  ", "model": "gpt-5-nano"}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create chat: status %d body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Chat apiChat `json:"chat"`
	}
	decodeBody(t, rec, &created)
	if created.Chat.ID == "" || created.Chat.Title != "my chat" {
		t.Fatalf("unexpected chat: %+v", created.Chat)
	}

	rec = env.do(t, http.MethodGet, "/api/chats", "u1", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("list chats: status %d", rec.Code)
	}
	var listed struct {
		Chats []apiChat `json:"chats"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Chats) != 1 || listed.Chats[0].ID != created.Chat.ID {
		t.Fatalf("expected created chat listed, got %+v", listed.Chats)
	}

	rec = env.do(t, http.MethodGet, "/api/chats", "u2", nil, false)
	decodeBody(t, rec, &listed)
	if len(listed.Chats) != 0 {
		t.Fatalf("expected other user's list empty, got %+v", listed.Chats)
	}
}

func TestTogglePinAndUpdateModel(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/create-chat", "u1", map[string]string{"title": "pin me"}, true)
	var created struct {
		Chat apiChat `json:"chat"`
	}
	decodeBody(t, rec, &created)

	rec = env.do(t, http.MethodPost, "/api/toggle-chat-pin", "u1", map[string]string{"chatId": created.Chat.ID}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle pin: status %d body %s", rec.Code, rec.Body.String())
	}
	var pinned struct {
		Chat apiChat `json:"chat"`
	}
	decodeBody(t, rec, &pinned)
	if !pinned.Chat.Pinned || pinned.Chat.PinnedAt == nil {
		t.Fatalf("expected pinned with pinnedAt, got %+v", pinned.Chat)
	}

	rec = env.do(t, http.MethodPost, "/api/update-chat-model", "u1", map[string]string{"chatId": created.Chat.ID, "model": "no-such-model"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown model, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/update-chat-model", "u1", map[string]string{"chatId": created.Chat.ID, "model": "claude-sonnet-4"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("update model: status %d body %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Chat apiChat `json:"chat"`
	}
	decodeBody(t, rec, &updated)
	if updated.Chat.Model != "claude-sonnet-4" {
		t.Fatalf("expected model updated, got %q", updated.Chat.Model)
	}
}

func TestSendMessageFlow(t *testing.T) {
	var gotReq providers.Request
	env := newTestEnv(t, nil, func(_ context.Context, opts registry.BuildOptions, req providers.Request) (providers.Response, error) {
		if opts.APIKey != "env-openai" {
			return providers.Response{}, errors.New("wrong key")
		}
		gotReq = req
		return providers.Response{Text: "assistant says hi"}, nil
	})

	rec := env.do(t, http.MethodPost, "/api/create-chat", "u1", map[string]string{"title": "talk"}, true)
	var created struct {
		Chat apiChat `json:"chat"`
	}
	decodeBody(t, rec, &created)

	rec = env.do(t, http.MethodPost, "/api/chats/"+created.Chat.ID+"/messages", "u1", map[string]string{"content": "hello model"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("send message: status %d body %s", rec.Code, rec.Body.String())
	}
	var sent struct {
		UserMessage      apiMessage `json:"userMessage"`
		AssistantMessage apiMessage `json:"assistantMessage"`
	}
	decodeBody(t, rec, &sent)
	if sent.UserMessage.MessageGroupID == nil || sent.AssistantMessage.MessageGroupID == nil ||
		*sent.UserMessage.MessageGroupID != *sent.AssistantMessage.MessageGroupID {
		t.Fatalf("expected shared message group id, got %+v / %+v", sent.UserMessage, sent.AssistantMessage)
	}
	if sent.AssistantMessage.Model == nil || *sent.AssistantMessage.Model != "gpt-5-nano" {
		t.Fatalf("expected assistant stamped with model, got %+v", sent.AssistantMessage.Model)
	}
	if gotReq.Model != "gpt-5-nano" || len(gotReq.Turns) == 0 {
		t.Fatalf("unexpected provider request: %+v", gotReq)
	}

	rec = env.do(t, http.MethodGet, "/api/chats/"+created.Chat.ID+"/messages", "u1", nil, false)
	var msgs struct {
		Messages []apiMessage `json:"messages"`
		Source   string       `json:"source"`
	}
	decodeBody(t, rec, &msgs)
	if msgs.Source != "remote" {
		t.Fatalf("expected remote source, got %s", msgs.Source)
	}
	if len(msgs.Messages) != 2 || msgs.Messages[0].Role != "user" || msgs.Messages[1].Role != "assistant" {
		t.Fatalf("expected user then assistant, got %+v", msgs.Messages)
	}
}

func TestSendMessageRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	env := newTestEnv(t, ratelimit.New(rdb, 1), nil)

	rec := env.do(t, http.MethodPost, "/api/create-chat", "u1", map[string]string{"title": "limited"}, true)
	var created struct {
		Chat apiChat `json:"chat"`
	}
	decodeBody(t, rec, &created)

	rec = env.do(t, http.MethodPost, "/api/chats/"+created.Chat.ID+"/messages", "u1", map[string]string{"content": "one"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("first send: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/chats/"+created.Chat.ID+"/messages", "u1", map[string]string{"content": "two"}, true)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestUserKeyLifecycle(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPut, "/api/user-keys", "", map[string]string{"provider": "anthropic", "apiKey": "sk-personal"}, true)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/api/user-keys", "u1", map[string]string{"provider": "anthropic", "apiKey": "sk-personal"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("put key: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/user-key-status", "u1", nil, false)
	var status map[string]bool
	decodeBody(t, rec, &status)
	if !status["anthropic"] {
		t.Fatalf("expected anthropic personal key reported, got %v", status)
	}
	if status["openai"] {
		t.Fatalf("env-only openai must not count as personal, got %v", status)
	}

	rec = env.do(t, http.MethodGet, "/api/models", "u1", nil, false)
	var models struct {
		Models []catalog.ModelConfig `json:"models"`
	}
	decodeBody(t, rec, &models)
	foundClaude := false
	for _, m := range models.Models {
		if m.ProviderID == providers.Anthropic {
			foundClaude = true
		}
		if !m.Accessible {
			t.Fatalf("expected accessible models only, got %+v", m)
		}
	}
	if !foundClaude {
		t.Fatalf("expected anthropic models after storing key, got %v", models.Models)
	}

	rec = env.do(t, http.MethodDelete, "/api/user-keys", "u1", map[string]string{"provider": "anthropic"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete key: status %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/user-keys", "u1", map[string]string{"provider": "anthropic"}, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting missing key, got %d", rec.Code)
	}
}

func TestModelsAnonymousBaseline(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodGet, "/api/models", "", nil, false)
	var models struct {
		Models []catalog.ModelConfig `json:"models"`
	}
	decodeBody(t, rec, &models)
	if len(models.Models) == 0 {
		t.Fatalf("expected baseline models for anonymous caller")
	}
	for _, m := range models.Models {
		ok := m.ProviderID == providers.OpenAI || m.ID == "openrouter:deepseek/deepseek-chat-v3"
		if !ok {
			t.Fatalf("unexpected model in anonymous view: %+v", m)
		}
	}
}

func TestProviderStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	var status struct {
		Provider   string `json:"provider"`
		HasUserKey bool   `json:"hasUserKey"`
	}

	rec := env.do(t, http.MethodPost, "/api/providers", "", map[string]string{"provider": "openai"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("provider status: %d body %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &status)
	if status.HasUserKey {
		t.Fatalf("env-only openai must not report a user key")
	}

	rec = env.do(t, http.MethodPut, "/api/user-keys", "u1", map[string]string{"provider": "anthropic", "apiKey": "sk-personal"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("put key: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/providers", "u1", map[string]string{"provider": "anthropic"}, true)
	decodeBody(t, rec, &status)
	if status.Provider != "anthropic" || !status.HasUserKey {
		t.Fatalf("expected stored personal key reported, got %+v", status)
	}

	rec = env.do(t, http.MethodPost, "/api/providers", "", map[string]string{"provider": "nope"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown provider, got %d", rec.Code)
	}
}

func TestRefreshModelsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/models", "", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh models: %d body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Message   string                `json:"message"`
		Models    []catalog.ModelConfig `json:"models"`
		Timestamp time.Time             `json:"timestamp"`
		Count     int                   `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.Message == "" || body.Timestamp.IsZero() {
		t.Fatalf("expected message and timestamp, got %+v", body)
	}
	if body.Count != len(catalog.StaticModels()) {
		t.Fatalf("expected count to match registry size, got %d", body.Count)
	}
	if len(body.Models) == 0 {
		t.Fatalf("expected models in refresh response")
	}
}
