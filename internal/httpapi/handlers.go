package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tenai/internal/access"
	"tenai/internal/chatsync"
	"tenai/internal/providers"
	"tenai/internal/providers/registry"
	"tenai/internal/storage"
)

type apiChat struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Title        string     `json:"title"`
	Model        string     `json:"model"`
	SystemPrompt string     `json:"systemPrompt,omitempty"`
	Public       bool       `json:"public"`
	ProjectID    *string    `json:"projectId"`
	Pinned       bool       `json:"pinned"`
	PinnedAt     *time.Time `json:"pinnedAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type apiMessage struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chatId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Attachments    *string   `json:"experimentalAttachments,omitempty"`
	Parts          *string   `json:"parts,omitempty"`
	MessageGroupID *string   `json:"messageGroupId,omitempty"`
	Model          *string   `json:"model,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toAPIChat(c storage.Chat) apiChat {
	return apiChat{
		ID:           c.ID,
		UserID:       c.UserID,
		Title:        c.Title,
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
		Public:       c.Public,
		ProjectID:    c.ProjectID,
		Pinned:       c.Pinned,
		PinnedAt:     c.PinnedAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toAPIChats(chats []storage.Chat) []apiChat {
	out := make([]apiChat, 0, len(chats))
	for _, c := range chats {
		out = append(out, toAPIChat(c))
	}
	return out
}

func toAPIMessage(m storage.Message) apiMessage {
	return apiMessage{
		ID:             m.ID,
		ChatID:         m.ChatID,
		Role:           m.Role,
		Content:        m.Content,
		Attachments:    m.Attachments,
		Parts:          m.Parts,
		MessageGroupID: m.MessageGroupID,
		Model:          m.Model,
		CreatedAt:      m.CreatedAt,
	}
}

func (s *Server) handleCSRF(w http.ResponseWriter, _ *http.Request) {
	token, err := s.csrf.SetCookie(w)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	models := s.resolver.EffectiveModels(r.Context(), caller)
	respondJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleRefreshModels(w http.ResponseWriter, r *http.Request) {
	s.catalog.Invalidate()
	caller := callerFrom(r)
	models := s.resolver.EffectiveModels(r.Context(), caller)
	respondJSON(w, http.StatusOK, map[string]any{
		"message":   "Model catalog refreshed",
		"models":    models,
		"timestamp": s.now().UTC(),
		"count":     s.catalog.Count(),
	})
}

func (s *Server) handleUserKeyStatus(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	status := make(map[string]bool, len(providers.All()))
	for _, p := range providers.All() {
		status[string(p)] = s.resolver.HasPersonalKey(r.Context(), caller, p)
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p, ok := providers.Parse(req.Provider)
	if !ok {
		respondError(w, http.StatusBadRequest, "Unknown provider")
		return
	}
	hasUserKey := s.resolver.HasPersonalKey(r.Context(), callerFrom(r), p)
	respondJSON(w, http.StatusOK, map[string]any{"provider": string(p), "hasUserKey": hasUserKey})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(r.Context(), callerFrom(r))
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := ctrl.Refresh(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("chat refresh failed, serving current list")
	}
	if r.URL.Query().Get("pinned") == "true" {
		respondJSON(w, http.StatusOK, map[string]any{"chats": toAPIChats(ctrl.PinnedChats())})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"chats": toAPIChats(ctrl.Chats())})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(r.Context(), callerFrom(r))
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req struct {
		Title        string  `json:"title"`
		Model        string  `json:"model"`
		SystemPrompt string  `json:"systemPrompt"`
		ProjectID    *string `json:"projectId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Model != "" {
		if _, ok := s.catalog.Lookup(req.Model); !ok {
			respondError(w, http.StatusBadRequest, "Unknown model")
			return
		}
	}

	chat, err := ctrl.Create(r.Context(), chatsync.CreateParams{
		Title:        req.Title,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		ProjectID:    req.ProjectID,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to create chat")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"chat": toAPIChat(chat)})
}

func (s *Server) handleTogglePin(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(r.Context(), callerFrom(r))
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req struct {
		ChatID string `json:"chatId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ChatID == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := ctrl.TogglePinned(r.Context(), req.ChatID); err != nil {
		respondError(w, mutationStatus(err), "Failed to update pinned")
		return
	}
	chat, _ := ctrl.Get(req.ChatID)
	respondJSON(w, http.StatusOK, map[string]any{"chat": toAPIChat(chat)})
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(r.Context(), callerFrom(r))
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req struct {
		ChatID string `json:"chatId"`
		Model  string `json:"model"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ChatID == "" || req.Model == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, found := s.catalog.Lookup(req.Model); !found {
		respondError(w, http.StatusBadRequest, "Unknown model")
		return
	}

	if err := ctrl.SetModel(r.Context(), req.ChatID, req.Model); err != nil {
		respondError(w, mutationStatus(err), "Failed to update chat model")
		return
	}
	chat, _ := ctrl.Get(req.ChatID)
	respondJSON(w, http.StatusOK, map[string]any{"chat": toAPIChat(chat)})
}

func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(r.Context(), callerFrom(r))
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req struct {
		ChatID string `json:"chatId"`
		Title  string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ChatID == "" || req.Title == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := ctrl.Rename(r.Context(), req.ChatID, req.Title); err != nil {
		respondError(w, mutationStatus(err), "Failed to update title")
		return
	}
	chat, _ := ctrl.Get(req.ChatID)
	respondJSON(w, http.StatusOK, map[string]any{"chat": toAPIChat(chat)})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(r.Context(), callerFrom(r))
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	chatID := chi.URLParam(r, "chatID")

	if err := ctrl.Delete(r.Context(), chatID, nil); err != nil {
		respondError(w, mutationStatus(err), "Failed to delete chat")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	res := s.syncer.Fetch(r.Context(), chatID)

	msgs := make([]apiMessage, 0, len(res.Messages))
	for _, m := range res.Messages {
		msgs = append(msgs, toAPIMessage(m))
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs, "source": string(res.Source)})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	ctrl, ok := s.controllerFor(r.Context(), caller)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	chatID := chi.URLParam(r, "chatID")

	var req struct {
		Content     string  `json:"content"`
		Attachments *string `json:"experimentalAttachments"`
		Parts       *string `json:"parts"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Content == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	chat, found := ctrl.Get(chatID)
	if !found {
		respondError(w, http.StatusNotFound, "Chat not found")
		return
	}

	if s.limiter != nil {
		allowed, _, resetAt, err := s.limiter.Allow(r.Context(), caller.UserID, s.now())
		if err != nil {
			s.log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		} else if !allowed {
			s.m.RateLimited.Inc()
			respondJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":   "Rate limit exceeded",
				"resetAt": resetAt.UTC(),
			})
			return
		}
	}

	modelID := chat.Model
	if modelID == "" {
		modelID = s.defaultModel
	}
	modelCfg, found := s.catalog.Lookup(modelID)
	if !found {
		respondError(w, http.StatusBadRequest, "Unknown model")
		return
	}

	key, err := s.resolver.EffectiveKey(r.Context(), caller, modelCfg.ProviderID)
	if err != nil {
		if errors.Is(err, access.ErrNoCredentials) {
			respondError(w, http.StatusForbidden, "No credentials for this model's provider")
			return
		}
		respondError(w, http.StatusBadGateway, "Failed to resolve credentials")
		return
	}

	groupID := uuid.New().String()
	userMsg, err := s.syncer.Append(r.Context(), storage.Message{
		ChatID:         chatID,
		Role:           "user",
		Content:        req.Content,
		Attachments:    req.Attachments,
		Parts:          req.Parts,
		MessageGroupID: &groupID,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to store message")
		return
	}

	history := s.syncer.Fetch(r.Context(), chatID)
	turns := make([]providers.Turn, 0, len(history.Messages))
	for _, m := range history.Messages {
		turns = append(turns, providers.Turn{Role: m.Role, Content: m.Content})
	}

	s.m.ProviderCalls.WithLabelValues(string(modelCfg.ProviderID)).Inc()
	resp, err := s.complete(r.Context(), registry.BuildOptions{
		Provider:    modelCfg.ProviderID,
		BaseURL:     s.baseURLs[modelCfg.ProviderID],
		APIKey:      key,
		HTTPClient:  s.httpClient,
		MaxRetries:  s.maxRetries,
		BackoffBase: s.backoffBase,
	}, providers.Request{
		Model:  modelCfg.APIModel,
		System: chat.SystemPrompt,
		Turns:  turns,
	})
	if err != nil {
		s.m.ProviderErrors.WithLabelValues(string(modelCfg.ProviderID)).Inc()
		s.log.Error().Err(err).Str("provider", string(modelCfg.ProviderID)).Msg("model call failed")
		respondError(w, http.StatusBadGateway, "Model call failed")
		return
	}

	assistantMsg, err := s.syncer.Append(r.Context(), storage.Message{
		ChatID:         chatID,
		Role:           "assistant",
		Content:        resp.Text,
		MessageGroupID: &groupID,
		Model:          &modelCfg.ID,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to store reply")
		return
	}

	if s.remote != nil {
		if err := s.remote.TouchChat(r.Context(), chatID, s.now()); err != nil {
			s.log.Warn().Err(err).Str("chat_id", chatID).Msg("touch chat failed")
		}
	}
	ctrl.Bump(chatID)

	respondJSON(w, http.StatusOK, map[string]any{
		"userMessage":      toAPIMessage(userMsg),
		"assistantMessage": toAPIMessage(assistantMsg),
	})
}

func (s *Server) handlePutUserKey(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if caller.Kind != access.KindUser {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if s.remote == nil {
		respondError(w, http.StatusServiceUnavailable, "Remote store disabled")
		return
	}
	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"apiKey"`
	}
	if err := decodeJSON(r, &req); err != nil || req.APIKey == "" {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p, ok := providers.Parse(req.Provider)
	if !ok {
		respondError(w, http.StatusBadRequest, "Unknown provider")
		return
	}

	sealed, err := s.ring.Seal(req.APIKey)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to store key")
		return
	}
	if err := s.remote.UpsertUserKey(r.Context(), caller.UserID, p, sealed); err != nil {
		respondError(w, http.StatusBadGateway, "Failed to store key")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"provider": string(p), "saved": true})
}

func (s *Server) handleDeleteUserKey(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if caller.Kind != access.KindUser {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if s.remote == nil {
		respondError(w, http.StatusServiceUnavailable, "Remote store disabled")
		return
	}
	var req struct {
		Provider string `json:"provider"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p, ok := providers.Parse(req.Provider)
	if !ok {
		respondError(w, http.StatusBadRequest, "Unknown provider")
		return
	}

	if err := s.remote.DeleteUserKey(r.Context(), caller.UserID, p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "No key stored for provider")
			return
		}
		respondError(w, http.StatusBadGateway, "Failed to delete key")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"provider": string(p), "deleted": true})
}

func mutationStatus(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}
