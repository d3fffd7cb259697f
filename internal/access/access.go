package access

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"tenai/internal/catalog"
	"tenai/internal/keyring"
	"tenai/internal/providers"
	"tenai/internal/storage"
)

// ErrNoCredentials means neither a personal key nor an environment key exists
// for the requested provider.
var ErrNoCredentials = errors.New("no credentials for provider")

// CallerKind classifies who is asking. Anything short of an authenticated
// user sees the environment-only view.
type CallerKind string

const (
	KindAnonymous        CallerKind = "anonymous"
	KindAnonymousSession CallerKind = "anonymous-session"
	KindUser             CallerKind = "user"
)

type Caller struct {
	UserID string
	Kind   CallerKind
}

func (c Caller) authenticated() bool {
	return c.Kind == KindUser && c.UserID != ""
}

// KeyStore is the slice of the remote store the resolver needs. Satisfied by
// *storage.Store.
type KeyStore interface {
	UserKeyProviders(ctx context.Context, userID string) ([]providers.ID, error)
	GetUserKey(ctx context.Context, userID string, provider providers.ID) (storage.UserKey, error)
}

// Resolver computes which models and providers a caller may use, merging
// environment keys, personal keys, and the free-tier allowance. Key-store
// failures degrade to the environment-only view rather than failing the
// request.
type Resolver struct {
	catalog    *catalog.Catalog
	keys       KeyStore
	ring       *keyring.Keyring
	envKeys    map[providers.ID]string
	freeModels map[string]bool
	log        zerolog.Logger
}

func NewResolver(cat *catalog.Catalog, keys KeyStore, ring *keyring.Keyring, envKeys map[providers.ID]string, freeModels []string, log zerolog.Logger) *Resolver {
	free := make(map[string]bool, len(freeModels))
	for _, id := range freeModels {
		free[id] = true
	}
	return &Resolver{
		catalog:    cat,
		keys:       keys,
		ring:       ring,
		envKeys:    envKeys,
		freeModels: free,
		log:        log.With().Str("component", "access").Logger(),
	}
}

// EffectiveModels returns the models the caller can actually invoke, every
// entry marked accessible. Anonymous callers, callers with no personal keys,
// and any key-store failure all resolve to the free-tier plus environment-keyed
// baseline. Personal-key entries win over baseline entries on id collision.
func (r *Resolver) EffectiveModels(ctx context.Context, caller Caller) []catalog.ModelConfig {
	if !caller.authenticated() {
		return r.baseline()
	}

	userProviders, err := r.keys.UserKeyProviders(ctx, caller.UserID)
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", caller.UserID).Msg("key store unavailable, serving env-only models")
		return r.baseline()
	}
	if len(userProviders) == 0 {
		return r.baseline()
	}

	personal := make(map[providers.ID]bool, len(userProviders))
	for _, p := range userProviders {
		personal[p] = true
	}

	seen := make(map[string]bool)
	out := make([]catalog.ModelConfig, 0)
	for _, m := range r.catalog.ListAll() {
		if personal[m.ProviderID] {
			m.Accessible = true
			out = append(out, m)
			seen[m.ID] = true
		}
	}
	for _, m := range r.baseline() {
		if !seen[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// baseline is the view every caller gets at minimum: free-tier models plus
// models of providers with an environment key.
func (r *Resolver) baseline() []catalog.ModelConfig {
	out := make([]catalog.ModelConfig, 0)
	for _, m := range r.catalog.ListAll() {
		if r.freeModels[m.ID] || r.envKeys[m.ProviderID] != "" {
			m.Accessible = true
			out = append(out, m)
		}
	}
	return out
}

// ProviderStatus reports, per provider, whether the caller has any usable
// credential: an environment key or a stored personal key.
func (r *Resolver) ProviderStatus(ctx context.Context, caller Caller) map[providers.ID]bool {
	status := make(map[providers.ID]bool, len(providers.All()))
	for _, p := range providers.All() {
		status[p] = r.envKeys[p] != ""
	}
	if !caller.authenticated() {
		return status
	}

	userProviders, err := r.keys.UserKeyProviders(ctx, caller.UserID)
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", caller.UserID).Msg("key store unavailable, serving env-only provider status")
		return status
	}
	for _, p := range userProviders {
		status[p] = true
	}
	return status
}

// EffectiveKey resolves the API key to use for one provider: the caller's
// decrypted personal key when present, otherwise the environment key.
func (r *Resolver) EffectiveKey(ctx context.Context, caller Caller, provider providers.ID) (string, error) {
	if caller.authenticated() {
		row, err := r.keys.GetUserKey(ctx, caller.UserID, provider)
		switch {
		case err == nil:
			plain, err := r.ring.Open(row.EncAPIKey)
			if err != nil {
				r.log.Warn().Err(err).Str("user_id", caller.UserID).Str("provider", string(provider)).Msg("personal key unreadable, falling back to env key")
			} else {
				return plain, nil
			}
		case errors.Is(err, storage.ErrNotFound):
			// no personal key, fall through to env
		default:
			r.log.Warn().Err(err).Str("user_id", caller.UserID).Str("provider", string(provider)).Msg("key store unavailable, falling back to env key")
		}
	}

	if key := r.envKeys[provider]; key != "" {
		return key, nil
	}
	return "", ErrNoCredentials
}

// HasPersonalKey reports whether the caller's effective key for the provider
// differs from the environment key.
func (r *Resolver) HasPersonalKey(ctx context.Context, caller Caller, provider providers.ID) bool {
	if !caller.authenticated() {
		return false
	}
	key, err := r.EffectiveKey(ctx, caller, provider)
	if err != nil {
		return false
	}
	return key != r.envKeys[provider]
}
