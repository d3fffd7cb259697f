package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tenai/internal/access"
	"tenai/internal/cache"
	"tenai/internal/catalog"
	"tenai/internal/chatsync"
	"tenai/internal/keyring"
	"tenai/internal/metrics"
	"tenai/internal/msgsync"
	"tenai/internal/providers"
	"tenai/internal/providers/registry"
	"tenai/internal/ratelimit"
	"tenai/internal/storage"
)

// CompleteFunc invokes one model call. The default goes through the provider
// registry; tests substitute their own.
type CompleteFunc func(ctx context.Context, opts registry.BuildOptions, req providers.Request) (providers.Response, error)

type Options struct {
	Remote   *storage.Store // nil runs cache-only
	Cache    *cache.Store
	Catalog  *catalog.Catalog
	Resolver *access.Resolver
	Limiter  *ratelimit.Limiter // nil disables rate limiting
	Keyring  *keyring.Keyring
	CSRF     *CSRF

	DefaultModel string
	BaseURLs     map[providers.ID]string
	HTTPClient   *http.Client
	MaxRetries   int
	BackoffBase  time.Duration

	AllowedOrigins []string
	HealthPath     string
	MetricsPath    string

	Complete CompleteFunc
	Log      zerolog.Logger
}

type Server struct {
	remote   *storage.Store
	cache    *cache.Store
	catalog  *catalog.Catalog
	resolver *access.Resolver
	limiter  *ratelimit.Limiter
	ring     *keyring.Keyring
	csrf     *CSRF

	defaultModel string
	baseURLs     map[providers.ID]string
	httpClient   *http.Client
	maxRetries   int
	backoffBase  time.Duration

	complete CompleteFunc
	syncer   *msgsync.Syncer
	log      zerolog.Logger
	m        *metrics.Metrics
	now      func() time.Time

	allowedOrigins []string
	healthPath     string
	metricsPath    string

	ctrlMu      sync.Mutex
	controllers map[string]*chatsync.Controller
}

func NewServer(opts Options) *Server {
	s := &Server{
		remote:       opts.Remote,
		cache:        opts.Cache,
		catalog:      opts.Catalog,
		resolver:     opts.Resolver,
		limiter:      opts.Limiter,
		ring:         opts.Keyring,
		csrf:         opts.CSRF,
		defaultModel: opts.DefaultModel,
		baseURLs:     opts.BaseURLs,
		httpClient:   opts.HTTPClient,
		maxRetries:   opts.MaxRetries,
		backoffBase:  opts.BackoffBase,
		complete:     opts.Complete,
		log:          opts.Log.With().Str("component", "httpapi").Logger(),
		m:            metrics.Global(),
		now:          time.Now,
		controllers:  make(map[string]*chatsync.Controller),

		allowedOrigins: opts.AllowedOrigins,
		healthPath:     opts.HealthPath,
		metricsPath:    opts.MetricsPath,
	}
	if s.healthPath == "" {
		s.healthPath = "/healthz"
	}
	if s.metricsPath == "" {
		s.metricsPath = "/metrics"
	}
	if s.complete == nil {
		s.complete = func(ctx context.Context, buildOpts registry.BuildOptions, req providers.Request) (providers.Response, error) {
			client, err := registry.Build(buildOpts)
			if err != nil {
				return providers.Response{}, err
			}
			return client.Complete(ctx, req)
		}
	}

	var remote msgsync.RemoteStore
	if s.remote != nil {
		remote = s.remote
	}
	s.syncer = msgsync.New(remote, s.cache, opts.Log)

	return s
}

// Router assembles the full HTTP surface. Every state-changing /api route
// sits behind the anti-forgery gate.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID", "X-Guest-ID", s.csrf.headerName},
		AllowCredentials: true,
	}))
	r.Use(s.countRequests)

	r.Get(s.healthPath, func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, s.metricsPath, promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(s.csrf.Middleware)

		api.Get("/csrf", s.handleCSRF)
		api.Get("/models", s.handleListModels)
		api.Post("/models", s.handleRefreshModels)
		api.Get("/user-key-status", s.handleUserKeyStatus)
		api.Post("/providers", s.handleProviderStatus)

		api.Get("/chats", s.handleListChats)
		api.Post("/create-chat", s.handleCreateChat)
		api.Post("/toggle-chat-pin", s.handleTogglePin)
		api.Post("/update-chat-model", s.handleUpdateModel)
		api.Post("/update-chat-title", s.handleUpdateTitle)
		api.Delete("/chats/{chatID}", s.handleDeleteChat)

		api.Get("/chats/{chatID}/messages", s.handleListMessages)
		api.Post("/chats/{chatID}/messages", s.handleSendMessage)

		api.Put("/user-keys", s.handlePutUserKey)
		api.Delete("/user-keys", s.handleDeleteUserKey)
	})

	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.m.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}

func callerFrom(r *http.Request) access.Caller {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return access.Caller{UserID: id, Kind: access.KindUser}
	}
	if id := r.Header.Get("X-Guest-ID"); id != "" {
		return access.Caller{UserID: "guest:" + id, Kind: access.KindAnonymousSession}
	}
	return access.Caller{Kind: access.KindAnonymous}
}

// controllerFor returns the caller's chat controller, loading the visible
// list on first use. Callers with no stable id cannot hold chats.
func (s *Server) controllerFor(ctx context.Context, caller access.Caller) (*chatsync.Controller, bool) {
	if caller.UserID == "" {
		return nil, false
	}

	s.ctrlMu.Lock()
	ctrl, ok := s.controllers[caller.UserID]
	if !ok {
		var remote chatsync.RemoteStore
		if s.remote != nil {
			remote = s.remote
		}
		log := s.log
		ctrl = chatsync.New(chatsync.Config{
			UserID:       caller.UserID,
			DefaultModel: s.defaultModel,
			Remote:       remote,
			Cache:        s.cache,
			Notify: func(n chatsync.Notification) {
				log.Warn().Str("status", n.Status).Str("title", n.Title).Msg("chat mutation rolled back")
			},
			Log: s.log,
		})
		s.controllers[caller.UserID] = ctrl
	}
	s.ctrlMu.Unlock()

	if !ok {
		if err := ctrl.Refresh(ctx); err != nil {
			s.log.Warn().Err(err).Str("user_id", caller.UserID).Msg("initial chat refresh failed")
		}
	}
	return ctrl, true
}
