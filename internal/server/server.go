package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"mce-assistant-backend/internal/auth"
	"mce-assistant-backend/internal/chat"
	"mce-assistant-backend/internal/config"
	"mce-assistant-backend/internal/db"
	"mce-assistant-backend/internal/intent"
	"mce-assistant-backend/internal/mce"
	"mce-assistant-backend/internal/store"
	"mce-assistant-backend/internal/types"
)

// modelRelay is the slice of chat.Relay the handlers use; tests swap in a fake.
type modelRelay interface {
	Complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, string, error)
	Stream(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, <-chan chat.Fragment, error)
}

type emailBuilder interface {
	BuildEmail(ctx context.Context, in intent.EmailIntent) (map[string]any, error)
}

type Server struct {
	router        *chi.Mux
	cfg           config.Config
	relay         modelRelay
	detector      *intent.Detector
	mce           emailBuilder
	gate          *auth.Gate
	store         *store.MemoryStore
	database      *db.DB
	databaseStore *store.DatabaseStore
	oauth         map[string]*oauth2.Config
}

func NewServer(cfg config.Config) (*Server, error) {
	spec, err := intent.LoadPromptSpec(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt spec: %w", err)
	}

	var cache chat.ModelCache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		cache = chat.NewRedisModelCache(redis.NewClient(opts), chat.DefaultModelTTL)
		log.Println("model cache backed by redis")
	} else {
		cache = chat.NewMemoryModelCache(chat.DefaultModelTTL)
	}

	client := openai.NewClient(cfg.OpenAIAPIKey)
	relay := chat.NewRelay(client, cache, cfg.Model, spec.System)

	r := newRouter(cfg)

	// Database session persistence is optional
	var database *db.DB
	var databaseStore *store.DatabaseStore
	if cfg.DatabaseURL != "" {
		database, err = db.New(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := database.EnsureSchema(); err != nil {
			database.Close()
			return nil, err
		}
		log.Println("database connection established")
		databaseStore = store.NewDatabaseStore(database)
	} else {
		log.Println("warning: DB_URL not provided, sessions are memory-only")
	}

	s := &Server{
		router:        r,
		cfg:           cfg,
		relay:         relay,
		detector:      intent.NewDetector(spec),
		mce:           mce.NewClient(cfg.MCEServerURL, cfg.MCEAPIKey),
		gate:          auth.NewGate(cfg),
		store:         store.NewMemoryStore(store.DefaultSessionTTL),
		database:      database,
		databaseStore: databaseStore,
		oauth:         buildOAuthConfigs(cfg),
	}
	s.routes()
	return s, nil
}

func newRouter(cfg config.Config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	return r
}

func buildOAuthConfigs(cfg config.Config) map[string]*oauth2.Config {
	out := make(map[string]*oauth2.Config)
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		out["google"] = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL + "/google/callback",
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		}
	}
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		out["github"] = &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL + "/github/callback",
			Scopes:       []string{"user:email"},
			Endpoint:     endpoints.GitHub,
		}
	}
	return out
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/api/chat", s.requireAuth(s.handleChat))
	// Auth
	s.router.Post("/api/auth/login", s.handleLogin)
	s.router.Post("/api/auth/logout", s.handleLogout)
	s.router.Get("/api/auth/status", s.handleAuthStatus)
	s.router.Get("/api/auth/{provider}", s.handleOAuthStart)
	s.router.Get("/api/auth/{provider}/callback", s.handleOAuthCallback)
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if s.database != nil {
		if err := s.database.HealthCheck(); err != nil {
			status["database"] = "unreachable"
		} else {
			status["database"] = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeErrorDetails(w, code, msg, "")
}

func (s *Server) writeErrorDetails(w http.ResponseWriter, code int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Details: details})
}

// requireAuth is the authorization predicate in front of the chat endpoint:
// a valid session cookie or the shared API key. When no access control is
// configured at all, the endpoint is public.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.gate.Enabled() {
			next(w, r)
			return
		}
		if s.gate.ValidAPIKey(r.Header.Get("X-API-Key")) {
			next(w, r)
			return
		}
		if _, _, ok := s.sessionUser(r); ok {
			next(w, r)
			return
		}
		s.writeError(w, http.StatusUnauthorized, "Authentication required")
	}
}

// sessionUser resolves the authenticated user for a request, preferring the
// database store when configured.
func (s *Server) sessionUser(r *http.Request) (string, store.SessionUser, bool) {
	raw, err := GetSessionCookie(r)
	if err != nil || raw == "" {
		return "", store.SessionUser{}, false
	}
	sid, ok := s.gate.ParseSession(raw)
	if !ok {
		return "", store.SessionUser{}, false
	}
	if s.databaseStore != nil {
		if u, ok, err := s.databaseStore.GetSession(sid); err == nil && ok {
			return sid, u, true
		}
	}
	u, ok := s.store.GetSession(sid)
	return sid, u, ok
}
