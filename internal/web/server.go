// ABOUTME: HTTP API server: routing, middleware, and JSON helpers
// ABOUTME: Mounts the REST surface under /api and the MCP transports at /mcp

package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MrYang2016/learn-assistant/internal/auth"
	"github.com/MrYang2016/learn-assistant/internal/chat"
	"github.com/MrYang2016/learn-assistant/internal/knowledge"
	"github.com/MrYang2016/learn-assistant/internal/mcp"
	"github.com/MrYang2016/learn-assistant/internal/store"
)

// Embedder vectorizes knowledge points for search. Nil disables
// vectorization, search, and chat context.
type Embedder interface {
	EmbedKnowledgePoint(ctx context.Context, question, answer string) ([]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Config holds the dependencies of the web server.
type Config struct {
	Store     store.Store
	Knowledge *knowledge.Service
	Tokens    *auth.SessionTokens
	MCP       *mcp.Transport
	Logger    *slog.Logger

	// Optional; nil when no embedding provider is configured.
	Embedder Embedder
	Searcher *chat.Searcher
	Chat     *chat.Service
}

// Server is the HTTP API for the learn-assistant web app.
type Server struct {
	store     store.Store
	knowledge *knowledge.Service
	tokens    *auth.SessionTokens
	mcp       *mcp.Transport
	embedder  Embedder
	searcher  *chat.Searcher
	chat      *chat.Service
	logger    *slog.Logger
}

// NewServer creates the web server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Knowledge == nil {
		return nil, errors.New("knowledge service is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		store:     cfg.Store,
		knowledge: cfg.Knowledge,
		tokens:    cfg.Tokens,
		mcp:       cfg.MCP,
		embedder:  cfg.Embedder,
		searcher:  cfg.Searcher,
		chat:      cfg.Chat,
		logger:    logger.With("component", "web"),
	}, nil
}

// Router builds the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	// The MCP transports manage their own auth and CORS headers.
	if s.mcp != nil {
		s.mcp.RegisterRoutes(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/signin", s.handleSignin)

		r.Group(func(r chi.Router) {
			r.Use(auth.UserAuthMiddleware(s.tokens))

			r.Post("/auth/refresh", s.handleRefresh)

			r.Get("/knowledge", s.handleListKnowledge)
			r.Post("/knowledge", s.handleCreateKnowledge)
			r.Get("/knowledge/{id}", s.handleGetKnowledge)
			r.Patch("/knowledge/{id}", s.handleUpdateKnowledge)
			r.Delete("/knowledge/{id}", s.handleDeleteKnowledge)

			r.Get("/reviews", s.handleListReviews)
			r.Post("/reviews/{id}/complete", s.handleCompleteReview)

			r.Post("/search", s.handleSearch)
			r.Post("/chat", s.handleChat)
			r.Post("/analyze-recall", s.handleAnalyzeRecall)

			r.Get("/keys", s.handleListKeys)
			r.Post("/keys", s.handleCreateKey)
			r.Patch("/keys/{id}", s.handleRenameKey)
			r.Delete("/keys/{id}", s.handleDeleteKey)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// identity pulls the authenticated identity set by the auth middleware.
func identity(r *http.Request) *auth.Identity {
	return auth.IdentityFromContext(r.Context())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps service errors to HTTP statuses. Not-found covers
// cross-user access too, so nothing leaks about other users' data.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, knowledge.ErrNoIncompleteReview):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
