// internal/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"

	"repo-catalog/internal/database"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Handler is the container for API dependencies.
type Handler struct {
	db     database.Querier
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db database.Querier, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:     db,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos", h.listRepos)
		r.Get("/repos/{id}", h.getRepo)
		r.Get("/folders", h.listFolders)
		r.Get("/stars", h.listStars)
		r.Get("/lists", h.listLists)
		r.Get("/cache/{type}/*", h.getCacheEntry)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listRepos returns repositories, optionally only starred ones or only duplicates.
// GET /v1/repos?starred=true&dupes=true&limit=N
func (h *Handler) listRepos(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	starred, err := parseBool(q.Get("starred"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'starred' parameter. Must be true or false.")
		return
	}
	dupes, err := parseBool(q.Get("dupes"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'dupes' parameter. Must be true or false.")
		return
	}

	repos, err := h.db.ListRepos(r.Context(), database.ListReposParams{
		StarredOnly: starred,
		DupesOnly:   dupes,
		Limit:       int32(limit),
	})
	if err != nil {
		h.logger.Error("Failed to list repositories", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(repos))
}

type repoResponse struct {
	Repo     database.GitRepo       `json:"repo"`
	Star     *database.GitStar      `json:"star"`
	Expanded *database.ExpandedRepo `json:"expanded"`
}

// getRepo returns one repository with its star row and expanded remote record, if any.
// GET /v1/repos/{id}
func (h *Handler) getRepo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid repository id")
		return
	}

	repo, err := h.db.GetRepo(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		h.logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp := repoResponse{Repo: repo}

	star, err := h.db.GetStarByRepoID(r.Context(), id)
	switch {
	case err == nil:
		resp.Star = &star
	case !errors.Is(err, pgx.ErrNoRows):
		h.logger.Error("Failed to get star", "repo_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if repo.RemoteID != nil {
		expanded, err := h.db.GetExpandedRepo(r.Context(), *repo.RemoteID)
		switch {
		case err == nil:
			resp.Expanded = &expanded
		case !errors.Is(err, pgx.ErrNoRows):
			h.logger.Error("Failed to get expanded repository", "repo_id", id, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// GET /v1/folders?limit=N
func (h *Handler) listFolders(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	folders, err := h.db.ListValidFolders(r.Context(), int32(limit))
	if err != nil {
		h.logger.Error("Failed to list folders", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(folders))
}

// GET /v1/stars?limit=N
func (h *Handler) listStars(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	stars, err := h.db.ListStars(r.Context(), int32(limit))
	if err != nil {
		h.logger.Error("Failed to list stars", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(stars))
}

// GET /v1/lists
func (h *Handler) listLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.db.ListLists(r.Context())
	if err != nil {
		h.logger.Error("Failed to list star lists", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(lists))
}

type cacheEntryResponse struct {
	Key       string          `json:"key"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// getCacheEntry returns a raw cache entry. Keys may contain slashes ("owner/name").
// GET /v1/cache/{type}/{key}
func (h *Handler) getCacheEntry(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	key := chi.URLParam(r, "*")
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "Missing cache key")
		return
	}

	entry, err := h.db.GetCacheEntry(r.Context(), database.GetCacheEntryParams{Key: key, Type: typ})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Cache entry not found")
			return
		}
		h.logger.Error("Failed to get cache entry", "key", key, "type", typ, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, cacheEntryResponse{
		Key:       entry.Key,
		Type:      entry.Type,
		Payload:   json.RawMessage(entry.Payload),
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > maxLimit {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 1000.")
		return 0, false
	}
	return limit, true
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

// nonNil keeps empty results encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
