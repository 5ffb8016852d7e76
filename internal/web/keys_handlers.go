// ABOUTME: API key management handlers for the MCP tool server
// ABOUTME: The full key is returned exactly once, at creation

package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrYang2016/learn-assistant/internal/auth"
	"github.com/MrYang2016/learn-assistant/internal/store"
)

type apiKeyJSON struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Prefix     string  `json:"prefix"`
	LastUsedAt *string `json:"last_used_at,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
	CreatedAt  string  `json:"created_at"`

	// Key is set only in the create response; listings never include it.
	Key string `json:"key,omitempty"`
}

func toAPIKeyJSON(k *store.APIKey, includeKey bool) apiKeyJSON {
	out := apiKeyJSON{
		ID:        k.ID,
		Name:      k.KeyName,
		Prefix:    k.Prefix,
		CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339),
	}
	if k.LastUsedAt != nil {
		ts := k.LastUsedAt.UTC().Format(time.RFC3339)
		out.LastUsedAt = &ts
	}
	if k.ExpiresAt != nil {
		ts := k.ExpiresAt.UTC().Format(time.RFC3339)
		out.ExpiresAt = &ts
	}
	if includeKey {
		out.Key = k.Key
	}
	return out
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListAPIKeys(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]apiKeyJSON, 0, len(keys))
	for _, k := range keys {
		out = append(out, toAPIKeyJSON(k, false))
	}
	s.writeJSON(w, http.StatusOK, out)
}

type createKeyRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, req.ExpiresInDays)
		expiresAt = &t
	}

	key, err := auth.CreateAPIKey(r.Context(), s.store, identity(r).UserID, req.Name, expiresAt)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.logger.Info("api key created", "key_id", key.ID, "user_id", key.UserID)
	s.writeJSON(w, http.StatusCreated, toAPIKeyJSON(key, true))
}

type renameKeyRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameKey(w http.ResponseWriter, r *http.Request) {
	var req renameKeyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	err := s.store.RenameAPIKey(r.Context(), identity(r).UserID, chi.URLParam(r, "id"), req.Name)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"renamed": true})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteAPIKey(r.Context(), identity(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
