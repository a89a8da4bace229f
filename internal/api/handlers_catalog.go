// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ManuGH/tunecache/internal/contentid"
	"github.com/ManuGH/tunecache/internal/log"
	"github.com/ManuGH/tunecache/internal/store"
)

func (s *Server) handleListTracks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tracks": s.store.Tracks()})
}

// handleDeleteTrack removes the record and its stored object.
func (s *Server) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	id, err := contentid.Parse(chi.URLParam(r, "contentID"))
	if err != nil {
		writeBadRequest(w, "invalid content id")
		return
	}
	rec, ok := s.store.Track(id)
	if !ok {
		writeNotFound(w)
		return
	}
	if err := s.store.Delete(rec.StorageKey); err != nil {
		writeInternalError(w, "delete object")
		return
	}
	if err := s.store.DeleteTrack(id); err != nil {
		writeInternalError(w, "delete track record")
		return
	}
	logger := log.WithContext(r.Context(), "api")
	logger.Info().Str("content_id", id).Str("storage_key", rec.StorageKey).Msg("track deleted")
	w.WriteHeader(http.StatusNoContent)
}

type groupRequest struct {
	Name       string   `json:"name"`
	ContentIDs []string `json:"contentIds"`
}

func (g *groupRequest) validate() (string, bool) {
	if g.Name == "" {
		return "name is required", false
	}
	for _, id := range g.ContentIDs {
		if !contentid.Valid(id) {
			return "invalid content id: " + id, false
		}
	}
	return "", true
}

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"groups": s.store.Groups()})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed body")
		return
	}
	if msg, ok := req.validate(); !ok {
		writeBadRequest(w, msg)
		return
	}
	now := time.Now().UTC()
	g := store.Group{
		ID:         uuid.NewString(),
		Name:       req.Name,
		ContentIDs: req.ContentIDs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if g.ContentIDs == nil {
		g.ContentIDs = []string{}
	}
	if err := s.store.PutGroup(g); err != nil {
		writeInternalError(w, "persist group")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, ok := s.store.Group(id)
	if !ok {
		writeNotFound(w)
		return
	}
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed body")
		return
	}
	if msg, ok := req.validate(); !ok {
		writeBadRequest(w, msg)
		return
	}
	g.Name = req.Name
	g.ContentIDs = req.ContentIDs
	if g.ContentIDs == nil {
		g.ContentIDs = []string{}
	}
	g.UpdatedAt = time.Now().UTC()
	if err := s.store.PutGroup(g); err != nil {
		writeInternalError(w, "persist group")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.store.Group(id); !ok {
		writeNotFound(w)
		return
	}
	if err := s.store.DeleteGroup(id); err != nil {
		writeInternalError(w, "delete group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
