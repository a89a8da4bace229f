// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/tunecache/internal/contentid"
	"github.com/ManuGH/tunecache/internal/coordinator"
	"github.com/ManuGH/tunecache/internal/log"
	"github.com/ManuGH/tunecache/internal/store"
)

const audioContentType = "audio/mpeg"

// handleStream resolves a content id and serves audio: cached objects with
// range support, freshly started jobs as a live stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := contentid.Parse(chi.URLParam(r, "contentID"))
	if err != nil {
		writeBadRequest(w, "invalid content id")
		return
	}

	res := s.resolver.Resolve(r.Context(), id, coordinator.ResolveOptions{Attach: true})
	switch res.Kind {
	case coordinator.Hit:
		s.serveObject(w, r, res.StorageKey)
	case coordinator.MissStarted:
		if res.Live == nil {
			writeJSON(w, http.StatusAccepted, map[string]bool{"caching": true})
			return
		}
		s.serveLive(w, r, res.Live)
	case coordinator.MissInProgress:
		writeJSON(w, http.StatusAccepted, map[string]bool{"caching": true})
	case coordinator.MissFailed:
		writeInternalError(w, res.Err)
	}
}

// handleObject serves a stored object addressed by a signed locator.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	q := r.URL.Query()
	if err := s.store.VerifyLocator(key, q.Get("exp"), q.Get("sig")); err != nil {
		if errors.Is(err, store.ErrLocatorExpired) {
			writeForbidden(w, "locator expired")
			return
		}
		writeForbidden(w, "invalid locator")
		return
	}
	s.serveObject(w, r, key)
}

func (s *Server) serveObject(w http.ResponseWriter, r *http.Request, key string) {
	obj, mod, err := s.store.Open(key)
	if err != nil {
		writeNotFound(w)
		return
	}
	defer func() { _ = obj.Close() }()
	w.Header().Set("Content-Type", audioContentType)
	http.ServeContent(w, r, key, mod, obj)
}

// serveLive copies the in-flight encoded stream to the client, flushing
// eagerly so playback starts before the job finished. A client disconnect
// only ends this copy; the cache write keeps running.
func (s *Server) serveLive(w http.ResponseWriter, r *http.Request, live io.ReadCloser) {
	defer func() { _ = live.Close() }()

	w.Header().Set("Content-Type", audioContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := live.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logger := log.WithContext(r.Context(), "api")
				logger.Warn().Err(readErr).Msg("live stream ended with error")
			}
			return
		}
	}
}
