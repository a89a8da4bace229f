// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the cache daemon: playback
// resolution, signed object serving, and the track/group catalog.
package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/tunecache/internal/coordinator"
	"github.com/ManuGH/tunecache/internal/store"
)

// Resolver answers playback requests; implemented by coordinator.Coordinator.
type Resolver interface {
	Resolve(ctx context.Context, contentID string, opts coordinator.ResolveOptions) coordinator.Resolution
}

// Options configure the HTTP server.
type Options struct {
	// RateLimitRPM caps stream resolutions per client IP per minute.
	// 0 disables the limiter.
	RateLimitRPM int
}

// Server owns the router and the handler dependencies.
type Server struct {
	store    store.Store
	resolver Resolver
	opts     Options
	started  time.Time
}

// New assembles a Server around its collaborators.
func New(st store.Store, res Resolver, opts Options) *Server {
	return &Server{
		store:    st,
		resolver: res,
		opts:     opts,
		started:  time.Now(),
	}
}

// Router builds the chi router with the full middleware stack and all routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	r.Group(func(r chi.Router) {
		if s.opts.RateLimitRPM > 0 {
			r.Use(streamRateLimit(s.opts.RateLimitRPM))
		}
		r.Get("/stream/{contentID}", s.handleStream)
	})

	r.Get("/object/{key}", s.handleObject)

	r.Get("/tracks", s.handleListTracks)
	r.Delete("/tracks/{contentID}", s.handleDeleteTrack)

	r.Get("/groups", s.handleListGroups)
	r.Post("/groups", s.handleCreateGroup)
	r.Put("/groups/{id}", s.handleUpdateGroup)
	r.Delete("/groups/{id}", s.handleDeleteGroup)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
