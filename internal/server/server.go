// Package server exposes the session engine over HTTP. It is a thin
// boundary adapter: handlers decode a request, invoke an engine
// operation, and encode the returned snapshot or typed error. No engine
// state lives here.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/liftlog/internal/history"
	"github.com/thebtf/liftlog/internal/identity"
	"github.com/thebtf/liftlog/internal/session"
	"github.com/thebtf/liftlog/internal/storage"
)

// Server holds the engine dependencies for the HTTP handlers.
type Server struct {
	controller *session.Controller
	repo       *history.Repository
	gateway    *storage.Gateway
	identity   identity.Provider
	router     chi.Router
}

// New creates a server with all routes configured.
func New(controller *session.Controller, repo *history.Repository, gateway *storage.Gateway, provider identity.Provider) *Server {
	if provider == nil {
		provider = identity.Static{}
	}
	s := &Server{
		controller: controller,
		repo:       repo,
		gateway:    gateway,
		identity:   provider,
		router:     chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogging)
	s.router.Use(s.resolveOwner)

	s.router.Route("/api/session", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/exercises", s.handleAddExercise)
		r.Delete("/exercises/{exerciseID}", s.handleRemoveExercise)
		r.Post("/exercises/reorder", s.handleReorderExercises)
		r.Patch("/exercises/{exerciseID}/sets/{setID}", s.handleUpdateSet)
		r.Post("/navigate", s.handleNavigate)
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
		r.Post("/finish", s.handleFinish)
		r.Post("/cancel", s.handleCancel)
		r.Post("/rest", s.handleRest)
		r.Get("/status", s.handleStatus)
	})

	s.router.Route("/api/history", func(r chi.Router) {
		r.Get("/", s.handleHistoryList)
		r.Delete("/{entryID}", s.handleHistoryDelete)
		r.Patch("/{entryID}", s.handleHistoryUpdate)
		r.Post("/search", s.handleHistorySearch)
		r.Post("/import", s.handleHistoryImport)
		r.Get("/export", s.handleHistoryExport)
		r.Get("/stats", s.handleHistoryStats)
	})

	s.router.Get("/api/storage/stats", s.handleStorageStats)
}

type ownerKey struct{}

// resolveOwner picks the owner id from the X-Owner-ID header, falling
// back to the configured provider.
func (s *Server) resolveOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get("X-Owner-ID")
		if owner == "" {
			owner = s.identity.CurrentOwnerID()
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerFrom(r *http.Request) string {
	if owner, ok := r.Context().Value(ownerKey{}).(string); ok && owner != "" {
		return owner
	}
	return identity.GuestID
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request served")
	})
}
