// Package api serves Forge3D's HTTP surface (spec.md section 6): job
// submission, status, download, project/asset CRUD, history/stats,
// bridge/queue introspection, and a Server-Sent-Events telemetry
// firehose.
//
// Routing is go-chi/chi (the teacher's own bare http.ServeMux does not
// support path parameters or the ~18-route, SSE-carrying surface this
// spec needs; chi is the router three other repos in this corpus
// independently reach for), composed with chi's own
// middleware.Logger/middleware.Recoverer for the ambient
// request-logging and panic-recovery the teacher gets for free from
// its own log-everywhere style.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/assets"
	"github.com/brightforge/forge3d-orchestrator/pkg/bridge"
	"github.com/brightforge/forge3d-orchestrator/pkg/metrics"
	"github.com/brightforge/forge3d-orchestrator/pkg/scheduler"
	"github.com/brightforge/forge3d-orchestrator/pkg/store"
	"github.com/brightforge/forge3d-orchestrator/pkg/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

const apiPrefix = "/api/forge3d"

// Server wires the Forge3D host's components to HTTP handlers.
type Server struct {
	scheduler *scheduler.Scheduler
	store     store.Store
	assets    *assets.Store
	bridge    *bridge.Bridge
	hub       *telemetry.Hub
	validate  *validator.Validate
	router    chi.Router
	sessions  *sessionRing
}

// NewServer constructs a Server, builds its route table, and starts
// the GET /sessions ring feeding off the TelemetryHub's "scheduler"
// category (SPEC_FULL.md section 5: the sessions list is served from
// this in-memory ring, not a Store read).
func NewServer(sched *scheduler.Scheduler, st store.Store, assetStore *assets.Store, br *bridge.Bridge, hub *telemetry.Hub) *Server {
	s := &Server{
		scheduler: sched,
		store:     st,
		assets:    assetStore,
		bridge:    br,
		hub:       hub,
		validate:  validator.New(),
		sessions:  newSessionRing(),
	}
	s.router = s.routes()

	sub := hub.Subscribe("scheduler")
	go func() {
		for ev := range sub.Events() {
			s.sessions.observe(ev.Data)
		}
	}()

	return s
}

// ServeHTTP satisfies http.Handler, so Server can back httptest.Server
// directly in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully (spec section 5's drain-stop: "stop accepting new
// API requests" is the first step of the host's shutdown sequence).
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // the SSE stream handler manages its own lifetime
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(limitBody)

	// Additive to spec.md's table: plain process observability, not
	// part of the domain API (SPEC_FULL.md section 6).
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route(apiPrefix, func(r chi.Router) {
		r.Post("/generate", withMetrics("/generate", s.handleGenerate))
		r.Get("/status/{id}", withMetrics("/status/{id}", s.handleStatus))
		r.Get("/download/{id}", withMetrics("/download/{id}", s.handleDownload))
		r.Get("/sessions", withMetrics("/sessions", s.handleSessions))

		r.Get("/projects", withMetrics("/projects", s.handleListProjects))
		r.Post("/projects", withMetrics("/projects", s.handleCreateProject))
		r.Get("/projects/{id}", withMetrics("/projects/{id}", s.handleGetProject))
		r.Delete("/projects/{id}", withMetrics("/projects/{id}", s.handleDeleteProject))
		r.Get("/projects/{id}/assets", withMetrics("/projects/{id}/assets", s.handleListProjectAssets))

		r.Delete("/assets/{id}", withMetrics("/assets/{id}", s.handleDeleteAsset))

		r.Get("/history", withMetrics("/history", s.handleHistory))
		r.Get("/stats", withMetrics("/stats", s.handleStats))

		r.Get("/bridge", withMetrics("/bridge", s.handleBridgeState))

		r.Get("/queue", withMetrics("/queue", s.handleQueueState))
		r.Post("/queue/pause", withMetrics("/queue/pause", s.handleQueuePause))
		r.Post("/queue/resume", withMetrics("/queue/resume", s.handleQueueResume))
		r.Delete("/queue/{id}", withMetrics("/queue/{id}", s.handleQueueCancel))

		r.Get("/metrics/stream", s.handleMetricsStream)
	})

	return r
}

func withMetrics(pattern string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestMetrics(pattern)(h).ServeHTTP(w, r)
	}
}
