package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/htjob/internal/job"
	"github.com/me/htjob/internal/schedd"
	"github.com/me/htjob/internal/store"
	"github.com/me/htjob/pkg/model"
)

// Server is the htjob status and control API.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	startTime time.Time
	rt        *job.Runtime
	store     store.Store  // optional; journal used to list and re-attach jobs
	metrics   http.Handler // optional; served at /metrics
	heartbeat time.Duration

	// handles holds strong references; the runtime registry is weak.
	mu      sync.Mutex
	handles map[string]*job.Handle
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore sets the job journal.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		s.heartbeat = d
	}
}

// New creates a new Server with all routes registered.
func New(rt *job.Runtime, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		startTime: time.Now(),
		rt:        rt,
		heartbeat: 15 * time.Second,
		handles:   make(map[string]*job.Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Resume re-attaches every non-terminal job in the journal so the poller
// keeps advancing them. It is a no-op without a store.
func (s *Server) Resume(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	opts := model.ListOptions{Limit: 500}
	resumed := 0
	for {
		recs, total, err := s.store.ListJobs(ctx, opts)
		if err != nil {
			return resumed, err
		}
		for _, rec := range recs {
			if rec.State.IsTerminal() {
				continue
			}
			h, err := s.rt.Attach(*rec)
			if err != nil {
				s.logger.Warn("resume job", "id", rec.ID, "error", err)
				continue
			}
			s.pin(h)
			resumed++
		}
		opts.Offset += len(recs)
		if len(recs) == 0 || opts.Offset >= total {
			break
		}
	}
	s.logger.Info("jobs resumed", "count", resumed)
	return resumed, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleCreateJob)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Delete("/", s.handleDeleteJob)
				r.Get("/outputs", s.handleGetOutputs)
				r.Post("/hold", s.handleAction(schedd.ActionHold))
				r.Post("/release", s.handleAction(schedd.ActionRelease))
				r.Post("/remove", s.handleAction(schedd.ActionRemove))
			})
		})

		r.Route("/sse", func(r chi.Router) {
			r.Get("/jobs/{id}", s.handleSSEJob)
		})
	})
}

// pin keeps h reachable for as long as the server tracks it.
func (s *Server) pin(h *job.Handle) {
	s.mu.Lock()
	s.handles[h.ID()] = h
	s.mu.Unlock()
}

func (s *Server) unpin(id string) *job.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handles[id]
	delete(s.handles, id)
	return h
}

func (s *Server) pinned() []*job.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*job.Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// handle resolves id to a live handle, re-attaching it from the journal if
// the server has not seen it yet. It returns nil, nil when the job is
// unknown.
func (s *Server) handle(ctx context.Context, id string) (*job.Handle, error) {
	s.mu.Lock()
	h := s.handles[id]
	s.mu.Unlock()
	if h != nil {
		return h, nil
	}
	if h := s.rt.Lookup(id); h != nil {
		s.pin(h)
		return h, nil
	}
	if s.store == nil {
		return nil, nil
	}
	rec, err := s.store.GetJob(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	h, err = s.rt.Attach(*rec)
	if err != nil {
		return nil, err
	}
	s.pin(h)
	return h, nil
}
