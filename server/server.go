// Package server exposes editing sessions over HTTP for the canvas front end.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/goliatone/go-stackflow/logging"
)

type Option func(*Server)

func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTimeouts sets the http.Server read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// WithWaitLimit caps how long an execute request with wait=true blocks.
func WithWaitLimit(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.waitLimit = d
		}
	}
}

// Server routes HTTP requests to the sessions of a Registry.
type Server struct {
	registry     *Registry
	router       chi.Router
	logger       logging.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration
	waitLimit    time.Duration
}

func New(registry *Registry, opts ...Option) *Server {
	s := &Server{
		registry:     registry,
		readTimeout:  15 * time.Second,
		writeTimeout: 30 * time.Second,
		waitLimit:    2 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = logging.Normalize(s.logger)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": len(s.registry.IDs())})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", s.catalog)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/", s.listSessions)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.closeSession)

				r.Get("/view", s.view)
				r.Post("/drag", s.beginDrag)
				r.Post("/drop", s.drop)
				r.Post("/connect", s.connect)
				r.Post("/changes/nodes", s.nodeChanges)
				r.Post("/changes/edges", s.edgeChanges)
				r.Patch("/nodes/{nodeID}", s.patchNode)

				r.Post("/validate", s.validate)
				r.Post("/execute", s.execute)
				r.Get("/execution", s.lastExecution)
				r.Post("/save", s.save)
				r.Put("/workflow", s.bindWorkflow)
				r.Get("/workflow", s.exportWorkflow)
				r.Get("/stats", s.stats)
				r.Get("/transcript", s.transcript)
			})
		})
	})
	return r
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully
// within shutdownTimeout and closes every session.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.registry.CloseAll()
	s.logger.Info("server stopped")
	return err
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logging.With(logger, map[string]any{
				"request_id": middleware.GetReqID(r.Context()),
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
			}).Debug("%s %s in %s", r.Method, r.URL.Path, time.Since(start))
		})
	}
}
