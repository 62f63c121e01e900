// Package server provides the HTTP API for docvec.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/config"
	"github.com/hyperjump/docvec/internal/docstore"
)

// DiskUsage reports the bytes a storage backend occupies on disk.
type DiskUsage func() (int64, error)

// Server is the HTTP server for the docvec API.
type Server struct {
	store     *docstore.Store
	config    *config.Config
	diskUsage DiskUsage
	logger    *zap.Logger
	router    chi.Router
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithDiskUsage adds disk usage to the status endpoint.
func WithDiskUsage(fn DiskUsage) Option {
	return func(s *Server) { s.diskUsage = fn }
}

// NewServer creates a server in front of store.
func NewServer(store *docstore.Store, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, config: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.config.Server.RequestTimeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/docs", func(r chi.Router) {
			r.Post("/", s.handleAdd)
			r.Get("/", s.handleList)
			r.Post("/search", s.handleSearch)
			r.Post("/metadata", s.handleListMetadata)
			r.Get("/{pk}", s.handleGet)
			r.Delete("/{pk}", s.handleDelete)
		})
		r.Post("/admin/reconcile", s.handleReconcile)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves HTTP until Stop is called, running the reconcile sweeper
// alongside when reconcile.interval is set. The sweeper ends with ctx.
func (s *Server) Start(ctx context.Context) error {
	if interval := s.config.Reconcile.Interval; interval > 0 {
		go s.runSweeper(ctx, interval)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// runSweeper reconciles the store every interval until ctx is done.
func (s *Server) runSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.store.Reconcile(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("reconcile sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}
