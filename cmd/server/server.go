package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/logging"
)

// Server exposes an Engine over HTTP.
type Server struct {
	engine    fulltext.Engine
	db        Pinger
	validator *requestValidator
	router    chi.Router
	http      *http.Server
}

// NewServer creates a Server. db may be nil; gatherer may be nil to skip the metrics
// endpoint.
func NewServer(engine fulltext.Engine, db Pinger, cfg *fulltext.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Server, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	s := &Server{engine: engine, db: db, validator: validator}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLogger)
	if reg != nil {
		m, err := newHTTPMetrics(reg)
		if err != nil {
			return nil, err
		}
		r.Use(m.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	if gatherer != nil && cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/schema/{schema_name}", s.handleDescribe)
	})
	s.router = r

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

// requestLogger stores a logger tagged with the request id in the request context.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := zap.L().With(zap.String("request_id", chiMiddleware.GetReqID(ctx)))
		next.ServeHTTP(w, r.WithContext(logging.ContextWithLogger(ctx, logger)))
	})
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	zap.S().Infow("starting server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
