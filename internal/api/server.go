// Package api exposes the operational HTTP surface: health probes,
// Prometheus metrics, manual crawl triggers and the last run report.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fishingmap/forum-crawler/internal/ingest"
	"github.com/fishingmap/forum-crawler/internal/metrics"
)

// Crawler is the scheduler surface the API drives.
type Crawler interface {
	TriggerNow() bool
	Running() bool
	LastRun() (ingest.CrawlRun, bool)
}

// Server serves the operational endpoints.
type Server struct {
	crawler Crawler
	logger  *zap.Logger
	http    *http.Server
}

// New builds a Server listening on port.
func New(port int, crawler Crawler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{crawler: crawler, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync", s.handleSync)
		r.Get("/runs/last", s.handleLastRun)
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSync requests an immediate crawl. 409 means a run is in flight;
// the trigger is dropped, not queued.
func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	if !s.crawler.TriggerNow() {
		s.respond(w, http.StatusConflict, map[string]string{"status": "run already in progress"})
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleLastRun(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.crawler.LastRun()
	if !ok {
		s.respond(w, http.StatusNotFound, map[string]string{"status": "no completed runs"})
		return
	}
	s.respond(w, http.StatusOK, report)
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
