package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattwade/papermill/internal/convert"
	"github.com/mattwade/papermill/internal/history"
)

// Converter defines the interface for running conversions.
type Converter interface {
	ConvertOperation(ctx context.Context, operationID, inputFormat, outputFormat, inputPath, outputPath string) convert.Result
	Supported(inputFormat, outputFormat string) bool
	Pairs() []string
}

// HistoryReader defines the interface for reading past conversions.
type HistoryReader interface {
	Get(ctx context.Context, operationID string) (*history.Entry, error)
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// SlotReporter reports engine slot usage for the health endpoint.
type SlotReporter interface {
	InUse() int
	Capacity() int
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the bearer token required on /api/v1 routes.
	APIKey string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	converter Converter
	hist      HistoryReader
	slots     SlotReporter
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, converter Converter, hist HistoryReader, slots SlotReporter, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		converter: converter,
		hist:      hist,
		slots:     slots,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // conversions complete within the request
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/convert", s.handleConvert)
		r.Get("/formats", s.handleFormats)
		r.Get("/conversions", s.handleListConversions)
		r.Get("/conversions/{operationID}", s.handleGetConversion)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
