package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/FairForge/tierbank/internal/bank"
	"github.com/FairForge/tierbank/internal/filebank"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server is the admin HTTP API of a file bank
type Server struct {
	bank       *filebank.Bank
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	metrics    *Metrics
	startTime  time.Time
}

// NewServer wires the admin routes for fb and listens on addr once
// started
func NewServer(addr string, fb *filebank.Bank, metrics *Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		bank:      fb,
		logger:    logger.Named("api"),
		router:    chi.NewRouter(),
		metrics:   metrics,
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	s.router.Get("/stats", s.handleStats)
	s.router.Post("/purge", s.handlePurge)

	s.router.Route("/items", func(r chi.Router) {
		r.Get("/", s.handleListItems)
		r.Get("/*", s.handleGetItem)
		r.Post("/*", s.handleItemAction)
	})
}

// Handler exposes the router, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"bank":      s.bank.Name(),
		"uptime":    time.Since(s.startTime).Seconds(),
		"memory_mb": getMemoryUsageMB(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bank.Stats())
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	s.bank.Purge()
	writeJSON(w, http.StatusOK, s.bank.Stats())
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.IncrementRequest(r.Method, route, ww.Status())
			s.metrics.RecordLatency(r.Method, route, time.Since(start).Seconds())
		}

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// Start serves until Shutdown
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var loadErr bank.LoadError
	switch {
	case bank.IsNotFound(err):
		status = http.StatusNotFound
	case bank.IsAlreadyExists(err):
		status = http.StatusConflict
	case errors.Is(err, bank.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.As(err, &loadErr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func getMemoryUsageMB() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc / 1024 / 1024
}
