package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"recalld/internal/domain"
	"recalld/internal/infra/config"
	"recalld/internal/infra/middleware"
)

// Engine is the subset of the recall engine the gateway exposes over HTTP.
type Engine interface {
	StoreContext(ctx context.Context, sessionID, content, contextType string, metadata map[string]string) (domain.Memory, error)
	RetrieveFast(ctx context.Context, sessionID, query string, limit int) (domain.RecallResult, error)
	Status(ctx context.Context) (domain.EngineStatus, error)
	SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error)
}

// Server is the local HTTP gateway in front of the engine. It binds
// loopback by default and applies per-IP rate limiting.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	addr      string
	rpm       int
	burst     int
	metrics   *Metrics
	startTime time.Time
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway server for the given engine.
func NewServer(engine Engine, cfg config.GatewayConfig, logger *slog.Logger) *Server {
	return &Server{
		engine:    engine,
		logger:    logger,
		addr:      cfg.Addr,
		rpm:       cfg.RateLimitPerMin,
		burst:     cfg.RateLimitBurst,
		metrics:   &Metrics{},
		startTime: time.Now(),
	}
}

// buildHandler assembles the route table and middleware chain. ctx bounds
// the rate limiter's cleanup goroutine.
func (s *Server) buildHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/contexts", s.handleStore)
	mux.HandleFunc("POST /api/v1/recall", s.handleRecall)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/sessions/{id}/stats", s.handleSessionStats)
	mux.HandleFunc("GET /metrics", metricsHandler(s.engine, s.startTime, s.metrics))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	var handler http.Handler = mux
	if s.rpm > 0 {
		handler = middleware.RateLimit(ctx, s.rpm, s.burst)(handler)
	}
	return middleware.SecurityHeaders(handler)
}

// Start begins serving HTTP requests. Blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	handler := s.buildHandler(ctx)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }
