package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/pesalog/service/config"
	"github.com/brojonat/pesalog/service/metrics"
	natspkg "github.com/brojonat/pesalog/service/nats"
	"github.com/brojonat/pesalog/service/parser"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the transaction service.
type Server struct {
	addr         string
	cfg          *config.Config
	store        TransactionStore
	registry     *parser.Registry
	publisher    natspkg.Publisher
	ssePublisher *SSEPublisher
	cache        *summaryCache
	limiter      *clientLimiter
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The publisher is optional - if nil, no events are emitted for new transactions.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, store TransactionStore, registry *parser.Registry, publisher natspkg.Publisher, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		registry:     registry,
		publisher:    publisher,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}

	cache, err := newSummaryCache(cfg.SummaryCacheTTL)
	if err != nil {
		logger.Warn("summary cache disabled", "error", err)
	} else {
		s.cache = cache
	}

	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = newClientLimiter(cfg.RateLimitRPS, burst)
	}

	if s.registry == nil {
		s.registry = parser.NewRegistry(parser.WithLocation(cfg.Timezone))
	}
	return s
}

// api wraps an API handler with authentication and request metrics.
func (s *Server) api(name string, h http.Handler) http.Handler {
	h = authMiddleware(s.cfg.JWTSecret, h)
	if s.metrics != nil {
		h = metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}
	return h
}

// Handler builds the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	maxItems := s.cfg.MaxBulkItems
	if maxItems < 1 {
		maxItems = 1000
	}

	var recordLookup func(bool)
	if s.metrics != nil {
		recordLookup = s.metrics.RecordCacheLookup
	}

	// Transaction routes
	mux.Handle("POST /api/v1/transactions", s.api("/api/v1/transactions", handleCreateTransaction(s.store, s.cache, s.publisher, s.logger)))
	mux.Handle("POST /api/v1/transactions/bulk", s.api("/api/v1/transactions/bulk", handleBulkCreateTransactions(s.store, s.cache, s.publisher, maxItems, s.logger)))
	mux.Handle("GET /api/v1/transactions", s.api("/api/v1/transactions", handleListTransactions(s.store, s.logger)))
	mux.Handle("GET /api/v1/transactions/{id}", s.api("/api/v1/transactions/{id}", handleGetTransaction(s.store, s.logger)))
	mux.Handle("DELETE /api/v1/transactions/{id}", s.api("/api/v1/transactions/{id}", handleDeleteTransaction(s.store, s.cache, s.logger)))
	mux.Handle("GET /api/v1/summary", s.api("/api/v1/summary", handleSummary(s.store, s.cache, recordLookup, s.logger)))

	// Stateless parsing
	mux.Handle("POST /api/v1/parse", s.api("/api/v1/parse", handleParse(s.registry, maxItems, s.logger)))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/transactions/{provider}", authMiddleware(s.cfg.JWTSecret, handleStreamTransactions(s.ssePublisher, s.metrics, s.logger)))
		mux.Handle("GET /api/v1/stream/transactions", authMiddleware(s.cfg.JWTSecret, handleStreamTransactions(s.ssePublisher, s.metrics, s.logger)))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Rate limiting sits inside CORS so preflights are never throttled.
	return corsMiddleware(rateLimitMiddleware(s.limiter, s.metrics, mux))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	defer s.cache.close()

	// Then shutdown HTTP server
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Pass through to next handler
		next.ServeHTTP(w, r)
	})
}
