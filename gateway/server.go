package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"

	"github.com/c360/fedgateway/errors"
	"github.com/c360/fedgateway/health"
	"github.com/c360/fedgateway/metric"
)

// Config holds the HTTP server settings.
type Config struct {
	// Address is the bind address, host:port
	Address string
	// RequestTimeout is the end-to-end deadline per client request
	RequestTimeout time.Duration
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration
	// Playground serves the GraphQL playground UI at /
	Playground bool
	// AllowedOrigins enables CORS for the listed origins ("*" for all)
	AllowedOrigins []string
}

// Validate checks the config and applies defaults.
func (c *Config) Validate() error {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

// Server is the gateway HTTP server. It mounts the /graphql handler,
// /health, /metrics, and optionally the playground.
type Server struct {
	config     Config
	handler    *Handler
	monitor    *health.Monitor
	registry   *metric.MetricsRegistry
	logger     *slog.Logger
	httpServer *http.Server

	running  bool
	mu       sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewServer creates the gateway HTTP server. monitor and registry may be
// nil; the corresponding endpoints then report minimal information.
func NewServer(config Config, handler *Handler, monitor *health.Monitor,
	registry *metric.MetricsRegistry, logger *slog.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Server", "NewServer", "config validation")
	}
	if handler == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer",
			"graphql handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   config,
		handler:  handler,
		monitor:  monitor,
		registry: registry,
		logger:   logger.With("component", "server"),
		stopChan: make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.routes(),
		ReadTimeout:  config.RequestTimeout + 5*time.Second,
		WriteTimeout: config.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/graphql", s.handler)
	mux.HandleFunc("/health", s.handleHealth)
	if s.registry != nil {
		mux.Handle("/metrics", s.registry.Handler())
	}
	if s.config.Playground {
		mux.Handle("/", playground.Handler("Federation Gateway", "/graphql"))
	}

	var handler http.Handler = mux
	if len(s.config.AllowedOrigins) > 0 {
		handler = s.corsMiddleware(handler)
	}
	return handler
}

// Start runs the HTTP server until the context is cancelled, Stop is
// called, or the listener fails. The ready channel, when non-nil, is
// closed once the server begins accepting connections.
func (s *Server) Start(ctx context.Context, ready chan<- struct{}) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "server already running")
	}
	s.running = true
	server := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		s.logger.Info("server starting", "address", s.config.Address)
		if ready != nil {
			close(ready)
		}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			case <-ctx.Done():
			case <-s.stopChan:
			}
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server context cancelled, shutting down")
		return s.Stop(s.config.ShutdownTimeout)

	case <-s.stopChan:
		return nil

	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", "HTTP server failed")
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	server := s.httpServer
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopChan) })

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Error("graceful shutdown failed", "error", err)
		return errors.WrapTransient(err, "Server", "Stop", "graceful shutdown")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("server stopped")
	return nil
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// healthResponse is the /health endpoint body.
type healthResponse struct {
	Status    string                  `json:"status"`
	Subgraphs []health.SubgraphHealth `json:"subgraphs,omitempty"`
}

// handleHealth reports gateway liveness plus the per-subgraph health
// snapshot. The gateway itself is "up" as long as it can serve; a Down
// subgraph degrades the reported status but not the HTTP code.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "healthy"}
	if s.monitor != nil {
		snap := s.monitor.Snapshot()
		resp.Subgraphs = snap.All()
		sort.Slice(resp.Subgraphs, func(i, j int) bool {
			return resp.Subgraphs[i].Subgraph < resp.Subgraphs[j].Subgraph
		})
		for _, sg := range resp.Subgraphs {
			if sg.State != health.StateHealthy {
				resp.Status = "degraded"
				break
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}

// corsMiddleware adds CORS headers for allowed origins and answers
// preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := false
		for _, o := range s.config.AllowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
