package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"marketplace/internal/catalog"
	"marketplace/internal/listing"
	"marketplace/internal/models"
	"marketplace/internal/storage"
)

// Sessions is the wallet session surface exposed over HTTP
type Sessions interface {
	Current() models.Session
	Connect(ctx context.Context) (models.Session, error)
	Disconnect(ctx context.Context) error
}

// Probe reports the latest ledger of the network the contract lives on
type Probe interface {
	LatestLedger(ctx context.Context) (uint32, error)
}

// Dependencies are the components served by the API
type Dependencies struct {
	Sessions Sessions
	Listings *listing.Service
	Catalog  *catalog.Cache
	Journal  storage.Repository

	// Probe is optional
	Probe Probe
}

// Server represents the HTTP API server
// Provides the marketplace operations to a presentation layer, plus health
// checks and Prometheus metrics
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	deps       Dependencies
	port       int
}

// NewServer creates a new API server instance
func NewServer(port int, deps Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", port),
			Handler:     mux,
			ReadTimeout: 30 * time.Second,
			// Workflows wait for confirmation before responding
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		mux:  mux,
		deps: deps,
		port: port,
	}

	s.registerRoutes()

	return s
}

// registerRoutes sets up all HTTP routes
func (s *Server) registerRoutes() {
	// Core endpoints
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.handleMetrics())

	// Session endpoints
	s.mux.HandleFunc("GET /session", s.handleGetSession)
	s.mux.HandleFunc("POST /session/connect", s.handleConnect)
	s.mux.HandleFunc("POST /session/disconnect", s.handleDisconnect)

	// Catalog endpoints
	s.mux.HandleFunc("GET /catalog", s.handleGetCatalog)
	s.mux.HandleFunc("POST /catalog/refresh", s.handleRefreshCatalog)

	// Listing workflows
	s.mux.HandleFunc("POST /listings", s.handleCreateListing)
	s.mux.HandleFunc("GET /listings/{id}/eligibility", s.handleEligibility)
	s.mux.HandleFunc("POST /listings/{id}/buy", s.handleBuy)
	s.mux.HandleFunc("POST /listings/{id}/resell", s.handleResell)

	// Workflow journal
	s.mux.HandleFunc("GET /workflows", s.handleListWorkflows)
	s.mux.HandleFunc("GET /workflows/{id}", s.handleGetWorkflow)
	s.mux.HandleFunc("POST /workflows/{id}/retry", s.handleRetryWorkflow)

	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Endpoint not found", http.StatusNotFound)
	})
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the port and serves in a goroutine
// Returns once the listener is bound so address errors surface to the caller
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}

	go func() {
		slog.Info("API server starting",
			"port", s.port,
			"endpoints", []string{"/", "/health", "/metrics", "/session", "/catalog", "/listings", "/workflows"},
		)

		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the HTTP server
// Waits for active connections to close or context to timeout
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down...")
	return s.httpServer.Shutdown(ctx)
}
