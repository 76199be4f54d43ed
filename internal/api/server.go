// Package api exposes the fund registry and valuation operations over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/service"
	"github.com/fund-tracker/internal/types"
	"github.com/fund-tracker/internal/valuation"
)

// Service interfaces for dependency injection and testing

// RegistryServiceInterface defines the fund and wallet registry operations.
type RegistryServiceInterface interface {
	CreateFund(ctx context.Context, input *service.CreateFundInput) (*models.Fund, error)
	GetFund(ctx context.Context, fundID string) (*service.FundView, error)
	ListFunds(ctx context.Context) ([]models.Fund, error)
	AddWallet(ctx context.Context, fundID string, input *service.AddWalletInput) (*models.Wallet, error)
	RemoveWallet(ctx context.Context, fundID, address string) error
}

// PortfolioServiceInterface defines the snapshot operation.
type PortfolioServiceInterface interface {
	GetSnapshot(ctx context.Context, fundID string) (*types.PortfolioSnapshot, error)
}

// ActivityServiceInterface defines the activity feed and graph operations.
type ActivityServiceInterface interface {
	GetActivity(ctx context.Context, fundID string, limit int) (*service.ActivityFeed, error)
	GetGraph(ctx context.Context, fundID string) (*valuation.Graph, error)
}

// PnLServiceInterface defines the on-demand cost basis operation.
type PnLServiceInterface interface {
	GetPnL(ctx context.Context, fundID string) (*service.FundPnL, error)
}

// LeaderboardServiceInterface defines the cross-fund ranking operation.
type LeaderboardServiceInterface interface {
	GetLeaderboard(ctx context.Context) (*service.Leaderboard, error)
}

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	registry    RegistryServiceInterface
	portfolio   PortfolioServiceInterface
	activity    ActivityServiceInterface
	pnl         PnLServiceInterface
	leaderboard LeaderboardServiceInterface
	config      *ServerConfig
	logger      *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	ClientRPS       float64 // Sustained requests per second per client IP
	ClientBurst     int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	registry RegistryServiceInterface,
	portfolio PortfolioServiceInterface,
	activity ActivityServiceInterface,
	pnl PnLServiceInterface,
	leaderboard LeaderboardServiceInterface,
) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		registry:    registry,
		portfolio:   portfolio,
		activity:    activity,
		pnl:         pnl,
		leaderboard: leaderboard,
		config:      config,
		logger:      logging.GetGlobalLogger().Component("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.ClientRPS, s.config.ClientBurst)

	// Middleware order matters: rate limiting runs after CORS so
	// preflight requests are never counted against a client.
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Fund registry endpoints
	api.HandleFunc("/funds", s.handleCreateFund).Methods("POST")
	api.HandleFunc("/funds", s.handleListFunds).Methods("GET")
	api.HandleFunc("/funds/{id}", s.handleGetFund).Methods("GET")
	api.HandleFunc("/funds/{id}/wallets", s.handleAddWallet).Methods("POST")
	api.HandleFunc("/funds/{id}/wallets/{address}", s.handleRemoveWallet).Methods("DELETE")

	// Valuation endpoints
	api.HandleFunc("/funds/{id}/snapshot", s.handleGetSnapshot).Methods("GET")
	api.HandleFunc("/funds/{id}/activity", s.handleGetActivity).Methods("GET")
	api.HandleFunc("/funds/{id}/graph", s.handleGetGraph).Methods("GET")
	api.HandleFunc("/funds/{id}/pnl", s.handleGetPnL).Methods("GET")

	// Leaderboard endpoint
	api.HandleFunc("/leaderboard", s.handleGetLeaderboard).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "fund-tracker",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
