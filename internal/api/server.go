// Package api provides the admin HTTP trigger surface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/rescue"
	"github.com/deposit-scanner/internal/service"
	"github.com/deposit-scanner/internal/sweep"
	"github.com/deposit-scanner/internal/types"
)

// WalletAssigner assigns deposit wallets
type WalletAssigner interface {
	AssignWallet(ctx context.Context, userID int64, chain types.ChainID) (*service.AssignResult, error)
}

// Sweeper moves funds out of and gas into deposit wallets
type Sweeper interface {
	Sweep(ctx context.Context, req sweep.Request) (*sweep.Result, error)
	DispatchGas(ctx context.Context, walletAddress string, currency types.Currency) (*sweep.Result, error)
	RefreshBalances(ctx context.Context, chain types.ChainID) (*sweep.RefreshStats, error)
}

// Rescuer replaces stuck hot wallet transactions
type Rescuer interface {
	SpeedUp(ctx context.Context, hash string) (*rescue.Result, error)
	Cancel(ctx context.Context, hash string) (*rescue.Result, error)
}

// PendingLister lists unsettled outbound transactions
type PendingLister interface {
	ListPending(ctx context.Context, limit int) ([]*models.PendingOutboundTx, error)
}

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	wallets    WalletAssigner
	sweeper    Sweeper
	rescuer    Rescuer
	pending    PendingLister
	checks     map[string]HealthCheck
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond int
	Logger            *logging.Logger
}

// Services bundles the operations the server exposes
type Services struct {
	Wallets WalletAssigner
	Sweeper Sweeper
	Rescuer Rescuer
	Pending PendingLister
	Checks  map[string]HealthCheck
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, svc Services) *Server {
	if config.Logger == nil {
		config.Logger = logging.GetGlobalLogger()
	}
	if config.WriteTimeout <= 0 {
		// sweeps wait up to the broadcast timeout
		config.WriteTimeout = 60 * time.Second
	}
	s := &Server{
		router:  mux.NewRouter(),
		wallets: svc.Wallets,
		sweeper: svc.Sweeper,
		rescuer: svc.Rescuer,
		pending: svc.Pending,
		checks:  svc.Checks,
		config:  config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(RequestLoggerMiddleware(s.config.Logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RequestsPerSecond)))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)

	admin.HandleFunc("/wallets", s.handleAssignWallet).Methods("POST")
	admin.HandleFunc("/sweep", s.handleSweep).Methods("POST")
	admin.HandleFunc("/gas-dispatch", s.handleGasDispatch).Methods("POST")
	admin.HandleFunc("/sweep-scan/{chain}", s.handleSweepScan).Methods("POST")
	admin.HandleFunc("/rescue/{hash}/speed-up", s.handleSpeedUp).Methods("POST")
	admin.HandleFunc("/rescue/{hash}/cancel", s.handleCancel).Methods("POST")
	admin.HandleFunc("/pending", s.handleListPending).Methods("GET")
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed,
		fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path), nil)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth reports the reachability of every registered dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":       state,
		"service":      "deposit-scanner",
		"dependencies": deps,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.config.Logger.WithField("addr", s.httpServer.Addr).Info("Starting admin API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.config.Logger.Info("Shutting down admin API server")
	return s.httpServer.Shutdown(ctx)
}
