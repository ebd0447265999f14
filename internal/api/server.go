// Package api exposes device resolution and bulk credential operations over
// HTTP, with a WebSocket feed of operation progress.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"lock-credential-bridge/internal/config"
	"lock-credential-bridge/internal/logging"
)

// Server represents the HTTP API server
type Server struct {
	logger     *logrus.Entry
	router     *mux.Router
	httpServer *http.Server
	handlers   *Handlers
	hub        *ProgressHub
}

// NewServer creates a new API server instance. deps.Hub may be nil, in which
// case the WebSocket endpoint is not registered.
func NewServer(cfg config.APIConfig, deps Dependencies, logger *logrus.Logger) (*Server, error) {
	handlers, err := NewHandlers(deps, logger)
	if err != nil {
		return nil, err
	}

	server := &Server{
		logger:   logging.NewServiceLogger(logger, "api"),
		router:   mux.NewRouter(),
		handlers: handlers,
		hub:      deps.Hub,
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     server.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return server, nil
}

// Handler returns the root HTTP handler. CORS wraps the router so preflight
// requests are answered for every path.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.router)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")

	if s.hub != nil {
		s.hub.Start(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		return s.Shutdown()
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.hub != nil {
		s.hub.Stop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Error during server shutdown")
		return err
	}

	s.logger.Info("API server shutdown complete")
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handlers.GetHealth).Methods("GET")

	api.HandleFunc("/resolve", s.handlers.ResolveDevices).Methods("POST")
	api.HandleFunc("/projects/{projectId}/resolve", s.handlers.ResolveDevices).Methods("POST")
	api.HandleFunc("/devices", s.handlers.ListDevices).Methods("GET")

	api.HandleFunc("/credentials/parse", s.handlers.ParseCredentials).Methods("POST")
	api.HandleFunc("/credentials/assign", s.handlers.AssignCredentials).Methods("POST")
	api.HandleFunc("/credentials/unassign", s.handlers.UnassignCredentials).Methods("POST")
	api.HandleFunc("/credentials/{uid}/history", s.handlers.CredentialHistory).Methods("GET")

	api.HandleFunc("/operations", s.handlers.ListOperations).Methods("GET")
	api.HandleFunc("/operations/{id}", s.handlers.GetOperation).Methods("GET")

	if s.hub != nil {
		api.Handle("/ws", s.hub).Methods("GET")
	}
}
