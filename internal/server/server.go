// Package server exposes the login and scrape operations as JSON RPC over HTTP,
// together with a websocket stream of queue events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/panelwatch/internal/auth"
	"github.com/law-makers/panelwatch/internal/queue"
	"github.com/law-makers/panelwatch/pkg/models"
)

// LoginRunner runs a login unless one is already in progress
type LoginRunner interface {
	TryLogin(ctx context.Context, creds *auth.Credentials) (auth.LoginResult, bool)
}

// JobQueue accepts scrape and login jobs and reports on them
type JobQueue interface {
	EnqueueScrape(ctx context.Context, job models.ScrapeJob, opts ...queue.EnqueueOption) (string, error)
	EnqueueLogin(ctx context.Context, job queue.LoginJob) (string, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
}

// SessionInspector describes the saved session
type SessionInspector interface {
	Summary() auth.Summary
}

// CredentialSource supplies stored credentials when a login request has none
type CredentialSource interface {
	Get() (*auth.Credentials, error)
}

// Deps are the collaborators behind the RPC surface. Credentials and Events may be nil.
type Deps struct {
	Login       LoginRunner
	Queue       JobQueue
	Sessions    SessionInspector
	Credentials CredentialSource
	Events      *queue.EventBus
}

// Server is the RPC HTTP server
type Server struct {
	deps     Deps
	validate *validator.Validate
	upgrader websocket.Upgrader
	router   *http.ServeMux
	server   *http.Server
}

// New creates a Server listening on addr
func New(addr string, deps Deps) *Server {
	s := &Server{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.router = s.setupRoutes()

	// No WriteTimeout: a login can wait minutes for a manual challenge and
	// /events is long-lived.
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.withMiddleware(s.router),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc/login", s.handleLogin)
	mux.HandleFunc("POST /rpc/scrapChannel", s.handleScrapChannel)
	mux.HandleFunc("GET /rpc/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /rpc/session", s.handleSession)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", s.server.Addr).Msg("RPC server starting")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info().Msg("RPC server stopped")
	return <-errCh
}
