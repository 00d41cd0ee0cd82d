// Package httpapi exposes the connection-management and sync-trigger REST
// surface. All responses are JSON; credentials enter here, are validated
// against the venue, and are stored encrypted.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/perpjournal/tradesync/internal/exchange"
	"github.com/perpjournal/tradesync/internal/metrics"
	"github.com/perpjournal/tradesync/internal/model"
	"github.com/perpjournal/tradesync/internal/persistence"
	"github.com/perpjournal/tradesync/internal/persistence/postgres"
	"github.com/perpjournal/tradesync/internal/secrets"
	syncsvc "github.com/perpjournal/tradesync/internal/sync"
)

// Syncer is the slice of the orchestrator the HTTP layer needs.
type Syncer interface {
	Run(ctx context.Context, connectionID string) (syncsvc.Result, error)
	Resync(ctx context.Context, connectionID string) (syncsvc.Result, error)
	Validate(ctx context.Context, ex model.Exchange, creds model.Credentials) error
}

// Server wires the REST routes over the connection store and orchestrator.
type Server struct {
	router      *mux.Router
	server      *http.Server
	connections persistence.ConnectionsRepo
	syncer      Syncer
	cipher      *secrets.Cipher
	metrics     *metrics.Registry

	jobs sync.WaitGroup // background syncs triggered by requests
}

// NewServer builds the server on addr. metrics may be nil; the /metrics
// route is only registered when a registry is provided.
func NewServer(addr string, connections persistence.ConnectionsRepo, syncer Syncer, cipher *secrets.Cipher, reg *metrics.Registry) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		connections: connections,
		syncer:      syncer,
		cipher:      cipher,
		metrics:     reg,
	}
	s.routes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/connections", s.handleCreateConnection).Methods(http.MethodPost)
	api.HandleFunc("/connections", s.handleListConnections).Methods(http.MethodGet)
	api.HandleFunc("/connections/{id}", s.handleDeleteConnection).Methods(http.MethodDelete)
	api.HandleFunc("/connections/{id}/sync", s.handleTriggerSync).Methods(http.MethodPost)
	api.HandleFunc("/connections/{id}/resync", s.handleTriggerResync).Methods(http.MethodPost)
	api.HandleFunc("/connections/{id}/status", s.handleSyncStatus).Methods(http.MethodGet)
	api.HandleFunc("/credentials/validate", s.handleValidate).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe blocks until the server exits.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for request-triggered sync
// jobs to drain or the context to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Error().Err(err).Msg("failed to encode response")
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// writeExchangeError maps the failure taxonomy onto HTTP statuses with the
// same user-facing text the sync pipeline stores on the connection row.
func (s *Server) writeExchangeError(w http.ResponseWriter, err error) {
	msg := exchange.UserMessage(err)
	switch exchange.KindOf(err) {
	case exchange.KindAuth, exchange.KindClockSkew:
		s.writeError(w, http.StatusUnauthorized, "invalid_credentials", msg)
	case exchange.KindPermission:
		s.writeError(w, http.StatusForbidden, "permission_denied", msg)
	case exchange.KindValidation:
		s.writeError(w, http.StatusBadRequest, "validation_failed", msg)
	case exchange.KindRateLimited:
		s.writeError(w, http.StatusTooManyRequests, "rate_limited", msg)
	default:
		s.writeError(w, http.StatusBadGateway, "exchange_error", msg)
	}
}

func (s *Server) writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", "connection not found")
	case errors.Is(err, postgres.ErrDuplicateConnection):
		s.writeError(w, http.StatusConflict, "duplicate_connection", err.Error())
	default:
		log.Error().Err(err).Msg("storage error")
		s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
