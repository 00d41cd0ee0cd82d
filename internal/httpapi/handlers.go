package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/perpjournal/tradesync/internal/model"
	"github.com/perpjournal/tradesync/internal/secrets"
	syncsvc "github.com/perpjournal/tradesync/internal/sync"
)

// connectionRequest is the create/validate payload. For Hyperliquid the
// wallet address may arrive in either wallet_address or api_key.
type connectionRequest struct {
	UserID        string `json:"user_id"`
	Exchange      string `json:"exchange"`
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret"`
	Passphrase    string `json:"passphrase"`
	WalletAddress string `json:"wallet_address"`
}

func (req *connectionRequest) credentials(ex model.Exchange) (model.Credentials, error) {
	if ex == model.ExchangeHyperliquid {
		wallet := req.WalletAddress
		if wallet == "" {
			wallet = req.APIKey
		}
		if wallet == "" {
			return model.Credentials{}, errors.New("wallet_address is required for hyperliquid")
		}
		return model.Credentials{Key: wallet}, nil
	}
	if req.APIKey == "" || req.APISecret == "" {
		return model.Credentials{}, errors.New("api_key and api_secret are required")
	}
	if ex == model.ExchangeBlofin && req.Passphrase == "" {
		return model.Credentials{}, errors.New("passphrase is required for blofin")
	}
	return model.Credentials{Key: req.APIKey, Secret: req.APISecret, Passphrase: req.Passphrase}, nil
}

func (s *Server) decodeConnectionRequest(w http.ResponseWriter, r *http.Request) (*connectionRequest, model.Exchange, model.Credentials, bool) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return nil, "", model.Credentials{}, false
	}
	ex, err := model.ParseExchange(req.Exchange)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, "", model.Credentials{}, false
	}
	creds, err := req.credentials(ex)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, "", model.Credentials{}, false
	}
	return &req, ex, creds, true
}

// handleCreateConnection validates the credentials against the venue before
// anything is stored, then encrypts them, persists the row, and kicks off the
// initial history sync in the background.
func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	req, ex, creds, ok := s.decodeConnectionRequest(w, r)
	if !ok {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "user_id is required")
		return
	}

	if err := s.syncer.Validate(r.Context(), ex, creds); err != nil {
		s.writeExchangeError(w, err)
		return
	}

	conn := &model.ExchangeConnection{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Exchange:       ex,
		APIKeyLast4:    secrets.Last4(creds.Key),
		LastSyncStatus: model.SyncPending,
		CreatedAt:      time.Now().UTC(),
	}
	var err error
	if conn.APIKeyEncrypted, err = s.cipher.Encrypt(creds.Key); err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", "failed to encrypt credentials")
		return
	}
	if creds.Secret != "" {
		if conn.APISecretEncrypted, err = s.cipher.Encrypt(creds.Secret); err != nil {
			s.writeError(w, http.StatusInternalServerError, "internal", "failed to encrypt credentials")
			return
		}
	}
	if creds.Passphrase != "" {
		if conn.PassphraseEncrypted, err = s.cipher.Encrypt(creds.Passphrase); err != nil {
			s.writeError(w, http.StatusInternalServerError, "internal", "failed to encrypt credentials")
			return
		}
	}

	if err := s.connections.Create(r.Context(), conn); err != nil {
		s.writeRepoError(w, err)
		return
	}

	s.dispatch(conn.ID, s.syncer.Run)
	s.writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "user_id query parameter is required")
		return
	}
	conns, err := s.connections.ListByUser(r.Context(), userID)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	if conns == nil {
		conns = []model.ExchangeConnection{}
	}
	s.writeJSON(w, http.StatusOK, conns)
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.connections.Delete(r.Context(), id); err != nil {
		s.writeRepoError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

// handleTriggerSync starts an incremental sync in the background and returns
// immediately; callers poll the status endpoint for the outcome.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, s.syncer.Run)
}

// handleTriggerResync re-fetches the full history window instead of resuming
// from the last sync time.
func (s *Server) handleTriggerResync(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, s.syncer.Resync)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, run runFunc) {
	id := mux.Vars(r)["id"]
	conn, err := s.connections.Get(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	if conn.LastSyncStatus == model.SyncInProgress {
		s.writeError(w, http.StatusConflict, "sync_in_progress", "a sync is already running for this connection")
		return
	}
	s.dispatch(id, run)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"connection_id": id, "status": "started"})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conn, err := s.connections.Get(r.Context(), id)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"connection_id":    conn.ID,
		"exchange":         conn.Exchange,
		"last_sync_status": conn.LastSyncStatus,
		"last_sync_time":   conn.LastSyncTime,
		"last_error":       conn.LastError,
	})
}

// handleValidate checks credentials against the venue without storing them.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	_, ex, creds, ok := s.decodeConnectionRequest(w, r)
	if !ok {
		return
	}
	if err := s.syncer.Validate(r.Context(), ex, creds); err != nil {
		s.writeExchangeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"exchange": ex, "valid": true})
}

type runFunc func(ctx context.Context, connectionID string) (syncsvc.Result, error)

// dispatch runs the job detached from the request context so a closed
// connection does not abort a long history backfill.
func (s *Server) dispatch(connectionID string, run runFunc) {
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		if _, err := run(context.Background(), connectionID); err != nil && !errors.Is(err, syncsvc.ErrAlreadyRunning) {
			log.Debug().Str("connection_id", connectionID).Err(err).Msg("triggered sync failed")
		}
	}()
}
