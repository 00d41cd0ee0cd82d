package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/perpjournal/tradesync/internal/model"
	"github.com/perpjournal/tradesync/internal/persistence"
)

// ErrNotFound is returned when a connection id does not exist.
var ErrNotFound = errors.New("connection not found")

// ErrDuplicateConnection is returned when a (user, exchange) pair already has
// an active connection.
var ErrDuplicateConnection = errors.New("connection already exists for this user and exchange")

// connectionsRepo implements ConnectionsRepo for PostgreSQL.
type connectionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewConnectionsRepo creates a new PostgreSQL connections repository.
func NewConnectionsRepo(db *sqlx.DB, timeout time.Duration) persistence.ConnectionsRepo {
	return &connectionsRepo{db: db, timeout: timeout}
}

func (r *connectionsRepo) Create(ctx context.Context, conn *model.ExchangeConnection) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.LastSyncStatus == "" {
		conn.LastSyncStatus = model.SyncPending
	}

	query := `
		INSERT INTO exchange_connections (
			id, user_id, exchange_name,
			api_key_encrypted, api_secret_encrypted, api_passphrase_encrypted,
			api_key_last_4, last_sync_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.db.QueryRowxContext(ctx, query,
		conn.ID, conn.UserID, string(conn.Exchange),
		conn.APIKeyEncrypted, conn.APISecretEncrypted, conn.PassphraseEncrypted,
		conn.APIKeyLast4, string(conn.LastSyncStatus)).
		Scan(&conn.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateConnection
		}
		return fmt.Errorf("failed to insert connection: %w", err)
	}
	return nil
}

func (r *connectionsRepo) Get(ctx context.Context, id string) (*model.ExchangeConnection, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var conn model.ExchangeConnection
	err := r.db.GetContext(ctx, &conn, `
		SELECT id, user_id, exchange_name,
		       api_key_encrypted, api_secret_encrypted, api_passphrase_encrypted,
		       api_key_last_4, last_sync_time, last_sync_status, last_error, created_at
		FROM exchange_connections
		WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &conn, nil
}

func (r *connectionsRepo) List(ctx context.Context) ([]model.ExchangeConnection, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var conns []model.ExchangeConnection
	err := r.db.SelectContext(ctx, &conns, `
		SELECT id, user_id, exchange_name,
		       api_key_encrypted, api_secret_encrypted, api_passphrase_encrypted,
		       api_key_last_4, last_sync_time, last_sync_status, last_error, created_at
		FROM exchange_connections
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

func (r *connectionsRepo) ListByUser(ctx context.Context, userID string) ([]model.ExchangeConnection, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var conns []model.ExchangeConnection
	err := r.db.SelectContext(ctx, &conns, `
		SELECT id, user_id, exchange_name,
		       api_key_encrypted, api_secret_encrypted, api_passphrase_encrypted,
		       api_key_last_4, last_sync_time, last_sync_status, last_error, created_at
		FROM exchange_connections
		WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user connections: %w", err)
	}
	return conns, nil
}

func (r *connectionsRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM exchange_connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *connectionsRepo) UpdateStatus(ctx context.Context, id string, status model.SyncStatus, lastSyncTime *time.Time, lastError string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE exchange_connections
		SET last_sync_status = $2,
		    last_error = $3,
		    last_sync_time = COALESCE($4, last_sync_time)
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, string(status), lastError, lastSyncTime)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimForSync is the concurrency guard: the WHERE clause loses the race when
// another job already holds the connection, and the caller skips the trigger.
func (r *connectionsRepo) ClaimForSync(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE exchange_connections
		SET last_sync_status = $2, last_error = ''
		WHERE id = $1 AND last_sync_status <> $2`,
		id, string(model.SyncInProgress))
	if err != nil {
		return false, fmt.Errorf("failed to claim connection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return n == 1, nil
}
