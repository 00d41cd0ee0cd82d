package model

import (
	"fmt"
	"strings"
	"time"
)

// Exchange identifies a supported venue. Tags are stored lowercase.
type Exchange string

const (
	ExchangeBinance     Exchange = "binance"
	ExchangeBybit       Exchange = "bybit"
	ExchangeBlofin      Exchange = "blofin"
	ExchangeHyperliquid Exchange = "hyperliquid"
)

// ParseExchange normalizes and validates an exchange tag.
func ParseExchange(s string) (Exchange, error) {
	switch Exchange(strings.ToLower(strings.TrimSpace(s))) {
	case ExchangeBinance:
		return ExchangeBinance, nil
	case ExchangeBybit:
		return ExchangeBybit, nil
	case ExchangeBlofin:
		return ExchangeBlofin, nil
	case ExchangeHyperliquid:
		return ExchangeHyperliquid, nil
	}
	return "", fmt.Errorf("unsupported exchange: %q", s)
}

func (e Exchange) String() string { return string(e) }

// SyncStatus tracks the lifecycle of a connection's sync job.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in_progress"
	SyncSuccess    SyncStatus = "success"
	SyncFailed     SyncStatus = "failed"
)

// Credentials is a decrypted credential triple. For Hyperliquid the Key field
// holds the wallet address and Secret/Passphrase are empty.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// ExchangeConnection is one per (user, exchange). Credential fields are stored
// encrypted; the orchestrator owns the row for the duration of a sync job.
type ExchangeConnection struct {
	ID                  string     `db:"id" json:"id"`
	UserID              string     `db:"user_id" json:"user_id"`
	Exchange            Exchange   `db:"exchange_name" json:"exchange_name"`
	APIKeyEncrypted     string     `db:"api_key_encrypted" json:"-"`
	APISecretEncrypted  string     `db:"api_secret_encrypted" json:"-"`
	PassphraseEncrypted string     `db:"api_passphrase_encrypted" json:"-"`
	APIKeyLast4         string     `db:"api_key_last_4" json:"api_key_last_4"`
	LastSyncTime        *time.Time `db:"last_sync_time" json:"last_sync_time,omitempty"`
	LastSyncStatus      SyncStatus `db:"last_sync_status" json:"last_sync_status"`
	LastError           string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

// Position is a reconstructed round trip before normalization: one or more
// entry legs folded against their exit legs. Values are raw exchange units.
type Position struct {
	TradeID     string
	Symbol      string // raw exchange symbol
	Side        string // BUY/SELL or LONG/SHORT depending on venue convention
	EntryPrice  float64
	ExitPrice   float64
	Quantity    float64
	RealizedPnl float64
	Fees        float64
	Leverage    float64 // 0 when the exchange did not supply one
	EntryTime   time.Time
	ExitTime    time.Time
}

// CanonicalTrade is the normalized record persisted to the trade store.
// Dedup is keyed on (user_id, exchange, exchange_trade_id).
type CanonicalTrade struct {
	UserID          string    `db:"user_id" json:"user_id"`
	Exchange        string    `db:"exchange" json:"exchange"`
	Symbol          string    `db:"symbol" json:"symbol"`
	Side            string    `db:"side" json:"side"`
	EntryPrice      float64   `db:"entry_price" json:"entry_price"`
	ExitPrice       float64   `db:"exit_price" json:"exit_price"`
	Quantity        float64   `db:"quantity" json:"quantity"`
	Leverage        float64   `db:"leverage" json:"leverage"`
	Fees            float64   `db:"fees" json:"fees"`
	PnlUSD          float64   `db:"pnl_usd" json:"pnl_usd"`
	PnlPercent      float64   `db:"pnl_percent" json:"pnl_percent"`
	EntryTime       time.Time `db:"entry_time" json:"entry_time"`
	ExitTime        time.Time `db:"exit_time" json:"exit_time"`
	ExchangeTradeID string    `db:"exchange_trade_id" json:"exchange_trade_id"`
}
