// Package hyperliquid reads on-chain fills from the Hyperliquid info API.
// Everything is public data keyed by wallet address, so requests carry no
// signature.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perpjournal/tradesync/internal/exchange"
	"github.com/perpjournal/tradesync/internal/model"
)

const defaultBaseURL = "https://api.hyperliquid.xyz"

// DefaultLeverage stands in for every trade since the info API never reports
// leverage. A per-user override can replace it downstream.
const DefaultLeverage = 10.0

var walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidWallet reports whether addr is a well-formed EVM wallet address.
func ValidWallet(addr string) bool { return walletPattern.MatchString(addr) }

// Client queries the info API for one wallet. The wallet address travels in
// the credentials' key slot; secret and passphrase stay empty.
type Client struct {
	wallet          string
	baseURL         string
	transport       *exchange.Transport
	defaultLeverage float64
}

// New builds a Hyperliquid client. defaultLeverage <= 0 selects the package
// default.
func New(creds model.Credentials, baseURL string, defaultLeverage float64) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if defaultLeverage <= 0 {
		defaultLeverage = DefaultLeverage
	}
	return &Client{
		wallet:          creds.Key,
		baseURL:         baseURL,
		transport:       exchange.NewTransport(model.ExchangeHyperliquid, 30*time.Second),
		defaultLeverage: defaultLeverage,
	}
}

func (c *Client) Exchange() model.Exchange { return model.ExchangeHyperliquid }

func (c *Client) post(ctx context.Context, payload map[string]string, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return exchange.NewError(model.ExchangeHyperliquid, exchange.KindInternal, "", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return exchange.NewError(model.ExchangeHyperliquid, exchange.KindInternal, "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.transport.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.NewError(model.ExchangeHyperliquid, exchange.KindNetwork, "", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := exchange.KindInternal
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = exchange.KindAuth
		}
		return exchange.NewError(model.ExchangeHyperliquid, kind, fmt.Sprintf("%d", resp.StatusCode),
			fmt.Errorf("hyperliquid HTTP %d: %s", resp.StatusCode, data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return exchange.NewError(model.ExchangeHyperliquid, exchange.KindInternal, "", fmt.Errorf("decode info response: %w", err))
		}
	}
	return nil
}

// ValidateCredentials checks the wallet format, then confirms the info API
// answers for it.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	if !ValidWallet(c.wallet) {
		return exchange.NewError(model.ExchangeHyperliquid, exchange.KindAuth, "",
			fmt.Errorf("invalid wallet address %q", c.wallet))
	}
	var fills []json.RawMessage
	return c.post(ctx, map[string]string{"type": "userFills", "user": c.wallet}, &fills)
}

type rawFill struct {
	Coin      string `json:"coin"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	Dir       string `json:"dir"`
	ClosedPnl string `json:"closedPnl"`
	Fee       string `json:"fee"`
	Time      int64  `json:"time"`
}

// FetchTradeHistory pulls every fill for the wallet and matches opens to
// closes. The info API returns the whole retention window in one response;
// since only trims the already-fetched set.
func (c *Client) FetchTradeHistory(ctx context.Context, since *time.Time) ([]model.Position, error) {
	if !ValidWallet(c.wallet) {
		return nil, exchange.NewError(model.ExchangeHyperliquid, exchange.KindAuth, "",
			fmt.Errorf("invalid wallet address %q", c.wallet))
	}

	var raw []rawFill
	if err := c.post(ctx, map[string]string{"type": "userFills", "user": c.wallet}, &raw); err != nil {
		return nil, err
	}

	fills := make([]Fill, 0, len(raw))
	for _, r := range raw {
		f := r.toFill()
		if since != nil && f.Time.Before(*since) {
			continue
		}
		fills = append(fills, f)
	}
	log.Info().Int("fills", len(fills)).Str("wallet", c.wallet).Msg("hyperliquid fills fetched")

	return Aggregate(fills, c.defaultLeverage), nil
}
