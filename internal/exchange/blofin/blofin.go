// Package blofin talks to the Blofin REST API. Blofin sizes positions in
// contracts, so aggregation depends on a per-instrument contract-value map
// fetched from the public instruments endpoint.
package blofin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/perpjournal/tradesync/internal/exchange"
	"github.com/perpjournal/tradesync/internal/model"
)

const (
	defaultBaseURL = "https://openapi.blofin.com"

	pageLimit = 100
	maxPages  = 10000
)

const permissionRemediation = "Your Blofin API key cannot access trade endpoints (code 152404). " +
	"Third-Party Application keys only reach public market data. Create a Main Account or " +
	"Sub Account API key with Read permission enabled and reconnect with it."

// ContractValues maps instrument id to the coin amount one contract
// represents, e.g. {"BTC-USDT": 0.001}.
type ContractValues map[string]float64

// Value returns the contract value for a symbol, falling back to known
// defaults when the instruments endpoint did not cover it.
func (cv ContractValues) Value(symbol string) float64 {
	if v, ok := cv[symbol]; ok && v > 0 {
		return v
	}
	switch {
	case len(symbol) >= 3 && symbol[:3] == "BTC":
		return 0.001
	default:
		return 0.01
	}
}

// Client is a signed Blofin REST client bound to one credential set.
type Client struct {
	creds     model.Credentials
	baseURL   string
	transport *exchange.Transport
	values    ContractValueSource
	now       func() time.Time
	newNonce  func() string
}

// ContractValueSource yields the instrument contract-value map, typically a
// cache wrapping the instruments endpoint.
type ContractValueSource interface {
	ContractValues(ctx context.Context) (ContractValues, error)
}

// New builds a Blofin client. values may be nil, in which case the client
// fetches the instruments endpoint directly on each sync.
func New(creds model.Credentials, baseURL string, values ContractValueSource) *Client {
	c := &Client{
		creds:     creds,
		baseURL:   defaultBaseURL,
		transport: exchange.NewTransport(model.ExchangeBlofin, 20*time.Second),
		values:    values,
		now:       time.Now,
		newNonce:  func() string { return uuid.NewString() },
	}
	if baseURL != "" {
		c.baseURL = baseURL
	}
	if c.values == nil {
		c.values = c
	}
	return c
}

// UseContractValues swaps the contract-value source, letting a caching layer
// wrap the client after construction.
func (c *Client) UseContractValues(src ContractValueSource) {
	if src != nil {
		c.values = src
	}
}

func (c *Client) Exchange() model.Exchange { return model.ExchangeBlofin }

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// sign computes base64(hex(HMAC-SHA256(secret, pathWithQuery+method+ts+nonce+body))).
func (c *Client) sign(method, pathWithQuery, timestamp, nonce, body string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.Secret))
	mac.Write([]byte(pathWithQuery + method + timestamp + nonce + body))
	hexSig := hex.EncodeToString(mac.Sum(nil))
	return base64.StdEncoding.EncodeToString([]byte(hexSig))
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	pathWithQuery := path
	if query := params.Encode(); query != "" {
		pathWithQuery += "?" + query
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce := c.newNonce()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathWithQuery, nil)
	if err != nil {
		return exchange.NewError(model.ExchangeBlofin, exchange.KindInternal, "", err)
	}
	req.Header.Set("ACCESS-KEY", c.creds.Key)
	req.Header.Set("ACCESS-SIGN", c.sign(http.MethodGet, pathWithQuery, ts, nonce, ""))
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-NONCE", nonce)
	req.Header.Set("ACCESS-PASSPHRASE", c.creds.Passphrase)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.transport.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.NewError(model.ExchangeBlofin, exchange.KindNetwork, "", err)
	}
	if resp.StatusCode != http.StatusOK {
		return c.classify(resp.StatusCode, "", string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return exchange.NewError(model.ExchangeBlofin, exchange.KindInternal, "", fmt.Errorf("decode %s: %w", path, err))
	}
	if env.Code != "0" {
		return c.classify(resp.StatusCode, env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return exchange.NewError(model.ExchangeBlofin, exchange.KindInternal, "", fmt.Errorf("decode %s data: %w", path, err))
		}
	}
	return nil
}

func (c *Client) classify(status int, code, msg string) error {
	err := fmt.Errorf("blofin HTTP %d code %s: %s", status, code, msg)
	switch {
	case code == "152404":
		e := exchange.NewError(model.ExchangeBlofin, exchange.KindPermission, code, err)
		e.Remediation = permissionRemediation
		return e
	case code == "152409" || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return exchange.NewError(model.ExchangeBlofin, exchange.KindAuth, code, err)
	case status == http.StatusTooManyRequests:
		return exchange.NewError(model.ExchangeBlofin, exchange.KindRateLimited, code, err)
	default:
		return exchange.NewError(model.ExchangeBlofin, exchange.KindInternal, code, err)
	}
}

// ValidateCredentials confirms the triple by requesting a single fill page.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	params := url.Values{}
	params.Set("limit", "1")
	return c.get(ctx, "/api/v1/trade/fills-history", params, &json.RawMessage{})
}

type instrument struct {
	InstID        string `json:"instId"`
	ContractValue string `json:"contractValue"`
}

// ContractValues fetches the full perpetual instrument list and extracts each
// instrument's contract value.
func (c *Client) ContractValues(ctx context.Context) (ContractValues, error) {
	params := url.Values{}
	params.Set("instType", "PERPETUAL")

	var instruments []instrument
	if err := c.get(ctx, "/api/v1/market/instruments", params, &instruments); err != nil {
		return nil, err
	}
	values := make(ContractValues, len(instruments))
	for _, inst := range instruments {
		if inst.InstID == "" {
			continue
		}
		if v, err := strconv.ParseFloat(inst.ContractValue, 64); err == nil && v > 0 {
			values[inst.InstID] = v
		}
	}
	return values, nil
}

type leverageInfo struct {
	InstID string `json:"instId"`
	Lever  string `json:"lever"`
}

// leverageMap reads the account's current leverage per instrument. Blofin has
// no historical leverage, so current settings stand in for past trades. The
// batch endpoint covers all instruments; open positions are the fallback.
func (c *Client) leverageMap(ctx context.Context) map[string]float64 {
	params := url.Values{}
	params.Set("mgnMode", "cross")

	var infos []leverageInfo
	if err := c.get(ctx, "/api/v1/account/batch-leverage-info", params, &infos); err != nil {
		log.Warn().Err(err).Msg("blofin batch-leverage-info failed, trying positions")
		if err := c.get(ctx, "/api/v1/account/positions", nil, &infos); err != nil {
			log.Warn().Err(err).Msg("blofin leverage lookup failed")
			return nil
		}
	}

	m := make(map[string]float64, len(infos))
	for _, info := range infos {
		if lev, err := strconv.ParseFloat(info.Lever, 64); err == nil && lev > 0 && info.InstID != "" {
			m[info.InstID] = lev
		}
	}
	return m
}

type rawFill struct {
	TradeID      string `json:"tradeId"`
	OrderID      string `json:"orderId"`
	InstID       string `json:"instId"`
	Side         string `json:"side"`
	FillPrice    string `json:"fillPrice"`
	FillSize     string `json:"fillSize"`
	FillPnl      string `json:"fillPnl"`
	Fee          string `json:"fee"`
	Lever        string `json:"lever"`
	Margin       string `json:"margin"`
	Ts           string `json:"ts"`
	PositionSide string `json:"positionSide"`
}

func (r rawFill) toFill() Fill {
	price, _ := strconv.ParseFloat(r.FillPrice, 64)
	size, _ := strconv.ParseFloat(r.FillSize, 64)
	pnl, _ := strconv.ParseFloat(r.FillPnl, 64)
	fee, _ := strconv.ParseFloat(r.Fee, 64)
	lever, _ := strconv.ParseFloat(r.Lever, 64)
	margin, _ := strconv.ParseFloat(r.Margin, 64)
	tsMs, _ := strconv.ParseInt(r.Ts, 10, 64)
	return Fill{
		TradeID:  r.TradeID,
		OrderID:  r.OrderID,
		Symbol:   r.InstID,
		Side:     r.Side,
		Price:    price,
		Size:     size,
		Pnl:      pnl,
		Fee:      fee,
		Lever:    lever,
		Margin:   margin,
		Time:     time.UnixMilli(tsMs).UTC(),
	}
}

// fetchFills pages /api/v1/trade/fills-history forward via after=last.tradeId
// until a short page or the safety cap.
func (c *Client) fetchFills(ctx context.Context, since *time.Time) ([]Fill, error) {
	var fills []Fill
	after := ""
	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageLimit))
		if since != nil {
			params.Set("begin", strconv.FormatInt(since.UnixMilli(), 10))
		}
		if after != "" {
			params.Set("after", after)
		}

		var raw []rawFill
		if err := c.get(ctx, "/api/v1/trade/fills-history", params, &raw); err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			break
		}
		for _, r := range raw {
			fills = append(fills, r.toFill())
		}
		if len(raw) < pageLimit {
			break
		}
		after = raw[len(raw)-1].TradeID
		if err := c.transport.Pause(ctx); err != nil {
			return nil, err
		}
	}
	if len(fills) >= maxPages*pageLimit {
		log.Warn().Int("fills", len(fills)).Msg("blofin pagination hit safety cap, history may be truncated")
	}
	return fills, nil
}

// FetchTradeHistory pulls fills since the given instant, folds them into
// positions using the contract-value and leverage maps, then runs the
// entry/exit pair repair for the legacy interleaved layout.
func (c *Client) FetchTradeHistory(ctx context.Context, since *time.Time) ([]model.Position, error) {
	values, err := c.values.ContractValues(ctx)
	if err != nil {
		return nil, err
	}
	leverage := c.leverageMap(ctx)

	fills, err := c.fetchFills(ctx, since)
	if err != nil {
		return nil, err
	}
	log.Info().Int("fills", len(fills)).Int("instruments", len(values)).Msg("blofin fills fetched")

	return MatchEntryExitPairs(Aggregate(fills, values, leverage)), nil
}
