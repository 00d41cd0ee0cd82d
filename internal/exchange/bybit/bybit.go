// Package bybit reads closed-position PnL records from the Bybit v5 API.
// Bybit already reconstructs round trips server-side, so no fill folding
// happens here.
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perpjournal/tradesync/internal/exchange"
	"github.com/perpjournal/tradesync/internal/model"
)

const (
	defaultBaseURL = "https://api.bybit.com"
	recvWindow     = "5000"

	pageLimit     = 100
	windowSlice   = 7 * 24 * time.Hour
	historyWindow = 730 * 24 * time.Hour
)

// Client is a signed Bybit v5 REST client bound to one credential set.
type Client struct {
	creds     model.Credentials
	baseURL   string
	transport *exchange.Transport
	now       func() time.Time
}

func New(creds model.Credentials, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		creds:     creds,
		baseURL:   baseURL,
		transport: exchange.NewTransport(model.ExchangeBybit, 30*time.Second),
		now:       time.Now,
	}
}

func (c *Client) Exchange() model.Exchange { return model.ExchangeBybit }

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sign computes HMAC-SHA256(secret, timestamp + apiKey + recvWindow + query).
func (c *Client) sign(timestamp, query string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.Secret))
	mac.Write([]byte(timestamp + c.creds.Key + recvWindow + query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	query := params.Encode() // url.Values encodes keys sorted
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return exchange.NewError(model.ExchangeBybit, exchange.KindInternal, "", err)
	}
	req.Header.Set("X-BAPI-API-KEY", c.creds.Key)
	req.Header.Set("X-BAPI-SIGN", c.sign(ts, query))
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)

	resp, err := c.transport.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.NewError(model.ExchangeBybit, exchange.KindNetwork, "", err)
	}
	if resp.StatusCode != http.StatusOK {
		return c.classify(resp.StatusCode, 0, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return exchange.NewError(model.ExchangeBybit, exchange.KindInternal, "", fmt.Errorf("decode %s: %w", path, err))
	}
	if env.RetCode != 0 {
		return c.classify(resp.StatusCode, env.RetCode, env.RetMsg)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return exchange.NewError(model.ExchangeBybit, exchange.KindInternal, "", fmt.Errorf("decode %s result: %w", path, err))
		}
	}
	return nil
}

func (c *Client) classify(status, retCode int, msg string) error {
	code := strconv.Itoa(retCode)
	err := fmt.Errorf("bybit HTTP %d retCode %d: %s", status, retCode, msg)
	switch {
	case retCode == 10003 || retCode == 10004 || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return exchange.NewError(model.ExchangeBybit, exchange.KindAuth, code, err)
	case retCode == 10002:
		return exchange.NewError(model.ExchangeBybit, exchange.KindClockSkew, code, err)
	case status == http.StatusTooManyRequests:
		return exchange.NewError(model.ExchangeBybit, exchange.KindRateLimited, code, err)
	default:
		return exchange.NewError(model.ExchangeBybit, exchange.KindInternal, code, err)
	}
}

// ValidateCredentials confirms the key pair by listing linear positions.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("settleCoin", "USDT")
	return c.get(ctx, "/v5/position/list", params, &struct{}{})
}

type closedPnlResult struct {
	List           []ClosedPnl `json:"list"`
	NextPageCursor string      `json:"nextPageCursor"`
}

// FetchTradeHistory walks [since ?? now-730d, now] backwards in 7-day slices,
// paginating each slice by nextPageCursor, and converts the closed-PnL
// records to positions.
func (c *Client) FetchTradeHistory(ctx context.Context, since *time.Time) ([]model.Position, error) {
	end := c.now().UTC()
	start := end.Add(-historyWindow)
	if since != nil && since.After(start) {
		start = since.UTC()
	}

	var records []ClosedPnl
	for sliceEnd := end; sliceEnd.After(start); sliceEnd = sliceEnd.Add(-windowSlice) {
		sliceStart := sliceEnd.Add(-windowSlice)
		if sliceStart.Before(start) {
			sliceStart = start
		}

		cursor := ""
		for {
			params := url.Values{}
			params.Set("category", "linear")
			params.Set("startTime", strconv.FormatInt(sliceStart.UnixMilli(), 10))
			params.Set("endTime", strconv.FormatInt(sliceEnd.UnixMilli(), 10))
			params.Set("limit", strconv.Itoa(pageLimit))
			if cursor != "" {
				params.Set("cursor", cursor)
			}

			var page closedPnlResult
			if err := c.get(ctx, "/v5/position/closed-pnl", params, &page); err != nil {
				return nil, err
			}
			records = append(records, page.List...)

			if page.NextPageCursor == "" || len(page.List) < pageLimit {
				break
			}
			cursor = page.NextPageCursor
			if err := c.transport.Pause(ctx); err != nil {
				return nil, err
			}
		}
	}
	log.Info().Int("records", len(records)).Time("start", start).Msg("bybit closed-pnl fetched")

	return ToPositions(records), nil
}
