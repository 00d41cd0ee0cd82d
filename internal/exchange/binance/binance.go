// Package binance talks to the Binance USD-M futures REST API and folds
// userTrades fills into round-trip positions.
package binance

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
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perpjournal/tradesync/internal/exchange"
	"github.com/perpjournal/tradesync/internal/model"
)

const (
	defaultBaseURL = "https://fapi.binance.com"

	pageLimit     = 1000
	windowSlice   = 7 * 24 * time.Hour
	historyWindow = 180 * 24 * time.Hour
)

// fallbackSymbols is used when symbol discovery finds nothing. Matches the
// most commonly traded USD-M pairs so a fresh account still syncs something.
var fallbackSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}

// Client is a signed Binance futures REST client bound to one credential set.
type Client struct {
	creds     model.Credentials
	baseURL   string
	transport *exchange.Transport
	now       func() time.Time
}

// New builds a Binance client. An empty baseURL uses the production endpoint.
func New(creds model.Credentials, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		creds:     creds,
		baseURL:   baseURL,
		transport: exchange.NewTransport(model.ExchangeBinance, 30*time.Second),
		now:       time.Now,
	}
}

func (c *Client) Exchange() model.Exchange { return model.ExchangeBinance }

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Client) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.creds.Secret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("signature", c.sign(params))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return exchange.NewError(model.ExchangeBinance, exchange.KindInternal, "", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.creds.Key)

	resp, err := c.transport.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.NewError(model.ExchangeBinance, exchange.KindNetwork, "", err)
	}
	if resp.StatusCode != http.StatusOK {
		return c.classify(resp.StatusCode, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return exchange.NewError(model.ExchangeBinance, exchange.KindInternal, "", fmt.Errorf("decode %s: %w", path, err))
		}
	}
	return nil
}

func (c *Client) classify(status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	code := strconv.Itoa(ae.Code)
	err := fmt.Errorf("binance HTTP %d code %d: %s", status, ae.Code, ae.Msg)

	switch {
	case ae.Code == -2015 || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return exchange.NewError(model.ExchangeBinance, exchange.KindAuth, code, err)
	case ae.Code == -1021:
		return exchange.NewError(model.ExchangeBinance, exchange.KindClockSkew, code, err)
	case status == http.StatusTooManyRequests:
		return exchange.NewError(model.ExchangeBinance, exchange.KindRateLimited, code, err)
	default:
		return exchange.NewError(model.ExchangeBinance, exchange.KindInternal, code, err)
	}
}

// ValidateCredentials confirms the key pair by reading account info.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	return c.get(ctx, "/fapi/v2/account", nil, &struct{}{})
}

type accountInfo struct {
	Positions []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
	} `json:"positions"`
}

type positionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	Leverage    string `json:"leverage"`
}

type incomeRecord struct {
	Symbol string `json:"symbol"`
	Income string `json:"income"`
	Time   int64  `json:"time"`
}

// discoverSymbols enumerates the symbols the account has touched: current
// account positions and positionRisk entries. Only when both come back empty
// does it fall back to scanning realized-PnL income over the fetch window in
// 7-day chunks; the scan costs one signed call per chunk.
func (c *Client) discoverSymbols(ctx context.Context, start, end time.Time) ([]string, error) {
	seen := map[string]bool{}

	var acct accountInfo
	if err := c.get(ctx, "/fapi/v2/account", nil, &acct); err != nil {
		return nil, err
	}
	for _, p := range acct.Positions {
		if amt, _ := strconv.ParseFloat(p.PositionAmt, 64); amt != 0 {
			seen[p.Symbol] = true
		}
	}

	var risks []positionRisk
	if err := c.get(ctx, "/fapi/v2/positionRisk", nil, &risks); err != nil {
		return nil, err
	}
	for _, r := range risks {
		if amt, _ := strconv.ParseFloat(r.PositionAmt, 64); amt != 0 {
			seen[r.Symbol] = true
		}
	}

	if len(seen) == 0 {
		for cur := start; cur.Before(end); cur = cur.Add(windowSlice) {
			sliceEnd := cur.Add(windowSlice)
			if sliceEnd.After(end) {
				sliceEnd = end
			}
			params := url.Values{}
			params.Set("incomeType", "REALIZED_PNL")
			params.Set("startTime", strconv.FormatInt(cur.UnixMilli(), 10))
			params.Set("endTime", strconv.FormatInt(sliceEnd.UnixMilli(), 10))
			params.Set("limit", "1000")

			var income []incomeRecord
			if err := c.get(ctx, "/fapi/v1/income", params, &income); err != nil {
				return nil, err
			}
			for _, rec := range income {
				if rec.Symbol != "" {
					seen[rec.Symbol] = true
				}
			}
		}
	}

	if len(seen) == 0 {
		log.Debug().Msg("binance symbol discovery empty, using fallback set")
		return fallbackSymbols, nil
	}
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// leverageMap reads positionRisk to map each symbol to its current leverage.
// Binance does not expose historical leverage, so current is the best proxy.
func (c *Client) leverageMap(ctx context.Context) (map[string]float64, error) {
	var risks []positionRisk
	if err := c.get(ctx, "/fapi/v2/positionRisk", nil, &risks); err != nil {
		return nil, err
	}
	m := make(map[string]float64, len(risks))
	for _, r := range risks {
		if lev, err := strconv.ParseFloat(r.Leverage, 64); err == nil && lev > 0 {
			m[r.Symbol] = lev
		}
	}
	return m, nil
}

type rawFill struct {
	ID          int64  `json:"id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	RealizedPnl string `json:"realizedPnl"`
	Commission  string `json:"commission"`
	Time        int64  `json:"time"`
}

func (r rawFill) toFill() Fill {
	price, _ := strconv.ParseFloat(r.Price, 64)
	qty, _ := strconv.ParseFloat(r.Qty, 64)
	pnl, _ := strconv.ParseFloat(r.RealizedPnl, 64)
	fee, _ := strconv.ParseFloat(r.Commission, 64)
	return Fill{
		ID:          r.ID,
		Symbol:      r.Symbol,
		Side:        r.Side,
		Price:       price,
		Quantity:    qty,
		RealizedPnl: pnl,
		Commission:  fee,
		Time:        time.UnixMilli(r.Time).UTC(),
	}
}

// fetchFills walks [start, end] in 7-day slices for one symbol, paginating
// inside each slice by fromId while full pages come back.
func (c *Client) fetchFills(ctx context.Context, symbol string, start, end time.Time) ([]Fill, error) {
	var fills []Fill
	for cur := start; cur.Before(end); cur = cur.Add(windowSlice) {
		sliceEnd := cur.Add(windowSlice)
		if sliceEnd.After(end) {
			sliceEnd = end
		}

		var fromID int64 = -1
		for {
			params := url.Values{}
			params.Set("symbol", symbol)
			params.Set("limit", strconv.Itoa(pageLimit))
			// The time bounds stay on every page: dropping them once fromId
			// is set would run pagination past the slice and re-fetch the
			// same fills from the slices that follow.
			params.Set("startTime", strconv.FormatInt(cur.UnixMilli(), 10))
			params.Set("endTime", strconv.FormatInt(sliceEnd.UnixMilli(), 10))
			if fromID >= 0 {
				params.Set("fromId", strconv.FormatInt(fromID, 10))
			}

			var page []rawFill
			if err := c.get(ctx, "/fapi/v1/userTrades", params, &page); err != nil {
				return nil, err
			}
			for _, r := range page {
				fills = append(fills, r.toFill())
			}
			if len(page) < pageLimit {
				break
			}
			fromID = page[len(page)-1].ID + 1
			if err := c.transport.Pause(ctx); err != nil {
				return nil, err
			}
		}
	}
	return fills, nil
}

// FetchTradeHistory pulls fills for every discovered symbol over the window
// [since ?? now-180d, now] and aggregates them into positions.
func (c *Client) FetchTradeHistory(ctx context.Context, since *time.Time) ([]model.Position, error) {
	end := c.now().UTC()
	start := end.Add(-historyWindow)
	if since != nil && since.After(start) {
		start = since.UTC()
	}

	symbols, err := c.discoverSymbols(ctx, start, end)
	if err != nil {
		return nil, err
	}
	leverage, err := c.leverageMap(ctx)
	if err != nil {
		return nil, err
	}

	var fills []Fill
	for _, sym := range symbols {
		fs, err := c.fetchFills(ctx, sym, start, end)
		if err != nil {
			return nil, err
		}
		fills = append(fills, fs...)
	}
	log.Info().Int("symbols", len(symbols)).Int("fills", len(fills)).
		Time("start", start).Msg("binance fills fetched")

	return Aggregate(fills, leverage), nil
}
