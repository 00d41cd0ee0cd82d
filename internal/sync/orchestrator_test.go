package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perpjournal/tradesync/internal/exchange"
	"github.com/perpjournal/tradesync/internal/model"
	"github.com/perpjournal/tradesync/internal/secrets"
)

// fakeConnections is an in-memory ConnectionsRepo.
type fakeConnections struct {
	conns map[string]*model.ExchangeConnection
}

func (f *fakeConnections) Create(_ context.Context, c *model.ExchangeConnection) error {
	f.conns[c.ID] = c
	return nil
}

func (f *fakeConnections) Get(_ context.Context, id string) (*model.ExchangeConnection, error) {
	c, ok := f.conns[id]
	if !ok {
		return nil, errors.New("connection not found")
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConnections) List(context.Context) ([]model.ExchangeConnection, error) {
	var out []model.ExchangeConnection
	for _, c := range f.conns {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeConnections) ListByUser(_ context.Context, userID string) ([]model.ExchangeConnection, error) {
	var out []model.ExchangeConnection
	for _, c := range f.conns {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeConnections) Delete(_ context.Context, id string) error {
	delete(f.conns, id)
	return nil
}

func (f *fakeConnections) UpdateStatus(_ context.Context, id string, status model.SyncStatus, lastSyncTime *time.Time, lastError string) error {
	c := f.conns[id]
	c.LastSyncStatus = status
	c.LastError = lastError
	if lastSyncTime != nil {
		c.LastSyncTime = lastSyncTime
	}
	return nil
}

func (f *fakeConnections) ClaimForSync(_ context.Context, id string) (bool, error) {
	c := f.conns[id]
	if c.LastSyncStatus == model.SyncInProgress {
		return false, nil
	}
	c.LastSyncStatus = model.SyncInProgress
	c.LastError = ""
	return true, nil
}

// fakeTrades is an in-memory TradesRepo keyed by exchange_trade_id.
type fakeTrades struct {
	stored map[string]model.CanonicalTrade
}

func (f *fakeTrades) ExistingTradeIDs(context.Context, string, model.Exchange) (map[string]bool, error) {
	ids := make(map[string]bool, len(f.stored))
	for id := range f.stored {
		ids[id] = true
	}
	return ids, nil
}

func (f *fakeTrades) UpsertTrades(_ context.Context, trades []model.CanonicalTrade) (int, error) {
	inserted := 0
	for _, t := range trades {
		if _, ok := f.stored[t.ExchangeTradeID]; !ok {
			f.stored[t.ExchangeTradeID] = t
			inserted++
		}
	}
	return inserted, nil
}

// fakeLeverage serves a fixed override map.
type fakeLeverage struct {
	overrides map[string]float64
}

func (f *fakeLeverage) Overrides(context.Context, string, model.Exchange) (map[string]float64, error) {
	return f.overrides, nil
}
func (f *fakeLeverage) SetOverride(context.Context, string, model.Exchange, string, float64) error {
	return nil
}
func (f *fakeLeverage) DeleteOverride(context.Context, string, model.Exchange, string) error {
	return nil
}

// fakeClient returns canned positions or an error.
type fakeClient struct {
	ex        model.Exchange
	positions []model.Position
	fetchErr  error
	gotSince  *time.Time
}

func (c *fakeClient) Exchange() model.Exchange                 { return c.ex }
func (c *fakeClient) ValidateCredentials(context.Context) error { return c.fetchErr }
func (c *fakeClient) FetchTradeHistory(_ context.Context, since *time.Time) ([]model.Position, error) {
	c.gotSince = since
	return c.positions, c.fetchErr
}

func testFixture(t *testing.T, client *fakeClient) (*Orchestrator, *fakeConnections, *fakeTrades) {
	t.Helper()

	cipher, err := secrets.NewCipher("test-key")
	require.NoError(t, err)
	encKey, err := cipher.Encrypt("api-key")
	require.NoError(t, err)
	encSecret, err := cipher.Encrypt("api-secret")
	require.NoError(t, err)

	conns := &fakeConnections{conns: map[string]*model.ExchangeConnection{
		"conn-1": {
			ID:                 "conn-1",
			UserID:             "user-1",
			Exchange:           client.ex,
			APIKeyEncrypted:    encKey,
			APISecretEncrypted: encSecret,
			LastSyncStatus:     model.SyncPending,
		},
	}}
	trades := &fakeTrades{stored: map[string]model.CanonicalTrade{}}
	leverage := &fakeLeverage{overrides: map[string]float64{}}

	factory := func(model.Exchange, model.Credentials) (exchange.Client, error) { return client, nil }
	return New(conns, trades, leverage, cipher, factory, nil), conns, trades
}

func position(id string) model.Position {
	return model.Position{
		TradeID:     id,
		Symbol:      "BTCUSDT",
		Side:        "BUY",
		EntryPrice:  50000,
		ExitPrice:   51000,
		Quantity:    0.1,
		RealizedPnl: 100,
		Fees:        2,
		Leverage:    10,
		EntryTime:   time.Unix(100, 0).UTC(),
		ExitTime:    time.Unix(200, 0).UTC(),
	}
}

func TestRunSuccess(t *testing.T) {
	client := &fakeClient{ex: model.ExchangeBinance, positions: []model.Position{position("1"), position("2")}}
	orch, conns, trades := testFixture(t, client)

	res, err := orch.Run(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, 2, res.Fetched)
	require.Equal(t, 2, res.New)
	require.Len(t, trades.stored, 2)

	conn := conns.conns["conn-1"]
	require.Equal(t, model.SyncSuccess, conn.LastSyncStatus)
	require.Empty(t, conn.LastError)
	require.NotNil(t, conn.LastSyncTime)
}

func TestRunIdempotent(t *testing.T) {
	client := &fakeClient{ex: model.ExchangeBinance, positions: []model.Position{position("1")}}
	orch, _, trades := testFixture(t, client)

	res, err := orch.Run(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.New)

	// Same exchange data again: dedup absorbs everything.
	res, err = orch.Run(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Equal(t, 0, res.New)
	require.Len(t, trades.stored, 1)
}

func TestRunPassesSinceWindow(t *testing.T) {
	client := &fakeClient{ex: model.ExchangeBinance}
	orch, conns, _ := testFixture(t, client)

	last := time.Unix(5000, 0).UTC()
	conns.conns["conn-1"].LastSyncTime = &last

	_, err := orch.Run(context.Background(), "conn-1")
	require.NoError(t, err)
	require.NotNil(t, client.gotSince)
	require.Equal(t, last, *client.gotSince)
}

func TestResyncIgnoresSinceWindow(t *testing.T) {
	client := &fakeClient{ex: model.ExchangeBinance}
	orch, conns, _ := testFixture(t, client)

	last := time.Unix(5000, 0).UTC()
	conns.conns["conn-1"].LastSyncTime = &last

	_, err := orch.Resync(context.Background(), "conn-1")
	require.NoError(t, err)
	require.Nil(t, client.gotSince)
}

func TestRunSkipsInProgress(t *testing.T) {
	client := &fakeClient{ex: model.ExchangeBinance}
	orch, conns, _ := testFixture(t, client)
	conns.conns["conn-1"].LastSyncStatus = model.SyncInProgress

	_, err := orch.Run(context.Background(), "conn-1")
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRunRecordsFailure(t *testing.T) {
	authErr := exchange.NewError(model.ExchangeBinance, exchange.KindAuth, "-2015", errors.New("invalid key"))
	client := &fakeClient{ex: model.ExchangeBinance, fetchErr: authErr}
	orch, conns, _ := testFixture(t, client)

	_, err := orch.Run(context.Background(), "conn-1")
	require.Error(t, err)

	conn := conns.conns["conn-1"]
	require.Equal(t, model.SyncFailed, conn.LastSyncStatus)
	require.Contains(t, conn.LastError, "Invalid API credentials")
	require.Nil(t, conn.LastSyncTime, "failed sync must not advance the window")
}

func TestRunTruncatesLongErrors(t *testing.T) {
	longErr := exchange.NewError(model.ExchangeBlofin, exchange.KindPermission, "152404", errors.New("denied"))
	longErr.Remediation = strings.Repeat("x", 900)
	client := &fakeClient{ex: model.ExchangeBlofin, fetchErr: longErr}
	orch, conns, _ := testFixture(t, client)

	_, err := orch.Run(context.Background(), "conn-1")
	require.Error(t, err)
	require.Len(t, conns.conns["conn-1"].LastError, 500)
}

func TestRunAppliesLeverageOverride(t *testing.T) {
	p := position("1")
	p.Leverage = 0 // exchange did not supply leverage
	client := &fakeClient{ex: model.ExchangeBybit, positions: []model.Position{p}}
	orch, _, trades := testFixture(t, client)
	orch.leverage = &fakeLeverage{overrides: map[string]float64{"BTC-USDT": 25}}

	_, err := orch.Run(context.Background(), "conn-1")
	require.NoError(t, err)

	stored := trades.stored["1"]
	require.InDelta(t, 25, stored.Leverage, 1e-8)
	// 100 / (50000*0.1/25) * 100
	require.InDelta(t, 50, stored.PnlPercent, 1e-4)
}
