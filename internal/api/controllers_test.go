package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/internal/events"
	"simtrade-core/internal/funding"
	"simtrade-core/internal/ledger"
	"simtrade-core/internal/monitor"
	"simtrade-core/internal/pricing"
	"simtrade-core/internal/registry"
	"simtrade-core/internal/settings"
	"simtrade-core/internal/trading"
	"simtrade-core/internal/users"
	"simtrade-core/pkg/db"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testStack struct {
	ts       *httptest.Server
	server   *Server
	db       *db.Database
	bus      *events.Bus
	registry *registry.Registry
	ledger   *ledger.Ledger
	trading  *trading.Engine
	settings *settings.Store
	auth     *Authenticator
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	log := zap.NewNop()

	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))

	st := &testStack{db: database, bus: events.NewBus(log)}
	st.settings = settings.NewStore(database, log)
	require.NoError(t, st.settings.Load(ctx, ""))

	dir := users.NewDirectory(database, log)
	st.registry = registry.New(database, nil, log)
	for _, i := range []db.Instrument{
		{Symbol: "BTC", DisplayName: "Bitcoin", Rank: 1, IsActive: true, IsTradeable: true,
			VolatilityClass: 2, CurrentPrice: d("50000"), CirculatingSupply: d("19000000")},
		{Symbol: "ETH", DisplayName: "Ether", Rank: 2, IsActive: true, IsTradeable: true,
			VolatilityClass: 2, CurrentPrice: d("3000")},
		{Symbol: "USDT", DisplayName: "Tether", Rank: 3, IsActive: true, IsStablecoin: true,
			CurrentPrice: d("1")},
	} {
		_, err := st.registry.Upsert(ctx, i)
		require.NoError(t, err)
	}

	st.ledger = ledger.New(ledger.Options{
		Store:     database,
		Publisher: st.bus,
		Gate:      dir,
		Prices:    st.registry,
		Logger:    log,
	})
	metrics := monitor.NewSystemMetrics()
	prices := pricing.New(pricing.Options{
		Registry:  st.registry,
		Settings:  st.settings.Get,
		Publisher: st.bus,
		Scenarios: database,
		Logger:    log,
	})
	st.trading = trading.New(trading.Options{
		Ledger:      st.ledger,
		Instruments: st.registry,
		Gate:        dir,
		Store:       database,
		History:     database.Queries(),
		Publisher:   st.bus,
		Metrics:     metrics,
		Settings:    st.settings.Get,
		Logger:      log,
	})
	fund := funding.New(funding.Options{
		Ledger:      st.ledger,
		Store:       database,
		Instruments: st.registry,
		Trading:     st.trading,
		Settings:    st.settings.Get,
		Logger:      log,
	})

	st.auth, err = NewAuthenticator("test-secret", time.Minute)
	require.NoError(t, err)

	st.server = NewServer(Options{
		Bus:       st.bus,
		DB:        database,
		Registry:  st.registry,
		Ledger:    st.ledger,
		Pricing:   prices,
		Trading:   st.trading,
		Funding:   fund,
		Users:     dir,
		Settings:  st.settings,
		Metrics:   metrics,
		Auth:      st.auth,
		Meta:      SystemMeta{Version: "test", Node: "test-node"},
		RateLimit: 1000,
		Burst:     1000,
		Logger:    log,
	})
	st.ts = httptest.NewServer(st.server.Router)

	t.Cleanup(func() {
		st.ts.Close()
		st.trading.Stop()
		st.bus.Close()
		st.auth.Close()
		_ = database.Close()
	})
	return st
}

func (st *testStack) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := st.auth.Issue(userID, role, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return tok
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorResponse struct {
	Code   string `json:"code"`
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (st *testStack) fund(t *testing.T, admin, user, symbol, amount, key string) {
	t.Helper()
	status := doJSONRequest(t, st.ts.Client(), http.MethodPost, st.ts.URL+"/api/admin/users/"+user+"/credit", admin,
		map[string]string{"symbol": symbol, "amount": amount, "key": key}, nil)
	require.Equal(t, http.StatusOK, status)
}

func TestHealth(t *testing.T) {
	st := newTestStack(t)

	var resp struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		TradingOpen bool   `json:"trading_open"`
	}
	status := doJSONRequest(t, st.ts.Client(), http.MethodGet, st.ts.URL+"/health", "", nil, &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.True(t, resp.TradingOpen)
}

func TestAuthRequired(t *testing.T) {
	st := newTestStack(t)
	client := st.ts.Client()

	var resp errorResponse
	status := doJSONRequest(t, client, http.MethodGet, st.ts.URL+"/api/balances", "", nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", resp.Code)

	expired, err := st.auth.Issue("u1", "", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	status = doJSONRequest(t, client, http.MethodGet, st.ts.URL+"/api/balances", expired, nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)

	other, err := NewAuthenticator("other-secret", time.Minute)
	require.NoError(t, err)
	defer other.Close()
	forged, err := other.Issue("u1", RoleAdmin, time.Now().Add(time.Hour))
	require.NoError(t, err)
	status = doJSONRequest(t, client, http.MethodGet, st.ts.URL+"/api/admin/settings", forged, nil, &resp)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminRoutesNeedAdminRole(t *testing.T) {
	st := newTestStack(t)

	var resp errorResponse
	status := doJSONRequest(t, st.ts.Client(), http.MethodGet, st.ts.URL+"/api/admin/settings",
		st.token(t, "u1", ""), nil, &resp)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", resp.Code)
}

func TestFirstTokenRegistersUser(t *testing.T) {
	st := newTestStack(t)

	var resp struct {
		User struct {
			ID     string `json:"id"`
			Frozen bool   `json:"frozen"`
		} `json:"user"`
	}
	status := doJSONRequest(t, st.ts.Client(), http.MethodGet, st.ts.URL+"/api/me", st.token(t, "alice", ""), nil, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", resp.User.ID)
	assert.False(t, resp.User.Frozen)
}

func TestInstrumentsAreOrderedByRank(t *testing.T) {
	st := newTestStack(t)

	var list []struct {
		Symbol    string          `json:"symbol"`
		Price     decimal.Decimal `json:"current_price"`
		MarketCap decimal.Decimal `json:"market_cap"`
		Windows   string          `json:"windows"`
	}
	status := doJSONRequest(t, st.ts.Client(), http.MethodGet, st.ts.URL+"/api/instruments", "", nil, &list)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list, 3)
	assert.Equal(t, "BTC", list[0].Symbol)
	assert.True(t, list[0].MarketCap.Equal(d("950000000000")))
	assert.Equal(t, pricing.WindowsProxy, list[0].Windows)

	var resp errorResponse
	status = doJSONRequest(t, st.ts.Client(), http.MethodGet, st.ts.URL+"/api/instruments/DOGE", "", nil, &resp)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDepositConfirmationIsIdempotent(t *testing.T) {
	st := newTestStack(t)
	client := st.ts.Client()
	admin := st.token(t, "root", RoleAdmin)
	user := st.token(t, "u1", "")

	status := doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/admin/wallets", admin,
		map[string]any{"symbol": "BTC", "address": "bc1qsim0001"}, nil)
	require.Equal(t, http.StatusCreated, status)

	var created struct {
		Request struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"request"`
		Wallet struct {
			Address string `json:"address"`
		} `json:"wallet"`
	}
	status = doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/deposits", user,
		map[string]string{"symbol": "btc", "amount": "0.5", "address": "ext-1"}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, funding.StatusPending, created.Request.Status)
	assert.Equal(t, "bc1qsim0001", created.Wallet.Address)

	type review struct {
		Balance struct {
			Total               decimal.Decimal `json:"total"`
			Available           decimal.Decimal `json:"available"`
			Reserved            decimal.Decimal `json:"reserved"`
			CumulativeDeposited decimal.Decimal `json:"cumulative_deposited"`
		} `json:"balance"`
		Duplicate bool `json:"duplicate"`
	}
	url := st.ts.URL + "/api/admin/deposits/" + created.Request.ID + "/confirm"
	for i, dup := range []bool{false, true, true} {
		var r review
		status = doJSONRequest(t, client, http.MethodPost, url, admin, nil, &r)
		require.Equal(t, http.StatusOK, status, "attempt %d", i)
		assert.Equal(t, dup, r.Duplicate)
		assert.True(t, r.Balance.Total.Equal(d("0.5")))
		assert.True(t, r.Balance.Available.Equal(d("0.5")))
		assert.True(t, r.Balance.Reserved.IsZero())
		assert.True(t, r.Balance.CumulativeDeposited.Equal(d("0.5")))
	}

	var resp errorResponse
	status = doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/admin/deposits/"+created.Request.ID+"/reject",
		admin, nil, &resp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "STATE_TRANSITION_FORBIDDEN", resp.Code)
}

func TestWithdrawalReservesUntilReviewed(t *testing.T) {
	st := newTestStack(t)
	client := st.ts.Client()
	admin := st.token(t, "root", RoleAdmin)
	user := st.token(t, "u1", "")
	st.fund(t, admin, "u1", "USDT", "100", "grant-1")

	var w struct {
		ID string `json:"id"`
	}
	status := doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/withdrawals", user,
		map[string]string{"symbol": "USDT", "amount": "40", "address": "T-addr"}, &w)
	require.Equal(t, http.StatusCreated, status)

	line := st.ledger.Line("u1", "USDT")
	assert.True(t, line.Available.Equal(d("60")))
	assert.True(t, line.Reserved.Equal(d("40")))

	status = doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/admin/withdrawals/"+w.ID+"/approve", admin,
		map[string]string{"note": "ok"}, nil)
	require.Equal(t, http.StatusOK, status)

	line = st.ledger.Line("u1", "USDT")
	assert.True(t, line.Total.Equal(d("60")))
	assert.True(t, line.Reserved.IsZero())
	assert.True(t, line.CumulativeWithdrawn.Equal(d("40")))

	var resp errorResponse
	status = doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/withdrawals", user,
		map[string]string{"symbol": "USDT", "amount": "1000", "address": "T-addr"}, &resp)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INSUFFICIENT_FUNDS", resp.Code)
}

type tradeResponse struct {
	ID       string          `json:"id"`
	UserID   string          `json:"user_id"`
	Status   string          `json:"status"`
	Notional decimal.Decimal `json:"notional"`
	Realized decimal.Decimal `json:"realized_pnl"`
	Reason   string          `json:"resolution_reason"`
}

func TestOpenAndCloseTrade(t *testing.T) {
	st := newTestStack(t)
	client := st.ts.Client()
	admin := st.token(t, "root", RoleAdmin)
	user := st.token(t, "u1", "")
	st.fund(t, admin, "u1", "USDT", "1000", "grant-1")

	var tr tradeResponse
	status := doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/trades", user,
		map[string]any{"symbol": "BTC", "side": "BUY", "quantity": "0.01", "duration_seconds": 60}, &tr)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, trading.StatusActive, tr.Status)
	assert.True(t, tr.Notional.Equal(d("500")))

	line := st.ledger.Line("u1", "USDT")
	assert.True(t, line.Available.Equal(d("500")))
	assert.True(t, line.Reserved.Equal(d("500")))

	var active []tradeResponse
	status = doJSONRequest(t, client, http.MethodGet, st.ts.URL+"/api/trades/active", user, nil, &active)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, active, 1)

	var resp errorResponse
	status = doJSONRequest(t, client, http.MethodGet, st.ts.URL+"/api/trades/"+tr.ID, st.token(t, "u2", ""), nil, &resp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "TRADE_NOT_FOUND", resp.Code)

	var closed tradeResponse
	status = doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/trades/"+tr.ID+"/close", user, nil, &closed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, trading.ReasonEarlyClose, closed.Reason)
	assert.True(t, closed.Realized.IsZero())

	status = doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/trades/"+tr.ID+"/close", user, nil, &resp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "TRADE_NOT_ACTIVE", resp.Code)

	line = st.ledger.Line("u1", "USDT")
	assert.True(t, line.Available.Equal(d("1000")))
	assert.True(t, line.Reserved.IsZero())

	var history []tradeResponse
	status = doJSONRequest(t, client, http.MethodGet, st.ts.URL+"/api/trades?limit=10", user, nil, &history)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, history, 1)
	assert.NotEqual(t, trading.StatusActive, history[0].Status)
}

func TestOpenTradeRejectionsMapToStatus(t *testing.T) {
	st := newTestStack(t)
	client := st.ts.Client()
	admin := st.token(t, "root", RoleAdmin)
	user := st.token(t, "u1", "")
	st.fund(t, admin, "u1", "USDT", "100", "grant-1")

	cases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"insufficient", map[string]any{"symbol": "BTC", "side": "buy", "quantity": "1", "duration_seconds": 60},
			http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"unknown symbol", map[string]any{"symbol": "DOGE", "side": "buy", "quantity": "1", "duration_seconds": 60},
			http.StatusBadRequest, "UNKNOWN_SYMBOL"},
		{"zero quantity", map[string]any{"symbol": "BTC", "side": "buy", "quantity": "0", "duration_seconds": 60},
			http.StatusBadRequest, "AMOUNT_NON_POSITIVE"},
		{"bad side", map[string]any{"symbol": "BTC", "side": "hold", "quantity": "0.001", "duration_seconds": 60},
			http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing symbol", map[string]any{"side": "buy", "quantity": "0.001", "duration_seconds": 60},
			http.StatusBadRequest, "INVALID_ARGUMENT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp errorResponse
			status := doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/trades", user, tc.body, &resp)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, resp.Code)
		})
	}

	status := doJSONRequest(t, client, http.MethodPut, st.ts.URL+"/api/admin/users/u1/flags", admin,
		map[string]bool{"frozen": true}, nil)
	require.Equal(t, http.StatusOK, status)

	var resp errorResponse
	status = doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/trades", user,
		map[string]any{"symbol": "BTC", "side": "buy", "quantity": "0.001", "duration_seconds": 60}, &resp)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "USER_BLOCKED", resp.Code)
}

func TestSettingsUpdateMergesAndValidates(t *testing.T) {
	st := newTestStack(t)
	client := st.ts.Client()
	admin := st.token(t, "root", RoleAdmin)

	var updated settings.TradingSettings
	status := doJSONRequest(t, client, http.MethodPut, st.ts.URL+"/api/admin/settings", admin,
		map[string]any{"active_win_rate_percent": 70}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 70.0, updated.ActiveWinRatePercent)
	assert.Equal(t, settings.Defaults().ActiveProfitPercent, updated.ActiveProfitPercent)

	var resp errorResponse
	status = doJSONRequest(t, client, http.MethodPut, st.ts.URL+"/api/admin/settings", admin,
		map[string]any{"active_win_rate_percent": 170}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ARGUMENT", resp.Code)
	assert.Equal(t, 70.0, st.settings.Get().ActiveWinRatePercent)

	status = doJSONRequest(t, client, http.MethodPut, st.ts.URL+"/api/admin/settings", admin,
		map[string]any{"trading_enabled": false}, nil)
	require.Equal(t, http.StatusOK, status)

	status = doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/trades", st.token(t, "u1", ""),
		map[string]any{"symbol": "BTC", "side": "buy", "quantity": "0.001", "duration_seconds": 60}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "TRADING_DISABLED", resp.Code)
}

func TestMaintenanceModeIsReadOnly(t *testing.T) {
	st := newTestStack(t)
	client := st.ts.Client()
	admin := st.token(t, "root", RoleAdmin)
	user := st.token(t, "u1", "")
	st.fund(t, admin, "u1", "USDT", "100", "grant-m")

	status := doJSONRequest(t, client, http.MethodPut, st.ts.URL+"/api/admin/settings", admin,
		map[string]any{"maintenance_mode": true}, nil)
	require.Equal(t, http.StatusOK, status)

	writes := []struct {
		name  string
		token string
		path  string
		body  any
	}{
		{"withdrawal", user, "/api/withdrawals", map[string]string{"symbol": "USDT", "amount": "10", "address": "T-addr"}},
		{"deposit", user, "/api/deposits", map[string]string{"symbol": "USDT", "amount": "10", "from_address": "T-addr"}},
		{"open trade", user, "/api/trades", map[string]any{"symbol": "BTC", "side": "buy", "quantity": "0.001", "duration_seconds": 60}},
		{"admin credit", admin, "/api/admin/users/u1/credit", map[string]string{"symbol": "USDT", "amount": "5", "key": "grant-m2"}},
		{"price override", admin, "/api/admin/instruments/ETH/price", map[string]string{"price": "3100"}},
	}
	for _, w := range writes {
		t.Run(w.name, func(t *testing.T) {
			var resp errorResponse
			status := doJSONRequest(t, client, http.MethodPost, st.ts.URL+w.path, w.token, w.body, &resp)
			assert.Equal(t, http.StatusServiceUnavailable, status)
			assert.Equal(t, "UNAVAILABLE", resp.Code)
		})
	}

	status = doJSONRequest(t, client, http.MethodGet, st.ts.URL+"/api/balances", user, nil, nil)
	assert.Equal(t, http.StatusOK, status)
	line := st.ledger.Line("u1", "USDT")
	assert.True(t, line.Total.Equal(d("100")))
	assert.True(t, line.Reserved.IsZero())

	status = doJSONRequest(t, client, http.MethodPut, st.ts.URL+"/api/admin/settings", admin,
		map[string]any{"maintenance_mode": false}, nil)
	require.Equal(t, http.StatusOK, status)
	st.fund(t, admin, "u1", "USDT", "5", "grant-m3")
}

func TestAdminPriceOverrideAndScenario(t *testing.T) {
	st := newTestStack(t)
	client := st.ts.Client()
	admin := st.token(t, "root", RoleAdmin)

	var inst struct {
		Price decimal.Decimal `json:"current_price"`
	}
	status := doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/admin/instruments/ETH/price", admin,
		map[string]string{"price": "3100"}, &inst)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, inst.Price.Equal(d("3100")))

	var sc struct {
		ID     string `json:"id"`
		Target string `json:"target"`
	}
	status = doJSONRequest(t, client, http.MethodPost, st.ts.URL+"/api/admin/scenarios", admin,
		map[string]any{"name": "pump", "target": "eth", "percentage_change": 10}, &sc)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "ETH", sc.Target)

	var list []struct {
		ID string `json:"id"`
	}
	status = doJSONRequest(t, client, http.MethodGet, st.ts.URL+"/api/admin/scenarios", admin, nil, &list)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list, 1)

	status = doJSONRequest(t, client, http.MethodDelete, st.ts.URL+"/api/admin/scenarios/"+sc.ID, admin, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status = doJSONRequest(t, client, http.MethodDelete, st.ts.URL+"/api/admin/instruments/ETH", admin, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
	eth, ok := st.registry.Get("ETH")
	require.True(t, ok)
	assert.False(t, eth.IsTradeable)
}

func TestErrorsAreLocalized(t *testing.T) {
	st := newTestStack(t)

	req, err := http.NewRequest(http.MethodGet, st.ts.URL+"/api/balances", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Language", "zh-TW,zh;q=0.9,en;q=0.8")
	resp, err := st.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "請重新登入。", body.Error)
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.2", now))
	assert.True(t, l.allow("10.0.0.1", now.Add(time.Second)))

	l.allow("10.0.0.3", now.Add(10*time.Minute))
	l.mu.Lock()
	assert.Len(t, l.limiters, 1)
	l.mu.Unlock()
}

func TestStatusMapping(t *testing.T) {
	cases := map[errs.Code]int{
		errs.AmountNonPositive: http.StatusBadRequest,
		errs.Unauthenticated:   http.StatusUnauthorized,
		errs.UserFrozen:        http.StatusForbidden,
		errs.InsufficientFunds: http.StatusUnprocessableEntity,
		errs.DuplicateKey:      http.StatusConflict,
		errs.NotFound:          http.StatusNotFound,
		errs.Unavailable:       http.StatusServiceUnavailable,
		errs.Internal:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusOf(errs.New(code, "boom")), string(code))
	}
}
