package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"simtrade-core/internal/events"
	"simtrade-core/internal/funding"
	"simtrade-core/internal/ledger"
	"simtrade-core/internal/pricing"
	"simtrade-core/internal/settings"
	"simtrade-core/internal/trading"
	"simtrade-core/pkg/config"
	"simtrade-core/pkg/db"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig(dbPath string) *config.Config {
	return &config.Config{
		Port:          "0",
		Version:       "test",
		DBPath:        dbPath,
		SeedPath:      filepath.Join("..", "..", "instruments.yaml"),
		JWTSecret:     "test-secret",
		TokenCacheTTL: time.Minute,
		OracleKind:    "none",
		RateLimit:     1000,
		RateBurst:     1000,
	}
}

func newTestApp(t *testing.T, dbPath string) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a, err := New(context.Background(), Options{Config: testConfig(dbPath), Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func (a *App) fund(t *testing.T, user, symbol, amount string) {
	t.Helper()
	ctx := context.Background()
	_, err := a.Users.Ensure(ctx, user)
	require.NoError(t, err)
	_, err = a.Ledger.Credit(ctx, user, symbol, d(amount), "grant-"+user+"-"+symbol, ledger.SourceAdmin)
	require.NoError(t, err)
}

func (a *App) tune(t *testing.T, fn func(*settings.TradingSettings)) {
	t.Helper()
	_, err := a.Settings.Update(context.Background(), fn)
	require.NoError(t, err)
}

func assertLine(t *testing.T, l db.BalanceLine, available, reserved string) {
	t.Helper()
	assert.True(t, l.Available.Equal(d(available)), "available %s, want %s", l.Available, available)
	assert.True(t, l.Reserved.Equal(d(reserved)), "reserved %s, want %s", l.Reserved, reserved)
}

func TestDepositCreditIsIdempotent(t *testing.T) {
	a := newTestApp(t, ":memory:")
	ctx := context.Background()
	_, err := a.Users.Ensure(ctx, "u1")
	require.NoError(t, err)

	req, wallet, err := a.Funding.CreateDeposit(ctx, "u1", "BTC", d("0.5"), "ext-addr")
	require.NoError(t, err)
	assert.Equal(t, funding.StatusPending, req.Status)
	assert.NotEmpty(t, wallet.Address)

	first, err := a.Funding.ConfirmDeposit(ctx, req.ID, "root", "")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := a.Funding.ConfirmDeposit(ctx, req.ID, "root", "")
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	for _, l := range []db.BalanceLine{first.Balance, again.Balance, a.Ledger.Line("u1", "BTC")} {
		assert.True(t, l.Total.Equal(d("0.5")))
		assertLine(t, l, "0.5", "0")
		assert.True(t, l.CumulativeDeposited.Equal(d("0.5")))
	}
}

func TestBuyWinsUnderProbabilisticMode(t *testing.T) {
	a := newTestApp(t, ":memory:")
	ctx := context.Background()
	a.tune(t, func(s *settings.TradingSettings) {
		s.OutcomeMode = settings.OutcomeProbabilistic
		s.ActiveWinRatePercent = 100
		s.ActiveProfitPercent = 80
	})
	a.fund(t, "u1", "USDT", "1000")

	tr, err := a.Trading.OpenTrade(ctx, trading.OpenRequest{
		UserID: "u1", Symbol: "BTC", Side: trading.SideBuy, Quantity: d("0.01"), DurationSeconds: 60,
	})
	require.NoError(t, err)
	assert.True(t, tr.EntryPrice.Equal(d("50000")))
	assert.True(t, tr.Notional.Equal(d("500")))
	assertLine(t, a.Ledger.Line("u1", "USDT"), "500", "500")

	n, err := a.Trading.CheckExpiries(ctx, tr.ExpiresAt())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	closed, err := a.Trading.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, trading.StatusClosedWin, closed.Status)
	assert.True(t, closed.RealizedPnL.Equal(d("400")))
	assertLine(t, a.Ledger.Line("u1", "USDT"), "1400", "0")
}

func TestSellLosesUnderProbabilisticMode(t *testing.T) {
	a := newTestApp(t, ":memory:")
	ctx := context.Background()
	a.tune(t, func(s *settings.TradingSettings) {
		s.OutcomeMode = settings.OutcomeProbabilistic
		s.ActiveWinRatePercent = 0
		s.ActiveLossPercent = 100
	})
	a.fund(t, "u1", "USDT", "1000")

	tr, err := a.Trading.OpenTrade(ctx, trading.OpenRequest{
		UserID: "u1", Symbol: "BTC", Side: trading.SideSell, Quantity: d("0.01"), DurationSeconds: 60,
	})
	require.NoError(t, err)

	_, err = a.Trading.CheckExpiries(ctx, tr.ExpiresAt())
	require.NoError(t, err)

	closed, err := a.Trading.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, trading.StatusClosedLoss, closed.Status)
	assert.True(t, closed.RealizedPnL.Equal(d("-500")))
	assertLine(t, a.Ledger.Line("u1", "USDT"), "500", "0")
}

func TestStopOutUnderMarketMode(t *testing.T) {
	a := newTestApp(t, ":memory:")
	ctx := context.Background()
	a.tune(t, func(s *settings.TradingSettings) {
		s.OutcomeMode = settings.OutcomeMarket
		s.MaxLossFraction = 1
	})
	a.fund(t, "u1", "USDT", "1000")
	require.NoError(t, a.startEngines(ctx))

	tr, err := a.Trading.OpenTrade(ctx, trading.OpenRequest{
		UserID: "u1", Symbol: "BTC", Side: trading.SideBuy, Quantity: d("0.01"), DurationSeconds: 600,
	})
	require.NoError(t, err)

	_, err = a.Pricing.Override(ctx, "BTC", d("0.000001"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := a.Trading.Get(ctx, tr.ID)
		return err == nil && got.Status != trading.StatusActive
	}, 3*time.Second, 10*time.Millisecond)

	closed, err := a.Trading.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, trading.StatusClosedLoss, closed.Status)
	assert.Equal(t, trading.ReasonStopOut, closed.ResolutionReason)
	assert.True(t, closed.RealizedPnL.Equal(d("-500")))
	assertLine(t, a.Ledger.Line("u1", "USDT"), "500", "0")
}

func TestScenarioAppliesOnce(t *testing.T) {
	a := newTestApp(t, ":memory:")
	ctx := context.Background()

	sub := a.Bus.NewSubscriber()
	defer sub.Close()
	sub.Subscribe(events.PriceTopic("ETH"))

	sc, err := a.Pricing.CreateScenario(ctx, db.Scenario{Name: "pump", Target: "ETH", PercentageChange: 10})
	require.NoError(t, err)

	report := a.Scheduler.RunCycle(ctx)
	assert.Empty(t, report.Failed)

	eth, ok := a.Registry.Get("ETH")
	require.True(t, ok)
	assert.True(t, eth.CurrentPrice.Equal(d("3300")), eth.CurrentPrice.String())

	select {
	case msg := <-sub.C():
		assert.Equal(t, events.TypePriceEvent, msg.Type)
		ev, ok := msg.Payload.(events.PriceEvent)
		require.True(t, ok)
		assert.InDelta(t, 10, ev.ChangePct, 1e-9)
		assert.Equal(t, sc.ID, ev.ScenarioID)
	case <-time.After(time.Second):
		t.Fatal("no price event")
	}
	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected second event %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.Writer.Flush())
	moves, err := a.DB.Movements(ctx, "ETH", 10)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, pricing.MoveScenario, moves[0].MovementType)
	assert.Equal(t, sc.ID, moves[0].ScenarioID)

	res, err := a.Pricing.RunDueScenarios(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
}

func TestConcurrentTradesOnOneSymbol(t *testing.T) {
	a := newTestApp(t, ":memory:")
	ctx := context.Background()
	users := []string{"u1", "u2"}
	for _, u := range users {
		a.fund(t, u, "USDT", "10000")
	}
	require.NoError(t, a.startEngines(ctx))

	var wg sync.WaitGroup
	errCh := make(chan error, len(users))
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := a.Trading.OpenTrade(ctx, trading.OpenRequest{
				UserID: u, Symbol: "BTC", Side: trading.SideBuy, Quantity: d("0.1"), DurationSeconds: 600,
			})
			errCh <- err
		}(u)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
	for _, u := range users {
		assertLine(t, a.Ledger.Line(u, "USDT"), "5000", "5000")
	}

	sub := a.Bus.NewSubscriber()
	defer sub.Close()
	for _, u := range users {
		sub.Subscribe(events.UserTradesTopic(u))
	}

	_, err := a.Pricing.Override(ctx, "BTC", d("51000"))
	require.NoError(t, err)

	seen := map[string]decimal.Decimal{}
	deadline := time.After(3 * time.Second)
	for len(seen) < len(users) {
		select {
		case msg := <-sub.C():
			up, ok := msg.Payload.(events.TradeUpdate)
			require.True(t, ok)
			seen[msg.Topic] = up.UnrealizedPnL
		case <-deadline:
			t.Fatalf("got %d trade updates", len(seen))
		}
	}
	for _, u := range users {
		pnl, ok := seen[events.UserTradesTopic(u)]
		require.True(t, ok, u)
		assert.True(t, pnl.Equal(d("100")), pnl.String())
		assertLine(t, a.Ledger.Line(u, "USDT"), "5000", "5000")
	}
}

func TestActiveTradesSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.db")
	ctx := context.Background()

	a, err := New(ctx, Options{Config: testConfig(path), Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	a.fund(t, "u1", "USDT", "1000")
	tr, err := a.Trading.OpenTrade(ctx, trading.OpenRequest{
		UserID: "u1", Symbol: "BTC", Side: trading.SideBuy, Quantity: d("0.01"), DurationSeconds: 600,
	})
	require.NoError(t, err)
	require.NoError(t, a.Shutdown(ctx))

	b := newTestApp(t, path)
	require.NoError(t, b.startEngines(ctx))
	assert.True(t, b.Trading.HasActive("u1"))
	assertLine(t, b.Ledger.Line("u1", "USDT"), "500", "500")

	closed, err := b.Trading.CloseTrade(ctx, "u1", tr.ID)
	require.NoError(t, err)
	assert.Equal(t, trading.ReasonEarlyClose, closed.ResolutionReason)
	assertLine(t, b.Ledger.Line("u1", "USDT"), "1000", "0")
}

func TestUnknownOracleKindFails(t *testing.T) {
	cfg := testConfig(":memory:")
	cfg.OracleKind = "carrier-pigeon"
	_, err := New(context.Background(), Options{Config: cfg, Logger: zap.NewNop()})
	require.Error(t, err)
}
