package pricing

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/internal/events"
	"simtrade-core/internal/registry"
	"simtrade-core/internal/settings"
	"simtrade-core/pkg/db"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

type memScenarios struct {
	mu   sync.Mutex
	byID map[string]db.Scenario
}

func (m *memScenarios) ActiveScenarios(context.Context) ([]db.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Scenario
	for _, s := range m.byID {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memScenarios) SaveScenario(_ context.Context, s db.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ID] = s
	return nil
}

type memWriter struct {
	mu    sync.Mutex
	stmts []db.Stmt
}

func (w *memWriter) Write(s db.Stmt) {
	w.mu.Lock()
	w.stmts = append(w.stmts, s)
	w.mu.Unlock()
}

type stubOracle struct {
	prices map[string]decimal.Decimal
	err    error
}

func (o stubOracle) Name() string { return "stub" }
func (o stubOracle) Prices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return o.prices, o.err
}

type fixture struct {
	reg       *registry.Registry
	bus       *events.Bus
	writer    *memWriter
	scenarios *memScenarios
	settings  settings.TradingSettings
	engine    *Engine
}

func newFixture(t *testing.T, rng Rand, symbols ...string) *fixture {
	t.Helper()
	f := &fixture{
		reg:       registry.New(nil, nil, zap.NewNop()),
		bus:       events.NewBus(zap.NewNop()),
		writer:    &memWriter{},
		scenarios: &memScenarios{byID: map[string]db.Scenario{}},
		settings:  settings.Defaults(),
	}
	for i, sym := range symbols {
		_, err := f.reg.Upsert(context.Background(), db.Instrument{
			Symbol: sym, Rank: i + 1, IsActive: true, IsTradeable: true,
			CurrentPrice: decimal.NewFromInt(1000), Categories: []string{"layer1"},
		})
		require.NoError(t, err)
	}
	f.engine = New(Options{
		Registry:  f.reg,
		Settings:  func() settings.TradingSettings { return f.settings },
		Publisher: f.bus,
		Writer:    f.writer,
		Scenarios: f.scenarios,
		Rand:      rng,
		Logger:    zap.NewNop(),
	})
	return f
}

func TestVolatilityTable(t *testing.T) {
	cases := []struct {
		inst db.Instrument
		want float64
	}{
		{db.Instrument{IsStablecoin: true}, 0.1},
		{db.Instrument{IsStablecoin: true, VolatilityClass: 3}, 0.1},
		{db.Instrument{Categories: []string{"store-of-value"}}, 2},
		{db.Instrument{Categories: []string{"Layer_1"}}, 3},
		{db.Instrument{Categories: []string{"defi"}}, 5},
		{db.Instrument{Categories: []string{"meme"}}, 10},
		{db.Instrument{Categories: []string{"exchange"}}, 3.5},
		{db.Instrument{Categories: []string{"privacy"}}, 4.5},
		{db.Instrument{Categories: []string{"gaming"}}, 6},
		{db.Instrument{Categories: []string{"nft"}}, 7},
		{db.Instrument{Categories: []string{"unknown"}}, 4},
		{db.Instrument{Categories: []string{"meme"}, VolatilityClass: 1.5}, 1.5},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Volatility(c.inst), "%+v", c.inst)
	}
}

func TestNaturalDeltaBounded(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	inst := db.Instrument{Categories: []string{"meme"}}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5000; i++ {
		d := NaturalDelta(inst, start.Add(time.Duration(i)*time.Minute), rng)
		assert.LessOrEqual(t, d, 20.0)
		assert.GreaterOrEqual(t, d, -20.0)
	}
}

func TestTickRotatesBatches(t *testing.T) {
	f := newFixture(t, fixedRand(0.75), "A", "B", "C", "D", "E")
	f.settings.InstrumentBatchSize = 2
	sub := f.bus.NewSubscriber()
	sub.SubscribePrefix(events.PricePrefix)

	var touched []string
	for i := 0; i < 3; i++ {
		res, err := f.engine.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, res.Processed)
	}
	for len(sub.C()) > 0 {
		msg := <-sub.C()
		touched = append(touched, msg.Payload.(events.PriceEvent).Symbol)
	}
	assert.Equal(t, []string{"A", "B", "C", "D", "E", "A"}, touched)
	assert.Len(t, f.writer.stmts, 6)
}

func TestTickSkipsInactive(t *testing.T) {
	f := newFixture(t, fixedRand(0.5), "A", "B")
	require.NoError(t, f.reg.Deactivate(context.Background(), "B"))
	res, err := f.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	b, _ := f.reg.Get("B")
	assert.Equal(t, "1000", b.CurrentPrice.String())
}

func TestTickNeverBreaksFloor(t *testing.T) {
	f := newFixture(t, fixedRand(0), "A")
	_, err := f.engine.Override(context.Background(), "A", decimal.RequireFromString("0.000001"))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := f.engine.Tick(context.Background())
		require.NoError(t, err)
	}
	a, _ := f.reg.Get("A")
	assert.True(t, a.CurrentPrice.GreaterThanOrEqual(decimal.RequireFromString("0.000001")))
}

func TestOracleFailureSkipsBatch(t *testing.T) {
	f := newFixture(t, fixedRand(0.5), "BTC", "ETH")
	f.settings.UseRealPrices = true
	f.engine.oracle = stubOracle{err: errors.New("connection refused")}

	res, err := f.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	btc, _ := f.reg.Get("BTC")
	assert.Equal(t, "1000", btc.CurrentPrice.String())

	f.engine.oracle = stubOracle{prices: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(64000)}}
	res, err = f.engine.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MoveOracle, res.Source)
	assert.Equal(t, 1, res.Processed)
	btc, _ = f.reg.Get("BTC")
	assert.Equal(t, "64000", btc.CurrentPrice.String())
}

func TestScenarioAppliesOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	f := newFixture(t, fixedRand(0.5), "ETH")
	_, err := f.engine.Override(ctx, "ETH", decimal.NewFromInt(3000))
	require.NoError(t, err)
	f.writer.stmts = nil

	sub := f.bus.NewSubscriber()
	sub.Subscribe(events.PriceTopic("ETH"))

	s, err := f.engine.CreateScenario(ctx, db.Scenario{Name: "pump", Target: "ETH", PercentageChange: 10, ScheduledFor: now})
	require.NoError(t, err)

	res, err := f.engine.RunDueScenarios(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	eth, _ := f.reg.Get("ETH")
	assert.Equal(t, "3300", eth.CurrentPrice.String())
	require.Len(t, f.writer.stmts, 1)
	assert.Equal(t, MoveScenario, f.writer.stmts[0].Args[4])

	require.Len(t, sub.C(), 1)
	ev := (<-sub.C()).Payload.(events.PriceEvent)
	assert.InDelta(t, 10, ev.ChangePct, 1e-9)
	assert.Equal(t, s.ID, ev.ScenarioID)
	assert.Equal(t, WindowsProxy, ev.Windows)

	res, err = f.engine.RunDueScenarios(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, res.Executed)
	assert.False(t, f.scenarios.byID[s.ID].IsActive)
}

func TestTickLeavesDueScenarioTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixedRand(0.9), "BTC", "ETH")
	_, err := f.engine.CreateScenario(ctx, db.Scenario{Name: "pump", Target: "ETH", PercentageChange: 10,
		ScheduledFor: time.Now().Add(-time.Second)})
	require.NoError(t, err)
	_, err = f.engine.CreateScenario(ctx, db.Scenario{Name: "later", Target: "BTC", PercentageChange: 10,
		ScheduledFor: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	res, err := f.engine.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Deferred)
	eth, _ := f.reg.Get("ETH")
	assert.Equal(t, "1000", eth.CurrentPrice.String())
	btc, _ := f.reg.Get("BTC")
	assert.NotEqual(t, "1000", btc.CurrentPrice.String())

	sc, err := f.engine.RunDueScenarios(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, sc.Applied)
	eth, _ = f.reg.Get("ETH")
	assert.Equal(t, "1100", eth.CurrentPrice.String())

	res, err = f.engine.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Deferred)
}

func TestRepeatingScenarioAdvancesUntilExpiry(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, fixedRand(0.5), "A", "B", "C")
	f.settings.ScenarioTopN = 2

	s, err := f.engine.CreateScenario(ctx, db.Scenario{
		Target: TargetAll, PercentageChange: -50, ScheduledFor: start,
		RepeatIntervalSeconds: 60, ExpiresAt: start.Add(90 * time.Second),
	})
	require.NoError(t, err)

	res, err := f.engine.RunDueScenarios(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.True(t, f.scenarios.byID[s.ID].ScheduledFor.Equal(start.Add(time.Minute)))

	res, err = f.engine.RunDueScenarios(ctx, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.False(t, f.scenarios.byID[s.ID].IsActive)

	a, _ := f.reg.Get("A")
	c, _ := f.reg.Get("C")
	assert.Equal(t, "250", a.CurrentPrice.String())
	assert.Equal(t, "1000", c.CurrentPrice.String())
}

func TestCreateScenarioValidation(t *testing.T) {
	f := newFixture(t, fixedRand(0.5), "A")
	_, err := f.engine.CreateScenario(context.Background(), db.Scenario{Target: "ZZZ", PercentageChange: 1})
	assert.ErrorIs(t, err, errs.ErrUnknownSymbol)
	_, err = f.engine.CreateScenario(context.Background(), db.Scenario{Target: "A", PercentageChange: -100})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	assert.ErrorIs(t, f.engine.CancelScenario(context.Background(), "missing"), errs.ErrNotFound)
}

type exposure map[string]decimal.Decimal

func (e exposure) NetExposure(symbol string) decimal.Decimal { return e[symbol] }

func TestExposureBias(t *testing.T) {
	exp := exposure{"LONG": decimal.NewFromInt(500), "SHORT": decimal.NewFromInt(-500)}
	always := NewExposureBias(exp, func() float64 { return 100 }, fixedRand(0.5))
	never := NewExposureBias(exp, func() float64 { return 0 }, fixedRand(0.5))

	assert.Equal(t, -2.0, always.Adjust("LONG", 2))
	assert.Equal(t, -2.0, always.Adjust("LONG", -2))
	assert.Equal(t, 2.0, always.Adjust("SHORT", -2))
	assert.Equal(t, 2.0, always.Adjust("FLAT", 2))
	assert.Equal(t, 2.0, never.Adjust("LONG", 2))
}

func TestBiasOnlyInBiasedMode(t *testing.T) {
	exp := exposure{"A": decimal.NewFromInt(1000)}
	f := newFixture(t, fixedRand(0.99), "A")
	f.engine.bias = NewExposureBias(exp, func() float64 { return 100 }, fixedRand(0))

	_, err := f.engine.Tick(context.Background())
	require.NoError(t, err)
	a, _ := f.reg.Get("A")
	assert.True(t, a.CurrentPrice.GreaterThan(decimal.NewFromInt(1000)))

	f.settings.ProfitLossMode = settings.PLBiased
	_, err = f.engine.Tick(context.Background())
	require.NoError(t, err)
	b, _ := f.reg.Get("A")
	assert.True(t, b.CurrentPrice.LessThan(a.CurrentPrice))
}

func TestSummaryLeaders(t *testing.T) {
	f := newFixture(t, fixedRand(0.5), "UP", "DOWN", "FLAT")
	_, _ = f.engine.Override(context.Background(), "UP", decimal.NewFromInt(1100))
	_, _ = f.engine.Override(context.Background(), "DOWN", decimal.NewFromInt(900))

	sum := f.engine.Summary(3)
	assert.Equal(t, 3, sum.Instruments)
	assert.Equal(t, 3, sum.ActiveTrades)
	require.Len(t, sum.TopGainers, 1)
	assert.Equal(t, "UP", sum.TopGainers[0].Symbol)
	require.Len(t, sum.TopLosers, 1)
	assert.Equal(t, "DOWN", sum.TopLosers[0].Symbol)
}
