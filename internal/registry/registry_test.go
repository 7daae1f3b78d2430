package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/pkg/db"
)

type recordingWriter struct {
	mu    sync.Mutex
	stmts []db.Stmt
}

func (w *recordingWriter) Write(s db.Stmt) {
	w.mu.Lock()
	w.stmts = append(w.stmts, s)
	w.mu.Unlock()
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(nil, nil, zap.NewNop())
	for _, i := range []db.Instrument{
		{Symbol: "BTC", Rank: 1, IsActive: true, IsTradeable: true, CurrentPrice: decimal.NewFromInt(50000), Categories: []string{"store_of_value"}},
		{Symbol: "ETH", Rank: 2, IsActive: true, IsTradeable: true, CurrentPrice: decimal.NewFromInt(3000)},
		{Symbol: "USDT", Rank: 3, IsActive: true, IsStablecoin: true, CurrentPrice: decimal.NewFromInt(1), VolatilityClass: 5},
		{Symbol: "AAA", Rank: 3, IsActive: true, IsTradeable: true, CurrentPrice: decimal.NewFromInt(2)},
	} {
		_, err := r.Upsert(context.Background(), i)
		require.NoError(t, err)
	}
	return r
}

func TestListOrdersByRankThenSymbol(t *testing.T) {
	r := newRegistry(t)
	var got []string
	for _, i := range r.List(Filter{}) {
		got = append(got, i.Symbol)
	}
	assert.Equal(t, []string{"BTC", "ETH", "AAA", "USDT"}, got)

	assert.Len(t, r.List(Filter{TradeableOnly: true}), 3)
	assert.Len(t, r.List(Filter{Category: "store_of_value"}), 1)
	assert.Len(t, r.TopRanked(2), 2)
}

func TestUpsertClampsStablecoinVolatility(t *testing.T) {
	r := newRegistry(t)
	usdt, ok := r.Get("USDT")
	require.True(t, ok)
	assert.Equal(t, StablecoinVolatility, usdt.VolatilityClass)
	assert.True(t, r.IsStablecoin("USDT"))
	assert.Equal(t, int32(8), r.Precision("USDT"))
}

func TestUpsertKeepsPriceWhenSeedHasNone(t *testing.T) {
	r := newRegistry(t)
	_, err := r.SetPrice("ETH", decimal.NewFromInt(3100), "natural", nil)
	require.NoError(t, err)

	next, err := r.Upsert(context.Background(), db.Instrument{Symbol: "ETH", DisplayName: "Ether", Rank: 2, IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, "3100", next.CurrentPrice.String())
	assert.Equal(t, "Ether", next.DisplayName)

	_, err = r.Upsert(context.Background(), db.Instrument{Symbol: "NEW"})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestSetPriceClampsAndBumpsVersion(t *testing.T) {
	w := &recordingWriter{}
	r := newRegistry(t)
	r.writer = w
	before, _ := r.Get("BTC")

	var published []string
	next, err := r.SetPrice("BTC", decimal.RequireFromString("0.0000000001"), "scenario", func(prev, next db.Instrument) {
		published = append(published, prev.CurrentPrice.String()+"->"+next.CurrentPrice.String())
	})
	require.NoError(t, err)

	assert.Equal(t, "0.000001", next.CurrentPrice.String())
	assert.Equal(t, before.Version+1, next.Version)
	assert.Equal(t, []string{"50000->0.000001"}, published)
	assert.InDelta(t, -100, next.Change24h, 0.001)
	assert.InDelta(t, -30, next.Change1h, 0.001)
	assert.InDelta(t, -300, next.Change30d, 0.001)
	assert.Len(t, w.stmts, 1)

	_, err = r.SetPrice("NOPE", decimal.NewFromInt(1), "natural", nil)
	assert.ErrorIs(t, err, errs.ErrUnknownSymbol)
}

func TestSetPriceOrderMatchesPublishOrder(t *testing.T) {
	r := newRegistry(t)
	var (
		mu       sync.Mutex
		observed []decimal.Decimal
		wg       sync.WaitGroup
	)
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.SetPrice("BTC", decimal.NewFromInt(int64(i)), "natural", func(_, next db.Instrument) {
				mu.Lock()
				observed = append(observed, next.CurrentPrice)
				mu.Unlock()
			})
		}(i)
	}
	wg.Wait()

	final, _ := r.Get("BTC")
	require.Len(t, observed, 50)
	assert.True(t, observed[len(observed)-1].Equal(final.CurrentPrice))
	assert.Equal(t, uint64(50), final.Version)
}

func TestDeactivate(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Deactivate(context.Background(), "ETH"))
	eth, _ := r.Get("ETH")
	assert.False(t, eth.IsActive)
	assert.False(t, eth.IsTradeable)
	assert.True(t, r.Known("ETH"))
	assert.ErrorIs(t, r.Deactivate(context.Background(), "NOPE"), errs.ErrUnknownSymbol)
}

func TestBufferedPriceWriteKeepsDeactivation(t *testing.T) {
	ctx := context.Background()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	w := &recordingWriter{}
	r := New(database, w, zap.NewNop())
	_, err = r.Upsert(ctx, db.Instrument{Symbol: "ETH", Rank: 1, IsActive: true, IsTradeable: true,
		CurrentPrice: decimal.NewFromInt(3000)})
	require.NoError(t, err)

	_, err = r.SetPrice("ETH", decimal.NewFromInt(3100), "natural", nil)
	require.NoError(t, err)
	require.NoError(t, r.Deactivate(ctx, "ETH"))
	require.NoError(t, database.Exec(ctx, w.stmts...))

	stored, err := database.ListInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.False(t, stored[0].IsActive)
	assert.False(t, stored[0].IsTradeable)
	assert.Equal(t, "3100", stored[0].CurrentPrice.String())
}

func TestSeedAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	path := filepath.Join(t.TempDir(), "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instruments:
  - symbol: BTC
    categories: [store_of_value]
    rank: 1
    price: "50000"
    circulating_supply: "19700000"
  - symbol: USDT
    stablecoin: true
    tradeable: false
    rank: 2
    price: "1"
wallets:
  - symbol: BTC
    address: bc1qexampleaddress
    min_confirmations: 2
    primary: true
`), 0o644))

	r := New(database, nil, zap.NewNop())
	wallets, err := r.Seed(ctx, path)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, "bc1qexampleaddress", wallets[0].Address)

	btc, ok := r.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, "985000000000", btc.MarketCap().String())
	usdt, _ := r.Get("USDT")
	assert.False(t, usdt.IsTradeable)

	reloaded := New(database, nil, zap.NewNop())
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 2, reloaded.Len())
	got, _ := reloaded.Get("BTC")
	assert.Equal(t, "50000", got.CurrentPrice.String())

	wallets, err = reloaded.Seed(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, wallets)
}
