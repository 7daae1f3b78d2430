package pricing

import (
	"math"
	"strings"
	"time"

	"simtrade-core/internal/registry"
	"simtrade-core/pkg/db"
)

// DefaultVolatility applies to instruments without a known category.
const DefaultVolatility = 4.0

// volatilityTable is the per-tick volatility in percent by category.
var volatilityTable = map[string]float64{
	"stablecoin":   registry.StablecoinVolatility,
	"storeofvalue": 2,
	"layer1":       3,
	"defi":         5,
	"meme":         10,
	"exchange":     3.5,
	"privacy":      4.5,
	"gaming":       6,
	"nft":          7,
}

func normalizeCategory(c string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(c))
}

// Volatility returns the per-tick volatility of i in percent. An explicit
// volatility class wins over the category table; stablecoins never exceed
// the stablecoin ceiling.
func Volatility(i db.Instrument) float64 {
	vol := DefaultVolatility
	switch {
	case i.VolatilityClass > 0:
		vol = i.VolatilityClass
	case i.IsStablecoin:
		vol = registry.StablecoinVolatility
	default:
		for _, c := range i.Categories {
			if v, ok := volatilityTable[normalizeCategory(c)]; ok {
				vol = v
				break
			}
		}
	}
	if i.IsStablecoin && vol > registry.StablecoinVolatility {
		vol = registry.StablecoinVolatility
	}
	return vol
}

// dayFraction is the position of t within its UTC day in [0,1).
func dayFraction(t time.Time) float64 {
	t = t.UTC()
	secs := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return float64(secs) / 86400
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Sentiment is the market mood in [-1,1]: a daily sine plus noise.
func Sentiment(t time.Time, rng Rand) float64 {
	return clamp(0.3*math.Sin(2*math.Pi*dayFraction(t))+uniform(rng, -0.2, 0.2), -1, 1)
}

// NaturalDelta draws the percent change of one tick for i.
func NaturalDelta(i db.Instrument, t time.Time, rng Rand) float64 {
	maxChange := Volatility(i) * (Sentiment(t, rng) + 1)
	return uniform(rng, -1, 1) * maxChange
}

func uniform(rng Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}
