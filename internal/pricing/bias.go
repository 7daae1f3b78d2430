package pricing

import (
	"github.com/shopspring/decimal"
)

// ExposureSource reports signed open notional per symbol: long positive,
// short negative.
type ExposureSource interface {
	NetExposure(symbol string) decimal.Decimal
}

// ExposureBias flips a change that would favor the net open exposure with
// probability house_edge_target_percent/100. It is only consulted in
// profit_loss_mode=biased.
type ExposureBias struct {
	exposure ExposureSource
	edge     func() float64
	rng      Rand
}

// NewExposureBias builds the hook. edge returns the target in percent.
func NewExposureBias(exposure ExposureSource, edge func() float64, rng Rand) *ExposureBias {
	return &ExposureBias{exposure: exposure, edge: edge, rng: rng}
}

// Adjust implements Bias.
func (b *ExposureBias) Adjust(symbol string, delta float64) float64 {
	if b == nil || b.exposure == nil || delta == 0 {
		return delta
	}
	net := b.exposure.NetExposure(symbol)
	favorable := (net.IsPositive() && delta > 0) || (net.IsNegative() && delta < 0)
	if favorable && b.rng.Float64() < b.edge()/100 {
		return -delta
	}
	return delta
}
