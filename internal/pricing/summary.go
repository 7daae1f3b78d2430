package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"simtrade-core/internal/events"
	"simtrade-core/internal/registry"
)

const summaryLeaders = 5

// Summary builds the market rollup over active instruments.
func (e *Engine) Summary(activeTrades int) events.MarketSummary {
	list := e.reg.List(registry.Filter{ActiveOnly: true})
	sum := events.MarketSummary{
		Instruments:    len(list),
		TotalMarketCap: decimal.Zero,
		ActiveTrades:   activeTrades,
		At:             e.now(),
	}

	items := make([]events.SummaryItem, 0, len(list))
	for _, i := range list {
		sum.TotalMarketCap = sum.TotalMarketCap.Add(i.MarketCap())
		if i.IsStablecoin {
			continue
		}
		items = append(items, events.SummaryItem{Symbol: i.Symbol, Price: i.CurrentPrice, Change24h: i.Change24h})
	}

	sort.SliceStable(items, func(a, b int) bool { return items[a].Change24h > items[b].Change24h })
	for _, it := range items {
		if len(sum.TopGainers) == summaryLeaders || it.Change24h <= 0 {
			break
		}
		sum.TopGainers = append(sum.TopGainers, it)
	}
	for k := len(items) - 1; k >= 0; k-- {
		if len(sum.TopLosers) == summaryLeaders || items[k].Change24h >= 0 {
			break
		}
		sum.TopLosers = append(sum.TopLosers, items[k])
	}
	return sum
}

// PublishSummary publishes Summary on market.summary.
func (e *Engine) PublishSummary(activeTrades int) events.MarketSummary {
	sum := e.Summary(activeTrades)
	if e.pub != nil {
		e.pub.Publish(events.MarketSummaryTopic, events.TypeMarketSummary, sum)
	}
	return sum
}
