// Package settings holds the process-wide TradingSettings singleton.
package settings

import (
	"time"

	"simtrade-core/internal/errs"
)

// Outcome modes.
const (
	OutcomeProbabilistic = "probabilistic"
	OutcomeMarket        = "market"
)

// Profit/loss modes for natural price motion.
const (
	PLRandom = "random"
	PLBiased = "biased"
)

// TradingSettings are the administrator-tunable simulation parameters.
type TradingSettings struct {
	TradingEnabled               bool    `yaml:"trading_enabled" json:"trading_enabled"`
	MaintenanceMode              bool    `yaml:"maintenance_mode" json:"maintenance_mode"`
	PriceUpdateFrequencySeconds  int     `yaml:"price_update_frequency_seconds" json:"price_update_frequency_seconds"`
	InstrumentBatchSize          int     `yaml:"instrument_batch_size" json:"instrument_batch_size"`
	OutcomeMode                  string  `yaml:"outcome_mode" json:"outcome_mode"`
	ActiveWinRatePercent         float64 `yaml:"active_win_rate_percent" json:"active_win_rate_percent"`
	ActiveProfitPercent          float64 `yaml:"active_profit_percent" json:"active_profit_percent"`
	ActiveLossPercent            float64 `yaml:"active_loss_percent" json:"active_loss_percent"`
	IdleProfitPercent            float64 `yaml:"idle_profit_percent" json:"idle_profit_percent"`
	IdleDurationSeconds          int     `yaml:"idle_duration_seconds" json:"idle_duration_seconds"`
	ProfitLossMode               string  `yaml:"profit_loss_mode" json:"profit_loss_mode"`
	HouseEdgeTargetPercent       float64 `yaml:"house_edge_target_percent" json:"house_edge_target_percent"`
	UseRealPrices                bool    `yaml:"use_real_prices" json:"use_real_prices"`
	MaxLossFraction              float64 `yaml:"max_loss_fraction" json:"max_loss_fraction"`
	EarlyCloseEnabled            bool    `yaml:"early_close_enabled" json:"early_close_enabled"`
	SubscriberQueueDepth         int     `yaml:"subscriber_queue_depth" json:"subscriber_queue_depth"`
	RequestTimeoutSeconds        int     `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
	ScenarioTopN                 int     `yaml:"scenario_top_n" json:"scenario_top_n"`
	DepositTTLSeconds            int     `yaml:"deposit_ttl_seconds" json:"deposit_ttl_seconds"`
	DefaultQuoteSymbol           string  `yaml:"default_quote_symbol" json:"default_quote_symbol"`
	ReplayRetentionSeconds       int     `yaml:"replay_retention_seconds" json:"replay_retention_seconds"`
	MarketSummaryIntervalSeconds int     `yaml:"market_summary_interval_seconds" json:"market_summary_interval_seconds"`
}

// Defaults returns the built-in settings.
func Defaults() TradingSettings {
	return TradingSettings{
		TradingEnabled:               true,
		MaintenanceMode:              false,
		PriceUpdateFrequencySeconds:  5,
		InstrumentBatchSize:          20,
		OutcomeMode:                  OutcomeProbabilistic,
		ActiveWinRatePercent:         50,
		ActiveProfitPercent:          80,
		ActiveLossPercent:            100,
		IdleProfitPercent:            0,
		IdleDurationSeconds:          3600,
		ProfitLossMode:               PLRandom,
		HouseEdgeTargetPercent:       10,
		UseRealPrices:                false,
		MaxLossFraction:              1,
		EarlyCloseEnabled:            true,
		SubscriberQueueDepth:         256,
		RequestTimeoutSeconds:        5,
		ScenarioTopN:                 20,
		DepositTTLSeconds:            86400,
		DefaultQuoteSymbol:           "USDT",
		ReplayRetentionSeconds:       120,
		MarketSummaryIntervalSeconds: 30,
	}
}

// Validate rejects settings the engine cannot run with.
func (s TradingSettings) Validate() error {
	switch {
	case s.PriceUpdateFrequencySeconds < 1:
		return errs.New(errs.InvalidArgument, "price_update_frequency_seconds must be >= 1")
	case s.InstrumentBatchSize < 1:
		return errs.New(errs.InvalidArgument, "instrument_batch_size must be >= 1")
	case s.OutcomeMode != OutcomeProbabilistic && s.OutcomeMode != OutcomeMarket:
		return errs.Newf(errs.InvalidArgument, "unknown outcome_mode %q", s.OutcomeMode)
	case s.ActiveWinRatePercent < 0 || s.ActiveWinRatePercent > 100:
		return errs.New(errs.InvalidArgument, "active_win_rate_percent must be in [0,100]")
	case s.ActiveProfitPercent < 0 || s.ActiveProfitPercent > 1000:
		return errs.New(errs.InvalidArgument, "active_profit_percent must be in [0,1000]")
	case s.ActiveLossPercent < 0 || s.ActiveLossPercent > 100:
		return errs.New(errs.InvalidArgument, "active_loss_percent must be in [0,100]")
	case s.IdleProfitPercent < 0:
		return errs.New(errs.InvalidArgument, "idle_profit_percent must be >= 0")
	case s.IdleDurationSeconds < 1:
		return errs.New(errs.InvalidArgument, "idle_duration_seconds must be >= 1")
	case s.ProfitLossMode != PLRandom && s.ProfitLossMode != PLBiased:
		return errs.Newf(errs.InvalidArgument, "unknown profit_loss_mode %q", s.ProfitLossMode)
	case s.HouseEdgeTargetPercent < 0 || s.HouseEdgeTargetPercent > 100:
		return errs.New(errs.InvalidArgument, "house_edge_target_percent must be in [0,100]")
	case s.MaxLossFraction < 0 || s.MaxLossFraction > 1:
		return errs.New(errs.InvalidArgument, "max_loss_fraction must be in [0,1]")
	case s.SubscriberQueueDepth < 1:
		return errs.New(errs.InvalidArgument, "subscriber_queue_depth must be >= 1")
	case s.RequestTimeoutSeconds < 1:
		return errs.New(errs.InvalidArgument, "request_timeout_seconds must be >= 1")
	case s.ScenarioTopN < 1:
		return errs.New(errs.InvalidArgument, "scenario_top_n must be >= 1")
	case s.DepositTTLSeconds < 1:
		return errs.New(errs.InvalidArgument, "deposit_ttl_seconds must be >= 1")
	case s.DefaultQuoteSymbol == "":
		return errs.New(errs.InvalidArgument, "default_quote_symbol is required")
	case s.ReplayRetentionSeconds < 60:
		return errs.New(errs.InvalidArgument, "replay_retention_seconds must be >= 60")
	case s.MarketSummaryIntervalSeconds < 1:
		return errs.New(errs.InvalidArgument, "market_summary_interval_seconds must be >= 1")
	}
	return nil
}

// TradingOpen reports whether new trades may be opened.
func (s TradingSettings) TradingOpen() bool {
	return s.TradingEnabled && !s.MaintenanceMode
}

// Tick is the scheduler cadence.
func (s TradingSettings) Tick() time.Duration {
	return time.Duration(s.PriceUpdateFrequencySeconds) * time.Second
}

// RequestTimeout bounds lock waits and trade opening.
func (s TradingSettings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// IdlePeriod is the idle accrual period.
func (s TradingSettings) IdlePeriod() time.Duration {
	return time.Duration(s.IdleDurationSeconds) * time.Second
}

// DepositTTL is how long a deposit stays pending.
func (s TradingSettings) DepositTTL() time.Duration {
	return time.Duration(s.DepositTTLSeconds) * time.Second
}

// ReplayRetention is the bus replay window.
func (s TradingSettings) ReplayRetention() time.Duration {
	return time.Duration(s.ReplayRetentionSeconds) * time.Second
}

// SummaryInterval is the market summary cadence.
func (s TradingSettings) SummaryInterval() time.Duration {
	return time.Duration(s.MarketSummaryIntervalSeconds) * time.Second
}
