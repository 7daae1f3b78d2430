package registry

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"simtrade-core/pkg/db"
	"simtrade-core/pkg/money"
)

// StablecoinVolatility is the per-tick volatility ceiling of stablecoins,
// in percent.
const StablecoinVolatility = 0.1

// SeedFile is the instruments.yaml layout.
type SeedFile struct {
	Instruments []SeedInstrument `yaml:"instruments"`
	Wallets     []SeedWallet     `yaml:"wallets"`
}

// SeedInstrument is one catalog entry. Decimals are strings to keep them
// exact.
type SeedInstrument struct {
	Symbol            string   `yaml:"symbol"`
	DisplayName       string   `yaml:"display_name"`
	Categories        []string `yaml:"categories"`
	Stablecoin        bool     `yaml:"stablecoin"`
	Tradeable         *bool    `yaml:"tradeable"`
	Rank              int      `yaml:"rank"`
	VolatilityClass   float64  `yaml:"volatility_class"`
	Precision         int32    `yaml:"precision"`
	Price             string   `yaml:"price"`
	CirculatingSupply string   `yaml:"circulating_supply"`
	Volume24h         string   `yaml:"volume_24h"`
}

// SeedWallet is one deposit address.
type SeedWallet struct {
	Symbol           string `yaml:"symbol"`
	Address          string `yaml:"address"`
	MinConfirmations int    `yaml:"min_confirmations"`
	Primary          bool   `yaml:"primary"`
}

// ParseSeed decodes a seed document.
func ParseSeed(data []byte) (SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return SeedFile{}, errors.Wrap(err, "parse instrument seed")
	}
	return f, nil
}

func (s SeedInstrument) instrument() (db.Instrument, error) {
	i := db.Instrument{
		Symbol:          s.Symbol,
		DisplayName:     s.DisplayName,
		Categories:      s.Categories,
		IsStablecoin:    s.Stablecoin,
		IsTradeable:     s.Tradeable == nil || *s.Tradeable,
		IsActive:        true,
		Rank:            s.Rank,
		VolatilityClass: s.VolatilityClass,
		Precision:       s.Precision,
	}
	if i.DisplayName == "" {
		i.DisplayName = s.Symbol
	}
	var err error
	if i.CurrentPrice, err = money.Parse(s.Price); err != nil {
		return i, errors.Wrapf(err, "%s price", s.Symbol)
	}
	if s.CirculatingSupply != "" {
		if i.CirculatingSupply, err = money.Parse(s.CirculatingSupply); err != nil {
			return i, errors.Wrapf(err, "%s circulating_supply", s.Symbol)
		}
	}
	if s.Volume24h != "" {
		if i.Volume24h, err = money.Parse(s.Volume24h); err != nil {
			return i, errors.Wrapf(err, "%s volume_24h", s.Symbol)
		}
	}
	return i, nil
}

// Seed loads path and upserts every instrument not yet known, so restarts
// keep live prices. It returns the wallets for the funding service. A
// missing file is not an error.
func (r *Registry) Seed(ctx context.Context, path string) ([]db.DepositWallet, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		r.log.Info("no instrument seed", zap.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read instrument seed")
	}
	f, err := ParseSeed(data)
	if err != nil {
		return nil, err
	}

	added := 0
	for _, s := range f.Instruments {
		if r.Known(s.Symbol) {
			continue
		}
		i, err := s.instrument()
		if err != nil {
			return nil, err
		}
		if _, err := r.Upsert(ctx, i); err != nil {
			return nil, err
		}
		added++
	}

	wallets := make([]db.DepositWallet, 0, len(f.Wallets))
	for _, w := range f.Wallets {
		wallets = append(wallets, db.DepositWallet{
			Symbol:           w.Symbol,
			Address:          w.Address,
			MinConfirmations: w.MinConfirmations,
			IsPrimary:        w.Primary,
			IsActive:         true,
		})
	}
	r.log.Info("🌱 instrument seed applied", zap.String("path", path),
		zap.Int("added", added), zap.Int("wallets", len(wallets)))
	return wallets, nil
}
