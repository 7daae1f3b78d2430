package settings

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Persister stores the settings row.
type Persister interface {
	LoadSettings(ctx context.Context) (string, bool, error)
	SaveSettings(ctx context.Context, payload string, now time.Time) error
}

// Store serves the current settings lock-free and serializes updates.
type Store struct {
	cur       atomic.Pointer[TradingSettings]
	db        Persister
	mu        sync.Mutex
	listeners []func(TradingSettings)
	log       *zap.Logger
}

// NewStore starts from Defaults. db may be nil for in-memory use.
func NewStore(db Persister, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{db: db, log: log.With(zap.String("component", "settings"))}
	d := Defaults()
	s.cur.Store(&d)
	return s
}

// LoadYAML reads a settings seed file, overlaying it on Defaults.
func LoadYAML(path string) (TradingSettings, error) {
	out := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, errors.Wrapf(err, "parse %s", path)
	}
	return out, nil
}

// Load picks the persisted row first, then the YAML seed at seedPath, then
// Defaults. A seed that is used gets persisted.
func (s *Store) Load(ctx context.Context, seedPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		payload, ok, err := s.db.LoadSettings(ctx)
		if err != nil {
			return err
		}
		if ok {
			next := Defaults()
			if err := json.Unmarshal([]byte(payload), &next); err != nil {
				return errors.Wrap(err, "decode persisted settings")
			}
			if err := next.Validate(); err != nil {
				return err
			}
			s.store(next)
			s.log.Info("⚙️ settings loaded from database")
			return nil
		}
	}

	next := Defaults()
	if seedPath != "" {
		seeded, err := LoadYAML(seedPath)
		switch {
		case err == nil:
			next = seeded
			s.log.Info("⚙️ settings seeded from file", zap.String("path", seedPath))
		case os.IsNotExist(errors.Cause(err)):
			s.log.Info("⚙️ no settings seed, using defaults", zap.String("path", seedPath))
		default:
			return err
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.store(next)
	return nil
}

// Get returns the current settings.
func (s *Store) Get() TradingSettings {
	return *s.cur.Load()
}

// Update applies fn to a copy, validates, persists and publishes it.
func (s *Store) Update(ctx context.Context, fn func(*TradingSettings)) (TradingSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.cur.Load()
	fn(&next)
	if err := next.Validate(); err != nil {
		return s.Get(), err
	}
	if err := s.persist(ctx, next); err != nil {
		return s.Get(), err
	}
	s.store(next)
	s.log.Info("⚙️ settings updated",
		zap.Bool("trading_enabled", next.TradingEnabled),
		zap.Bool("maintenance_mode", next.MaintenanceMode),
		zap.String("outcome_mode", next.OutcomeMode),
		zap.Float64("win_rate", next.ActiveWinRatePercent))
	return next, nil
}

// Replace swaps in a complete settings value.
func (s *Store) Replace(ctx context.Context, next TradingSettings) (TradingSettings, error) {
	return s.Update(ctx, func(cur *TradingSettings) { *cur = next })
}

// OnChange registers fn to run after every successful load or update.
func (s *Store) OnChange(fn func(TradingSettings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) store(next TradingSettings) {
	s.cur.Store(&next)
	for _, fn := range s.listeners {
		fn(next)
	}
}

func (s *Store) persist(ctx context.Context, next TradingSettings) error {
	if s.db == nil {
		return nil
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}
	return s.db.SaveSettings(ctx, string(payload), time.Now())
}
