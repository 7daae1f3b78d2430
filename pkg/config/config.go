package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the simulator process.
// Trading parameters live in TradingSettings, not here.
type Config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"*"`
	Version    string `env:"APP_VERSION" envDefault:"v1.0-dev"`

	// Per-IP HTTP rate limit.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"20"`
	RateBurst int     `env:"RATE_BURST" envDefault:"50"`

	// Database
	DBPath       string `env:"DB_PATH"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/simtrade.db"`

	// Seeds
	SettingsPath string `env:"SETTINGS_PATH" envDefault:"./settings.yaml"`
	SeedPath     string `env:"SEED_PATH" envDefault:"./instruments.yaml"`

	// Auth oracle
	JWTSecret     string        `env:"JWT_SECRET" envDefault:"dev-secret"`
	TokenCacheTTL time.Duration `env:"TOKEN_CACHE_TTL" envDefault:"60s"`

	// Notifications; empty brokers falls back to the log sink.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"simtrade.notifications"`

	// Real price oracle, used when use_real_prices is on.
	OracleKind     string        `env:"ORACLE_KIND" envDefault:"binance"` // binance | grpc
	OracleAddr     string        `env:"ORACLE_ADDR" envDefault:"localhost:50051"`
	OracleTimeout  time.Duration `env:"ORACLE_TIMEOUT" envDefault:"3s"`
	BinanceBaseURL string        `env:"BINANCE_BASE_URL" envDefault:"https://api.binance.com"`
	OracleQuote    string        `env:"ORACLE_QUOTE" envDefault:"USDT"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Localization
	Language string `env:"LANGUAGE" envDefault:"en"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	if cfg.DBPath == "" {
		cfg.DBPath = cfg.DatabasePath
	}
	cfg.KafkaBrokers = splitAndTrim(strings.Join(cfg.KafkaBrokers, ","))
	cfg.OracleKind = strings.ToLower(cfg.OracleKind)

	return &cfg, nil
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
