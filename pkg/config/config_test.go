package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_PATH", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data/simtrade.db", cfg.DBPath)
	assert.Equal(t, 60*time.Second, cfg.TokenCacheTTL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "binance", cfg.OracleKind)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/x.db")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("ORACLE_KIND", "GRPC")
	t.Setenv("TOKEN_CACHE_TTL", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "grpc", cfg.OracleKind)
	assert.Equal(t, 5*time.Second, cfg.TokenCacheTTL)
}
