package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://retail@localhost/retail")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.StockLockTimeout)
	require.Equal(t, 3, cfg.StockTxRetries)
	require.Equal(t, "*/5 * * * *", cfg.ReservationSweepCron)
	require.Equal(t, 24*time.Hour, cfg.ReservationExpiringWindow)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidStockSettings(t *testing.T) {
	t.Setenv("STOCK_TX_RETRIES", "0")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "STOCK_TX_RETRIES")

	t.Setenv("STOCK_TX_RETRIES", "2")
	t.Setenv("STOCK_LOCK_TIMEOUT", "0s")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "STOCK_LOCK_TIMEOUT")
}
