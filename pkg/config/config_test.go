package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	require.Equal(t, "incentive-pipeline", cfg.AppName)
	require.Equal(t, int64(1), cfg.NodeID)
	require.Equal(t, "grpc", cfg.Ledger.Transport)
	require.Equal(t, 10*time.Second, cfg.Ledger.Timeout)
	require.Equal(t, uint64(3), cfg.Ledger.MaxRetries)
	require.Equal(t, 4, cfg.Pipeline.Concurrency)
	require.Equal(t, time.Hour, cfg.Pipeline.ScheduleInterval)
	require.Equal(t, "memory", cfg.Pipeline.LockBackend)
	require.True(t, cfg.Pipeline.MarkIneligible)
	require.True(t, cfg.Database.AutoMigrate)
	require.False(t, cfg.Otel.Enable)
}

func TestEnvOverridesNestedKey(t *testing.T) {
	t.Setenv("PIPELINE_BATCH_SIZE", "50")

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.Equal(t, 50, cfg.Pipeline.BatchSize)
}
