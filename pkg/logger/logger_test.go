package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"incentive-pipeline/pkg/config"
)

func TestNewReplacesGlobalLogger(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	cfg := &config.Config{AppEnv: "production", AppName: "incentive-pipeline"}
	log := New(ConfigParams{Cfg: cfg})

	require.NotNil(t, log)
	require.Same(t, log, zap.L())
	require.False(t, log.Core().Enabled(zap.DebugLevel))
}

func TestNewDevelopmentLogsDebug(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	log := New(ConfigParams{Cfg: &config.Config{AppEnv: "development"}})
	require.True(t, log.Core().Enabled(zap.DebugLevel))
}
