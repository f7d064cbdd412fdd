package profiling

import (
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/require"

	"incentive-pipeline/pkg/config"
)

func TestNewConfig(t *testing.T) {
	cfg := &config.Config{AppName: "incentive-pipeline", AppEnv: "staging"}
	cfg.Pyroscope.Addr = "http://pyroscope:4040"

	pc := NewConfig(cfg)
	require.Equal(t, "incentive-pipeline", pc.ApplicationName)
	require.Equal(t, "http://pyroscope:4040", pc.ServerAddress)
	require.Contains(t, pc.ProfileTypes, pyroscope.ProfileCPU)
	require.Equal(t, "staging", pc.Tags["env"])
}

func TestProvideProfilingDisabled(t *testing.T) {
	require.NoError(t, ProvideProfiling(nil, &config.Config{}))
}
