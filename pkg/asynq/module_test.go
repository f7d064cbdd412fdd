package asynq

import (
	"testing"

	"github.com/stretchr/testify/require"

	"incentive-pipeline/pkg/config"
)

func TestQueues(t *testing.T) {
	cfg := &config.Config{}
	require.Equal(t, map[string]int{DefaultQueue: 6, "default": 3}, Queues(cfg))

	cfg.Pipeline.Queue = "incentives"
	q := Queues(cfg)
	require.Contains(t, q, "incentives")
	require.NotContains(t, q, DefaultQueue)
}
