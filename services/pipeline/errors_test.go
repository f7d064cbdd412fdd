package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"incentive-pipeline/pkg/errutil"
)

func TestKindsMatchWithErrorsIs(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("extract: %w", SourceUnavailable("connect source", cause))

	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.NotErrorIs(t, err, ErrConfiguration)
	require.ErrorIs(t, err, cause)
	require.Equal(t, ErrSourceUnavailable, KindOf(err))
	require.Equal(t, errutil.StatusServiceUnavailable, errutil.StatusOf(err))

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, "connect source", be.Message)
}

func TestRetryable(t *testing.T) {
	require.False(t, Retryable(nil))
	require.False(t, Retryable(Configuration("missing rule set", nil)))
	require.True(t, Retryable(SourceUnavailable("down", nil)))
	require.True(t, Retryable(Persistence("write failed", nil)))
	require.True(t, Retryable(Accrual(errutil.StatusServiceUnavailable, "ledger down", nil)))
	require.False(t, Retryable(Accrual(errutil.StatusBadRequest, "rejected", nil)))
	require.True(t, Retryable(errors.New("unclassified")))
}
