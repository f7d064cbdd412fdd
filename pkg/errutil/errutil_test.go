package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestConstructorsKeepCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := ServiceUnavailable("source unreachable", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, StatusServiceUnavailable, StatusOf(err))
	require.Contains(t, err.Error(), "connection refused")

	wrapped := fmt.Errorf("extract: %w", err)
	require.Equal(t, StatusServiceUnavailable, StatusOf(wrapped))
	require.Equal(t, StatusUnknown, StatusOf(cause))
}

func TestStatusMappings(t *testing.T) {
	require.Equal(t, http.StatusConflict, StatusConflict.HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, StatusUnknown.HTTPStatus())
	require.Equal(t, StatusTooManyRequests, FromHTTPStatus(http.StatusTooManyRequests))
	require.Equal(t, StatusInternal, FromHTTPStatus(http.StatusHTTPVersionNotSupported))
	require.Equal(t, StatusConflict, FromGRPCCode(codes.AlreadyExists))
	require.True(t, StatusServiceUnavailable.Retryable())
	require.False(t, StatusBadRequest.Retryable())
}

func TestToGRPCError(t *testing.T) {
	require.NoError(t, ToGRPCError(nil))

	st, ok := status.FromError(ToGRPCError(NotFound("campaign not found", nil)))
	require.True(t, ok)
	require.Equal(t, codes.NotFound, st.Code())

	st, _ = status.FromError(ToGRPCError(context.DeadlineExceeded))
	require.Equal(t, codes.DeadlineExceeded, st.Code())
}
