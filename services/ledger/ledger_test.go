package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/services/pipeline"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type ledgerClientMock struct {
	ledgerv1.LedgerServiceClient
	addEntryFn func(ctx context.Context, in *ledgerv1.AddEntryRequest) (*ledgerv1.LedgerEntry, error)
}

func (m *ledgerClientMock) AddEntry(ctx context.Context, in *ledgerv1.AddEntryRequest, _ ...grpc.CallOption) (*ledgerv1.LedgerEntry, error) {
	return m.addEntryFn(ctx, in)
}

func request() AccrualRequest {
	return AccrualRequest{
		ParticipantID:  "u1",
		PointType:      "loyalty",
		Points:         3,
		IdempotencyKey: "rec-1",
		LedgerTenantID: "t1",
		APIKey:         "key",
		Description:    "campaign c1",
	}
}

func TestGRPCAccrue(t *testing.T) {
	var got *ledgerv1.AddEntryRequest
	var apiKey []string
	a := NewGRPCAccruer(&ledgerClientMock{addEntryFn: func(ctx context.Context, in *ledgerv1.AddEntryRequest) (*ledgerv1.LedgerEntry, error) {
		got = in
		md, _ := metadata.FromOutgoingContext(ctx)
		apiKey = md.Get("x-api-key")
		return &ledgerv1.LedgerEntry{Id: "e1", ReferenceId: in.GetReferenceId(), Amount: in.GetAmount()}, nil
	}})

	res, err := a.Accrue(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, res.Status)
	require.Contains(t, string(res.Response), "rec-1")

	require.Equal(t, "t1", got.GetTenantId())
	require.Equal(t, "u1", got.GetMemberId())
	require.Equal(t, ledgerv1.EntryType_CREDIT, got.GetType())
	require.EqualValues(t, 3, got.GetAmount())
	require.Equal(t, "rec-1", got.GetReferenceId())
	require.Equal(t, "loyalty", got.GetMetadata()["point_type"])
	require.Equal(t, []string{"key"}, apiKey)
}

func TestGRPCAccrueDuplicateIsSuccess(t *testing.T) {
	for name, err := range map[string]error{
		"already exists code": status.Error(codes.AlreadyExists, "duplicate"),
		"bad request message": status.Error(codes.InvalidArgument, "[bad_request] reference_id already exists"),
	} {
		t.Run(name, func(t *testing.T) {
			a := NewGRPCAccruer(&ledgerClientMock{addEntryFn: func(context.Context, *ledgerv1.AddEntryRequest) (*ledgerv1.LedgerEntry, error) {
				return nil, err
			}})
			res, aerr := a.Accrue(context.Background(), request())
			require.NoError(t, aerr)
			require.Equal(t, StatusDuplicate, res.Status)
		})
	}
}

func TestGRPCAccrueFailure(t *testing.T) {
	a := NewGRPCAccruer(&ledgerClientMock{addEntryFn: func(context.Context, *ledgerv1.AddEntryRequest) (*ledgerv1.LedgerEntry, error) {
		return nil, status.Error(codes.Unavailable, "ledger down")
	}})

	_, err := a.Accrue(context.Background(), request())
	require.ErrorIs(t, err, pipeline.ErrAccrual)
	require.Equal(t, errutil.StatusServiceUnavailable, errutil.StatusOf(err))
	require.True(t, pipeline.Retryable(err))
}

func TestAccrueRejectsInvalidRequest(t *testing.T) {
	a := NewGRPCAccruer(&ledgerClientMock{addEntryFn: func(context.Context, *ledgerv1.AddEntryRequest) (*ledgerv1.LedgerEntry, error) {
		t.Fatal("ledger must not be called")
		return nil, nil
	}})

	req := request()
	req.Points = 0
	_, err := a.Accrue(context.Background(), req)
	require.ErrorIs(t, err, pipeline.ErrAccrual)
	require.False(t, pipeline.Retryable(err))
}

func TestHTTPAccrue(t *testing.T) {
	var body addEntryBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, entriesPath, r.URL.Path)
		require.Equal(t, "rec-1", r.Header.Get("Idempotency-Key"))
		require.Equal(t, "key", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"e1"}`))
	}))
	defer srv.Close()

	res, err := NewHTTPAccruer(srv.URL, "", time.Second).Accrue(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, res.Status)
	require.JSONEq(t, `{"id":"e1"}`, string(res.Response))
	require.Equal(t, "u1", body.MemberID)
	require.Equal(t, "CREDIT", body.Type)
	require.EqualValues(t, 3, body.Amount)
}

func TestHTTPAccrueDuplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"bad_request","message":"reference_id already exists"}}`))
	}))
	defer srv.Close()

	res, err := NewHTTPAccruer(srv.URL, "key", time.Second).Accrue(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, StatusDuplicate, res.Status)
}

func TestHTTPAccrueFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"maintenance"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPAccruer(srv.URL, "key", time.Second).Accrue(context.Background(), request())
	require.ErrorIs(t, err, pipeline.ErrAccrual)
	require.Equal(t, errutil.StatusServiceUnavailable, errutil.StatusOf(err))
	require.True(t, pipeline.Retryable(err))
}
