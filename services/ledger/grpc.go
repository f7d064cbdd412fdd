package ledger

import (
	"context"

	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/services/pipeline"
)

// GRPCAccruer credits points through LedgerService.AddEntry. The
// idempotency key travels as the entry reference id.
type GRPCAccruer struct {
	client ledgerv1.LedgerServiceClient
}

func NewGRPCAccruer(client ledgerv1.LedgerServiceClient) *GRPCAccruer {
	return &GRPCAccruer{client: client}
}

func (a *GRPCAccruer) Accrue(ctx context.Context, req AccrualRequest) (*AccrualResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	zapLog := zap.L().With(
		zap.String("participant_id", req.ParticipantID),
		zap.String("reference_id", req.IdempotencyKey),
	)

	if req.APIKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", req.APIKey)
	}

	md := map[string]string{"point_type": req.PointType}
	for k, v := range req.Metadata {
		md[k] = v
	}

	entry, err := a.client.AddEntry(ctx, &ledgerv1.AddEntryRequest{
		TenantId:    req.LedgerTenantID,
		MemberId:    req.ParticipantID,
		Type:        ledgerv1.EntryType_CREDIT,
		Amount:      req.Points,
		ReferenceId: req.IdempotencyKey,
		Description: req.Description,
		Metadata:    md,
	})
	if err != nil {
		st, _ := status.FromError(err)
		if st.Code() == codes.AlreadyExists || isDuplicateMessage(st.Message()) {
			zapLog.Info("ledger entry already exists")
			return &AccrualResult{Status: StatusDuplicate}, nil
		}
		zapLog.Warn("failed to add ledger entry", zap.Error(err))
		return nil, pipeline.Accrual(errutil.FromGRPCCode(st.Code()), "ledger rejected accrual", err)
	}

	body, err := protojson.Marshal(entry)
	if err != nil {
		zapLog.Warn("failed to encode ledger entry", zap.Error(err))
	}
	return &AccrualResult{Status: StatusAccepted, Response: body}, nil
}
