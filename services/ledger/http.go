package ledger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/services/pipeline"
)

const entriesPath = "/v1/ledger/entries"

// HTTPAccruer talks to the ledger's REST gateway.
type HTTPAccruer struct {
	client *resty.Client
	apiKey string
}

func NewHTTPAccruer(baseURL, apiKey string, timeout time.Duration) *HTTPAccruer {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &HTTPAccruer{client: c, apiKey: apiKey}
}

type addEntryBody struct {
	TenantID    string            `json:"tenant_id"`
	MemberID    string            `json:"member_id"`
	Type        string            `json:"type"`
	Amount      int64             `json:"amount"`
	ReferenceID string            `json:"reference_id"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func (b errorBody) message() string {
	if b.Error.Message != "" {
		return b.Error.Message
	}
	return b.Message
}

func (a *HTTPAccruer) Accrue(ctx context.Context, req AccrualRequest) (*AccrualResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	zapLog := zap.L().With(
		zap.String("participant_id", req.ParticipantID),
		zap.String("reference_id", req.IdempotencyKey),
	)

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = a.apiKey
	}

	md := map[string]string{"point_type": req.PointType}
	for k, v := range req.Metadata {
		md[k] = v
	}

	var failure errorBody
	r := a.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(addEntryBody{
			TenantID:    req.LedgerTenantID,
			MemberID:    req.ParticipantID,
			Type:        "CREDIT",
			Amount:      req.Points,
			ReferenceID: req.IdempotencyKey,
			Description: req.Description,
			Metadata:    md,
		}).
		SetError(&failure)
	if apiKey != "" {
		r.SetHeader("X-API-Key", apiKey)
	}

	resp, err := r.Post(entriesPath)
	if err != nil {
		zapLog.Warn("ledger request failed", zap.Error(err))
		code := errutil.StatusServiceUnavailable
		if ctx.Err() != nil {
			code = errutil.StatusClientClosedRequest
		}
		return nil, pipeline.Accrual(code, "ledger request failed", err)
	}

	if resp.IsSuccess() {
		return &AccrualResult{Status: StatusAccepted, Response: resp.Body()}, nil
	}

	msg := failure.message()
	if resp.StatusCode() == http.StatusConflict || isDuplicateMessage(msg) {
		zapLog.Info("ledger entry already exists")
		return &AccrualResult{Status: StatusDuplicate, Response: resp.Body()}, nil
	}

	zapLog.Warn("ledger rejected accrual", zap.Int("status", resp.StatusCode()), zap.String("message", msg))
	return nil, pipeline.Accrual(errutil.FromHTTPStatus(resp.StatusCode()), "ledger rejected accrual", nil,
		errutil.WithDetails(errutil.Detail{Field: "ledger", Message: msg}))
}
