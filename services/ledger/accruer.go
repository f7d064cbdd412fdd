package ledger

import (
	"context"
	"strings"

	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/services/pipeline"
)

//go:generate mockgen -source=accruer.go -destination=mock/accruer.go -package=mock

// Accruer credits points to a participant on the external ledger. Calls
// carrying an already-used IdempotencyKey must not credit twice.
type Accruer interface {
	Accrue(ctx context.Context, req AccrualRequest) (*AccrualResult, error)
}

type AccrualRequest struct {
	ParticipantID  string
	PointType      string
	Points         int64
	IdempotencyKey string
	LedgerTenantID string
	APIKey         string
	Description    string
	Metadata       map[string]string
}

type AccrualStatus string

const (
	StatusAccepted AccrualStatus = "accepted"
	// StatusDuplicate means the ledger already holds an entry for the key.
	StatusDuplicate AccrualStatus = "duplicate"
)

type AccrualResult struct {
	Status   AccrualStatus
	Response []byte
}

func (r AccrualRequest) validate() error {
	var details []errutil.Detail
	if r.ParticipantID == "" {
		details = append(details, errutil.Detail{Field: "participant_id", Message: "is required"})
	}
	if r.IdempotencyKey == "" {
		details = append(details, errutil.Detail{Field: "idempotency_key", Message: "is required"})
	}
	if r.Points <= 0 {
		details = append(details, errutil.Detail{Field: "points", Message: "must be positive"})
	}
	if len(details) > 0 {
		return pipeline.Accrual(errutil.StatusValidationFailed, "invalid accrual request", nil, errutil.WithDetails(details...))
	}
	return nil
}

func isDuplicateMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "already exists")
}
