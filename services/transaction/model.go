package transaction

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessed  Status = "processed"
	StatusIneligible Status = "ineligible"
)

// TransactionRecord is one extracted source row in canonical form. Rows are
// created by extraction, marked processed once by processing and never
// deleted.
type TransactionRecord struct {
	ID              string                      `gorm:"column:id;primaryKey;type:varchar(32)"`
	CampaignID      string                      `gorm:"column:campaign_id;index:idx_record_scan,priority:1;not null"`
	ExtractionJobID string                      `gorm:"column:extraction_job_id;index"`
	ParticipantID   string                      `gorm:"column:participant_id;index;not null"`
	Fields          datatypes.JSONMap           `gorm:"column:fields"`
	Status          Status                      `gorm:"column:status;type:varchar(20);index:idx_record_scan,priority:3;not null;default:'pending'"`
	Processed       bool                        `gorm:"column:processed;index:idx_record_scan,priority:2;not null;default:false"`
	ProcessedAt     *time.Time                  `gorm:"column:processed_at"`
	PointsEarned    *int64                      `gorm:"column:points_earned"`
	AppliedRuleIDs  datatypes.JSONSlice[string] `gorm:"column:applied_rule_ids"`
	AccrualResponse datatypes.JSON              `gorm:"column:accrual_response"`
	CreatedAt       time.Time                   `gorm:"column:created_at;index:idx_record_scan,priority:4"`
	UpdatedAt       time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (TransactionRecord) TableName() string { return "transaction_records" }

// Cursor positions a scan in (created_at, id) order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Outcome is what processing writes back for a record it settled.
type Outcome struct {
	Points         int64
	AppliedRuleIDs []string
	Response       []byte
	At             time.Time
}
