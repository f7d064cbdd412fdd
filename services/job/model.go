package job

import (
	"time"
)

// Kind is the extraction flavour.
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
)

// LockKind is the single-flight scope. Full and incremental extractions
// share one lock.
type LockKind string

const (
	LockExtraction LockKind = "extraction"
	LockProcessing LockKind = "processing"
)

func (k Kind) LockKind() LockKind { return LockExtraction }

// Status follows PENDING -> RUNNING -> COMPLETED | FAILED. Terminal states
// never change.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var activeStatuses = []Status{StatusPending, StatusRunning}

// DetailInterrupted marks jobs failed by the startup sweep.
const DetailInterrupted = "interrupted"

type ExtractionJob struct {
	ID            string     `gorm:"column:id;primaryKey;type:varchar(32)"`
	CampaignID    string     `gorm:"column:campaign_id;index;not null"`
	Kind          Kind       `gorm:"column:kind;type:varchar(20);not null"`
	Status        Status     `gorm:"column:status;type:varchar(20);index;not null;default:'PENDING'"`
	StartedAt     *time.Time `gorm:"column:started_at"`
	CompletedAt   *time.Time `gorm:"column:completed_at"`
	RowsExtracted int64      `gorm:"column:rows_extracted;not null;default:0"`
	RowsSkipped   int64      `gorm:"column:rows_skipped;not null;default:0"`
	ErrorDetail   string     `gorm:"column:error_detail;type:text"`
	Checkpoint    *time.Time `gorm:"column:checkpoint"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (ExtractionJob) TableName() string { return "extraction_jobs" }

type ProcessingJob struct {
	ID          string     `gorm:"column:id;primaryKey;type:varchar(32)"`
	CampaignID  string     `gorm:"column:campaign_id;index;not null"`
	Status      Status     `gorm:"column:status;type:varchar(20);index;not null;default:'PENDING'"`
	Scanned     int64      `gorm:"column:scanned;not null;default:0"`
	Succeeded   int64      `gorm:"column:succeeded;not null;default:0"`
	Failed      int64      `gorm:"column:failed;not null;default:0"`
	Ineligible  int64      `gorm:"column:ineligible;not null;default:0"`
	StartedAt   *time.Time `gorm:"column:started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	ErrorDetail string     `gorm:"column:error_detail;type:text"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (ProcessingJob) TableName() string { return "processing_jobs" }

// Counts are the per-run processing counters.
type Counts struct {
	Scanned    int64
	Succeeded  int64
	Failed     int64
	Ineligible int64
}

func (c Counts) updates() map[string]any {
	return map[string]any{
		"scanned":    c.Scanned,
		"succeeded":  c.Succeeded,
		"failed":     c.Failed,
		"ineligible": c.Ineligible,
	}
}

func (j *ProcessingJob) Counts() Counts {
	return Counts{Scanned: j.Scanned, Succeeded: j.Succeeded, Failed: j.Failed, Ineligible: j.Ineligible}
}
