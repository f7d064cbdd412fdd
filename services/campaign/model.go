package campaign

import (
	"time"

	"gorm.io/datatypes"

	"incentive-pipeline/services/rule"
	"incentive-pipeline/services/source"
	"incentive-pipeline/services/transform"
)

type CampaignStatus string

const (
	CampaignStatusDraft    CampaignStatus = "DRAFT"
	CampaignStatusActive   CampaignStatus = "ACTIVE"
	CampaignStatusInactive CampaignStatus = "INACTIVE"
	CampaignStatusExpired  CampaignStatus = "EXPIRED"
)

// Campaign is owned by the control plane; the pipeline reads it and only
// ever writes the extraction checkpoint.
type Campaign struct {
	CampaignID string         `gorm:"column:campaign_id;primaryKey;type:varchar(32)"`
	TenantID   string         `gorm:"column:tenant_id;index;not null"`
	Name       string         `gorm:"column:name;type:varchar(255);not null"`
	Status     CampaignStatus `gorm:"column:status;type:varchar(50);not null;default:'DRAFT'"`
	StartAt    *time.Time     `gorm:"column:start_at"`
	EndAt      *time.Time     `gorm:"column:end_at"`

	Connection       datatypes.JSONType[source.Descriptor]     `gorm:"column:connection"`
	FullLoadQuery    string                                    `gorm:"column:full_load_query;type:text"`
	IncrementalQuery string                                    `gorm:"column:incremental_load_query;type:text"`
	Rules            datatypes.JSONType[rule.RuleSet]          `gorm:"column:rules"`
	Mapping          datatypes.JSONType[transform.MappingSpec] `gorm:"column:mapping"`

	PointType      string `gorm:"column:point_type"`
	LedgerTenantID string `gorm:"column:ledger_tenant_id"`
	LedgerAPIKey   string `gorm:"column:ledger_api_key"`

	Checkpoint *time.Time `gorm:"column:checkpoint"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Campaign) TableName() string { return "campaigns" }

// IsActive checks if campaign is currently active based on time range & status.
func (c *Campaign) IsActive(now time.Time) bool {
	if c.Status != CampaignStatusActive {
		return false
	}
	if c.StartAt != nil && now.Before(*c.StartAt) {
		return false
	}
	if c.EndAt != nil && now.After(*c.EndAt) {
		return false
	}
	return true
}

// IncrementalSince is the lower bound bound into the incremental query: the
// checkpoint, else the start time, else the zero time.
func (c *Campaign) IncrementalSince() time.Time {
	if c.Checkpoint != nil {
		return *c.Checkpoint
	}
	if c.StartAt != nil {
		return *c.StartAt
	}
	return time.Time{}
}

func (c *Campaign) RuleSet() rule.RuleSet { return c.Rules.Data() }

func (c *Campaign) Descriptor() source.Descriptor { return c.Connection.Data() }

func (c *Campaign) MappingSpec() transform.MappingSpec { return c.Mapping.Data() }
