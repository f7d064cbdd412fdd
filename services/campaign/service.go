package campaign

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"incentive-pipeline/pkg/db/option"
	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/pkg/repository"
	"incentive-pipeline/services/pipeline"
)

// Store is the campaign persistence used by the pipeline.
type Store interface {
	Get(ctx context.Context, campaignID string) (*Campaign, error)
	ListActive(ctx context.Context, now time.Time) ([]*Campaign, error)
	// AdvanceCheckpoint moves the checkpoint forward and never back.
	AdvanceCheckpoint(ctx context.Context, campaignID string, checkpoint time.Time) error
	Create(ctx context.Context, c *Campaign) error
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	campaign repository.Repository[Campaign]
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		campaign: repository.ProvideStore[Campaign](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, campaignID string) (*Campaign, error) {
	if campaignID == "" {
		return nil, errutil.BadRequest("campaign id is required", nil)
	}
	c, err := s.campaign.FindOne(ctx, &Campaign{CampaignID: campaignID})
	if err != nil {
		zap.L().Error("failed to query campaign", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, pipeline.Persistence("failed to load campaign", err)
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil,
			errutil.WithDetails(errutil.Detail{Field: "campaign_id", Message: campaignID}))
	}
	return c, nil
}

func (s *Service) ListActive(ctx context.Context, now time.Time) ([]*Campaign, error) {
	campaigns, err := s.campaign.Find(ctx, &Campaign{Status: CampaignStatusActive},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}))
	if err != nil {
		return nil, pipeline.Persistence("failed to list campaigns", err)
	}

	out := campaigns[:0]
	for _, c := range campaigns {
		if c.IsActive(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) AdvanceCheckpoint(ctx context.Context, campaignID string, checkpoint time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&Campaign{}).
		Where("campaign_id = ? AND (checkpoint IS NULL OR checkpoint < ?)", campaignID, checkpoint).
		Update("checkpoint", checkpoint)
	if res.Error != nil {
		return pipeline.Persistence("failed to advance checkpoint", res.Error)
	}
	if res.RowsAffected == 0 {
		zap.L().Warn("checkpoint not advanced",
			zap.String("campaign_id", campaignID),
			zap.Time("checkpoint", checkpoint),
		)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, c *Campaign) error {
	if c.CampaignID == "" {
		c.CampaignID = s.node.Generate().String()
	}
	if err := s.campaign.Create(ctx, c); err != nil {
		return pipeline.Persistence("failed to create campaign", err)
	}
	return nil
}
