package transaction

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"incentive-pipeline/pkg/config"
	"incentive-pipeline/pkg/db/option"
	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/pkg/repository"
	"incentive-pipeline/services/pipeline"
)

// Store is the TransactionRecord persistence used by the pipeline.
type Store interface {
	BatchCreate(ctx context.Context, records []*TransactionRecord) error
	Get(ctx context.Context, id string) (*TransactionRecord, error)
	// ListUnprocessed returns pending, unprocessed records of a campaign that
	// sort after the cursor, in (created_at, id) order.
	ListUnprocessed(ctx context.Context, campaignID string, after *Cursor, limit int) ([]*TransactionRecord, error)
	// MarkProcessed settles a record. It reports false when the record was
	// already processed and leaves it untouched.
	MarkProcessed(ctx context.Context, id string, out Outcome) (bool, error)
	MarkIneligible(ctx context.Context, id string, at time.Time) (bool, error)
	RequeueIneligible(ctx context.Context, campaignID string) (int64, error)
	CountByStatus(ctx context.Context, campaignID string) (map[Status]int64, error)
}

type Service struct {
	db      *gorm.DB
	records repository.Repository[TransactionRecord]
}

type Params struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config `optional:"true"`
}

func NewService(p Params) *Service {
	batch := 0
	if p.Config != nil {
		batch = p.Config.Pipeline.BatchSize
	}
	return &Service{
		db:      p.DB,
		records: repository.ProvideStoreWithBatch[TransactionRecord](p.DB, batch),
	}
}

func (s *Service) BatchCreate(ctx context.Context, records []*TransactionRecord) error {
	if err := s.records.BatchCreate(ctx, records); err != nil {
		zap.L().Error("failed to store transaction records", zap.Int("count", len(records)), zap.Error(err))
		return pipeline.Persistence("failed to store transaction records", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*TransactionRecord, error) {
	if id == "" {
		return nil, errutil.BadRequest("record id is required", nil)
	}
	rec, err := s.records.FindOne(ctx, &TransactionRecord{ID: id})
	if err != nil {
		return nil, pipeline.Persistence("failed to load transaction record", err)
	}
	if rec == nil {
		return nil, errutil.NotFound("transaction record not found", nil)
	}
	return rec, nil
}

func (s *Service) ListUnprocessed(ctx context.Context, campaignID string, after *Cursor, limit int) ([]*TransactionRecord, error) {
	opts := []option.QueryOption{
		func(db *gorm.DB) *gorm.DB {
			db = db.Where("processed = ? AND status = ?", false, StatusPending)
			if after != nil {
				db = db.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
			}
			return db
		},
		option.WithOrder("created_at", "id"),
		option.WithLimit(limit),
	}

	records, err := s.records.Find(ctx, &TransactionRecord{CampaignID: campaignID}, opts...)
	if err != nil {
		return nil, pipeline.Persistence("failed to scan unprocessed records", err)
	}
	return records, nil
}

func (s *Service) MarkProcessed(ctx context.Context, id string, out Outcome) (bool, error) {
	updates := map[string]any{
		"processed":        true,
		"status":           StatusProcessed,
		"processed_at":     out.At,
		"points_earned":    out.Points,
		"applied_rule_ids": datatypes.NewJSONSlice(out.AppliedRuleIDs),
	}
	if len(out.Response) > 0 {
		updates["accrual_response"] = datatypes.JSON(out.Response)
	}

	res := s.db.WithContext(ctx).
		Model(&TransactionRecord{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(updates)
	if res.Error != nil {
		return false, pipeline.Persistence("failed to mark record processed", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Service) MarkIneligible(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&TransactionRecord{}).
		Where("id = ? AND processed = ? AND status = ?", id, false, StatusPending).
		Updates(map[string]any{"status": StatusIneligible, "updated_at": at})
	if res.Error != nil {
		return false, pipeline.Persistence("failed to mark record ineligible", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Service) RequeueIneligible(ctx context.Context, campaignID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&TransactionRecord{}).
		Where("campaign_id = ? AND processed = ? AND status = ?", campaignID, false, StatusIneligible).
		Update("status", StatusPending)
	if res.Error != nil {
		return 0, pipeline.Persistence("failed to requeue ineligible records", res.Error)
	}
	zap.L().Info("requeued ineligible records",
		zap.String("campaign_id", campaignID),
		zap.Int64("count", res.RowsAffected),
	)
	return res.RowsAffected, nil
}

func (s *Service) CountByStatus(ctx context.Context, campaignID string) (map[Status]int64, error) {
	var rows []struct {
		Status Status
		Total  int64
	}
	err := s.db.WithContext(ctx).
		Model(&TransactionRecord{}).
		Select("status, COUNT(*) AS total").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, pipeline.Persistence("failed to count records", err)
	}

	out := make(map[Status]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Total
	}
	return out, nil
}
