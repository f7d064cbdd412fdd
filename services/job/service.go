package job

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"incentive-pipeline/pkg/db/option"
	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/pkg/repository"
	"incentive-pipeline/services/pipeline"
)

// ErrInvalidTransition is returned when a guarded status update matched no
// row, usually because the job already reached a terminal state.
var ErrInvalidTransition = errors.New("invalid job state transition")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	extractions repository.Repository[ExtractionJob]
	processings repository.Repository[ProcessingJob]
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		now:         func() time.Time { return time.Now().UTC() },
		extractions: repository.ProvideStore[ExtractionJob](p.DB),
		processings: repository.ProvideStore[ProcessingJob](p.DB),
	}
}

func (s *Service) CreateExtraction(ctx context.Context, campaignID string, kind Kind) (*ExtractionJob, error) {
	j := &ExtractionJob{
		ID:         s.node.Generate().String(),
		CampaignID: campaignID,
		Kind:       kind,
		Status:     StatusPending,
	}
	if err := s.extractions.Create(ctx, j); err != nil {
		return nil, pipeline.Persistence("failed to create extraction job", err)
	}
	return j, nil
}

func (s *Service) CreateProcessing(ctx context.Context, campaignID string) (*ProcessingJob, error) {
	j := &ProcessingJob{
		ID:         s.node.Generate().String(),
		CampaignID: campaignID,
		Status:     StatusPending,
	}
	if err := s.processings.Create(ctx, j); err != nil {
		return nil, pipeline.Persistence("failed to create processing job", err)
	}
	return j, nil
}

func (s *Service) GetExtraction(ctx context.Context, id string) (*ExtractionJob, error) {
	if id == "" {
		return nil, errutil.BadRequest("job id is required", nil)
	}
	j, err := s.extractions.FindOne(ctx, &ExtractionJob{ID: id})
	if err != nil {
		return nil, pipeline.Persistence("failed to load extraction job", err)
	}
	if j == nil {
		return nil, errutil.NotFound("extraction job not found", nil)
	}
	return j, nil
}

func (s *Service) GetProcessing(ctx context.Context, id string) (*ProcessingJob, error) {
	if id == "" {
		return nil, errutil.BadRequest("job id is required", nil)
	}
	j, err := s.processings.FindOne(ctx, &ProcessingJob{ID: id})
	if err != nil {
		return nil, pipeline.Persistence("failed to load processing job", err)
	}
	if j == nil {
		return nil, errutil.NotFound("processing job not found", nil)
	}
	return j, nil
}

// ListExtractions returns the most recent extraction jobs of a campaign.
func (s *Service) ListExtractions(ctx context.Context, campaignID string, limit int) ([]*ExtractionJob, error) {
	jobs, err := s.extractions.Find(ctx, &ExtractionJob{CampaignID: campaignID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(limit),
	)
	if err != nil {
		return nil, pipeline.Persistence("failed to list extraction jobs", err)
	}
	return jobs, nil
}

func (s *Service) ListProcessings(ctx context.Context, campaignID string, limit int) ([]*ProcessingJob, error) {
	jobs, err := s.processings.Find(ctx, &ProcessingJob{CampaignID: campaignID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(limit),
	)
	if err != nil {
		return nil, pipeline.Persistence("failed to list processing jobs", err)
	}
	return jobs, nil
}

func (s *Service) StartExtraction(ctx context.Context, id string) error {
	now := s.now()
	return s.transition(ctx, &ExtractionJob{}, id, []Status{StatusPending}, map[string]any{
		"status":     StatusRunning,
		"started_at": now,
	})
}

func (s *Service) CompleteExtraction(ctx context.Context, id string, rows, skipped int64, checkpoint time.Time) error {
	now := s.now()
	return s.transition(ctx, &ExtractionJob{}, id, []Status{StatusRunning}, map[string]any{
		"status":         StatusCompleted,
		"completed_at":   now,
		"rows_extracted": rows,
		"rows_skipped":   skipped,
		"checkpoint":     checkpoint,
	})
}

// FailExtraction records rows stored so far; they are not rolled back.
func (s *Service) FailExtraction(ctx context.Context, id string, rows, skipped int64, detail string) error {
	now := s.now()
	return s.transition(ctx, &ExtractionJob{}, id, activeStatuses, map[string]any{
		"status":         StatusFailed,
		"completed_at":   now,
		"rows_extracted": rows,
		"rows_skipped":   skipped,
		"error_detail":   detail,
	})
}

func (s *Service) StartProcessing(ctx context.Context, id string) error {
	now := s.now()
	return s.transition(ctx, &ProcessingJob{}, id, []Status{StatusPending}, map[string]any{
		"status":     StatusRunning,
		"started_at": now,
	})
}

// UpdateProcessingCounts publishes progress of a running job.
func (s *Service) UpdateProcessingCounts(ctx context.Context, id string, c Counts) error {
	return s.transition(ctx, &ProcessingJob{}, id, []Status{StatusRunning}, c.updates())
}

func (s *Service) CompleteProcessing(ctx context.Context, id string, c Counts) error {
	updates := c.updates()
	updates["status"] = StatusCompleted
	updates["completed_at"] = s.now()
	return s.transition(ctx, &ProcessingJob{}, id, []Status{StatusRunning}, updates)
}

func (s *Service) FailProcessing(ctx context.Context, id string, c Counts, detail string) error {
	updates := c.updates()
	updates["status"] = StatusFailed
	updates["completed_at"] = s.now()
	updates["error_detail"] = detail
	return s.transition(ctx, &ProcessingJob{}, id, activeStatuses, updates)
}

// ActiveJob identifies a PENDING or RUNNING job and the lock that guards it.
type ActiveJob struct {
	ID         string
	CampaignID string
	Lock       LockKind
}

// ListActive returns non-terminal jobs. An empty campaignID matches every
// campaign and an empty kind matches both tables.
func (s *Service) ListActive(ctx context.Context, campaignID string, kind LockKind) ([]ActiveJob, error) {
	var out []ActiveJob
	for _, lock := range []LockKind{LockExtraction, LockProcessing} {
		if kind != "" && kind != lock {
			continue
		}

		var rows []struct {
			ID         string
			CampaignID string
		}
		q := s.db.WithContext(ctx).
			Model(modelFor(lock)).
			Select("id", "campaign_id").
			Where("status IN ?", activeStatuses)
		if campaignID != "" {
			q = q.Where("campaign_id = ?", campaignID)
		}
		if err := q.Order("created_at").Scan(&rows).Error; err != nil {
			return nil, pipeline.Persistence("failed to list active jobs", err)
		}
		for _, r := range rows {
			out = append(out, ActiveJob{ID: r.ID, CampaignID: r.CampaignID, Lock: lock})
		}
	}
	return out, nil
}

// Interrupt fails an active job with DetailInterrupted. Only call it while
// holding the job's lock, so no live run owns it.
func (s *Service) Interrupt(ctx context.Context, j ActiveJob) error {
	return s.transition(ctx, modelFor(j.Lock), j.ID, activeStatuses, map[string]any{
		"status":       StatusFailed,
		"completed_at": s.now(),
		"error_detail": DetailInterrupted,
	})
}

func modelFor(lock LockKind) any {
	if lock == LockProcessing {
		return &ProcessingJob{}
	}
	return &ExtractionJob{}
}

func (s *Service) transition(ctx context.Context, model any, id string, from []Status, updates map[string]any) error {
	res := s.db.WithContext(ctx).
		Model(model).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return pipeline.Persistence("failed to update job", res.Error)
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("job is not in an expected state", ErrInvalidTransition,
			errutil.WithDetails(errutil.Detail{Field: "id", Message: id}))
	}
	return nil
}
