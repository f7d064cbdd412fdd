package task

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"incentive-pipeline/pkg/config"
	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/pkg/featureflags"
	"incentive-pipeline/pkg/rediskey"
	pkgtask "incentive-pipeline/pkg/task"
	"incentive-pipeline/services/campaign"
)

// SyncFeature is the flag consulted per campaign before a scheduled sync.
const SyncFeature = "pipeline_sync"

// Scheduler enqueues an incremental sync for every active campaign on a
// fixed interval.
type Scheduler struct {
	service   *Service
	campaigns campaign.Store
	flags     featureflags.FeatureFlag
	inspector pkgtask.Inspector
	interval  time.Duration
	now       func() time.Time
}

type SchedulerParams struct {
	fx.In
	Service   *Service
	Campaigns campaign.Store
	Config    *config.Config
	Flags     featureflags.FeatureFlag `optional:"true"`
	Inspector pkgtask.Inspector        `optional:"true"`
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		service:   p.Service,
		campaigns: p.Campaigns,
		flags:     p.Flags,
		inspector: p.Inspector,
		interval:  p.Config.Pipeline.ScheduleInterval,
		now:       time.Now,
	}
}

// syncEnabled fails open: a flag lookup error never stops scheduled syncs.
func (s *Scheduler) syncEnabled(ctx context.Context, campaignID string) bool {
	if s.flags == nil {
		return true
	}
	ok, err := s.flags.Enabled(ctx, campaignID, SyncFeature)
	if err != nil {
		zap.L().Debug("[Scheduler] feature flag lookup failed", zap.String("campaign_id", campaignID), zap.Error(err))
		return true
	}
	return ok
}

// StartScheduler runs the scheduler for the lifetime of the fx app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	if s.interval <= 0 {
		zap.L().Info("[Scheduler] disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started incremental sync scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// tick enqueues one sync per active campaign and returns how many were
// enqueued.
func (s *Scheduler) tick(ctx context.Context) int {
	start := s.now()
	campaigns, err := s.campaigns.ListActive(ctx, start)
	if err != nil {
		zap.L().Error("[Scheduler] failed to list active campaigns", zap.Error(err))
		return 0
	}

	enqueued := 0
	for _, c := range campaigns {
		if c.IncrementalQuery == "" || !s.syncEnabled(ctx, c.CampaignID) {
			continue
		}
		ok, err := s.enqueueSync(ctx, c.CampaignID)
		if err != nil {
			zap.L().Warn("[Scheduler] failed to enqueue sync", zap.String("campaign_id", c.CampaignID), zap.Error(err))
			continue
		}
		if ok {
			enqueued++
		}
	}

	zap.L().Info("[Scheduler] enqueued incremental syncs",
		zap.Int("campaigns", len(campaigns)),
		zap.Int("enqueued", enqueued),
		zap.Duration("duration", time.Since(start)),
	)
	return enqueued
}

// enqueueSync enqueues the campaign's sync under its fixed schedule id. A
// conflict with a finished task is resolved by deleting that task and
// enqueueing again; a conflict with a live one is not an error.
func (s *Scheduler) enqueueSync(ctx context.Context, campaignID string) (bool, error) {
	taskID := rediskey.BuildScheduleKey(campaignID)
	enqueue := func() error {
		_, err := s.service.Enqueue(ctx,
			ExecuteRequest{CampaignID: campaignID, Operation: OpSync},
			asynq.TaskID(taskID),
			asynq.Timeout(s.interval),
		)
		return err
	}

	err := enqueue()
	if errutil.StatusOf(err) != errutil.StatusConflict {
		return err == nil, err
	}
	if !s.reclaim(campaignID, taskID) {
		zap.L().Debug("[Scheduler] sync already queued", zap.String("campaign_id", campaignID))
		return false, nil
	}

	err = enqueue()
	if errutil.StatusOf(err) == errutil.StatusConflict {
		return false, nil
	}
	return err == nil, err
}

// reclaim frees the schedule id held by an archived or completed task.
func (s *Scheduler) reclaim(campaignID, taskID string) bool {
	if s.inspector == nil {
		return false
	}
	queue := s.service.queue
	info, err := s.inspector.GetTaskInfo(queue, taskID)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return true
	}
	if err != nil {
		zap.L().Warn("[Scheduler] failed to inspect sync task", zap.String("campaign_id", campaignID), zap.Error(err))
		return false
	}
	if info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted {
		return false
	}

	if err := s.inspector.DeleteTask(queue, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		zap.L().Warn("[Scheduler] failed to delete finished sync task", zap.String("campaign_id", campaignID), zap.Error(err))
		return false
	}
	zap.L().Info("[Scheduler] reclaimed finished sync task",
		zap.String("campaign_id", campaignID),
		zap.Stringer("state", info.State),
		zap.String("last_err", info.LastErr),
	)
	return true
}
