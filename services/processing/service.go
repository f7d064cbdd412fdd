// Package processing settles pending transaction records: it evaluates the
// campaign rules and credits the resulting points on the ledger.
package processing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"incentive-pipeline/pkg/config"
	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/services/campaign"
	"incentive-pipeline/services/job"
	"incentive-pipeline/services/ledger"
	"incentive-pipeline/services/pipeline"
	"incentive-pipeline/services/rule"
	"incentive-pipeline/services/transaction"
)

// ErrAlreadyRunning is returned when another processing run of the campaign
// holds the lock.
var ErrAlreadyRunning = errors.New("processing already running")

var tracer = otel.Tracer("incentive-pipeline/processing")

const (
	defaultConcurrency = 4
	defaultPageSize    = 500
)

type Service struct {
	campaigns  campaign.Store
	records    transaction.Store
	jobs       *job.Service
	supervisor *job.Supervisor
	evaluator  *rule.Evaluator
	accruer    ledger.Accruer
	limiter    *rate.Limiter

	concurrency    int
	pageSize       int
	maxRetries     uint64
	markIneligible bool
	backoff        func() backoff.BackOff
	now            func() time.Time
}

type Params struct {
	fx.In

	Campaigns  campaign.Store
	Records    transaction.Store
	Jobs       *job.Service
	Supervisor *job.Supervisor
	Evaluator  *rule.Evaluator
	Accruer    ledger.Accruer
	Config     *config.Config `optional:"true"`
}

func NewService(p Params) *Service {
	s := &Service{
		campaigns:      p.Campaigns,
		records:        p.Records,
		jobs:           p.Jobs,
		supervisor:     p.Supervisor,
		evaluator:      p.Evaluator,
		accruer:        p.Accruer,
		limiter:        rate.NewLimiter(rate.Inf, 0),
		concurrency:    defaultConcurrency,
		pageSize:       defaultPageSize,
		maxRetries:     3,
		markIneligible: true,
		backoff:        defaultBackOff,
		now:            func() time.Time { return time.Now().UTC() },
	}

	if cfg := p.Config; cfg != nil {
		if cfg.Pipeline.Concurrency > 0 {
			s.concurrency = cfg.Pipeline.Concurrency
		}
		if cfg.Pipeline.BatchSize > 0 {
			s.pageSize = cfg.Pipeline.BatchSize
		}
		if cfg.Ledger.RateLimit > 0 {
			burst := cfg.Ledger.RateBurst
			if burst <= 0 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(cfg.Ledger.RateLimit), burst)
		}
		s.maxRetries = cfg.Ledger.MaxRetries
		s.markIneligible = cfg.Pipeline.MarkIneligible
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// Run processes every pending record of the campaign once. Per-record
// accrual failures are counted and leave the record pending; only setup and
// persistence errors fail the job.
func (s *Service) Run(ctx context.Context, campaignID string) (*job.ProcessingJob, error) {
	lease, ok, err := s.supervisor.TryStart(ctx, campaignID, job.LockProcessing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errutil.Conflict("processing already running", ErrAlreadyRunning,
			errutil.WithDetails(errutil.Detail{Field: "campaign_id", Message: campaignID}))
	}
	defer lease.Release()

	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		if !errors.Is(err, pipeline.ErrPersistence) {
			return nil, err
		}
		return s.failBeforeStart(ctx, campaignID, err)
	}

	j, err := s.jobs.CreateProcessing(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "processing.run")
	span.SetAttributes(
		attribute.String("campaign_id", campaignID),
		attribute.String("job_id", j.ID),
	)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("campaign_id", campaignID),
		zap.String("job_id", j.ID),
	)

	if err := s.jobs.StartProcessing(ctx, j.ID); err != nil {
		return j, err
	}

	runCtx, cancel := lease.Bind(ctx)
	defer cancel()

	r := &run{Service: s, job: j, campaign: c, log: zapLog}
	err = r.execute(runCtx)
	if err != nil && errors.Is(context.Cause(runCtx), job.ErrLockLost) {
		err = errutil.Conflict("processing lock lost", fmt.Errorf("%w: %v", job.ErrLockLost, err))
	}
	counts := r.counts()
	span.SetAttributes(
		attribute.Int64("scanned", counts.Scanned),
		attribute.Int64("succeeded", counts.Succeeded),
		attribute.Int64("failed", counts.Failed),
		attribute.Int64("ineligible", counts.Ineligible),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		zapLog.Error("processing failed", zap.Any("counts", counts), zap.Error(err))
		if ferr := s.jobs.FailProcessing(ctx, j.ID, counts, err.Error()); ferr != nil {
			zapLog.Error("failed to record processing failure", zap.Error(ferr))
		}
		return s.reload(ctx, j), err
	}

	if err := s.jobs.CompleteProcessing(ctx, j.ID, counts); err != nil {
		return s.reload(ctx, j), err
	}
	zapLog.Info("processing completed",
		zap.Int64("scanned", counts.Scanned),
		zap.Int64("succeeded", counts.Succeeded),
		zap.Int64("failed", counts.Failed),
		zap.Int64("ineligible", counts.Ineligible),
	)
	return s.reload(ctx, j), nil
}

// RequeueIneligible returns the campaign's ineligible records to pending so
// the next run re-evaluates them, typically after a rule change.
func (s *Service) RequeueIneligible(ctx context.Context, campaignID string) (int64, error) {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return 0, err
	}
	return s.records.RequeueIneligible(ctx, campaignID)
}

// failBeforeStart records a FAILED job when the campaign could not be
// loaded. If that write fails too the original error is returned alone.
func (s *Service) failBeforeStart(ctx context.Context, campaignID string, cause error) (*job.ProcessingJob, error) {
	j, err := s.jobs.CreateProcessing(ctx, campaignID)
	if err != nil {
		return nil, cause
	}
	if err := s.jobs.FailProcessing(ctx, j.ID, job.Counts{}, cause.Error()); err != nil {
		zap.L().Error("failed to record processing failure",
			zap.String("campaign_id", campaignID), zap.String("job_id", j.ID), zap.Error(err))
	}
	return s.reload(ctx, j), cause
}

func (s *Service) reload(ctx context.Context, j *job.ProcessingJob) *job.ProcessingJob {
	got, err := s.jobs.GetProcessing(ctx, j.ID)
	if err != nil {
		return j
	}
	return got
}

// run holds the state of one processing job.
type run struct {
	*Service
	job      *job.ProcessingJob
	campaign *campaign.Campaign
	log      *zap.Logger
	rules    rule.RuleSet

	scanned    atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	ineligible atomic.Int64
}

func (r *run) counts() job.Counts {
	return job.Counts{
		Scanned:    r.scanned.Load(),
		Succeeded:  r.succeeded.Load(),
		Failed:     r.failed.Load(),
		Ineligible: r.ineligible.Load(),
	}
}

func (r *run) execute(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errutil.Internal("processing panicked", fmt.Errorf("panic: %v", rec))
		}
	}()

	r.rules = r.campaign.RuleSet()
	if r.rules.Empty() {
		return pipeline.Configuration("campaign has no rule set", nil,
			errutil.WithDetails(errutil.Detail{Field: "campaign_id", Message: r.campaign.CampaignID}))
	}
	if err := r.evaluator.Validate(r.rules); err != nil {
		return err
	}

	var cursor *transaction.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.records.ListUnprocessed(ctx, r.campaign.CampaignID, cursor, r.pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)
		for _, rec := range page {
			g.Go(func() (err error) {
				defer func() {
					if p := recover(); p != nil {
						err = errutil.Internal("processing panicked", fmt.Errorf("panic: %v", p))
					}
				}()
				return r.process(gctx, rec)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		last := page[len(page)-1]
		cursor = &transaction.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}

		if err := r.jobs.UpdateProcessingCounts(ctx, r.job.ID, r.counts()); err != nil {
			r.log.Warn("failed to publish progress", zap.Error(err))
		}
		if len(page) < r.pageSize {
			return nil
		}
	}
}

// process settles one record. It only returns an error for persistence
// failures, which abort the run.
func (r *run) process(ctx context.Context, rec *transaction.TransactionRecord) error {
	r.scanned.Add(1)
	zapLog := r.log.With(zap.String("record_id", rec.ID), zap.String("participant_id", rec.ParticipantID))

	res := r.evaluator.Evaluate(rec.Fields, r.rules)
	if !res.Eligible {
		if r.markIneligible {
			if _, err := r.records.MarkIneligible(ctx, rec.ID, r.now()); err != nil {
				return err
			}
		}
		r.ineligible.Add(1)
		recordsTotal.WithLabelValues(outcomeIneligible).Inc()
		zapLog.Debug("record ineligible")
		return nil
	}

	out := transaction.Outcome{Points: res.Points, AppliedRuleIDs: res.AppliedRuleIDs}
	if res.Points > 0 {
		result, err := r.accrue(ctx, ledger.AccrualRequest{
			ParticipantID:  rec.ParticipantID,
			PointType:      r.campaign.PointType,
			Points:         res.Points,
			IdempotencyKey: rec.ID,
			LedgerTenantID: r.campaign.LedgerTenantID,
			APIKey:         r.campaign.LedgerAPIKey,
			Description:    "campaign " + r.campaign.Name,
			Metadata:       map[string]string{"campaign_id": r.campaign.CampaignID},
		})
		if err != nil {
			r.failed.Add(1)
			recordsTotal.WithLabelValues(outcomeFailed).Inc()
			zapLog.Warn("accrual failed, record left pending", zap.Int64("points", res.Points), zap.Error(err))
			return nil
		}
		out.Response = result.Response
	}

	out.At = r.now()
	ok, err := r.records.MarkProcessed(ctx, rec.ID, out)
	if err != nil {
		return err
	}
	if !ok {
		zapLog.Info("record already processed")
		return nil
	}
	r.succeeded.Add(1)
	recordsTotal.WithLabelValues(outcomeSucceeded).Inc()
	pointsTotal.Add(float64(res.Points))
	return nil
}

// accrue throttles and retries transient ledger failures. Every attempt
// carries the same idempotency key.
func (r *run) accrue(ctx context.Context, req ledger.AccrualRequest) (*ledger.AccrualResult, error) {
	var result *ledger.AccrualResult
	op := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		res, err := r.accruer.Accrue(ctx, req)
		if err != nil {
			if !pipeline.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.backoff(), r.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if pipeline.KindOf(err) == "" {
			err = pipeline.Accrual(errutil.StatusUnknown, "accrual failed", err)
		}
		return nil, err
	}
	return result, nil
}
