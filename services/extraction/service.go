// Package extraction pulls rows from a campaign's source database into
// pending transaction records.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"incentive-pipeline/pkg/config"
	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/services/campaign"
	"incentive-pipeline/services/job"
	"incentive-pipeline/services/pipeline"
	"incentive-pipeline/services/source"
	"incentive-pipeline/services/transaction"
	"incentive-pipeline/services/transform"
)

// ErrAlreadyRunning is returned when another extraction of the campaign holds
// the lock.
var ErrAlreadyRunning = errors.New("extraction already running")

var tracer = otel.Tracer("incentive-pipeline/extraction")

const defaultBatchSize = 500

// Archive stores the raw rows of a run. Optional.
type Archive interface {
	Put(ctx context.Context, object string, body []byte, contentType string) error
}

type Service struct {
	campaigns  campaign.Store
	records    transaction.Store
	jobs       *job.Service
	supervisor *job.Supervisor
	connector  source.Connector
	archive    Archive
	node       *snowflake.Node
	batchSize  int
	now        func() time.Time
}

type Params struct {
	fx.In

	Campaigns  campaign.Store
	Records    transaction.Store
	Jobs       *job.Service
	Supervisor *job.Supervisor
	Connector  source.Connector
	Node       *snowflake.Node
	Config     *config.Config `optional:"true"`
	Archive    Archive        `optional:"true"`
}

func NewService(p Params) *Service {
	batch := defaultBatchSize
	if p.Config != nil && p.Config.Pipeline.BatchSize > 0 {
		batch = p.Config.Pipeline.BatchSize
	}
	return &Service{
		campaigns:  p.Campaigns,
		records:    p.Records,
		jobs:       p.Jobs,
		supervisor: p.Supervisor,
		connector:  p.Connector,
		archive:    p.Archive,
		node:       p.Node,
		batchSize:  batch,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) RunFull(ctx context.Context, campaignID string) (*job.ExtractionJob, error) {
	return s.Run(ctx, campaignID, job.KindFull)
}

func (s *Service) RunIncremental(ctx context.Context, campaignID string) (*job.ExtractionJob, error) {
	return s.Run(ctx, campaignID, job.KindIncremental)
}

// Run executes one extraction and returns its job record. The checkpoint
// only moves when the job completes; rows stored before a failure stay.
func (s *Service) Run(ctx context.Context, campaignID string, kind job.Kind) (*job.ExtractionJob, error) {
	lease, ok, err := s.supervisor.TryStart(ctx, campaignID, kind.LockKind())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errutil.Conflict("extraction already running", ErrAlreadyRunning,
			errutil.WithDetails(errutil.Detail{Field: "campaign_id", Message: campaignID}))
	}
	defer lease.Release()

	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		if !errors.Is(err, pipeline.ErrPersistence) {
			return nil, err
		}
		return s.failBeforeStart(ctx, campaignID, kind, err)
	}

	j, err := s.jobs.CreateExtraction(ctx, campaignID, kind)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "extraction.run")
	span.SetAttributes(
		attribute.String("campaign_id", campaignID),
		attribute.String("job_id", j.ID),
		attribute.String("kind", string(kind)),
	)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("campaign_id", campaignID),
		zap.String("job_id", j.ID),
		zap.String("kind", string(kind)),
	)

	if err := s.jobs.StartExtraction(ctx, j.ID); err != nil {
		return j, err
	}

	runCtx, cancel := lease.Bind(ctx)
	defer cancel()

	r := &run{Service: s, job: j, campaign: c, log: zapLog}
	checkpoint, err := r.execute(runCtx)
	if err != nil && errors.Is(context.Cause(runCtx), job.ErrLockLost) {
		err = errutil.Conflict("extraction lock lost", fmt.Errorf("%w: %v", job.ErrLockLost, err))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		zapLog.Error("extraction failed",
			zap.Int64("rows", r.stored), zap.Int64("skipped", r.skipped), zap.Error(err))
		if ferr := s.jobs.FailExtraction(ctx, j.ID, r.stored, r.skipped, err.Error()); ferr != nil {
			zapLog.Error("failed to record extraction failure", zap.Error(ferr))
		}
		return s.reload(ctx, j), err
	}

	if err := s.jobs.CompleteExtraction(ctx, j.ID, r.stored, r.skipped, checkpoint); err != nil {
		return s.reload(ctx, j), err
	}
	if err := s.campaigns.AdvanceCheckpoint(ctx, campaignID, checkpoint); err != nil {
		zapLog.Error("failed to advance checkpoint", zap.Time("checkpoint", checkpoint), zap.Error(err))
		return s.reload(ctx, j), err
	}

	rowsExtracted.WithLabelValues(string(kind)).Add(float64(r.stored))
	rowsSkipped.WithLabelValues(string(kind)).Add(float64(r.skipped))
	zapLog.Info("extraction completed",
		zap.Int64("rows", r.stored), zap.Int64("skipped", r.skipped), zap.Time("checkpoint", checkpoint))
	return s.reload(ctx, j), nil
}

// failBeforeStart records a job for a run that could not load its campaign,
// so the failure is visible in the job history. If even that write fails
// the original error is returned without a job.
func (s *Service) failBeforeStart(ctx context.Context, campaignID string, kind job.Kind, cause error) (*job.ExtractionJob, error) {
	j, err := s.jobs.CreateExtraction(ctx, campaignID, kind)
	if err != nil {
		return nil, cause
	}
	if err := s.jobs.FailExtraction(ctx, j.ID, 0, 0, cause.Error()); err != nil {
		zap.L().Error("failed to record extraction failure",
			zap.String("campaign_id", campaignID), zap.String("job_id", j.ID), zap.Error(err))
	}
	return s.reload(ctx, j), cause
}

func (s *Service) reload(ctx context.Context, j *job.ExtractionJob) *job.ExtractionJob {
	got, err := s.jobs.GetExtraction(ctx, j.ID)
	if err != nil {
		return j
	}
	return got
}

// run holds the state of one extraction.
type run struct {
	*Service
	job      *job.ExtractionJob
	campaign *campaign.Campaign
	log      *zap.Logger

	stored  int64
	skipped int64
}

func (r *run) execute(ctx context.Context) (checkpoint time.Time, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errutil.Internal("extraction panicked", fmt.Errorf("panic: %v", rec))
		}
	}()

	query, params, err := r.query()
	if err != nil {
		return time.Time{}, err
	}
	mapping := r.campaign.MappingSpec()
	if err := mapping.Validate(); err != nil {
		return time.Time{}, err
	}
	descriptor := r.campaign.Descriptor()
	if err := descriptor.Validate(); err != nil {
		return time.Time{}, err
	}

	// Captured before the query so rows written while it runs are picked up
	// by the next incremental run.
	checkpoint = r.now()

	var rows []source.Row
	err = source.WithConnection(ctx, r.connector, descriptor, func(conn source.Conn) error {
		var qerr error
		rows, qerr = conn.Query(ctx, query, params...)
		return qerr
	})
	if err != nil {
		return time.Time{}, err
	}
	r.log.Info("source rows fetched", zap.Int("count", len(rows)))

	r.archiveRows(ctx, rows)

	batch := make([]*transaction.TransactionRecord, 0, r.batchSize)
	for i, row := range rows {
		rec, terr := transform.Transform(row, mapping)
		if terr != nil {
			r.skipped++
			r.log.Warn("row skipped", zap.Int("row", i), zap.Error(terr))
			continue
		}

		batch = append(batch, &transaction.TransactionRecord{
			ID:              r.node.Generate().String(),
			CampaignID:      r.campaign.CampaignID,
			ExtractionJobID: r.job.ID,
			ParticipantID:   rec.ParticipantID(),
			Fields:          datatypes.JSONMap(rec),
			Status:          transaction.StatusPending,
		})
		if len(batch) == r.batchSize {
			if err := r.flush(ctx, batch); err != nil {
				return time.Time{}, err
			}
			batch = batch[:0]
		}
	}
	if err := r.flush(ctx, batch); err != nil {
		return time.Time{}, err
	}
	return checkpoint, nil
}

func (r *run) query() (string, []any, error) {
	switch r.job.Kind {
	case job.KindFull:
		if r.campaign.FullLoadQuery == "" {
			return "", nil, pipeline.Configuration("campaign has no full load query", nil)
		}
		return r.campaign.FullLoadQuery, nil, nil
	case job.KindIncremental:
		if r.campaign.IncrementalQuery == "" {
			return "", nil, pipeline.Configuration("campaign has no incremental load query", nil)
		}
		return r.campaign.IncrementalQuery, []any{r.campaign.IncrementalSince()}, nil
	default:
		return "", nil, pipeline.Configuration("unknown extraction kind", nil,
			errutil.WithDetails(errutil.Detail{Field: "kind", Message: string(r.job.Kind)}))
	}
}

func (r *run) flush(ctx context.Context, batch []*transaction.TransactionRecord) error {
	if len(batch) == 0 {
		return nil
	}
	if err := r.records.BatchCreate(ctx, batch); err != nil {
		return err
	}
	r.stored += int64(len(batch))
	return nil
}
