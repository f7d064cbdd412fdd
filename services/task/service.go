package task

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	pkgasynq "incentive-pipeline/pkg/asynq"
	"incentive-pipeline/pkg/config"
	"incentive-pipeline/pkg/errutil"
	pkgtask "incentive-pipeline/pkg/task"
	"incentive-pipeline/services/extraction"
	"incentive-pipeline/services/job"
	"incentive-pipeline/services/processing"
)

// Service is the programmatic entry to the pipeline: run now, run in the
// background, retry a failed job or read a job's status.
type Service struct {
	extraction *extraction.Service
	processing *processing.Service
	supervisor *job.Supervisor
	enqueuer   pkgtask.Enqueuer
	queue      string
}

type Params struct {
	fx.In

	Extraction *extraction.Service
	Processing *processing.Service
	Supervisor *job.Supervisor
	Enqueuer   pkgtask.Enqueuer `optional:"true"`
	Config     *config.Config   `optional:"true"`
}

func NewService(p Params) *Service {
	queue := pkgasynq.DefaultQueue
	if p.Config != nil && p.Config.Pipeline.Queue != "" {
		queue = p.Config.Pipeline.Queue
	}
	return &Service{
		extraction: p.Extraction,
		processing: p.Processing,
		supervisor: p.Supervisor,
		enqueuer:   p.Enqueuer,
		queue:      queue,
	}
}

func (r ExecuteRequest) validate() error {
	var details []errutil.Detail
	if r.CampaignID == "" {
		details = append(details, errutil.Detail{Field: "campaign_id", Message: "is required"})
	}
	if _, ok := operationTasks[r.Operation]; !ok {
		details = append(details, errutil.Detail{Field: "operation", Message: "unknown operation " + string(r.Operation)})
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid execute request", nil, errutil.WithDetails(details...))
	}
	return nil
}

// Execute runs the operation synchronously.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	zapLog := zap.L().With(
		zap.String("campaign_id", req.CampaignID),
		zap.String("operation", string(req.Operation)),
	)
	zapLog.Info("executing pipeline operation")

	res := &Result{Operation: req.Operation}
	var err error
	switch req.Operation {
	case OpExtractFull:
		res.Extraction, err = s.extraction.RunFull(ctx, req.CampaignID)
	case OpExtractIncremental:
		res.Extraction, err = s.extraction.RunIncremental(ctx, req.CampaignID)
	case OpProcess:
		res.Processing, err = s.processing.Run(ctx, req.CampaignID)
	case OpRequeueIneligible:
		res.Requeued, err = s.processing.RequeueIneligible(ctx, req.CampaignID)
	case OpSync:
		res.Extraction, err = s.extraction.RunIncremental(ctx, req.CampaignID)
		if err != nil {
			break
		}
		res.Processing, err = s.processing.Run(ctx, req.CampaignID)
	}
	if err != nil {
		zapLog.Warn("pipeline operation failed", zap.Error(err))
		return res, err
	}
	return res, nil
}

// Enqueue schedules the operation on the worker queue.
func (s *Service) Enqueue(ctx context.Context, req ExecuteRequest, opts ...asynq.Option) (*EnqueueResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, req, pkgasynq.CampaignPayload{CampaignID: req.CampaignID}, opts...)
}

func (s *Service) enqueue(ctx context.Context, req ExecuteRequest, payload pkgasynq.CampaignPayload, opts ...asynq.Option) (*EnqueueResult, error) {
	if s.enqueuer == nil {
		return nil, errutil.ServiceUnavailable("task queue is not configured", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errutil.Internal("failed to encode task payload", err)
	}

	opts = append([]asynq.Option{asynq.Queue(s.queue)}, opts...)
	info, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(operationTasks[req.Operation], body), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, errutil.Conflict("task already queued", err)
	}
	if err != nil {
		zap.L().Error("failed to enqueue pipeline task",
			zap.String("campaign_id", req.CampaignID),
			zap.String("operation", string(req.Operation)),
			zap.Error(err),
		)
		return nil, errutil.ServiceUnavailable("failed to enqueue task", err)
	}

	zap.L().Info("enqueued pipeline task",
		zap.String("campaign_id", req.CampaignID),
		zap.String("operation", string(req.Operation)),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
	return &EnqueueResult{TaskID: info.ID, Queue: info.Queue}, nil
}

// Retry re-runs a FAILED job's operation for the same campaign. The new run
// gets its own job record.
func (s *Service) Retry(ctx context.Context, jobType JobType, jobID string) (*Result, error) {
	req, err := s.retryRequest(ctx, jobType, jobID)
	if err != nil {
		return nil, err
	}
	zap.L().Info("retrying failed job",
		zap.String("job_id", jobID),
		zap.String("campaign_id", req.CampaignID),
		zap.String("operation", string(req.Operation)),
	)
	return s.Execute(ctx, req)
}

func (s *Service) retryRequest(ctx context.Context, jobType JobType, jobID string) (ExecuteRequest, error) {
	switch jobType {
	case JobExtraction:
		j, err := s.supervisor.ExtractionStatus(ctx, jobID)
		if err != nil {
			return ExecuteRequest{}, err
		}
		if j.Status != job.StatusFailed {
			return ExecuteRequest{}, errutil.Conflict("only failed jobs can be retried", nil,
				errutil.WithDetails(errutil.Detail{Field: "status", Message: string(j.Status)}))
		}
		op := OpExtractIncremental
		if j.Kind == job.KindFull {
			op = OpExtractFull
		}
		return ExecuteRequest{CampaignID: j.CampaignID, Operation: op}, nil
	case JobProcessing:
		j, err := s.supervisor.ProcessingStatus(ctx, jobID)
		if err != nil {
			return ExecuteRequest{}, err
		}
		if j.Status != job.StatusFailed {
			return ExecuteRequest{}, errutil.Conflict("only failed jobs can be retried", nil,
				errutil.WithDetails(errutil.Detail{Field: "status", Message: string(j.Status)}))
		}
		return ExecuteRequest{CampaignID: j.CampaignID, Operation: OpProcess}, nil
	default:
		return ExecuteRequest{}, errutil.BadRequest("unknown job type", nil,
			errutil.WithDetails(errutil.Detail{Field: "job_type", Message: string(jobType)}))
	}
}

// Status returns the job record of the given type.
func (s *Service) Status(ctx context.Context, jobType JobType, jobID string) (*Result, error) {
	switch jobType {
	case JobExtraction:
		j, err := s.supervisor.ExtractionStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		op := OpExtractIncremental
		if j.Kind == job.KindFull {
			op = OpExtractFull
		}
		return &Result{Operation: op, Extraction: j}, nil
	case JobProcessing:
		j, err := s.supervisor.ProcessingStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return &Result{Operation: OpProcess, Processing: j}, nil
	default:
		return nil, errutil.BadRequest("unknown job type", nil,
			errutil.WithDetails(errutil.Detail{Field: "job_type", Message: string(jobType)}))
	}
}
