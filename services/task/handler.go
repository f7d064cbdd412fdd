package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	pkgasynq "incentive-pipeline/pkg/asynq"
	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/pkg/taskname"
	"incentive-pipeline/services/extraction"
	"incentive-pipeline/services/pipeline"
	"incentive-pipeline/services/processing"
)

func registerHandlers(mux *asynq.ServeMux, s *Service) {
	for _, t := range taskname.All {
		mux.HandleFunc(t, s.HandleTask)
	}
}

// HandleTask is the asynq handler for every pipeline task type. Errors that
// a retry cannot fix are wrapped with asynq.SkipRetry.
func (s *Service) HandleTask(ctx context.Context, t *asynq.Task) error {
	op, ok := operationOf(t.Type())
	if !ok {
		return fmt.Errorf("unknown task type %q: %w", t.Type(), asynq.SkipRetry)
	}

	var payload pkgasynq.CampaignPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid pipeline task payload", zap.String("task_type", t.Type()), zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("campaign_id", payload.CampaignID),
	)
	zapLog.Info("processing pipeline task")

	_, err := s.Execute(ctx, ExecuteRequest{CampaignID: payload.CampaignID, Operation: op})
	switch {
	case err == nil:
		zapLog.Info("finished pipeline task")
		return nil
	case errors.Is(err, extraction.ErrAlreadyRunning), errors.Is(err, processing.ErrAlreadyRunning):
		zapLog.Info("pipeline task skipped, run in progress")
		return nil
	case !retryable(err):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}

func retryable(err error) bool {
	if pipeline.KindOf(err) != "" {
		return pipeline.Retryable(err)
	}
	switch errutil.StatusOf(err) {
	case errutil.StatusNotFound, errutil.StatusBadRequest, errutil.StatusValidationFailed, errutil.StatusConflict:
		return false
	}
	return true
}
