package task

import (
	"go.uber.org/fx"

	pkgasynq "incentive-pipeline/pkg/asynq"
)

// Client provides an Enqueuer and an Inspector backed by asynq.
var Client = fx.Module("task:enqueuer",
	pkgasynq.Client,
	fx.Provide(NewEnqueuer, NewInspector),
)
