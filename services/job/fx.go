package job

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"incentive-pipeline/pkg/config"
)

var Module = fx.Module("job.supervisor",
	fx.Provide(
		NewService,
		NewLocker,
		NewSupervisor,
	),
	fx.Invoke(reconcileOnStart),
)

type LockerParams struct {
	fx.In

	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

// NewLocker picks the locker named by PIPELINE.LOCK_BACKEND.
func NewLocker(p LockerParams) Locker {
	if strings.EqualFold(p.Config.Pipeline.LockBackend, "redis") {
		if p.Redis != nil {
			return NewRedisLocker(p.Redis, p.Config.Pipeline.LockTTL)
		}
		zap.L().Warn("redis lock backend requested without a redis client, using memory locker")
	}
	return NewMemoryLocker()
}

func reconcileOnStart(lc fx.Lifecycle, s *Supervisor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := s.ReconcileStale(ctx)
			return err
		},
	})
}
