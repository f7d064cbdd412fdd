package main

import (
	"log"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	pkgasynq "incentive-pipeline/pkg/asynq"
	"incentive-pipeline/pkg/config"
	"incentive-pipeline/pkg/db"
	"incentive-pipeline/pkg/featureflags"
	"incentive-pipeline/pkg/gen"
	"incentive-pipeline/pkg/hashistack/secretmanager"
	"incentive-pipeline/pkg/hashistack/servicediscover"
	"incentive-pipeline/pkg/health"
	"incentive-pipeline/pkg/logger"
	"incentive-pipeline/pkg/minio"
	"incentive-pipeline/pkg/otelcol"
	"incentive-pipeline/pkg/profiling"
	"incentive-pipeline/pkg/redis"
	"incentive-pipeline/pkg/server"
	pkgtask "incentive-pipeline/pkg/task"
	"incentive-pipeline/services/campaign"
	"incentive-pipeline/services/extraction"
	"incentive-pipeline/services/job"
	"incentive-pipeline/services/ledger"
	"incentive-pipeline/services/processing"
	"incentive-pipeline/services/rule"
	"incentive-pipeline/services/source"
	"incentive-pipeline/services/task"
	"incentive-pipeline/services/transaction"
)

func main() {
	opts := []fx.Option{
		configModule(),
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		gen.Module,
		redis.Module,
		featureflags.Module,
		minio.Module,
		pkgtask.Client,
		pkgasynq.Server,
		fx.Invoke(migrate),
		rule.Module,
		source.Module,
		campaign.Module,
		transaction.Module,
		job.Module,
		ledger.Module,
		extraction.Module,
		processing.Module,
		task.Module,
		health.Module,
		server.ProvideOpsServer,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

// configModule reads from consul/etcd when REMOTE_CONFIG_PROVIDER is set and
// resolves secrets from vault when VAULT_ADDR is set.
func configModule() fx.Option {
	cfg := config.Module
	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		cfg = config.RemoteModule
	}
	if _, ok := os.LookupEnv("VAULT_ADDR"); ok {
		return fx.Options(secretmanager.Module, cfg)
	}
	return cfg
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

func migrate(cfg *config.Config, conn *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := conn.AutoMigrate(
		&campaign.Campaign{},
		&transaction.TransactionRecord{},
		&job.ExtractionJob{},
		&job.ProcessingJob{},
	); err != nil {
		zap.L().Error("[DB] auto migrate failed", zap.Error(err))
		return err
	}
	zap.L().Info("[DB] schema migrated")
	return nil
}
