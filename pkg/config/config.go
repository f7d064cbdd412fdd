package config

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "development" // e.g., app/<env>/<service_name>
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	// NodeID seeds snowflake ID generation; unique per running instance.
	NodeID     int64  `mapstructure:"NODE_ID"`
	Ops        struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
	} `mapstructure:"OPS_SERVER"`
	Database struct {
		Type     string `mapstructure:"TYPE"`
		Host     string `mapstructure:"HOST"`
		Port     string `mapstructure:"PORT"`
		DBNAME   string `mapstructure:"DBNAME"`
		User     string `mapstructure:"USER"`
		Password string `mapstructure:"PASSWORD"`
		SSLMode  string `mapstructure:"SSLMODE"`
		Timezone string `mapstructure:"TIMEZONE"`
		AutoMigrate bool `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Ledger struct {
		// grpc | http
		Transport  string        `mapstructure:"TRANSPORT"`
		Addr       string        `mapstructure:"ADDR"`
		BaseURL    string        `mapstructure:"BASE_URL"`
		APIKey     string        `mapstructure:"API_KEY"`
		Timeout    time.Duration `mapstructure:"TIMEOUT"`
		RateLimit  float64       `mapstructure:"RATE_LIMIT"`
		RateBurst  int           `mapstructure:"RATE_BURST"`
		MaxRetries uint64        `mapstructure:"MAX_RETRIES"`
	} `mapstructure:"LEDGER"`
	Pipeline struct {
		Concurrency      int           `mapstructure:"CONCURRENCY"`
		BatchSize        int           `mapstructure:"BATCH_SIZE"`
		ScheduleInterval time.Duration `mapstructure:"SCHEDULE_INTERVAL"`
		// memory | redis
		LockBackend    string        `mapstructure:"LOCK_BACKEND"`
		LockTTL        time.Duration `mapstructure:"LOCK_TTL"`
		MarkIneligible bool          `mapstructure:"MARK_INELIGIBLE"`
		Queue          string        `mapstructure:"QUEUE"`
	} `mapstructure:"PIPELINE"`
	Minio struct {
		Enable     bool   `mapstructure:"ENABLE"`
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Otel struct {
		Enable   bool   `mapstructure:"ENABLE"`
		// grpc | http
		Exporter string `mapstructure:"EXPORTER"`
		Endpoint string `mapstructure:"ENDPOINT"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Consul struct {
		Enable bool   `mapstructure:"ENABLE"`
		Addr   string `mapstructure:"ADDR"`
		// Host is the address consul uses to reach the ops server.
		Host   string `mapstructure:"HOST"`
	} `mapstructure:"CONSUL"`
	Flagsmith struct {
		ApiKey string `mapstructure:"API_KEY"`
		Addr   string `mapstructure:"ADDR"`
	} `mapstructure:"FLAGSMITH"`
	Pyroscope struct {
		Enable bool   `mapstructure:"ENABLE"`
		Addr   string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "incentive-pipeline")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("OPS_SERVER.ADDR", "8081")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.AUTO_MIGRATE", true)
	v.SetDefault("LEDGER.TRANSPORT", "grpc")
	v.SetDefault("LEDGER.TIMEOUT", 10*time.Second)
	v.SetDefault("LEDGER.RATE_LIMIT", 50)
	v.SetDefault("LEDGER.RATE_BURST", 10)
	v.SetDefault("LEDGER.MAX_RETRIES", 3)
	v.SetDefault("PIPELINE.CONCURRENCY", 4)
	v.SetDefault("PIPELINE.BATCH_SIZE", 500)
	v.SetDefault("PIPELINE.SCHEDULE_INTERVAL", time.Hour)
	v.SetDefault("PIPELINE.LOCK_BACKEND", "memory")
	v.SetDefault("PIPELINE.LOCK_TTL", 30*time.Minute)
	v.SetDefault("PIPELINE.MARK_INELIGIBLE", true)
	v.SetDefault("PIPELINE.QUEUE", "pipeline")
	v.SetDefault("OTEL.EXPORTER", "grpc")
	v.SetDefault("OTEL.ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL.INSECURE", true)
	v.SetDefault("CONSUL.ADDR", "127.0.0.1:8500")
}

func LoadConfig(p Params) *Config {
	setDefaults(config)

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		applySecrets(p.Vault, &cfg)
	}

	configHolder.Store(&cfg)
	return &cfg
}

func LoadRemote(p Params) *Config {
	setDefaults(config)

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	config.SetConfigType(configType)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		zap.L().Error("failed to add remote config provider", zap.String("backend", backend), zap.Error(err))
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		zap.L().Error("failed to read remote config", zap.String("backend", backend), zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	if p.Vault != nil {
		applySecrets(p.Vault, &cfg)
	}
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(time.Second * 5)

			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			var newcfg Config
			if err := config.Unmarshal(&newcfg); err != nil {
				continue
			}
			if p.Vault != nil {
				applySecrets(p.Vault, &newcfg)
			}
			configHolder.Store(&newcfg)
		}
	}()

	return &cfg
}

// Current returns the most recently loaded configuration, or nil before the
// first load.
func Current() *Config {
	cfg, _ := configHolder.Load().(*Config)
	return cfg
}

func applySecrets(client *vault.Client, cfg *Config) {
	ctx := context.Background()

	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Success Get Secret")

	get := func(key string) string {
		if val, ok := secret.Data.Data[key].(string); ok {
			return val
		}
		return ""
	}

	if v := get("postgres_user"); v != "" {
		cfg.Database.User = v
	}
	if v := get("postgres_password"); v != "" {
		cfg.Database.Password = v
	}
	if v := get("redis_password"); v != "" {
		cfg.Redis.Password = v
	}
	if v := get("ledger_api_key"); v != "" {
		cfg.Ledger.APIKey = v
	}
	if v := get("flagsmith_api_key"); v != "" {
		cfg.Flagsmith.ApiKey = v
	}
	if v := get("minio_secret_key"); v != "" {
		cfg.Minio.SecretKey = v
	}
}
