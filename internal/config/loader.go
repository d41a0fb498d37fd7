package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/errors"
	"github.com/stratumsec/tokend/pkg/logger"
)

// Load reads configuration from the optional yaml file, applies
// TOKEND_-prefixed environment overrides and validates the result.
// A missing config file is not an error; defaults plus environment
// cover every knob.
func Load(log logger.Logger) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/tokend/")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.ErrInvalidRequest("failed to read config file").WithCause(err)
		}
	}

	v.SetEnvPrefix("TOKEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ErrInvalidRequest("failed to unmarshal config").WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ErrInvalidRequest(err.Error())
	}

	// Hot reload is observability only. Changed values take effect on the
	// next restart; the watcher exists so operators can see that a rollout
	// picked up the file.
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info(context.Background(), "config file changed; restart to apply",
			logger.String("file", e.Name),
			logger.String("op", e.Op.String()),
		)
	})
	v.WatchConfig()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)
	v.SetDefault("server.enable_pprof", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tokend")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "tokend")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", 60)
	v.SetDefault("database.max_conn_idle_time", 10)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "tokend.audit")

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.key_name", "tokend-kek")

	v.SetDefault("jwt.issuer", "tokend")
	v.SetDefault("jwt.audience", "tokend-clients")
	v.SetDefault("jwt.access_token_ttl", int(constants.AccessTokenDefaultTTL.Seconds()))
	v.SetDefault("jwt.refresh_token_ttl", int(constants.RefreshTokenDefaultTTL.Seconds()))
	v.SetDefault("jwt.id_token_ttl", int(constants.IdentityTokenDefaultTTL.Seconds()))

	v.SetDefault("keys.size", constants.RSAKeySizeDefault)
	// Registered empty so the TOKEND_KEYS_ENCRYPTION_SECRET override is
	// visible to Unmarshal; AutomaticEnv only covers known keys.
	v.SetDefault("keys.encryption_secret", "")
	v.SetDefault("keys.validity_days", int(constants.KeyValidityDefault.Hours()/24))
	v.SetDefault("keys.rotation_days", int(constants.KeyRotationDefaultInterval.Hours()/24))
	v.SetDefault("keys.auto_rotate", true)

	v.SetDefault("prune.interval", int(constants.PruneDefaultInterval.Seconds()))
	v.SetDefault("prune.retention", int(constants.PruneDefaultRetention.Seconds()))
	v.SetDefault("prune.batch_size", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.service_name", "tokend")
	v.SetDefault("tracing.sample_rate", 1.0)
}
