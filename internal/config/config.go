// Package config holds the application's configuration model and loader.
package config

import (
	"fmt"
	"time"

	"github.com/stratumsec/tokend/pkg/constants"
)

// Config holds the application's configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Vault    VaultConfig    `mapstructure:"vault"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Keys     KeyConfig      `mapstructure:"keys"`
	Prune    PruneConfig    `mapstructure:"prune"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
	EnablePprof  bool   `mapstructure:"enable_pprof"`
}

// Addr returns the host:port the HTTP server binds to.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime"`  // minutes
	MaxConnIdleTime int    `mapstructure:"max_conn_idle_time"` // minutes
}

// DSN returns the postgres connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
	KeyName   string `mapstructure:"key_name"`
}

type JWTConfig struct {
	Issuer          string `mapstructure:"issuer"`
	Audience        string `mapstructure:"audience"`
	AccessTokenTTL  int    `mapstructure:"access_token_ttl"`  // seconds
	RefreshTokenTTL int    `mapstructure:"refresh_token_ttl"` // seconds
	IDTokenTTL      int    `mapstructure:"id_token_ttl"`      // seconds
}

// AccessTTL returns the access token lifetime as a duration.
func (c *JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

// RefreshTTL returns the refresh token lifetime as a duration.
func (c *JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

// IDTTL returns the identity token lifetime as a duration.
func (c *JWTConfig) IDTTL() time.Duration {
	return time.Duration(c.IDTokenTTL) * time.Second
}

type KeyConfig struct {
	Size             int    `mapstructure:"size"`
	ValidityDays     int    `mapstructure:"validity_days"`
	RotationDays     int    `mapstructure:"rotation_days"`
	EncryptionSecret string `mapstructure:"encryption_secret"` // fallback KEK when vault is disabled
	AutoRotate       bool   `mapstructure:"auto_rotate"`
}

// Validity returns the signing-key verification lifetime.
func (c *KeyConfig) Validity() time.Duration {
	return time.Duration(c.ValidityDays) * 24 * time.Hour
}

// RotationInterval returns how old the active key may grow before the
// rotation sweep replaces it.
func (c *KeyConfig) RotationInterval() time.Duration {
	return time.Duration(c.RotationDays) * 24 * time.Hour
}

type PruneConfig struct {
	Interval  int `mapstructure:"interval"`  // seconds
	Retention int `mapstructure:"retention"` // seconds past expiry

	// BatchSize bounds rows deleted per sweep statement.
	BatchSize int `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.JWT.Issuer == "" {
		return fmt.Errorf("jwt.issuer must not be empty")
	}
	if c.JWT.AccessTokenTTL <= 0 {
		return fmt.Errorf("jwt.access_token_ttl must be positive")
	}
	if c.JWT.RefreshTokenTTL <= c.JWT.AccessTokenTTL {
		return fmt.Errorf("jwt.refresh_token_ttl must exceed jwt.access_token_ttl")
	}
	if c.JWT.IDTokenTTL <= 0 {
		return fmt.Errorf("jwt.id_token_ttl must be positive")
	}
	if c.Keys.Size < constants.RSAKeySizeDefault {
		return fmt.Errorf("keys.size must be at least %d bits", constants.RSAKeySizeDefault)
	}
	if c.Keys.ValidityDays <= 0 {
		return fmt.Errorf("keys.validity_days must be positive")
	}
	if c.Keys.RotationDays <= 0 || c.Keys.RotationDays >= c.Keys.ValidityDays {
		return fmt.Errorf("keys.rotation_days must be positive and below keys.validity_days")
	}
	if !c.Vault.Enabled && c.Keys.EncryptionSecret == "" {
		return fmt.Errorf("keys.encryption_secret is required when vault is disabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty when kafka is enabled")
	}
	if c.Prune.Interval <= 0 {
		return fmt.Errorf("prune.interval must be positive")
	}
	return nil
}
