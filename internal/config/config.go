package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"flagplane/pkg/constraints"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Environment     string        `mapstructure:"environment"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CorsOrigins lists the origins allowed to call the API from a browser;
	// empty allows any origin.
	CorsOrigins []string `mapstructure:"cors_origins"`
}

type StorageConfig struct {
	// Driver is "mysql" or "memory". The memory driver keeps nothing across
	// restarts and is meant for local runs and load tests.
	Driver string `mapstructure:"driver"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

// Enabled reports whether flags should be distributed to etcd.
func (c EtcdConfig) Enabled() bool {
	return len(c.Endpoints) > 0
}

type WorkersConfig struct {
	OutboxInterval     time.Duration `mapstructure:"outbox_interval"`
	OutboxBatch        int           `mapstructure:"outbox_batch"`
	OutboxMaxRetries   int           `mapstructure:"outbox_max_retries"`
	ReconcilerInterval time.Duration `mapstructure:"reconciler_interval"`
	ReconcilerLockTTL  int           `mapstructure:"reconciler_lock_ttl"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	BufferSize        int           `mapstructure:"buffer_size"`
	// RelayChannel enables cross-instance fan-out over redis pub/sub when set.
	RelayChannel string `mapstructure:"relay_channel"`
}

type AuthConfig struct {
	SigningKey      string        `mapstructure:"signing_key"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	DevPass         bool          `mapstructure:"dev_pass"`
	Users           []UserConfig  `mapstructure:"users"`
	// SDKKeys maps API keys to the env they may stream ("*" for any). Only
	// used by the memory driver; the mysql driver reads sdk_clients.
	SDKKeys        map[string]string `mapstructure:"sdk_keys"`
	SDKKeyCacheTTL time.Duration     `mapstructure:"sdk_key_cache_ttl"`
}

// UserConfig is an operator allowed to log in. PasswordHash is a bcrypt hash;
// Password is a plain bootstrap password hashed at startup and only meant for
// development setups.
type UserConfig struct {
	ID           string `mapstructure:"id"`
	Username     string `mapstructure:"username"`
	Role         string `mapstructure:"role"`
	PasswordHash string `mapstructure:"password_hash"`
	Password     string `mapstructure:"password"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	Burst             int `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.driver", "mysql")
	v.SetDefault("mysql.dsn", "root:root@tcp(127.0.0.1:3306)/flagplane?charset=utf8mb4&parseTime=True&loc=UTC")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/flagplane/")

	v.SetDefault("workers.outbox_interval", 2*time.Second)
	v.SetDefault("workers.outbox_batch", 50)
	v.SetDefault("workers.outbox_max_retries", 5)
	v.SetDefault("workers.reconciler_interval", time.Minute)
	v.SetDefault("workers.reconciler_lock_ttl", 10)

	v.SetDefault("stream.heartbeat_interval", 15*time.Second)
	v.SetDefault("stream.buffer_size", 128)

	v.SetDefault("auth.issuer", "flagplane-auth-service")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.users", []map[string]any{
		{"id": "1001", "username": "admin", "role": "admin", "password": "admin123"},
	})

	v.SetDefault("auth.sdk_keys", map[string]string{"flagplane-dev-key": "*"})
	v.SetDefault("auth.sdk_key_cache_ttl", 30*time.Second)

	v.SetDefault("ratelimit.requests_per_second", 5)
	v.SetDefault("ratelimit.burst", 10)
}

// Load reads config.yaml from the working directory or ./config, then applies
// FLAGPLANE_* environment overrides (server.port -> FLAGPLANE_SERVER_PORT).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("FLAGPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "mysql":
		if c.MySQL.DSN == "" {
			return errors.New("config: mysql.dsn is required for the mysql driver")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Stream.BufferSize <= 0 {
		return errors.New("config: stream.buffer_size must be positive")
	}
	if c.Stream.HeartbeatInterval <= 0 {
		return errors.New("config: stream.heartbeat_interval must be positive")
	}
	if c.Workers.OutboxInterval <= 0 || c.Workers.OutboxBatch <= 0 || c.Workers.ReconcilerInterval <= 0 {
		return errors.New("config: worker intervals and batch sizes must be positive")
	}
	if len(c.Etcd.Prefix) > constraints.MaxEtcdPrefixLen {
		return fmt.Errorf("config: etcd.prefix must be at most %d bytes", constraints.MaxEtcdPrefixLen)
	}
	if c.Server.Environment == "prod" && c.Auth.SigningKey == "" {
		return errors.New("config: auth.signing_key is required in prod")
	}
	if c.Server.Environment == "prod" && c.Auth.DevPass {
		return errors.New("config: auth.dev_pass cannot be enabled in prod")
	}
	for _, u := range c.Auth.Users {
		if u.Username == "" || (u.PasswordHash == "" && u.Password == "") {
			return fmt.Errorf("config: auth user %q needs a username and a password or password_hash", u.Username)
		}
	}
	return nil
}
