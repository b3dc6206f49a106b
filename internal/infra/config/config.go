package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Session   SessionSettings   `mapstructure:"session"`
	Lockout   LockoutSettings   `mapstructure:"lockout"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Captcha   CaptchaSettings   `mapstructure:"captcha"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and key prefixes.
type RedisSettings struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	DB               int           `mapstructure:"db"`
	Password         string        `mapstructure:"password"`
	TLSEnabled       bool          `mapstructure:"tls_enabled"`
	RevocationPrefix string        `mapstructure:"revocation_prefix"`
	RevocationTTL    time.Duration `mapstructure:"revocation_ttl"`
	RateLimitPrefix  string        `mapstructure:"rate_limit_prefix"`
	CaptchaPrefix    string        `mapstructure:"captcha_prefix"`
}

// KafkaSettings configures the audit event producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

type JWTSettings struct {
	KeyDirectory    string        `mapstructure:"key_directory"`
	ActiveKID       string        `mapstructure:"active_kid"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// SessionSettings bounds concurrent logins and drives background cleanup.
type SessionSettings struct {
	MaxActive       int           `mapstructure:"max_active"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	CleanupGrace    time.Duration `mapstructure:"cleanup_grace"`
}

// LockoutSettings governs the failed-login lockout state machine.
type LockoutSettings struct {
	Threshold        int           `mapstructure:"threshold"`
	BaseDuration     time.Duration `mapstructure:"base_duration"`
	MaxDuration      time.Duration `mapstructure:"max_duration"`
	EscalationWindow time.Duration `mapstructure:"escalation_window"`
}

// RateLimitSettings configures per-route-class window limits and the captcha
// escalation threshold.
type RateLimitSettings struct {
	WindowDuration     time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts   int           `mapstructure:"login_max_attempts"`
	RefreshMaxAttempts int           `mapstructure:"refresh_max_attempts"`
	GeneralMaxAttempts int           `mapstructure:"general_max_attempts"`
	CaptchaMaxAttempts int           `mapstructure:"captcha_max_attempts"`
	CaptchaThreshold   int           `mapstructure:"captcha_threshold"`
}

// CaptchaSettings configures challenge lifetime and answer attempts.
type CaptchaSettings struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("TRUST")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.revocation_prefix",
		"redis.revocation_ttl",
		"redis.rate_limit_prefix",
		"redis.captcha_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"jwt.key_directory",
		"jwt.active_kid",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"session.max_active",
		"session.cleanup_interval",
		"session.cleanup_grace",
		"lockout.threshold",
		"lockout.base_duration",
		"lockout.max_duration",
		"lockout.escalation_window",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.refresh_max_attempts",
		"rate_limit.general_max_attempts",
		"rate_limit.captcha_max_attempts",
		"rate_limit.captcha_threshold",
		"captcha.ttl",
		"captcha.max_attempts",
		"captcha.token_ttl",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "trust-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "trust")
	v.SetDefault("postgres.password", "trust_password")
	v.SetDefault("postgres.database", "trust")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.revocation_prefix", "trust:revoked_chain")
	v.SetDefault("redis.revocation_ttl", "15m")
	v.SetDefault("redis.rate_limit_prefix", "trust:rate_limit")
	v.SetDefault("redis.captcha_prefix", "trust:captcha_token")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "security")
	v.SetDefault("kafka.async", true)

	v.SetDefault("jwt.key_directory", "./secrets")
	v.SetDefault("jwt.active_kid", "primary")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")

	v.SetDefault("session.max_active", 5)
	v.SetDefault("session.cleanup_interval", "1h")
	v.SetDefault("session.cleanup_grace", "1h")

	v.SetDefault("lockout.threshold", 5)
	v.SetDefault("lockout.base_duration", "30m")
	v.SetDefault("lockout.max_duration", "24h")
	v.SetDefault("lockout.escalation_window", "24h")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.refresh_max_attempts", 10)
	v.SetDefault("rate_limit.general_max_attempts", 100)
	v.SetDefault("rate_limit.captcha_max_attempts", 10)
	v.SetDefault("rate_limit.captcha_threshold", 3)

	v.SetDefault("captcha.ttl", "5m")
	v.SetDefault("captcha.max_attempts", 3)
	v.SetDefault("captcha.token_ttl", "10m")

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "trust-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "TRUST_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
