package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the careteam service.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Security      SecurityConfig     `mapstructure:"security"`
	Invitations   InvitationConfig   `mapstructure:"invitations"`
	Email         EmailConfig        `mapstructure:"email"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	SMS           SMSConfig          `mapstructure:"sms"`
	RateLimit     RateLimitConfig    `mapstructure:"rate_limit"`
	Monitoring    MonitoringConfig   `mapstructure:"monitoring"`
	Tracing       TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	BaseURL         string        `mapstructure:"base_url"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures how principal tokens from the identity provider are validated.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT validation.
type JWTSettings struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"access_token_ttl"`
}

// SecurityConfig holds secret sealing and MFA policy.
type SecurityConfig struct {
	EncryptionSecret string    `mapstructure:"encryption_secret"`
	MFA              MFAConfig `mapstructure:"mfa"`
}

// MFAConfig tunes TOTP enrollment and the lockout policy.
type MFAConfig struct {
	Issuer          string        `mapstructure:"issuer"`
	BackupCodeCount int           `mapstructure:"backup_code_count"`
	Skew            uint          `mapstructure:"skew"`
	QRSize          int           `mapstructure:"qr_size"`
	Lockout         LockoutConfig `mapstructure:"lockout"`
}

// LockoutConfig is N failures within Window locking for Duration.
type LockoutConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
	Duration  time.Duration `mapstructure:"duration"`
}

// InvitationConfig controls invitation issuance and expiry.
type InvitationConfig struct {
	Expiry            time.Duration `mapstructure:"expiry"`
	TokenBytes        int           `mapstructure:"token_bytes"`
	JoinURL           string        `mapstructure:"join_url"`
	EnforceEmailMatch bool          `mapstructure:"enforce_email_match"`
	NotifyTimeout     time.Duration `mapstructure:"notify_timeout"`
	SweepSchedule     string        `mapstructure:"sweep_schedule"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NotificationConfig configures non-email invitation delivery.
type NotificationConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig posts invitation events to an external endpoint.
type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

// SMSConfig points at the SMS challenge gateway. An empty URL disables SMS backup.
type SMSConfig struct {
	Gateway SMSGatewayConfig `mapstructure:"gateway"`
}

type SMSGatewayConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig sets per-client token buckets. MFA routes use their own, stricter bucket.
type RateLimitConfig struct {
	RPS      float64 `mapstructure:"rps"`
	Burst    int     `mapstructure:"burst"`
	MFARPS   float64 `mapstructure:"mfa_rps"`
	MFABurst int     `mapstructure:"mfa_burst"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// TracingConfig configures OTLP span export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("CARETEAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/careteam.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("security.mfa.issuer", "CareTeam")
	v.SetDefault("security.mfa.backup_code_count", 10)
	v.SetDefault("security.mfa.skew", 2)
	v.SetDefault("security.mfa.qr_size", 256)
	v.SetDefault("security.mfa.lockout.threshold", 5)
	v.SetDefault("security.mfa.lockout.window", "15m")
	v.SetDefault("security.mfa.lockout.duration", "15m")

	v.SetDefault("invitations.expiry", "168h")
	v.SetDefault("invitations.token_bytes", 32)
	v.SetDefault("invitations.join_url", "http://localhost:8000/join")
	v.SetDefault("invitations.enforce_email_match", true)
	v.SetDefault("invitations.notify_timeout", "10s")
	v.SetDefault("invitations.sweep_schedule", "@hourly")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("notifications.webhook.url", "")
	v.SetDefault("notifications.webhook.timeout", "5s")
	v.SetDefault("notifications.webhook.retries", 2)

	v.SetDefault("sms.gateway.url", "")
	v.SetDefault("sms.gateway.timeout", "10s")

	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("rate_limit.mfa_rps", 1)
	v.SetDefault("rate_limit.mfa_burst", 5)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "careteam")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
