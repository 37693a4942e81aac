package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/careteam/internal/auth"
	"github.com/charlesng35/careteam/internal/cache"
	testutil "github.com/charlesng35/careteam/internal/database/testutil"
	"github.com/charlesng35/careteam/internal/notify"
	"github.com/charlesng35/careteam/internal/services"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.Server.TrustedProxies)
	require.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.Equal(t, 3*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "careteam", cfg.Auth.JWT.Audience)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)

	require.Equal(t, "encryption-secret", cfg.Security.EncryptionSecret)
	require.Equal(t, "Bayside Health", cfg.Security.MFA.Issuer)
	require.Equal(t, 8, cfg.Security.MFA.BackupCodeCount)
	require.EqualValues(t, 2, cfg.Security.MFA.Skew)
	require.Equal(t, 3, cfg.Security.MFA.Lockout.Threshold)
	require.Equal(t, 10*time.Minute, cfg.Security.MFA.Lockout.Window)
	require.Equal(t, 30*time.Minute, cfg.Security.MFA.Lockout.Duration)

	require.Equal(t, 72*time.Hour, cfg.Invitations.Expiry)
	require.Equal(t, 32, cfg.Invitations.TokenBytes)
	require.False(t, cfg.Invitations.EnforceEmailMatch)
	require.Equal(t, "@every 30m", cfg.Invitations.SweepSchedule)
	require.Equal(t, 10*time.Second, cfg.Invitations.NotifyTimeout)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)

	require.Equal(t, "https://hooks.example.com/invitations", cfg.Notifications.Webhook.URL)
	require.Equal(t, 4, cfg.Notifications.Webhook.Retries)
	require.Equal(t, 5*time.Second, cfg.Notifications.Webhook.Timeout)

	require.Equal(t, "https://sms.example.com", cfg.SMS.Gateway.URL)
	require.Equal(t, 10*time.Second, cfg.SMS.Gateway.Timeout)

	require.Equal(t, 50.0, cfg.RateLimit.RPS)
	require.Equal(t, 40, cfg.RateLimit.Burst)
	require.Equal(t, 0.5, cfg.RateLimit.MFARPS)
	require.Equal(t, 3, cfg.RateLimit.MFABurst)

	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t, "otel-collector:4317", cfg.Tracing.Endpoint)
	require.Equal(t, 0.25, cfg.Tracing.SampleRate)
	require.Equal(t, "careteam", cfg.Tracing.ServiceName)
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 168*time.Hour, cfg.Invitations.Expiry)
	require.True(t, cfg.Invitations.EnforceEmailMatch)
	require.Equal(t, "@hourly", cfg.Invitations.SweepSchedule)
	require.Equal(t, 5, cfg.Security.MFA.Lockout.Threshold)
	require.Empty(t, cfg.Auth.JWT.Secret)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("CARETEAM_SECURITY_MFA_LOCKOUT_THRESHOLD", "9")
	t.Setenv("CARETEAM_INVITATIONS_EXPIRY", "24h")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Security.MFA.Lockout.Threshold)
	require.Equal(t, 24*time.Hour, cfg.Invitations.Expiry)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := AuthConfig{
		JWT: JWTSettings{
			Secret:   "secret",
			Issuer:   " issuer ",
			Audience: "careteam",
			TTL:      30 * time.Minute,
		},
	}

	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		Audience:       "careteam",
		AccessTokenTTL: 30 * time.Minute,
	}, cfg.JWTServiceConfig())

	var empty AuthConfig
	require.Equal(t, auth.DefaultAccessTokenTTL, empty.JWTServiceConfig().AccessTokenTTL)

	encoded := AuthConfig{JWT: JWTSettings{Secret: "hex:6361726574656d"}}
	require.Equal(t, "caretem", encoded.JWTServiceConfig().Secret)
}

func TestEmailConfigAdapter(t *testing.T) {
	cfg := EmailConfig{
		SMTP: SMTPConfig{
			Enabled:  true,
			Host:     "smtp.example.com",
			Port:     2525,
			Username: "user",
			Password: "pass",
			From:     "no-reply@example.com",
			UseTLS:   true,
			Timeout:  10 * time.Second,
		},
	}

	settings := cfg.SMTPSettings()
	require.True(t, settings.Enabled)
	require.Equal(t, "smtp.example.com", settings.Host)
	require.Equal(t, 2525, settings.Port)
	require.Equal(t, "user", settings.Username)
	require.Equal(t, "pass", settings.Password)
	require.Equal(t, "no-reply@example.com", settings.From)
	require.True(t, settings.UseTLS)
	require.Equal(t, 10*time.Second, settings.Timeout)
}

func TestLockoutPolicyFallsBackToDefaults(t *testing.T) {
	require.Equal(t, services.DefaultLockoutPolicy, LockoutConfig{}.LockoutPolicy())

	policy := LockoutConfig{Threshold: 3, Duration: time.Hour}.LockoutPolicy()
	require.Equal(t, 3, policy.Threshold)
	require.Equal(t, services.DefaultLockoutPolicy.Window, policy.Window)
	require.Equal(t, time.Hour, policy.Duration)
}

func TestDatabaseSettings(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "PostgreSQL",
		Postgres: DBAuthConfig{
			Host:     " db.internal ",
			Port:     5433,
			Database: "careteam",
			Username: "svc",
			Password: "pw",
		},
	}
	settings := cfg.DatabaseSettings()
	require.Equal(t, "postgres", settings.Driver)
	require.Equal(t, "db.internal", settings.Host)
	require.Equal(t, 5433, settings.Port)
	require.Equal(t, "careteam", settings.Name)

	require.Equal(t, "sqlite", DatabaseConfig{}.DatabaseSettings().Driver)
}

func TestNewDispatcherSelection(t *testing.T) {
	cfg := &Config{}
	dispatcher, err := NewDispatcher(cfg)
	require.NoError(t, err)
	require.Equal(t, "none", dispatcher.Channel())

	cfg.Notifications.Webhook.URL = "https://hooks.example.com"
	dispatcher, err = NewDispatcher(cfg)
	require.NoError(t, err)
	require.Equal(t, "webhook", dispatcher.Channel())

	cfg.Email.SMTP = SMTPConfig{Enabled: true, Host: "smtp.example.com", Port: 25, From: "no-reply@example.com"}
	dispatcher, err = NewDispatcher(cfg)
	require.NoError(t, err)
	require.Equal(t, "email", dispatcher.Channel())
	require.IsType(t, &notify.MailDispatcher{}, dispatcher)
}

func TestNewSMSVerifier(t *testing.T) {
	verifier, err := NewSMSVerifier(SMSConfig{})
	require.NoError(t, err)
	require.Nil(t, verifier)

	verifier, err = NewSMSVerifier(SMSConfig{Gateway: SMSGatewayConfig{URL: "https://sms.example.com"}})
	require.NoError(t, err)
	require.NotNil(t, verifier)
}

func TestSecurityConfigDerivesKeys(t *testing.T) {
	keys, err := SecurityConfig{EncryptionSecret: "hex:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"}.EncryptionKeys()
	require.NoError(t, err)
	require.Len(t, keys.Encryption, 32)
	require.NotEqual(t, keys.Encryption, keys.BackupCode)

	_, err = SecurityConfig{}.EncryptionKeys()
	require.Error(t, err)
}

func TestSecurityConfigMFADependencies(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	cfg := SecurityConfig{
		EncryptionSecret: "hex:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		MFA: MFAConfig{
			Issuer:  "Bayside Health",
			Lockout: LockoutConfig{Threshold: 3},
		},
	}

	deps, err := cfg.MFADependencies(cache.NewDatabaseStore(db), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, deps.Authenticator)
	require.NotNil(t, deps.Cipher)
	require.NotNil(t, deps.Hasher)
	require.Nil(t, deps.SMS)
	require.Equal(t, 3, deps.Lockout.Policy().Threshold)

	_, err = SecurityConfig{}.MFADependencies(cache.NewDatabaseStore(db), nil, nil)
	require.Error(t, err)
}
