package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/careteam/internal/app"
)

const (
	testJWTSecret        = "bootstrap-test-jwt-secret-32-bytes!!"
	testEncryptionSecret = "hex:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	return &app.Config{
		Server:   app.ServerConfig{Port: 0, LogLevel: "error"},
		Database: app.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "careteam.sqlite")},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: testJWTSecret, Issuer: "bootstrap-test", TTL: time.Hour},
		},
		Security: app.SecurityConfig{
			EncryptionSecret: testEncryptionSecret,
			MFA: app.MFAConfig{
				Issuer:  "CareTeam",
				Lockout: app.LockoutConfig{Threshold: 5, Window: 15 * time.Minute, Duration: 15 * time.Minute},
			},
		},
		Invitations: app.InvitationConfig{
			Expiry:        168 * time.Hour,
			JoinURL:       "http://localhost:8000/join",
			SweepSchedule: "@every 1h",
		},
	}
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestLoadApplicationConfigFromFilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600))

	cfg, err := loadApplicationConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
}

func TestRunRejectsMissingSecrets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 0\n"), 0o600))

	err := run(context.Background(), []string{"-config", dir})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required secrets not configured")
}

func TestBootstrapRuntimeServesHealth(t *testing.T) {
	cfg := testConfig(t)

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, stack.Router)
	require.Nil(t, stack.Redis)

	rec := httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/teams/abc", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	stack.Shutdown(context.Background(), zap.NewNop())
	require.Nil(t, stack.DB)
	require.Nil(t, stack.Cleaner)
}

func TestBootstrapRuntimeUsesRedisWhenAvailable(t *testing.T) {
	server := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Cache.Redis = app.RedisCacheConfig{Enabled: true, Address: server.Addr(), Timeout: time.Second}

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, stack.Redis)

	stack.Shutdown(context.Background(), zap.NewNop())
	require.Nil(t, stack.Redis)
}

func TestBootstrapRuntimeFallsBackWhenRedisUnavailable(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	addr := server.Addr()
	server.Close()

	cfg := testConfig(t)
	cfg.Cache.Redis = app.RedisCacheConfig{Enabled: true, Address: addr, Timeout: 200 * time.Millisecond}

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })
	require.Nil(t, stack.Redis)

	rec := httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "degraded")
}

func TestBootstrapRuntimeRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "open database")
}
