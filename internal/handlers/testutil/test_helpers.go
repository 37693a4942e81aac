package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/api"
	"github.com/charlesng35/careteam/internal/app"
	iauth "github.com/charlesng35/careteam/internal/auth"
	"github.com/charlesng35/careteam/internal/cache"
	sharedtestutil "github.com/charlesng35/careteam/internal/database/testutil"
	"github.com/charlesng35/careteam/internal/models"
	"github.com/charlesng35/careteam/internal/notify"
	"github.com/charlesng35/careteam/internal/services"
	"github.com/charlesng35/careteam/pkg/response"
)

const (
	jwtSecret        = "test-suite-super-secret-key-32-bytes!!"
	encryptionSecret = "hex:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T          *testing.T
	DB         *gorm.DB
	Router     *gin.Engine
	JWT        *iauth.JWTService
	Dispatcher *RecordingDispatcher
	SMS        *FakeSMS
}

// NewEnv provisions a fresh handler test environment with migrations applied.
// mutate may adjust the configuration before the router is built.
func NewEnv(t *testing.T, mutate ...func(*app.Config)) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: jwtSecret,
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
		Security: app.SecurityConfig{
			EncryptionSecret: encryptionSecret,
			MFA: app.MFAConfig{
				Issuer:  "CareTeam Test",
				Lockout: app.LockoutConfig{Threshold: 3, Window: 15 * time.Minute, Duration: 15 * time.Minute},
			},
		},
		Invitations: app.InvitationConfig{
			Expiry:            168 * time.Hour,
			JoinURL:           "https://app.example.com/join",
			EnforceEmailMatch: true,
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	teams, err := services.NewTeamService(db, audit)
	require.NoError(t, err)

	dispatcher := &RecordingDispatcher{}
	invitations, err := services.NewInvitationService(db, audit, dispatcher, cfg.Invitations.InvitationOptions()...)
	require.NoError(t, err)

	fakeSMS := &FakeSMS{Code: "424242"}
	deps, err := cfg.Security.MFADependencies(cache.NewDatabaseStore(db), fakeSMS, nil)
	require.NoError(t, err)
	verifier, err := services.NewMFAVerificationService(db, audit, deps)
	require.NoError(t, err)
	enrollment, err := services.NewMFAEnrollmentService(db, audit, verifier, deps)
	require.NoError(t, err)

	router, err := api.NewRouter(db, jwtSvc, cfg, api.Services{
		Teams:           teams,
		Invitations:     invitations,
		MFAEnrollment:   enrollment,
		MFAVerification: verifier,
	})
	require.NoError(t, err)

	return &Env{
		T:          t,
		DB:         db,
		Router:     router,
		JWT:        jwtSvc,
		Dispatcher: dispatcher,
		SMS:        fakeSMS,
	}
}

// NewPrincipal returns a principal with a fresh identifier.
func NewPrincipal(email string) models.Principal {
	return models.Principal{ID: uuid.NewString(), Email: email}
}

// Token issues an access token for principal the way the identity provider would.
func (e *Env) Token(principal models.Principal) string {
	e.T.Helper()

	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: principal.ID,
		Email:  principal.Email,
	})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// MustSucceed asserts the expected status and a success envelope, decoding the data into dest when set.
func MustSucceed[T any](t *testing.T, w *httptest.ResponseRecorder, status int, dest *T) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := DecodeResponse(t, w)
	require.True(t, resp.Success, w.Body.String())
	if dest != nil {
		DecodeInto(t, resp.Data, dest)
	}
}

// MustFail asserts the expected status and error code.
func MustFail(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, code, resp.Error.Code)
}

// RecordingDispatcher captures invitation notices instead of delivering them.
type RecordingDispatcher struct {
	mu      sync.Mutex
	notices []notify.InvitationNotice
}

func (d *RecordingDispatcher) SendInvitation(_ context.Context, notice notify.InvitationNotice) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, notice)
	return nil
}

func (d *RecordingDispatcher) Channel() string { return "test" }

// Sent returns a copy of the captured notices.
func (d *RecordingDispatcher) Sent() []notify.InvitationNotice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.InvitationNotice(nil), d.notices...)
}

// FakeSMS accepts a single fixed challenge code.
type FakeSMS struct {
	mu      sync.Mutex
	Code    string
	started []string
}

func (f *FakeSMS) Start(_ context.Context, phone, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, phone)
	return nil
}

func (f *FakeSMS) Verify(_ context.Context, _, _, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return code == f.Code, nil
}
