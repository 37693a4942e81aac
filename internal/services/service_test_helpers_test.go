package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/auth/mfa"
	"github.com/charlesng35/careteam/internal/cache"
	"github.com/charlesng35/careteam/internal/database/testutil"
	"github.com/charlesng35/careteam/internal/models"
	"github.com/charlesng35/careteam/internal/notify"
	"github.com/charlesng35/careteam/pkg/crypto"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingDispatcher struct {
	mu      sync.Mutex
	notices []notify.InvitationNotice
	err     error
}

func (d *recordingDispatcher) SendInvitation(_ context.Context, notice notify.InvitationNotice) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, notice)
	return d.err
}

func (d *recordingDispatcher) Channel() string { return "test" }

func (d *recordingDispatcher) sent() []notify.InvitationNotice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.InvitationNotice(nil), d.notices...)
}

func newPrincipal(email string) models.Principal {
	return models.Principal{ID: uuid.NewString(), Email: email}
}

func auditRows(t *testing.T, db *gorm.DB, action string) []models.AuditLog {
	t.Helper()
	var rows []models.AuditLog
	require.NoError(t, db.Where("action = ?", action).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func reloadTeam(t *testing.T, db *gorm.DB, id string) models.Team {
	t.Helper()
	var team models.Team
	require.NoError(t, db.Where("id = ?", id).Take(&team).Error)
	return team
}

type teamFixture struct {
	db          *gorm.DB
	clock       *testClock
	audit       *AuditService
	teams       *TeamService
	invitations *InvitationService
	dispatcher  *recordingDispatcher
	owner       models.Principal
	team        *models.Team
}

func newTeamFixture(t *testing.T, input CreateTeamInput, opts ...InvitationOption) *teamFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	audit, err := NewAuditService(db, WithAuditClock(clock.Now))
	require.NoError(t, err)
	teams, err := NewTeamService(db, audit, WithTeamClock(clock.Now))
	require.NoError(t, err)

	dispatcher := &recordingDispatcher{}
	opts = append([]InvitationOption{
		WithInvitationClock(clock.Now),
		WithInvitationJoinURL("https://app.example.com/join"),
	}, opts...)
	invitations, err := NewInvitationService(db, audit, dispatcher, opts...)
	require.NoError(t, err)

	owner := newPrincipal("owner@bayside.example")
	if input.Name == "" {
		input.Name = "Bayside Physio"
	}
	team, err := teams.CreateTeam(context.Background(), owner, input)
	require.NoError(t, err)

	return &teamFixture{
		db:          db,
		clock:       clock,
		audit:       audit,
		teams:       teams,
		invitations: invitations,
		dispatcher:  dispatcher,
		owner:       owner,
		team:        team,
	}
}

// join invites email with role and accepts as a fresh principal.
func (f *teamFixture) join(t *testing.T, email string, role models.TeamRole) (models.Principal, *models.TeamMember) {
	t.Helper()
	ctx := context.Background()

	result, err := f.invitations.CreateInvitation(ctx, f.owner, f.team.ID, CreateInvitationInput{Email: email, Role: role})
	require.NoError(t, err)

	principal := newPrincipal(email)
	member, err := f.invitations.AcceptInvitation(ctx, principal, result.Token)
	require.NoError(t, err)
	return principal, member
}

type fakeSMS struct {
	mu       sync.Mutex
	code     string
	started  []string
	startErr error
}

func (f *fakeSMS) Start(_ context.Context, phone, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, phone)
	return f.startErr
}

func (f *fakeSMS) Verify(_ context.Context, _, _, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return code == f.code, nil
}

type mfaFixture struct {
	db         *gorm.DB
	clock      *testClock
	audit      *AuditService
	lockout    *MFALockout
	verifier   *MFAVerificationService
	enrollment *MFAEnrollmentService
	sms        *fakeSMS
	principal  models.Principal
}

func newMFAFixture(t *testing.T) *mfaFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	audit, err := NewAuditService(db, WithAuditClock(clock.Now))
	require.NoError(t, err)

	keys, err := crypto.DeriveKeys("test-encryption-secret")
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(keys)
	require.NoError(t, err)
	hasher, err := mfa.NewCodeHasher(keys.BackupCode)
	require.NoError(t, err)

	store := cache.NewDatabaseStore(db, cache.WithDatabaseStoreClock(clock.Now))
	lockout, err := NewMFALockout(store, LockoutPolicy{Threshold: 3, Window: 15 * time.Minute, Duration: 15 * time.Minute})
	require.NoError(t, err)

	sms := &fakeSMS{code: "424242"}
	deps := MFADependencies{
		Authenticator: mfa.NewAuthenticator(mfa.WithClock(clock.Now)),
		Cipher:        cipher,
		Hasher:        hasher,
		Lockout:       lockout,
		SMS:           sms,
	}

	verifier, err := NewMFAVerificationService(db, audit, deps, WithMFAVerificationClock(clock.Now))
	require.NoError(t, err)
	enrollment, err := NewMFAEnrollmentService(db, audit, verifier, deps, WithMFAEnrollmentClock(clock.Now))
	require.NoError(t, err)

	return &mfaFixture{
		db:         db,
		clock:      clock,
		audit:      audit,
		lockout:    lockout,
		verifier:   verifier,
		enrollment: enrollment,
		sms:        sms,
		principal:  newPrincipal("alice@example.com"),
	}
}
