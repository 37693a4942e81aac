package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/charlesng35/careteam/internal/cache"
	testutil "github.com/charlesng35/careteam/internal/database/testutil"
	"github.com/charlesng35/careteam/internal/models"
	"github.com/charlesng35/careteam/internal/notify"
	"github.com/charlesng35/careteam/internal/services"
)

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()
	clock := &fixedClock{current: time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)}

	auditSvc, err := services.NewAuditService(db, services.WithAuditClock(clock.Now))
	require.NoError(t, err)
	teams, err := services.NewTeamService(db, auditSvc, services.WithTeamClock(clock.Now))
	require.NoError(t, err)
	invitations, err := services.NewInvitationService(db, auditSvc, notify.NopDispatcher{},
		services.WithInvitationClock(clock.Now),
		services.WithInvitationExpiry(time.Hour),
	)
	require.NoError(t, err)

	owner := models.Principal{ID: uuid.NewString(), Email: "owner@bayside.example"}
	team, err := teams.CreateTeam(ctx, owner, services.CreateTeamInput{Name: "Bayside Physio"})
	require.NoError(t, err)

	stale, err := invitations.CreateInvitation(ctx, owner, team.ID, services.CreateInvitationInput{
		Email: "stale@bayside.example",
		Role:  models.RolePractitioner,
	})
	require.NoError(t, err)

	store := cache.NewDatabaseStore(db, cache.WithDatabaseStoreClock(clock.Now))
	require.NoError(t, store.Set(ctx, "mfa:lock:short", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "mfa:lock:long", []byte("1"), 3*time.Hour))

	clock.current = clock.current.Add(2 * time.Hour)

	fresh, err := invitations.CreateInvitation(ctx, owner, team.ID, services.CreateInvitationInput{
		Email: "fresh@bayside.example",
		Role:  models.RolePractitioner,
	})
	require.NoError(t, err)

	c := NewCleaner(invitations, store, WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))))
	require.NoError(t, c.RunOnce(ctx))

	var expired models.Invitation
	require.NoError(t, db.First(&expired, "id = ?", stale.Invitation.ID).Error)
	require.Equal(t, models.InvitationExpired, expired.Status)

	var pending models.Invitation
	require.NoError(t, db.First(&pending, "id = ?", fresh.Invitation.ID).Error)
	require.Equal(t, models.InvitationPending, pending.Status)

	var entries int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&entries).Error)
	require.Equal(t, int64(1), entries)

	// A second pass has nothing left to do.
	require.NoError(t, c.RunOnce(ctx))
}

type failingSweeper struct{ err error }

func (f failingSweeper) ExpireStale(context.Context) (int64, error) { return 0, f.err }

type failingPruner struct{ err error }

func (f failingPruner) PruneExpired(context.Context) (int64, error) { return 0, f.err }

func TestCleanerRunOnceAggregatesErrors(t *testing.T) {
	sweepErr := errors.New("invitations unavailable")
	pruneErr := errors.New("cache unavailable")

	c := NewCleaner(failingSweeper{err: sweepErr}, failingPruner{err: pruneErr})
	err := c.RunOnce(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, sweepErr)
	require.ErrorIs(t, err, pruneErr)
	require.Len(t, multierr.Errors(err), 2)
}

func TestCleanerStartWithoutJobs(t *testing.T) {
	c := NewCleaner(nil, nil)
	require.NoError(t, c.Start())
	require.NoError(t, c.RunOnce(context.Background()))
	<-c.Stop().Done()
}

func TestCleanerStartRejectsInvalidSchedule(t *testing.T) {
	c := NewCleaner(failingSweeper{}, nil, WithInvitationSchedule("not a schedule"))
	require.Error(t, c.Start())
}

func TestCleanerStartRegistersJobs(t *testing.T) {
	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	c := NewCleaner(failingSweeper{}, failingPruner{},
		WithCron(scheduler),
		WithInvitationSchedule("@every 1h"),
		WithCacheSchedule("@every 24h"),
	)
	require.NoError(t, c.Start())
	t.Cleanup(func() { <-c.Stop().Done() })

	require.Len(t, scheduler.Entries(), 2)
}
