package maintenance

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/careteam/pkg/logger"
)

const (
	defaultInvitationSpec = "@hourly"
	defaultCacheSpec      = "@daily"
)

// InvitationSweeper flips lapsed pending invitations to expired.
type InvitationSweeper interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// CachePruner removes expired cache rows. Only the database-backed store needs it.
type CachePruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance: expiring stale invitations and
// pruning expired lockout counters from the database cache.
type Cleaner struct {
	invitations InvitationSweeper
	cache       CachePruner
	cron        *cron.Cron
	log         *zap.Logger

	invitationSchedule string
	cacheSchedule      string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithInvitationSchedule overrides the cron specification for the invitation sweep.
func WithInvitationSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.invitationSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache pruning.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips the corresponding job.
func NewCleaner(invitations InvitationSweeper, cache CachePruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		invitations:        invitations,
		cache:              cache,
		invitationSchedule: defaultInvitationSpec,
		cacheSchedule:      defaultCacheSpec,
		log:                logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.invitations != nil || c.cache != nil
}

// Start registers the jobs and launches the scheduler when at least one is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if c.invitations != nil {
		if _, err := c.cron.AddFunc(c.invitationSchedule, func() {
			if _, err := c.sweepInvitations(context.Background()); err != nil {
				c.log.Warn("invitation sweep failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule invitation sweep: %w", err)
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if _, err := c.pruneCache(context.Background()); err != nil {
				c.log.Warn("cache prune failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule cache prune: %w", err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs finish.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially and reports all failures.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.invitations != nil {
		if _, err := c.sweepInvitations(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.cache != nil {
		if _, err := c.pruneCache(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (c *Cleaner) sweepInvitations(ctx context.Context) (int64, error) {
	count, err := c.invitations.ExpireStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	if count > 0 {
		c.log.Info("expired stale invitations", zap.Int64("count", count))
	}
	return count, nil
}

func (c *Cleaner) pruneCache(ctx context.Context) (int64, error) {
	count, err := c.cache.PruneExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	if count > 0 {
		c.log.Debug("pruned cache entries", zap.Int64("count", count))
	}
	return count, nil
}
