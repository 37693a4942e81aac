package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/careteam/internal/cache"
	apperrors "github.com/charlesng35/careteam/pkg/errors"
	"github.com/charlesng35/careteam/pkg/logger"
	"github.com/charlesng35/careteam/pkg/metrics"
)

// LockoutPolicy locks MFA verification for Duration once Threshold
// consecutive failures land within Window.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// DefaultLockoutPolicy is used for zero fields.
var DefaultLockoutPolicy = LockoutPolicy{
	Threshold: 5,
	Window:    15 * time.Minute,
	Duration:  15 * time.Minute,
}

// MFALockout tracks failed MFA attempts per principal in the shared cache.
type MFALockout struct {
	store  cache.Store
	policy LockoutPolicy
	log    *zap.Logger
}

// NewMFALockout constructs the lockout tracker.
func NewMFALockout(store cache.Store, policy LockoutPolicy) (*MFALockout, error) {
	if store == nil {
		return nil, errors.New("mfa lockout: store is required")
	}
	if policy.Threshold <= 0 {
		policy.Threshold = DefaultLockoutPolicy.Threshold
	}
	if policy.Window <= 0 {
		policy.Window = DefaultLockoutPolicy.Window
	}
	if policy.Duration <= 0 {
		policy.Duration = DefaultLockoutPolicy.Duration
	}
	return &MFALockout{store: store, policy: policy, log: logger.WithModule("mfa")}, nil
}

// Policy returns the effective policy.
func (l *MFALockout) Policy() LockoutPolicy {
	return l.policy
}

// Check returns ErrMFALocked while the principal is locked out. Cache
// failures are logged and treated as unlocked.
func (l *MFALockout) Check(ctx context.Context, userID string) error {
	_, locked, err := l.store.TTL(ensureContext(ctx), lockKey(userID))
	if err != nil {
		l.log.Warn("lockout check failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if locked {
		return apperrors.ErrMFALocked
	}
	return nil
}

// RecordFailure counts a failed attempt and reports whether it triggered a lock.
func (l *MFALockout) RecordFailure(ctx context.Context, userID string) (bool, error) {
	ctx = ensureContext(ctx)

	count, _, err := l.store.IncrementWithTTL(ctx, failureKey(userID), l.policy.Window)
	if err != nil {
		return false, err
	}
	if count < int64(l.policy.Threshold) {
		return false, nil
	}

	if err := l.store.Set(ctx, lockKey(userID), []byte("1"), l.policy.Duration); err != nil {
		return false, err
	}
	if err := l.store.Delete(ctx, failureKey(userID)); err != nil {
		l.log.Warn("failed to clear failure counter", zap.String("user_id", userID), zap.Error(err))
	}
	metrics.MFALockouts.Inc()
	return true, nil
}

// Reset clears the failure counter after a successful verification.
func (l *MFALockout) Reset(ctx context.Context, userID string) error {
	return l.store.Delete(ensureContext(ctx), failureKey(userID))
}

func failureKey(userID string) string {
	return "mfa:failures:" + userID
}

func lockKey(userID string) string {
	return "mfa:lock:" + userID
}
