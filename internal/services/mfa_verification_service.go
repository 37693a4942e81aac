package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/auth/mfa"
	"github.com/charlesng35/careteam/internal/models"
	"github.com/charlesng35/careteam/internal/sms"
	"github.com/charlesng35/careteam/pkg/crypto"
	apperrors "github.com/charlesng35/careteam/pkg/errors"
	"github.com/charlesng35/careteam/pkg/logger"
	"github.com/charlesng35/careteam/pkg/metrics"
	"github.com/charlesng35/careteam/pkg/tracing"
)

const defaultSMSTimeout = 10 * time.Second

// MFADependencies bundles the primitives shared by the MFA engines.
type MFADependencies struct {
	Authenticator *mfa.Authenticator
	Cipher        *crypto.Cipher
	Hasher        *mfa.CodeHasher
	Lockout       *MFALockout
	// SMS is optional; without it the sms method is unavailable.
	SMS sms.Verifier
}

func (d MFADependencies) validate(service string) error {
	switch {
	case d.Authenticator == nil:
		return errors.New(service + ": authenticator is required")
	case d.Cipher == nil:
		return errors.New(service + ": cipher is required")
	case d.Hasher == nil:
		return errors.New(service + ": backup code hasher is required")
	case d.Lockout == nil:
		return errors.New(service + ": lockout is required")
	}
	return nil
}

// VerificationResult describes a successful verification.
type VerificationResult struct {
	Method     models.MFAMethod `json:"method"`
	VerifiedAt time.Time        `json:"verified_at"`
	// RemainingBackupCodes is only set for the backup_codes method.
	RemainingBackupCodes *int64 `json:"remaining_backup_codes,omitempty"`
}

// MFAVerificationOption customises MFAVerificationService behaviour.
type MFAVerificationOption func(*MFAVerificationService)

// WithMFAVerificationClock injects a custom clock primarily for testing.
func WithMFAVerificationClock(clock func() time.Time) MFAVerificationOption {
	return func(s *MFAVerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithMFASMSTimeout bounds calls to the SMS gateway.
func WithMFASMSTimeout(d time.Duration) MFAVerificationOption {
	return func(s *MFAVerificationService) {
		if d > 0 {
			s.smsTimeout = d
		}
	}
}

// MFAVerificationService checks submitted second-factor codes.
type MFAVerificationService struct {
	db         *gorm.DB
	audit      *AuditService
	deps       MFADependencies
	smsTimeout time.Duration
	now        func() time.Time
	log        *zap.Logger
}

// NewMFAVerificationService constructs the verification engine.
func NewMFAVerificationService(db *gorm.DB, audit *AuditService, deps MFADependencies, opts ...MFAVerificationOption) (*MFAVerificationService, error) {
	if db == nil {
		return nil, errors.New("mfa verification service: db is required")
	}
	if err := deps.validate("mfa verification service"); err != nil {
		return nil, err
	}
	svc := &MFAVerificationService{
		db:         db,
		audit:      audit,
		deps:       deps,
		smsTimeout: defaultSMSTimeout,
		now:        time.Now,
		log:        logger.WithModule("mfa"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Verify checks code for principal using method. Every attempt is audited.
// Wrong codes return the generic ErrMFAInvalid and count towards lockout.
func (s *MFAVerificationService) Verify(ctx context.Context, principal models.Principal, code string, method models.MFAMethod) (*VerificationResult, error) {
	return s.verify(ctx, principal, code, method, "mfa.verify")
}

func (s *MFAVerificationService) verify(ctx context.Context, principal models.Principal, code string, method models.MFAMethod, action string) (result *VerificationResult, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "mfa", "verify", attribute.String("mfa.method", string(method)))
	defer func() { tracing.End(span, err) }()

	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	if !method.Valid() {
		return nil, apperrors.NewValidation("unsupported MFA method")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.NewValidation("code is required")
	}
	if method == models.MFAMethodSMS && s.deps.SMS == nil {
		return nil, ErrSMSUnavailable
	}

	entry := AuditEntry{
		ActorID:    principal.ID,
		Action:     action,
		ActionType: models.AuditTypeSecurity,
		Details:    map[string]any{"method": method},
	}

	if err := s.deps.Lockout.Check(ctx, principal.ID); err != nil {
		metrics.MFAVerifications.WithLabelValues(string(method), "blocked").Inc()
		entry.Result = models.AuditResultBlocked
		recordAudit(s.audit, ctx, entry)
		return nil, err
	}

	now := s.now().UTC()
	ok, remaining, err := s.check(ctx, principal, code, method)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.MFAVerifications.WithLabelValues(string(method), "failure").Inc()
		entry.Result = models.AuditResultFailure
		recordAudit(s.audit, ctx, entry)
		recordLockoutFailure(ctx, s.deps.Lockout, s.audit, s.log, principal)
		return nil, apperrors.ErrMFAInvalid
	}

	if err := s.deps.Lockout.Reset(ctx, principal.ID); err != nil {
		s.log.Warn("failed to reset lockout counter", zap.String("user_id", principal.ID), zap.Error(err))
	}
	if err := s.db.WithContext(ctx).Model(&models.MFACredential{}).
		Where("user_id = ?", principal.ID).
		Update("last_used_at", now).Error; err != nil {
		s.log.Warn("failed to stamp mfa last use", zap.String("user_id", principal.ID), zap.Error(err))
	}

	metrics.MFAVerifications.WithLabelValues(string(method), "success").Inc()
	entry.Result = models.AuditResultSuccess
	recordAudit(s.audit, ctx, entry)

	result = &VerificationResult{Method: method, VerifiedAt: now}
	if method == models.MFAMethodBackupCodes {
		result.RemainingBackupCodes = &remaining
	}
	return result, nil
}

// check reports whether code is valid. Errors are infrastructure failures
// and do not count as failed attempts.
func (s *MFAVerificationService) check(ctx context.Context, principal models.Principal, code string, method models.MFAMethod) (bool, int64, error) {
	db := s.db.WithContext(ctx)

	switch method {
	case models.MFAMethodTOTP:
		cred, err := loadCredential(db, principal.ID)
		if err != nil || cred == nil || !cred.IsEnabled {
			return false, 0, err
		}
		secret, err := s.deps.Cipher.Open(cred.Secret)
		if err != nil {
			return false, 0, apperrors.ErrInternalServer.WithInternal(err)
		}
		return s.deps.Authenticator.Validate(string(secret), code), 0, nil

	case models.MFAMethodBackupCodes:
		cred, err := loadCredential(db, principal.ID)
		if err != nil || cred == nil || !cred.IsEnabled {
			return false, 0, err
		}
		res := db.Where("user_id = ? AND code_hash = ?", principal.ID, s.deps.Hasher.Hash(code)).
			Delete(&models.MFABackupCode{})
		if res.Error != nil {
			return false, 0, storageError("mfa verification: consume backup code", res.Error)
		}
		if res.RowsAffected != 1 {
			return false, 0, nil
		}
		remaining, err := countBackupCodes(db, principal.ID)
		if err != nil {
			s.log.Warn("failed to count backup codes", zap.String("user_id", principal.ID), zap.Error(err))
		}
		return true, remaining, nil

	case models.MFAMethodSMS:
		backup, err := loadSMSBackup(db, principal.ID)
		if err != nil || backup == nil || !backup.Verified {
			return false, 0, err
		}
		smsCtx, cancel := context.WithTimeout(ctx, s.smsTimeout)
		defer cancel()
		valid, err := s.deps.SMS.Verify(smsCtx, backup.PhoneNumber, backup.CountryCode, code)
		if err != nil {
			return false, 0, ErrSMSGateway.WithInternal(err)
		}
		return valid, 0, nil

	default:
		return false, 0, apperrors.NewValidation("unsupported MFA method")
	}
}

// recordLockoutFailure feeds a failed attempt into the lockout tracker and
// audits the lock when it triggers.
func recordLockoutFailure(ctx context.Context, lockout *MFALockout, audit *AuditService, log *zap.Logger, principal models.Principal) {
	locked, err := lockout.RecordFailure(ctx, principal.ID)
	if err != nil {
		log.Warn("failed to record mfa failure", zap.String("user_id", principal.ID), zap.Error(err))
		return
	}
	if !locked {
		return
	}
	policy := lockout.Policy()
	recordAudit(audit, ctx, AuditEntry{
		ActorID:    principal.ID,
		Action:     "mfa.lockout",
		ActionType: models.AuditTypeSecurity,
		Result:     models.AuditResultBlocked,
		Details: map[string]any{
			"threshold":        policy.Threshold,
			"duration_seconds": int64(policy.Duration.Seconds()),
		},
		ComplianceImpact: true,
	})
}

// loadCredential returns nil without error when the principal never enrolled.
func loadCredential(tx *gorm.DB, userID string) (*models.MFACredential, error) {
	var cred models.MFACredential
	if err := tx.Where("user_id = ?", userID).Take(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storageError("load mfa credential", err)
	}
	return &cred, nil
}

func loadSMSBackup(tx *gorm.DB, userID string) (*models.SMSBackup, error) {
	var backup models.SMSBackup
	if err := tx.Where("user_id = ?", userID).Take(&backup).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storageError("load sms backup", err)
	}
	return &backup, nil
}

func countBackupCodes(tx *gorm.DB, userID string) (int64, error) {
	var count int64
	if err := tx.Model(&models.MFABackupCode{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, storageError("count backup codes", err)
	}
	return count, nil
}
