package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/models"
	apperrors "github.com/charlesng35/careteam/pkg/errors"
	"github.com/charlesng35/careteam/pkg/logger"
	"github.com/charlesng35/careteam/pkg/tracing"
)

// EnrollmentResult is returned once from Initiate. The secret and backup
// codes are never retrievable again.
type EnrollmentResult struct {
	Secret          string    `json:"secret"`
	ProvisioningURI string    `json:"provisioning_uri"`
	QRCode          string    `json:"qr_code"`
	BackupCodes     []string  `json:"backup_codes"`
	EnrollmentDate  time.Time `json:"enrollment_date"`
}

// MFAStatus summarises a principal's second factors.
type MFAStatus struct {
	State                models.MFAState `json:"state"`
	Enabled              bool            `json:"enabled"`
	TOTPEnabled          bool            `json:"totp_enabled"`
	EnrolledAt           *time.Time      `json:"enrolled_at,omitempty"`
	VerifiedAt           *time.Time      `json:"verified_at,omitempty"`
	LastUsedAt           *time.Time      `json:"last_used_at,omitempty"`
	BackupCodesRemaining int64           `json:"backup_codes_remaining"`
	SMSConfigured        bool            `json:"sms_configured"`
	SMSVerified          bool            `json:"sms_verified"`
	SMSPhoneHint         string          `json:"sms_phone_hint,omitempty"`
}

// DisableResult reports the outcome of disabling MFA.
type DisableResult struct {
	// BypassedTeams lists teams whose compliance settings require MFA for the
	// principal's role. Disabling is still allowed.
	BypassedTeams       []string `json:"bypassed_teams,omitempty"`
	BypassesRequirement bool     `json:"bypasses_requirement"`
}

// SMSBackupInput registers a phone number as an SMS second factor.
type SMSBackupInput struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
	CountryCode string `json:"country_code" validate:"required,max=8"`
}

// MFAEnrollmentOption customises MFAEnrollmentService behaviour.
type MFAEnrollmentOption func(*MFAEnrollmentService)

// WithMFAEnrollmentClock injects a custom clock primarily for testing.
func WithMFAEnrollmentClock(clock func() time.Time) MFAEnrollmentOption {
	return func(s *MFAEnrollmentService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithMFAEnrollmentSMSTimeout bounds calls to the SMS gateway.
func WithMFAEnrollmentSMSTimeout(d time.Duration) MFAEnrollmentOption {
	return func(s *MFAEnrollmentService) {
		if d > 0 {
			s.smsTimeout = d
		}
	}
}

// MFAEnrollmentService drives the NO_MFA -> PENDING_VERIFICATION -> ENABLED
// state machine and its backup factors.
type MFAEnrollmentService struct {
	db         *gorm.DB
	audit      *AuditService
	verifier   *MFAVerificationService
	deps       MFADependencies
	smsTimeout time.Duration
	now        func() time.Time
	log        *zap.Logger
}

// NewMFAEnrollmentService constructs the enrollment engine. verifier is used
// to authorise Disable.
func NewMFAEnrollmentService(db *gorm.DB, audit *AuditService, verifier *MFAVerificationService, deps MFADependencies, opts ...MFAEnrollmentOption) (*MFAEnrollmentService, error) {
	if db == nil {
		return nil, errors.New("mfa enrollment service: db is required")
	}
	if verifier == nil {
		return nil, errors.New("mfa enrollment service: verifier is required")
	}
	if err := deps.validate("mfa enrollment service"); err != nil {
		return nil, err
	}
	svc := &MFAEnrollmentService{
		db:         db,
		audit:      audit,
		verifier:   verifier,
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

// Initiate starts (or restarts) enrollment. A pending enrollment is replaced;
// an enabled one is a conflict.
func (s *MFAEnrollmentService) Initiate(ctx context.Context, principal models.Principal) (result *EnrollmentResult, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "mfa", "initiate")
	defer func() { tracing.End(span, err) }()

	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}

	account := principal.NormalisedEmail()
	if account == "" {
		account = principal.ID
	}
	key, err := s.deps.Authenticator.GenerateKey(account)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	qr, err := s.deps.Authenticator.QRCodeDataURL(key)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	codes, err := s.deps.Authenticator.GenerateBackupCodes()
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	sealed, err := s.deps.Cipher.Seal([]byte(key.Secret()))
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	now := s.now().UTC()
	err = inTx(ctx, s.db, "mfa enrollment: transaction", func(tx *gorm.DB) error {
		cred, err := loadCredential(tx, principal.ID)
		if err != nil {
			return err
		}
		if cred.State() == models.MFAStateEnabled {
			return ErrMFAAlreadyEnabled
		}

		if cred == nil {
			cred = &models.MFACredential{
				UserID:     principal.ID,
				Secret:     sealed,
				EnrolledAt: timePtr(now),
			}
			if err := tx.Create(cred).Error; err != nil {
				return storageError("mfa enrollment: create credential", err)
			}
		} else {
			res := tx.Model(&models.MFACredential{}).
				Where("id = ? AND is_enabled = ?", cred.ID, false).
				Updates(map[string]any{
					"secret":       sealed,
					"totp_enabled": false,
					"is_enabled":   false,
					"enrolled_at":  now,
					"verified_at":  nil,
				})
			if res.Error != nil {
				return storageError("mfa enrollment: reset credential", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrMFAAlreadyEnabled
			}
		}

		if err := s.replaceBackupCodes(tx, principal.ID, codes); err != nil {
			return err
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			ActorID:    principal.ID,
			Action:     "mfa.enroll.initiate",
			ActionType: models.AuditTypeSecurity,
			Result:     models.AuditResultSuccess,
			Details:    map[string]any{"backup_codes": len(codes)},
		})
	})
	if err != nil {
		return nil, err
	}

	return &EnrollmentResult{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          qr,
		BackupCodes:     codes,
		EnrollmentDate:  now,
	}, nil
}

// Complete enables MFA when code validates against the pending secret. A
// wrong code leaves the enrollment pending.
func (s *MFAEnrollmentService) Complete(ctx context.Context, principal models.Principal, code string) (cred *models.MFACredential, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "mfa", "complete")
	defer func() { tracing.End(span, err) }()

	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.NewValidation("code is required")
	}

	entry := AuditEntry{
		ActorID:    principal.ID,
		Action:     "mfa.enroll.complete",
		ActionType: models.AuditTypeSecurity,
		Details:    map[string]any{"method": models.MFAMethodTOTP},
	}
	if err := s.deps.Lockout.Check(ctx, principal.ID); err != nil {
		entry.Result = models.AuditResultBlocked
		recordAudit(s.audit, ctx, entry)
		return nil, err
	}

	cred, err = loadCredential(s.db.WithContext(ctx), principal.ID)
	if err != nil {
		return nil, err
	}
	switch cred.State() {
	case models.MFAStateNone:
		return nil, ErrMFANotEnrolled
	case models.MFAStateEnabled:
		return nil, ErrMFAAlreadyEnabled
	case models.MFAStatePendingVerification:
	}

	secret, err := s.deps.Cipher.Open(cred.Secret)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	if !s.deps.Authenticator.Validate(string(secret), code) {
		entry.Result = models.AuditResultFailure
		recordAudit(s.audit, ctx, entry)
		recordLockoutFailure(ctx, s.deps.Lockout, s.audit, s.log, principal)
		return nil, apperrors.ErrMFAInvalid
	}

	now := s.now().UTC()
	err = inTx(ctx, s.db, "mfa enrollment: transaction", func(tx *gorm.DB) error {
		res := tx.Model(&models.MFACredential{}).
			Where("user_id = ? AND is_enabled = ? AND secret = ?", principal.ID, false, cred.Secret).
			Updates(map[string]any{
				"is_enabled":   true,
				"totp_enabled": true,
				"verified_at":  now,
			})
		if res.Error != nil {
			return storageError("mfa enrollment: enable credential", res.Error)
		}
		// The secret was replaced or enabled by a concurrent request.
		if res.RowsAffected == 0 {
			return apperrors.ErrMFAInvalid
		}

		entry.Result = models.AuditResultSuccess
		entry.ComplianceImpact = true
		return appendAuditTx(s.audit, ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	if err := s.deps.Lockout.Reset(ctx, principal.ID); err != nil {
		s.log.Warn("failed to reset lockout counter", zap.String("user_id", principal.ID), zap.Error(err))
	}

	cred.IsEnabled = true
	cred.TOTPEnabled = true
	cred.VerifiedAt = timePtr(now)
	return cred, nil
}

// RegenerateBackupCodes replaces every stored backup code. Old codes stop
// working immediately.
func (s *MFAEnrollmentService) RegenerateBackupCodes(ctx context.Context, principal models.Principal) (codes []string, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "mfa", "regenerate_backup_codes")
	defer func() { tracing.End(span, err) }()

	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	codes, err = s.deps.Authenticator.GenerateBackupCodes()
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	err = inTx(ctx, s.db, "mfa enrollment: transaction", func(tx *gorm.DB) error {
		cred, err := loadCredential(tx, principal.ID)
		if err != nil {
			return err
		}
		if cred == nil {
			return ErrMFANotEnrolled
		}
		if !cred.IsEnabled {
			return ErrMFANotEnabled
		}
		if err := s.replaceBackupCodes(tx, principal.ID, codes); err != nil {
			return err
		}
		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			ActorID:    principal.ID,
			Action:     "mfa.backup_codes.regenerate",
			ActionType: models.AuditTypeSecurity,
			Result:     models.AuditResultSuccess,
			Details:    map[string]any{"backup_codes": len(codes)},
		})
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// Disable turns MFA off after the principal proves possession with a TOTP or
// backup code. It never blocks on team requirements; it reports them.
func (s *MFAEnrollmentService) Disable(ctx context.Context, principal models.Principal, code string, method models.MFAMethod) (result *DisableResult, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "mfa", "disable")
	defer func() { tracing.End(span, err) }()

	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	switch method {
	case models.MFAMethodTOTP, models.MFAMethodBackupCodes:
	case models.MFAMethodSMS:
		return nil, apperrors.NewValidation("MFA can only be disabled with a TOTP or backup code")
	default:
		return nil, apperrors.NewValidation("unsupported MFA method")
	}

	cred, err := loadCredential(s.db.WithContext(ctx), principal.ID)
	if err != nil {
		return nil, err
	}
	if cred == nil || !cred.IsEnabled {
		return nil, ErrMFANotEnabled
	}

	if _, err := s.verifier.verify(ctx, principal, code, method, "mfa.disable.verify"); err != nil {
		return nil, err
	}

	result = &DisableResult{}
	err = inTx(ctx, s.db, "mfa enrollment: transaction", func(tx *gorm.DB) error {
		teams, err := mfaRequiredTeams(tx, principal.ID)
		if err != nil {
			return err
		}
		result.BypassedTeams = teams
		result.BypassesRequirement = len(teams) > 0

		if err := tx.Model(&models.MFACredential{}).
			Where("user_id = ?", principal.ID).
			Updates(map[string]any{
				"secret":       "",
				"is_enabled":   false,
				"totp_enabled": false,
				"enrolled_at":  nil,
				"verified_at":  nil,
			}).Error; err != nil {
			return storageError("mfa disable: clear credential", err)
		}
		if err := tx.Where("user_id = ?", principal.ID).Delete(&models.MFABackupCode{}).Error; err != nil {
			return storageError("mfa disable: delete backup codes", err)
		}
		if err := tx.Where("user_id = ?", principal.ID).Delete(&models.SMSBackup{}).Error; err != nil {
			return storageError("mfa disable: delete sms backup", err)
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			ActorID:    principal.ID,
			Action:     "mfa.disable",
			ActionType: models.AuditTypeSecurity,
			Result:     models.AuditResultSuccess,
			Details: map[string]any{
				"method":               method,
				"bypasses_requirement": result.BypassesRequirement,
				"teams":                teams,
			},
			ComplianceImpact: true,
		})
	})
	if err != nil {
		return nil, err
	}

	if result.BypassesRequirement {
		s.log.Warn("mfa disabled despite team requirement",
			zap.String("user_id", principal.ID),
			zap.Strings("teams", result.BypassedTeams),
		)
	}
	return result, nil
}

// Status reports the principal's MFA configuration.
func (s *MFAEnrollmentService) Status(ctx context.Context, principal models.Principal) (*MFAStatus, error) {
	ctx = ensureContext(ctx)
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	cred, err := loadCredential(db, principal.ID)
	if err != nil {
		return nil, err
	}
	status := &MFAStatus{State: cred.State()}
	if cred != nil {
		status.Enabled = cred.IsEnabled
		status.TOTPEnabled = cred.TOTPEnabled
		status.EnrolledAt = cred.EnrolledAt
		status.VerifiedAt = cred.VerifiedAt
		status.LastUsedAt = cred.LastUsedAt
	}
	if status.Enabled {
		if status.BackupCodesRemaining, err = countBackupCodes(db, principal.ID); err != nil {
			return nil, err
		}
	}

	backup, err := loadSMSBackup(db, principal.ID)
	if err != nil {
		return nil, err
	}
	if backup != nil {
		status.SMSConfigured = true
		status.SMSVerified = backup.Verified
		status.SMSPhoneHint = maskPhone(backup.PhoneNumber)
	}
	return status, nil
}

// RegisterSMSBackup stores an unverified SMS backup and sends a challenge.
func (s *MFAEnrollmentService) RegisterSMSBackup(ctx context.Context, principal models.Principal, input SMSBackupInput) (backup *models.SMSBackup, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "mfa", "register_sms")
	defer func() { tracing.End(span, err) }()

	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	input.PhoneNumber = strings.TrimSpace(input.PhoneNumber)
	input.CountryCode = strings.TrimSpace(input.CountryCode)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if s.deps.SMS == nil {
		return nil, ErrSMSUnavailable
	}

	err = inTx(ctx, s.db, "mfa enrollment: transaction", func(tx *gorm.DB) error {
		cred, err := loadCredential(tx, principal.ID)
		if err != nil {
			return err
		}
		if cred == nil || !cred.IsEnabled {
			return ErrMFANotEnabled
		}

		existing, err := loadSMSBackup(tx, principal.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			backup = &models.SMSBackup{
				UserID:      principal.ID,
				PhoneNumber: input.PhoneNumber,
				CountryCode: input.CountryCode,
			}
			if err := tx.Create(backup).Error; err != nil {
				return storageError("mfa sms: create backup", err)
			}
		} else {
			if err := tx.Model(&models.SMSBackup{}).
				Where("id = ?", existing.ID).
				Updates(map[string]any{
					"phone_number": input.PhoneNumber,
					"country_code": input.CountryCode,
					"verified":     false,
					"verified_at":  nil,
				}).Error; err != nil {
				return storageError("mfa sms: update backup", err)
			}
			existing.PhoneNumber = input.PhoneNumber
			existing.CountryCode = input.CountryCode
			existing.Verified = false
			existing.VerifiedAt = nil
			backup = existing
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			ActorID:    principal.ID,
			Action:     "mfa.sms.register",
			ActionType: models.AuditTypeSecurity,
			Result:     models.AuditResultSuccess,
			Details:    map[string]any{"phone_hint": maskPhone(input.PhoneNumber)},
		})
	})
	if err != nil {
		return nil, err
	}

	smsCtx, cancel := context.WithTimeout(ctx, s.smsTimeout)
	defer cancel()
	if err := s.deps.SMS.Start(smsCtx, backup.PhoneNumber, backup.CountryCode); err != nil {
		return nil, ErrSMSGateway.WithInternal(err)
	}
	return backup, nil
}

// ConfirmSMSBackup marks the SMS backup verified once the gateway accepts code.
func (s *MFAEnrollmentService) ConfirmSMSBackup(ctx context.Context, principal models.Principal, code string) (backup *models.SMSBackup, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "mfa", "confirm_sms")
	defer func() { tracing.End(span, err) }()

	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.NewValidation("code is required")
	}
	if s.deps.SMS == nil {
		return nil, ErrSMSUnavailable
	}

	entry := AuditEntry{
		ActorID:    principal.ID,
		Action:     "mfa.sms.confirm",
		ActionType: models.AuditTypeSecurity,
		Details:    map[string]any{"method": models.MFAMethodSMS},
	}
	if err := s.deps.Lockout.Check(ctx, principal.ID); err != nil {
		entry.Result = models.AuditResultBlocked
		recordAudit(s.audit, ctx, entry)
		return nil, err
	}

	backup, err = loadSMSBackup(s.db.WithContext(ctx), principal.ID)
	if err != nil {
		return nil, err
	}
	if backup == nil {
		return nil, ErrSMSNotRegistered
	}

	smsCtx, cancel := context.WithTimeout(ctx, s.smsTimeout)
	defer cancel()
	valid, err := s.deps.SMS.Verify(smsCtx, backup.PhoneNumber, backup.CountryCode, code)
	if err != nil {
		return nil, ErrSMSGateway.WithInternal(err)
	}
	if !valid {
		entry.Result = models.AuditResultFailure
		recordAudit(s.audit, ctx, entry)
		recordLockoutFailure(ctx, s.deps.Lockout, s.audit, s.log, principal)
		return nil, apperrors.ErrMFAInvalid
	}

	now := s.now().UTC()
	err = inTx(ctx, s.db, "mfa enrollment: transaction", func(tx *gorm.DB) error {
		if err := tx.Model(&models.SMSBackup{}).
			Where("id = ?", backup.ID).
			Updates(map[string]any{"verified": true, "verified_at": now}).Error; err != nil {
			return storageError("mfa sms: confirm backup", err)
		}
		entry.Result = models.AuditResultSuccess
		return appendAuditTx(s.audit, ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	if err := s.deps.Lockout.Reset(ctx, principal.ID); err != nil {
		s.log.Warn("failed to reset lockout counter", zap.String("user_id", principal.ID), zap.Error(err))
	}
	backup.Verified = true
	backup.VerifiedAt = timePtr(now)
	return backup, nil
}

func (s *MFAEnrollmentService) replaceBackupCodes(tx *gorm.DB, userID string, codes []string) error {
	if err := tx.Where("user_id = ?", userID).Delete(&models.MFABackupCode{}).Error; err != nil {
		return storageError("mfa: delete backup codes", err)
	}
	rows := make([]models.MFABackupCode, 0, len(codes))
	for _, code := range codes {
		rows = append(rows, models.MFABackupCode{UserID: userID, CodeHash: s.deps.Hasher.Hash(code)})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return storageError("mfa: store backup codes", err)
	}
	return nil
}

// mfaRequiredTeams lists the active teams whose compliance settings require
// MFA for the role userID holds there.
func mfaRequiredTeams(tx *gorm.DB, userID string) ([]string, error) {
	var memberships []models.TeamMember
	if err := tx.Preload("Team").
		Where("user_id = ? AND is_active = ?", userID, true).
		Find(&memberships).Error; err != nil {
		return nil, storageError("mfa: load memberships", err)
	}

	var teams []string
	for _, m := range memberships {
		if m.Team == nil || !m.Team.IsActive {
			continue
		}
		if m.Team.Settings().RequiresMFAFor(m.Role) {
			teams = append(teams, m.TeamID)
		}
	}
	return teams, nil
}

func maskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if len(phone) <= 3 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-3) + phone[len(phone)-3:]
}
