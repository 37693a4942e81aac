package models

import "time"

// MFAMethod is the closed set of verification factors.
type MFAMethod string

const (
	MFAMethodTOTP        MFAMethod = "totp"
	MFAMethodBackupCodes MFAMethod = "backup_codes"
	MFAMethodSMS         MFAMethod = "sms"
)

// MFAMethodNames returns the methods as plain strings for validators.
func MFAMethodNames() []string {
	return []string{string(MFAMethodTOTP), string(MFAMethodBackupCodes), string(MFAMethodSMS)}
}

func (m MFAMethod) Valid() bool {
	switch m {
	case MFAMethodTOTP, MFAMethodBackupCodes, MFAMethodSMS:
		return true
	default:
		return false
	}
}

// MFAState is the enrollment state derived from a credential.
type MFAState string

const (
	MFAStateNone                MFAState = "no_mfa"
	MFAStatePendingVerification MFAState = "pending_verification"
	MFAStateEnabled             MFAState = "enabled"
)

// MFACredential holds a principal's TOTP enrollment. Secret is sealed with
// pkg/crypto and IsEnabled only flips after a code has been verified.
type MFACredential struct {
	BaseModel

	UserID      string     `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Secret      string     `gorm:"type:text" json:"-"`
	TOTPEnabled bool       `gorm:"not null" json:"totp_enabled"`
	IsEnabled   bool       `gorm:"not null" json:"is_enabled"`
	EnrolledAt  *time.Time `json:"enrolled_at,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

func (MFACredential) TableName() string {
	return "mfa_credentials"
}

// State maps the stored flags onto the enrollment state machine.
func (c *MFACredential) State() MFAState {
	switch {
	case c == nil:
		return MFAStateNone
	case c.IsEnabled:
		return MFAStateEnabled
	case c.Secret != "":
		return MFAStatePendingVerification
	default:
		return MFAStateNone
	}
}

// MFABackupCode is one unused backup code hash. Consuming a code deletes its row.
type MFABackupCode struct {
	BaseModel

	UserID   string `gorm:"type:uuid;not null;uniqueIndex:idx_mfa_backup_codes_user_hash" json:"user_id"`
	CodeHash string `gorm:"size:64;not null;uniqueIndex:idx_mfa_backup_codes_user_hash" json:"-"`
}

func (MFABackupCode) TableName() string {
	return "mfa_backup_codes"
}

// SMSBackup is an optional SMS second factor.
type SMSBackup struct {
	BaseModel

	UserID      string     `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	PhoneNumber string     `gorm:"not null" json:"phone_number"`
	CountryCode string     `gorm:"size:8" json:"country_code"`
	Verified    bool       `gorm:"not null" json:"verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

func (SMSBackup) TableName() string {
	return "sms_backups"
}
