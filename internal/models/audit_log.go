package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrAuditLogImmutable is returned by hooks guarding audit rows against mutation.
var ErrAuditLogImmutable = errors.New("audit log entries are append-only")

// AuditActionType classifies audit entries.
type AuditActionType string

const (
	AuditTypeInvitation   AuditActionType = "invitation"
	AuditTypeMemberUpdate AuditActionType = "member_update"
	AuditTypeDeactivation AuditActionType = "deactivation"
	AuditTypeSecurity     AuditActionType = "security"
)

func (t AuditActionType) Valid() bool {
	switch t {
	case AuditTypeInvitation, AuditTypeMemberUpdate, AuditTypeDeactivation, AuditTypeSecurity:
		return true
	default:
		return false
	}
}

// AuditResult is the outcome recorded with an entry.
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
	AuditResultBlocked AuditResult = "blocked"
)

func (r AuditResult) Valid() bool {
	switch r {
	case AuditResultSuccess, AuditResultFailure, AuditResultBlocked:
		return true
	default:
		return false
	}
}

type AuditLog struct {
	ID               string            `gorm:"primaryKey;type:uuid" json:"id"`
	TeamID           *string           `gorm:"type:uuid;index" json:"team_id,omitempty"`
	ActorID          *string           `gorm:"type:uuid;index" json:"actor_id,omitempty"`
	TargetMemberID   *string           `gorm:"type:uuid" json:"target_member_id,omitempty"`
	Action           string            `gorm:"not null;index" json:"action"`
	ActionType       AuditActionType   `gorm:"type:varchar(32);not null;index" json:"action_type"`
	Result           AuditResult       `gorm:"type:varchar(16);not null" json:"result"`
	Details          datatypes.JSONMap `json:"details"`
	ComplianceImpact bool              `gorm:"not null" json:"compliance_impact"`
	IPAddress        string            `json:"ip_address"`
	UserAgent        string            `json:"user_agent"`
	CreatedAt        time.Time         `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (a *AuditLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditLogImmutable
}

func (a *AuditLog) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditLogImmutable
}
