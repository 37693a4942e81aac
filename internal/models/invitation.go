package models

import (
	"time"
)

// InvitationStatus is the closed lifecycle of an invitation.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

// InvitationStatuses lists every status.
func InvitationStatuses() []InvitationStatus {
	return []InvitationStatus{
		InvitationPending, InvitationAccepted, InvitationDeclined, InvitationExpired, InvitationCancelled,
	}
}

func (s InvitationStatus) Valid() bool {
	switch s {
	case InvitationPending, InvitationAccepted, InvitationDeclined, InvitationExpired, InvitationCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s InvitationStatus) IsTerminal() bool {
	switch s {
	case InvitationPending:
		return false
	case InvitationAccepted, InvitationDeclined, InvitationExpired, InvitationCancelled:
		return true
	default:
		return true
	}
}

// CanTransitionTo reports whether s may move to next. Only pending invitations move.
func (s InvitationStatus) CanTransitionTo(next InvitationStatus) bool {
	switch s {
	case InvitationPending:
		switch next {
		case InvitationAccepted, InvitationDeclined, InvitationExpired, InvitationCancelled:
			return true
		case InvitationPending:
			return false
		default:
			return false
		}
	case InvitationAccepted, InvitationDeclined, InvitationExpired, InvitationCancelled:
		return false
	default:
		return false
	}
}

// Invitation is an offer to join a team. Only the SHA-256 of the token is stored.
type Invitation struct {
	BaseModel

	TeamID     string   `gorm:"type:uuid;not null;index:idx_invitations_team_email" json:"team_id"`
	InvitedBy  string   `gorm:"type:uuid;not null" json:"invited_by"`
	Email      string   `gorm:"not null;index:idx_invitations_team_email" json:"email"`
	Name       string   `json:"name"`
	Role       TeamRole `gorm:"type:varchar(32);not null" json:"role"`
	Department string   `json:"department"`
	Message    string   `gorm:"type:text" json:"message"`

	TokenHash string           `gorm:"size:64;not null;uniqueIndex" json:"-"`
	Status    InvitationStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	ExpiresAt time.Time        `gorm:"not null;index" json:"expires_at"`

	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy    *string    `gorm:"type:uuid" json:"accepted_by,omitempty"`
	DeclinedAt    *time.Time `json:"declined_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy   *string    `gorm:"type:uuid" json:"cancelled_by,omitempty"`
	ReminderCount int        `gorm:"not null;default:0" json:"reminder_count"`
	LastSentAt    *time.Time `json:"last_sent_at,omitempty"`

	RequireProfessionalVerification bool `json:"require_professional_verification"`
	RequireBackgroundCheck          bool `json:"require_background_check"`

	Team *Team `gorm:"constraint:OnDelete:RESTRICT" json:"team,omitempty"`
}

// EffectiveStatus applies lazy expiry: a pending invitation whose expiry has
// passed is reported as expired even before the sweep flips it.
func (i *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && !i.ExpiresAt.After(now) {
		return InvitationExpired
	}
	return i.Status
}
