package models

import (
	"time"

	"gorm.io/datatypes"
)

// TeamMember binds a principal to a team. Rows are soft-deactivated, never deleted.
type TeamMember struct {
	BaseModel

	TeamID       string  `gorm:"type:uuid;not null;uniqueIndex:idx_team_members_team_user" json:"team_id"`
	UserID       string  `gorm:"type:uuid;not null;uniqueIndex:idx_team_members_team_user;index" json:"user_id"`
	InvitedEmail string  `gorm:"index" json:"invited_email"`
	InvitationID *string `gorm:"type:uuid" json:"invitation_id,omitempty"`

	Role        TeamRole                              `gorm:"type:varchar(32);not null" json:"role"`
	Permissions datatypes.JSONType[MemberPermissions] `json:"permissions"`
	AccessLevel int                                   `gorm:"not null" json:"access_level"`
	Department  string                                `json:"department"`

	StartDate            time.Time  `json:"start_date"`
	EndDate              *time.Time `json:"end_date,omitempty"`
	IsActive             bool       `gorm:"not null;index" json:"is_active"`
	LastLoginAt          *time.Time `json:"last_login_at,omitempty"`
	InvitationAcceptedAt *time.Time `json:"invitation_accepted_at,omitempty"`
	Notes                string     `json:"notes"`

	Team *Team `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
}
