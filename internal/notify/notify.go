// Package notify delivers invitation notifications to invitees. Delivery is
// best-effort: callers log and count failures but never roll back the
// invitation because of them.
package notify

import (
	"context"
	"errors"
	"time"
)

// ErrSkipped reports that the dispatcher is configured not to deliver.
var ErrSkipped = errors.New("notify: delivery skipped")

// InvitationNotice is the template data for an invitation message.
type InvitationNotice struct {
	InvitationID string    `json:"invitation_id"`
	TeamID       string    `json:"team_id"`
	TeamName     string    `json:"team_name"`
	PracticeName string    `json:"practice_name,omitempty"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Role         string    `json:"role"`
	Department   string    `json:"department,omitempty"`
	Message      string    `json:"message,omitempty"`
	JoinURL      string    `json:"join_url"`
	ExpiresAt    time.Time `json:"expires_at"`
	Reminder     bool      `json:"reminder"`
}

// Dispatcher sends invitation notices over a single channel.
type Dispatcher interface {
	SendInvitation(ctx context.Context, notice InvitationNotice) error
	Channel() string
}

// NopDispatcher drops every notice.
type NopDispatcher struct{}

func (NopDispatcher) SendInvitation(context.Context, InvitationNotice) error { return ErrSkipped }

func (NopDispatcher) Channel() string { return "none" }
