package app

import (
	"strings"

	"github.com/charlesng35/careteam/internal/services"
)

// InvitationOptions converts InvitationConfig into invitation service options.
func (c InvitationConfig) InvitationOptions() []services.InvitationOption {
	opts := []services.InvitationOption{
		services.WithInvitationEmailMatch(c.EnforceEmailMatch),
	}
	if c.Expiry > 0 {
		opts = append(opts, services.WithInvitationExpiry(c.Expiry))
	}
	if c.TokenBytes > 0 {
		opts = append(opts, services.WithInvitationTokenGenerator(services.RandomTokenGenerator{Bytes: c.TokenBytes}))
	}
	if joinURL := strings.TrimSpace(c.JoinURL); joinURL != "" {
		opts = append(opts, services.WithInvitationJoinURL(joinURL))
	}
	if c.NotifyTimeout > 0 {
		opts = append(opts, services.WithInvitationNotifyTimeout(c.NotifyTimeout))
	}
	return opts
}
