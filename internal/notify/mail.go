package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/careteam/pkg/mail"
)

// MailDispatcher renders notices as plain-text email.
type MailDispatcher struct {
	mailer mail.Mailer
	from   string
}

// NewMailDispatcher wraps mailer. from may be empty to use the mailer default.
func NewMailDispatcher(mailer mail.Mailer, from string) (*MailDispatcher, error) {
	if mailer == nil {
		return nil, errors.New("notify: mailer is required")
	}
	return &MailDispatcher{mailer: mailer, from: strings.TrimSpace(from)}, nil
}

func (d *MailDispatcher) Channel() string { return "email" }

func (d *MailDispatcher) SendInvitation(ctx context.Context, notice InvitationNotice) error {
	err := d.mailer.Send(ctx, mail.Message{
		From:    d.from,
		To:      []string{notice.Email},
		Subject: invitationSubject(notice),
		Body:    invitationBody(notice),
	})
	if errors.Is(err, mail.ErrSMTPDisabled) {
		return ErrSkipped
	}
	return err
}

func invitationSubject(n InvitationNotice) string {
	team := teamLabel(n)
	if n.Reminder {
		return fmt.Sprintf("Reminder: your invitation to join %s", team)
	}
	return fmt.Sprintf("You're invited to join %s", team)
}

func invitationBody(n InvitationNotice) string {
	var b strings.Builder

	greeting := "Hello"
	if name := strings.TrimSpace(n.Name); name != "" {
		greeting = "Hello " + name
	}
	fmt.Fprintf(&b, "%s,\n\n", greeting)
	fmt.Fprintf(&b, "You have been invited to join %s as %s", teamLabel(n), n.Role)
	if n.Department != "" {
		fmt.Fprintf(&b, " in %s", n.Department)
	}
	b.WriteString(".\n\n")

	if msg := strings.TrimSpace(n.Message); msg != "" {
		fmt.Fprintf(&b, "%s\n\n", msg)
	}

	fmt.Fprintf(&b, "Accept the invitation here:\n%s\n\n", n.JoinURL)
	fmt.Fprintf(&b, "This invitation expires on %s.\n", n.ExpiresAt.UTC().Format("2 January 2006 15:04 MST"))
	b.WriteString("If you did not expect this email, you can ignore it.\n")
	return b.String()
}

func teamLabel(n InvitationNotice) string {
	if n.PracticeName != "" && n.PracticeName != n.TeamName {
		return fmt.Sprintf("%s (%s)", n.TeamName, n.PracticeName)
	}
	return n.TeamName
}
