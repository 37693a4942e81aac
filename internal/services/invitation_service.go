package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/models"
	"github.com/charlesng35/careteam/internal/notify"
	"github.com/charlesng35/careteam/pkg/crypto"
	apperrors "github.com/charlesng35/careteam/pkg/errors"
	"github.com/charlesng35/careteam/pkg/logger"
	"github.com/charlesng35/careteam/pkg/metrics"
	"github.com/charlesng35/careteam/pkg/tracing"
)

const (
	defaultInvitationExpiry        = 7 * 24 * time.Hour
	defaultInvitationNotifyTimeout = 10 * time.Second
)

// CreateInvitationInput captures the invitee and the role being offered.
type CreateInvitationInput struct {
	Email      string          `json:"email" validate:"required,email,max=254"`
	Name       string          `json:"name" validate:"max=120"`
	Role       models.TeamRole `json:"role" validate:"required,team_role"`
	Department string          `json:"department" validate:"max=120"`
	Message    string          `json:"message" validate:"max=2000"`
	// Nil inherits the team's compliance settings.
	RequireProfessionalVerification *bool `json:"require_professional_verification"`
	RequireBackgroundCheck          *bool `json:"require_background_check"`
}

// InvitationResult carries the persisted invitation and its plaintext token.
// The token is only ever available here.
type InvitationResult struct {
	Invitation *models.Invitation `json:"invitation"`
	Token      string             `json:"token"`
	JoinURL    string             `json:"join_url"`
}

// InvitationPreview is the read-only view shown on the join page.
type InvitationPreview struct {
	InvitationID                    string          `json:"invitation_id"`
	TeamID                          string          `json:"team_id"`
	TeamName                        string          `json:"team_name"`
	PracticeName                    string          `json:"practice_name,omitempty"`
	Email                           string          `json:"email"`
	Name                            string          `json:"name,omitempty"`
	Role                            models.TeamRole `json:"role"`
	Department                      string          `json:"department,omitempty"`
	Message                         string          `json:"message,omitempty"`
	ExpiresAt                       time.Time       `json:"expires_at"`
	RequireProfessionalVerification bool            `json:"require_professional_verification"`
	RequireBackgroundCheck          bool            `json:"require_background_check"`
}

// InvitationOption customises InvitationService behaviour.
type InvitationOption func(*InvitationService)

// WithInvitationExpiry overrides the invitation lifetime.
func WithInvitationExpiry(d time.Duration) InvitationOption {
	return func(s *InvitationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithInvitationTokenGenerator replaces the token source.
func WithInvitationTokenGenerator(gen TokenGenerator) InvitationOption {
	return func(s *InvitationService) {
		if gen != nil {
			s.tokens = gen
		}
	}
}

// WithInvitationJoinURL configures the page invitees are sent to.
func WithInvitationJoinURL(joinURL string) InvitationOption {
	return func(s *InvitationService) {
		s.joinURL = strings.TrimSpace(joinURL)
	}
}

// WithInvitationEmailMatch toggles whether the accepting principal's email
// must equal the invited email.
func WithInvitationEmailMatch(enforce bool) InvitationOption {
	return func(s *InvitationService) {
		s.enforceEmailMatch = enforce
	}
}

// WithInvitationNotifyTimeout bounds a single notification dispatch.
func WithInvitationNotifyTimeout(d time.Duration) InvitationOption {
	return func(s *InvitationService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithInvitationClock injects a custom clock primarily for testing.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InvitationService runs the invitation lifecycle: create, accept, decline,
// cancel, resend and expiry.
type InvitationService struct {
	db                *gorm.DB
	audit             *AuditService
	access            *AccessControl
	dispatcher        notify.Dispatcher
	tokens            TokenGenerator
	expiry            time.Duration
	joinURL           string
	enforceEmailMatch bool
	notifyTimeout     time.Duration
	now               func() time.Time
	log               *zap.Logger
}

// NewInvitationService constructs an InvitationService. A nil dispatcher disables notifications.
func NewInvitationService(db *gorm.DB, audit *AuditService, dispatcher notify.Dispatcher, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}
	if dispatcher == nil {
		dispatcher = notify.NopDispatcher{}
	}

	svc := &InvitationService{
		db:                db,
		audit:             audit,
		access:            NewAccessControl(),
		dispatcher:        dispatcher,
		tokens:            RandomTokenGenerator{Bytes: defaultInvitationTokenBytes},
		expiry:            defaultInvitationExpiry,
		enforceEmailMatch: true,
		notifyTimeout:     defaultInvitationNotifyTimeout,
		now:               time.Now,
		log:               logger.WithModule("invitations"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateInvitation persists a pending invitation and notifies the invitee.
// Notification failures are logged and never undo the invitation.
func (s *InvitationService) CreateInvitation(ctx context.Context, actor models.Principal, teamID string, input CreateInvitationInput) (result *InvitationResult, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "invitations", "create", attribute.String("team.id", teamID))
	defer func() { tracing.End(span, err) }()

	if err := requirePrincipal(actor); err != nil {
		return nil, err
	}
	input.Email = models.NormaliseEmail(input.Email)
	input.Name = strings.TrimSpace(input.Name)
	input.Department = strings.TrimSpace(input.Department)
	input.Message = strings.TrimSpace(input.Message)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if !input.Role.Invitable() {
		return nil, apperrors.NewValidation("role cannot be granted through an invitation")
	}

	token, err := s.tokens.Generate()
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	now := s.now().UTC()
	var (
		invitation *models.Invitation
		team       *models.Team
	)

	err = inTx(ctx, s.db, "invitation service: transaction", func(tx *gorm.DB) error {
		var err error
		team, err = loadTeam(tx, teamID)
		if err != nil {
			return err
		}
		if !team.IsActive {
			return ErrTeamInactive
		}
		grant, err := s.access.AuthorizeManage(ctx, tx, actor, team)
		if err != nil {
			return err
		}
		if err := grant.Outranks(input.Role.DefaultAccessLevel()); err != nil {
			return err
		}

		var activeMembers int64
		if err := tx.Model(&models.TeamMember{}).
			Where("team_id = ? AND invited_email = ? AND is_active = ?", team.ID, input.Email, true).
			Count(&activeMembers).Error; err != nil {
			return storageError("invitation service: check membership", err)
		}
		if activeMembers > 0 {
			return ErrMemberConflict
		}
		if !team.HasCapacity() {
			return ErrTeamCapacity
		}

		// Settle lapsed invitations so the pending index only holds live ones.
		if _, err := settlePending(
			tx.Where("team_id = ? AND email = ? AND expires_at <= ?", team.ID, input.Email, now),
			"invitation service: expire lapsed invitations", models.InvitationExpired, nil,
		); err != nil {
			return err
		}

		var pending int64
		if err := tx.Model(&models.Invitation{}).
			Where("team_id = ? AND email = ? AND status = ?", team.ID, input.Email, models.InvitationPending).
			Count(&pending).Error; err != nil {
			return storageError("invitation service: check pending", err)
		}
		if pending > 0 {
			return ErrInvitationConflict
		}

		settings := team.Settings()
		invitation = &models.Invitation{
			TeamID:                          team.ID,
			InvitedBy:                       actor.ID,
			Email:                           input.Email,
			Name:                            input.Name,
			Role:                            input.Role,
			Department:                      input.Department,
			Message:                         input.Message,
			TokenHash:                       crypto.HashToken(token),
			Status:                          models.InvitationPending,
			ExpiresAt:                       now.Add(s.expiry),
			LastSentAt:                      timePtr(now),
			RequireProfessionalVerification: boolOr(input.RequireProfessionalVerification, settings.RequireProfessionalVerification),
			RequireBackgroundCheck:          boolOr(input.RequireBackgroundCheck, settings.RequireBackgroundCheck),
		}
		if err := tx.Create(invitation).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrInvitationConflict
			}
			return storageError("invitation service: create invitation", err)
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			TeamID:     team.ID,
			ActorID:    actor.ID,
			Action:     "invitation.create",
			ActionType: models.AuditTypeInvitation,
			Result:     models.AuditResultSuccess,
			Details: map[string]any{
				"invitation_id": invitation.ID,
				"email":         invitation.Email,
				"role":          invitation.Role,
				"expires_at":    invitation.ExpiresAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.InvitationEvents.WithLabelValues("created").Inc()

	joinURL := s.buildJoinURL(token)
	s.dispatch(ctx, invitation, team, joinURL, false)

	return &InvitationResult{Invitation: invitation, Token: token, JoinURL: joinURL}, nil
}

// LookupInvitation returns a preview of a live invitation for the join page.
func (s *InvitationService) LookupInvitation(ctx context.Context, token string) (*InvitationPreview, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvitationInvalid
	}

	var invitation models.Invitation
	err := s.db.WithContext(ctx).
		Preload("Team").
		Where("token_hash = ?", crypto.HashToken(token)).
		Take(&invitation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationInvalid
		}
		return nil, storageError("invitation service: lookup invitation", err)
	}
	if invitation.EffectiveStatus(s.now().UTC()) != models.InvitationPending ||
		invitation.Team == nil || !invitation.Team.IsActive {
		return nil, ErrInvitationInvalid
	}

	return &InvitationPreview{
		InvitationID:                    invitation.ID,
		TeamID:                          invitation.TeamID,
		TeamName:                        invitation.Team.Name,
		PracticeName:                    invitation.Team.PracticeName,
		Email:                           invitation.Email,
		Name:                            invitation.Name,
		Role:                            invitation.Role,
		Department:                      invitation.Department,
		Message:                         invitation.Message,
		ExpiresAt:                       invitation.ExpiresAt,
		RequireProfessionalVerification: invitation.RequireProfessionalVerification,
		RequireBackgroundCheck:          invitation.RequireBackgroundCheck,
	}, nil
}

// AcceptInvitation turns a pending invitation into an active membership in a
// single transaction. Only one concurrent caller can win the conditional
// status update; the rest observe ErrInvitationInvalid.
func (s *InvitationService) AcceptInvitation(ctx context.Context, principal models.Principal, token string) (member *models.TeamMember, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "invitations", "accept")
	defer func() { tracing.End(span, err) }()

	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}

	var invitation models.Invitation
	defer func() {
		if err != nil {
			s.recordRejected(ctx, principal, "invitation.accept", &invitation, err)
		}
	}()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvitationInvalid
	}
	hash := crypto.HashToken(token)
	now := s.now().UTC()

	err = inTx(ctx, s.db, "invitation service: transaction", func(tx *gorm.DB) error {
		if err := claimInvitation(tx, hash, now, models.InvitationAccepted, map[string]any{
			"accepted_at": now,
			"accepted_by": principal.ID,
		}); err != nil {
			return err
		}
		if err := tx.Where("token_hash = ?", hash).Take(&invitation).Error; err != nil {
			return storageError("invitation service: load invitation", err)
		}
		if err := s.checkEmailBinding(principal, &invitation); err != nil {
			return err
		}

		team, err := loadTeam(tx, invitation.TeamID)
		if err != nil {
			return err
		}
		if !team.IsActive {
			return ErrTeamInactive
		}

		member, err = upsertMembership(tx, &invitation, principal, now)
		if err != nil {
			return err
		}
		if err := incrementTeamSize(tx, team.ID); err != nil {
			return err
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			TeamID:         team.ID,
			ActorID:        principal.ID,
			TargetMemberID: member.ID,
			Action:         "invitation.accept",
			ActionType:     models.AuditTypeInvitation,
			Result:         models.AuditResultSuccess,
			Details: map[string]any{
				"invitation_id": invitation.ID,
				"email":         invitation.Email,
				"role":          invitation.Role,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.InvitationEvents.WithLabelValues("accepted").Inc()
	return member, nil
}

// DeclineInvitation marks a pending invitation declined.
func (s *InvitationService) DeclineInvitation(ctx context.Context, principal models.Principal, token string) (err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "invitations", "decline")
	defer func() { tracing.End(span, err) }()

	if err := requirePrincipal(principal); err != nil {
		return err
	}

	var invitation models.Invitation
	defer func() {
		if err != nil {
			s.recordRejected(ctx, principal, "invitation.decline", &invitation, err)
		}
	}()

	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvitationInvalid
	}
	hash := crypto.HashToken(token)
	now := s.now().UTC()

	err = inTx(ctx, s.db, "invitation service: transaction", func(tx *gorm.DB) error {
		if err := claimInvitation(tx, hash, now, models.InvitationDeclined, map[string]any{
			"declined_at": now,
		}); err != nil {
			return err
		}
		if err := tx.Where("token_hash = ?", hash).Take(&invitation).Error; err != nil {
			return storageError("invitation service: load invitation", err)
		}
		if err := s.checkEmailBinding(principal, &invitation); err != nil {
			return err
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			TeamID:     invitation.TeamID,
			ActorID:    principal.ID,
			Action:     "invitation.decline",
			ActionType: models.AuditTypeInvitation,
			Result:     models.AuditResultSuccess,
			Details:    map[string]any{"invitation_id": invitation.ID},
		})
	})
	if err != nil {
		return err
	}

	metrics.InvitationEvents.WithLabelValues("declined").Inc()
	return nil
}

// CancelInvitation withdraws a pending invitation.
func (s *InvitationService) CancelInvitation(ctx context.Context, actor models.Principal, teamID, invitationID string) (cancelled *models.Invitation, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "invitations", "cancel", attribute.String("team.id", teamID))
	defer func() { tracing.End(span, err) }()

	now := s.now().UTC()
	err = inTx(ctx, s.db, "invitation service: transaction", func(tx *gorm.DB) error {
		team, err := loadTeam(tx, teamID)
		if err != nil {
			return err
		}
		if err := s.access.CanManageTeam(ctx, tx, actor, team); err != nil {
			return err
		}
		invitation, err := loadInvitation(tx, team.ID, invitationID)
		if err != nil {
			return err
		}

		if invitation.EffectiveStatus(now).IsTerminal() {
			return ErrInvitationNotPending
		}

		rows, err := settlePending(
			tx.Where("id = ? AND expires_at > ?", invitation.ID, now),
			"invitation service: cancel invitation", models.InvitationCancelled,
			map[string]any{"cancelled_at": now, "cancelled_by": actor.ID},
		)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrInvitationNotPending
		}

		cancelled, err = loadInvitation(tx, team.ID, invitation.ID)
		if err != nil {
			return err
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			TeamID:     team.ID,
			ActorID:    actor.ID,
			Action:     "invitation.cancel",
			ActionType: models.AuditTypeInvitation,
			Result:     models.AuditResultSuccess,
			Details: map[string]any{
				"invitation_id": invitation.ID,
				"email":         invitation.Email,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.InvitationEvents.WithLabelValues("cancelled").Inc()
	return cancelled, nil
}

// ResendInvitation rotates the token of a pending invitation, restarts its
// expiry and notifies the invitee again.
func (s *InvitationService) ResendInvitation(ctx context.Context, actor models.Principal, teamID, invitationID string) (result *InvitationResult, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "invitations", "resend", attribute.String("team.id", teamID))
	defer func() { tracing.End(span, err) }()

	token, err := s.tokens.Generate()
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	now := s.now().UTC()
	var (
		invitation *models.Invitation
		team       *models.Team
	)
	err = inTx(ctx, s.db, "invitation service: transaction", func(tx *gorm.DB) error {
		var err error
		team, err = loadTeam(tx, teamID)
		if err != nil {
			return err
		}
		if !team.IsActive {
			return ErrTeamInactive
		}
		grant, err := s.access.AuthorizeManage(ctx, tx, actor, team)
		if err != nil {
			return err
		}
		current, err := loadInvitation(tx, team.ID, invitationID)
		if err != nil {
			return err
		}
		if err := grant.Outranks(current.Role.DefaultAccessLevel()); err != nil {
			return err
		}
		if current.EffectiveStatus(now).IsTerminal() {
			return ErrInvitationNotPending
		}

		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ? AND expires_at > ?", current.ID, models.InvitationPending, now).
			Updates(map[string]any{
				"token_hash":     crypto.HashToken(token),
				"expires_at":     now.Add(s.expiry),
				"reminder_count": gorm.Expr("reminder_count + ?", 1),
				"last_sent_at":   now,
			})
		if res.Error != nil {
			return storageError("invitation service: resend invitation", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInvitationNotPending
		}

		invitation, err = loadInvitation(tx, team.ID, current.ID)
		if err != nil {
			return err
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			TeamID:     team.ID,
			ActorID:    actor.ID,
			Action:     "invitation.resend",
			ActionType: models.AuditTypeInvitation,
			Result:     models.AuditResultSuccess,
			Details: map[string]any{
				"invitation_id":  invitation.ID,
				"reminder_count": invitation.ReminderCount,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.InvitationEvents.WithLabelValues("resent").Inc()

	joinURL := s.buildJoinURL(token)
	s.dispatch(ctx, invitation, team, joinURL, true)

	return &InvitationResult{Invitation: invitation, Token: token, JoinURL: joinURL}, nil
}

// ListInvitations returns the team's invitations, optionally filtered by
// status. Pending invitations past their expiry are reported as expired.
func (s *InvitationService) ListInvitations(ctx context.Context, actor models.Principal, teamID string, status models.InvitationStatus) ([]models.Invitation, error) {
	ctx = ensureContext(ctx)
	if status != "" && !status.Valid() {
		return nil, apperrors.NewValidation("unknown invitation status")
	}

	db := s.db.WithContext(ctx)
	team, err := loadTeam(db, teamID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanManageTeam(ctx, db, actor, team); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	query := db.Where("team_id = ?", team.ID)
	switch status {
	case "":
	case models.InvitationPending:
		query = query.Where("status = ? AND expires_at > ?", models.InvitationPending, now)
	case models.InvitationExpired:
		query = query.Where("status = ? OR (status = ? AND expires_at <= ?)",
			models.InvitationExpired, models.InvitationPending, now)
	case models.InvitationAccepted, models.InvitationDeclined, models.InvitationCancelled:
		query = query.Where("status = ?", status)
	}

	var invitations []models.Invitation
	if err := query.Order("created_at DESC").Find(&invitations).Error; err != nil {
		return nil, storageError("invitation service: list invitations", err)
	}
	for i := range invitations {
		invitations[i].Status = invitations[i].EffectiveStatus(now)
	}
	return invitations, nil
}

// ExpireStale flips every pending invitation past its expiry to expired.
// Acceptance never depends on it having run.
func (s *InvitationService) ExpireStale(ctx context.Context) (count int64, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "invitations", "expire_stale")
	defer func() { tracing.End(span, err) }()

	now := s.now().UTC()
	count, err = settlePending(
		s.db.WithContext(ctx).Where("expires_at <= ?", now),
		"invitation service: expire stale invitations", models.InvitationExpired, nil,
	)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		metrics.InvitationEvents.WithLabelValues("expired").Add(float64(count))
		recordAudit(s.audit, ctx, AuditEntry{
			Action:     "invitation.expire",
			ActionType: models.AuditTypeInvitation,
			Result:     models.AuditResultSuccess,
			Details:    map[string]any{"count": count},
		})
	}
	return count, nil
}

func (s *InvitationService) checkEmailBinding(principal models.Principal, invitation *models.Invitation) error {
	if !s.enforceEmailMatch {
		return nil
	}
	if models.NormaliseEmail(invitation.Email) != principal.NormalisedEmail() {
		return ErrInvitationEmailMismatch
	}
	return nil
}

// recordRejected audits a failed accept/decline as a security event. It runs
// after the transaction rolled back so the entry survives.
func (s *InvitationService) recordRejected(ctx context.Context, principal models.Principal, action string, invitation *models.Invitation, cause error) {
	metrics.InvitationEvents.WithLabelValues("rejected").Inc()

	details := map[string]any{"reason": apperrors.FromError(cause).Code}
	teamID := ""
	if invitation != nil && invitation.ID != "" {
		details["invitation_id"] = invitation.ID
		teamID = invitation.TeamID
	}
	recordAudit(s.audit, ctx, AuditEntry{
		TeamID:     teamID,
		ActorID:    principal.ID,
		Action:     action,
		ActionType: models.AuditTypeSecurity,
		Result:     models.AuditResultFailure,
		Details:    details,
	})
}

func (s *InvitationService) buildJoinURL(token string) string {
	if s.joinURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(s.joinURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%stoken=%s", s.joinURL, sep, url.QueryEscape(token))
}

// dispatch sends the invitation notice with a bounded timeout. The request
// context's cancellation is ignored so an abandoned request still notifies.
func (s *InvitationService) dispatch(ctx context.Context, invitation *models.Invitation, team *models.Team, joinURL string, reminder bool) {
	if invitation == nil || team == nil {
		return
	}
	channel := s.dispatcher.Channel()

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	err := s.dispatcher.SendInvitation(sendCtx, notify.InvitationNotice{
		InvitationID: invitation.ID,
		TeamID:       team.ID,
		TeamName:     team.Name,
		PracticeName: team.PracticeName,
		Email:        invitation.Email,
		Name:         invitation.Name,
		Role:         string(invitation.Role),
		Department:   invitation.Department,
		Message:      invitation.Message,
		JoinURL:      joinURL,
		ExpiresAt:    invitation.ExpiresAt,
		Reminder:     reminder,
	})
	switch {
	case err == nil:
		metrics.NotificationDeliveries.WithLabelValues(channel, "sent").Inc()
	case errors.Is(err, notify.ErrSkipped):
		metrics.NotificationDeliveries.WithLabelValues(channel, "skipped").Inc()
	default:
		metrics.NotificationDeliveries.WithLabelValues(channel, "failed").Inc()
		s.log.Warn("invitation notification failed",
			zap.String("invitation_id", invitation.ID),
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}

// claimInvitation moves the live invitation identified by hash to next.
// The pending guard makes the transition single-winner under concurrency.
func claimInvitation(tx *gorm.DB, hash string, now time.Time, next models.InvitationStatus, updates map[string]any) error {
	rows, err := settlePending(
		tx.Where("token_hash = ? AND expires_at > ?", hash, now),
		"invitation service: claim invitation", next, updates,
	)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvitationInvalid
	}
	return nil
}

// settlePending moves the pending invitations matched by scope to next and
// reports how many rows changed. Rows that already left pending never match.
func settlePending(scope *gorm.DB, op string, next models.InvitationStatus, updates map[string]any) (int64, error) {
	if !models.InvitationPending.CanTransitionTo(next) {
		return 0, apperrors.ErrInternalServer.WithInternal(
			fmt.Errorf("invitation status %q cannot move to %q", models.InvitationPending, next))
	}
	values := make(map[string]any, len(updates)+1)
	for column, value := range updates {
		values[column] = value
	}
	values["status"] = next

	res := scope.Model(&models.Invitation{}).
		Where("status = ?", models.InvitationPending).
		Updates(values)
	if res.Error != nil {
		return 0, storageError(op, res.Error)
	}
	return res.RowsAffected, nil
}

// upsertMembership creates the membership or reactivates a previously removed one.
func upsertMembership(tx *gorm.DB, invitation *models.Invitation, principal models.Principal, now time.Time) (*models.TeamMember, error) {
	var existing models.TeamMember
	err := tx.Where("team_id = ? AND user_id = ?", invitation.TeamID, principal.ID).Take(&existing).Error
	switch {
	case err == nil && existing.IsActive:
		return nil, ErrMemberConflict
	case err == nil:
		res := tx.Model(&models.TeamMember{}).
			Where("id = ? AND is_active = ?", existing.ID, false).
			Updates(map[string]any{
				"role":                   invitation.Role,
				"permissions":            datatypes.NewJSONType(invitation.Role.DefaultPermissions()),
				"access_level":           invitation.Role.DefaultAccessLevel(),
				"department":             invitation.Department,
				"invited_email":          invitation.Email,
				"invitation_id":          invitation.ID,
				"invitation_accepted_at": now,
				"start_date":             startOfDay(now),
				"end_date":               nil,
				"is_active":              true,
			})
		if res.Error != nil {
			return nil, storageError("invitation service: reactivate member", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrMemberConflict
		}
		return loadMember(tx, invitation.TeamID, existing.ID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, storageError("invitation service: load membership", err)
	}

	invitationID := invitation.ID
	member := &models.TeamMember{
		TeamID:               invitation.TeamID,
		UserID:               principal.ID,
		InvitedEmail:         invitation.Email,
		InvitationID:         &invitationID,
		Role:                 invitation.Role,
		Permissions:          datatypes.NewJSONType(invitation.Role.DefaultPermissions()),
		AccessLevel:          invitation.Role.DefaultAccessLevel(),
		Department:           invitation.Department,
		StartDate:            startOfDay(now),
		IsActive:             true,
		InvitationAcceptedAt: timePtr(now),
	}
	if err := tx.Create(member).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrMemberConflict
		}
		return nil, storageError("invitation service: create member", err)
	}
	return member, nil
}

func loadInvitation(tx *gorm.DB, teamID, invitationID string) (*models.Invitation, error) {
	invitationID = strings.TrimSpace(invitationID)
	if invitationID == "" {
		return nil, ErrInvitationNotFound
	}
	var invitation models.Invitation
	if err := tx.Where("id = ? AND team_id = ?", invitationID, teamID).Take(&invitation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, storageError("load invitation", err)
	}
	return &invitation, nil
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}
