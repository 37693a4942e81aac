package services

import (
	"errors"
	"net/http"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/careteam/pkg/errors"
)

var (
	// ErrTeamNotFound indicates the requested team does not exist.
	ErrTeamNotFound = apperrors.New("TEAM_NOT_FOUND", "Team not found", http.StatusNotFound)
	// ErrTeamInactive rejects operations against a deactivated team.
	ErrTeamInactive = apperrors.ErrConfiguration.WithMessage("Team is not active")
	// ErrTeamCapacity signals the team has no room for another active member.
	ErrTeamCapacity = apperrors.New("TEAM_CAPACITY_CONFLICT", "Team has reached its maximum size", http.StatusConflict)

	// ErrMemberNotFound indicates the requested membership does not exist.
	ErrMemberNotFound = apperrors.New("MEMBER_NOT_FOUND", "Team member not found", http.StatusNotFound)
	// ErrMemberConflict signals the principal is already an active member.
	ErrMemberConflict = apperrors.New("MEMBER_CONFLICT", "User is already an active member of the team", http.StatusConflict)
	// ErrMemberInactive signals the member has already been deactivated.
	ErrMemberInactive = apperrors.New("MEMBER_INACTIVE", "Team member is already inactive", http.StatusConflict)
	// ErrOwnerConflict protects the owner's role and membership.
	ErrOwnerConflict = apperrors.New("OWNER_CONFLICT", "The team owner's role and membership cannot be changed", http.StatusConflict)

	// ErrInvitationNotFound indicates no invitation matches the identifier.
	ErrInvitationNotFound = apperrors.New("INVITATION_NOT_FOUND", "Invitation not found", http.StatusNotFound)
	// ErrInvitationInvalid covers unknown tokens, used invitations and expired
	// invitations alike.
	ErrInvitationInvalid = apperrors.New("INVITATION_INVALID", "Invitation is invalid or has expired", http.StatusBadRequest)
	// ErrInvitationNotPending rejects cancel/resend on a settled invitation.
	ErrInvitationNotPending = apperrors.New("INVITATION_NOT_PENDING", "Invitation is no longer pending", http.StatusConflict)
	// ErrInvitationConflict signals a pending invitation already exists for the email.
	ErrInvitationConflict = apperrors.New("INVITATION_CONFLICT", "A pending invitation already exists for this email", http.StatusConflict)
	// ErrInvitationEmailMismatch rejects accepting an invitation addressed to someone else.
	ErrInvitationEmailMismatch = apperrors.ErrForbidden.WithMessage("Invitation was issued to a different email address")

	// ErrMFANotEnrolled indicates the principal has no MFA credential.
	ErrMFANotEnrolled = apperrors.New("MFA_NOT_ENROLLED", "MFA enrollment not found", http.StatusNotFound)
	// ErrMFAAlreadyEnabled rejects re-enrollment while MFA is active.
	ErrMFAAlreadyEnabled = apperrors.New("MFA_CONFLICT", "MFA is already enabled", http.StatusConflict)
	// ErrMFANotEnabled rejects operations that need an active credential.
	ErrMFANotEnabled = apperrors.New("MFA_NOT_ENABLED", "MFA is not enabled", http.StatusConflict)
	// ErrSMSNotRegistered indicates no SMS backup exists for the principal.
	ErrSMSNotRegistered = apperrors.New("SMS_NOT_REGISTERED", "SMS backup is not registered", http.StatusNotFound)
	// ErrSMSUnavailable is returned when no SMS gateway is configured.
	ErrSMSUnavailable = apperrors.NewValidation("SMS verification is not available")
	// ErrSMSGateway wraps gateway transport failures.
	ErrSMSGateway = apperrors.New("SMS_GATEWAY_ERROR", "SMS gateway is unavailable", http.StatusBadGateway)
)

// isUniqueConstraintError detects uniqueness violations by driver error code.
// Connections opened by the database package translate them to
// gorm.ErrDuplicatedKey; the vendor checks cover handles opened elsewhere.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil {
		return pgErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil {
		return myErr.Number == 1062
	}
	return false
}

// storageError passes AppErrors through untouched and wraps anything else as
// a StorageError for op.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.NewStorage(op, err)
}
