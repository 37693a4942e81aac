package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/models"
	apperrors "github.com/charlesng35/careteam/pkg/errors"
	"github.com/charlesng35/careteam/pkg/tracing"
)

// CreateTeamInput captures new team metadata.
type CreateTeamInput struct {
	Name               string                     `json:"name" validate:"required,max=120"`
	PracticeName       string                     `json:"practice_name" validate:"max=200"`
	MaxSize            int                        `json:"max_size" validate:"gte=0,lte=10000"`
	ComplianceSettings *models.ComplianceSettings `json:"compliance_settings"`
}

// UpdateMemberInput describes mutable membership fields. Nil fields are left untouched.
type UpdateMemberInput struct {
	Role        *models.TeamRole          `json:"role" validate:"omitempty,team_role"`
	Permissions *models.MemberPermissions `json:"permissions"`
	AccessLevel *int                      `json:"access_level"`
	Department  *string                   `json:"department" validate:"omitempty,max=120"`
	IsActive    *bool                     `json:"is_active"`
	Notes       *string                   `json:"notes" validate:"omitempty,max=1000"`
}

// TeamOption customises TeamService behaviour.
type TeamOption func(*TeamService)

// WithTeamClock injects a custom clock primarily for testing.
func WithTeamClock(clock func() time.Time) TeamOption {
	return func(s *TeamService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// TeamService handles team provisioning and membership management.
type TeamService struct {
	db     *gorm.DB
	audit  *AuditService
	access *AccessControl
	now    func() time.Time
}

// NewTeamService constructs a TeamService instance.
func NewTeamService(db *gorm.DB, audit *AuditService, opts ...TeamOption) (*TeamService, error) {
	if db == nil {
		return nil, errors.New("team service: db is required")
	}
	svc := &TeamService{
		db:     db,
		audit:  audit,
		access: NewAccessControl(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateTeam provisions a team with owner as its first active member.
func (s *TeamService) CreateTeam(ctx context.Context, owner models.Principal, input CreateTeamInput) (team *models.Team, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "teams", "create")
	defer func() { tracing.End(span, err) }()

	if err := requirePrincipal(owner); err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	input.PracticeName = strings.TrimSpace(input.PracticeName)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	settings := models.ComplianceSettings{Version: models.ComplianceSchemaVersion}
	if input.ComplianceSettings != nil {
		settings = *input.ComplianceSettings
		if settings.Version == 0 {
			settings.Version = models.ComplianceSchemaVersion
		}
		for _, role := range settings.MFARequiredRoles {
			if !role.Valid() {
				return nil, apperrors.NewValidation("compliance_settings.mfa_required_roles contains an unknown role")
			}
		}
	}

	now := s.now().UTC()
	team = &models.Team{
		OwnerID:            owner.ID,
		Name:               input.Name,
		PracticeName:       input.PracticeName,
		MaxSize:            input.MaxSize,
		CurrentSize:        1,
		IsActive:           true,
		ComplianceSettings: datatypes.NewJSONType(settings),
	}

	err = inTx(ctx, s.db, "team service: transaction", func(tx *gorm.DB) error {
		if err := tx.Create(team).Error; err != nil {
			return storageError("team service: create team", err)
		}

		member := &models.TeamMember{
			TeamID:       team.ID,
			UserID:       owner.ID,
			InvitedEmail: owner.NormalisedEmail(),
			Role:         models.RoleOwner,
			Permissions:  datatypes.NewJSONType(models.RoleOwner.DefaultPermissions()),
			AccessLevel:  models.RoleOwner.DefaultAccessLevel(),
			StartDate:    startOfDay(now),
			IsActive:     true,
		}
		if err := tx.Create(member).Error; err != nil {
			return storageError("team service: create owner membership", err)
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			TeamID:         team.ID,
			ActorID:        owner.ID,
			TargetMemberID: member.ID,
			Action:         "team.create",
			ActionType:     models.AuditTypeMemberUpdate,
			Result:         models.AuditResultSuccess,
			Details: map[string]any{
				"name":     team.Name,
				"max_size": team.MaxSize,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// GetTeam returns the team when actor may view it.
func (s *TeamService) GetTeam(ctx context.Context, actor models.Principal, teamID string) (*models.Team, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	team, err := loadTeam(db, teamID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanViewTeam(ctx, db, actor, team); err != nil {
		return nil, err
	}
	return team, nil
}

// ListAuditLogs pages through the team's audit trail. Only team managers may read it.
func (s *TeamService) ListAuditLogs(ctx context.Context, actor models.Principal, teamID string, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	team, err := loadTeam(db, teamID)
	if err != nil {
		return nil, 0, err
	}
	if err := s.access.CanManageTeam(ctx, db, actor, team); err != nil {
		return nil, 0, err
	}

	opts.Filters.TeamID = team.ID
	return s.audit.List(ctx, opts)
}

// ListMembers returns the team's memberships, active ones only unless includeInactive.
func (s *TeamService) ListMembers(ctx context.Context, actor models.Principal, teamID string, includeInactive bool) ([]models.TeamMember, error) {
	ctx = ensureContext(ctx)
	db := s.db.WithContext(ctx)

	team, err := loadTeam(db, teamID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanViewTeam(ctx, db, actor, team); err != nil {
		return nil, err
	}

	query := db.Where("team_id = ?", team.ID)
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}

	var members []models.TeamMember
	if err := query.Order("access_level DESC").Order("created_at ASC").Find(&members).Error; err != nil {
		return nil, storageError("team service: list members", err)
	}
	return members, nil
}

// UpdateTeamMember applies input to a membership. Changing the role resets
// access level and permissions to the role defaults unless they are supplied
// alongside it. Toggling the active flag keeps current_size in step.
func (s *TeamService) UpdateTeamMember(ctx context.Context, actor models.Principal, teamID, memberID string, input UpdateMemberInput) (updated *models.TeamMember, err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "teams", "update_member", attribute.String("team.id", teamID))
	defer func() { tracing.End(span, err) }()

	if err := validateInput(input); err != nil {
		return nil, err
	}
	if input.AccessLevel != nil && (*input.AccessLevel < 1 || *input.AccessLevel > models.MaxAccessLevel) {
		return nil, apperrors.NewValidation("access_level must be between 1 and 100")
	}
	if input.Role != nil && *input.Role == models.RoleOwner {
		return nil, ErrOwnerConflict
	}

	now := s.now().UTC()
	err = inTx(ctx, s.db, "team service: transaction", func(tx *gorm.DB) error {
		team, err := loadTeam(tx, teamID)
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

		member, err := loadMember(tx, team.ID, memberID)
		if err != nil {
			return err
		}
		if member.Role == models.RoleOwner && (input.Role != nil || (input.IsActive != nil && !*input.IsActive)) {
			return ErrOwnerConflict
		}
		if err := grant.Outranks(requestedLevels(member, input)...); err != nil {
			return err
		}

		updates, diff := memberChanges(member, input)

		activeChange := input.IsActive != nil && *input.IsActive != member.IsActive
		if activeChange {
			if *input.IsActive {
				updates["end_date"] = nil
			} else {
				updates["end_date"] = startOfDay(now)
			}
		}
		if len(updates) == 0 {
			updated = member
			return nil
		}

		query := tx.Model(&models.TeamMember{}).Where("id = ?", member.ID)
		if activeChange {
			query = query.Where("is_active = ?", member.IsActive)
		}
		res := query.Updates(updates)
		if res.Error != nil {
			return storageError("team service: update member", res.Error)
		}

		if activeChange {
			if res.RowsAffected == 0 {
				if *input.IsActive {
					return ErrMemberConflict
				}
				return ErrMemberInactive
			}
			if *input.IsActive {
				if err := incrementTeamSize(tx, team.ID); err != nil {
					return err
				}
			} else if err := decrementTeamSize(tx, team.ID); err != nil {
				return err
			}
		}

		updated, err = loadMember(tx, team.ID, member.ID)
		if err != nil {
			return err
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			TeamID:           team.ID,
			ActorID:          actor.ID,
			TargetMemberID:   member.ID,
			Action:           "member.update",
			ActionType:       models.AuditTypeMemberUpdate,
			Result:           models.AuditResultSuccess,
			Details:          map[string]any{"changes": diff},
			ComplianceImpact: permissionsChanged(member, updated),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// requestedLevels lists every level an update touches: the member's current
// level plus whatever the new role or explicit override would grant.
func requestedLevels(member *models.TeamMember, input UpdateMemberInput) []int {
	levels := []int{member.AccessLevel}
	if input.Role != nil {
		levels = append(levels, input.Role.DefaultAccessLevel())
	}
	if input.AccessLevel != nil {
		levels = append(levels, *input.AccessLevel)
	}
	return levels
}

func memberChanges(member *models.TeamMember, input UpdateMemberInput) (map[string]any, map[string]any) {
	updates := map[string]any{}
	diff := map[string]any{}
	change := func(column string, from, to any) {
		updates[column] = to
		diff[column] = map[string]any{"from": from, "to": to}
	}

	currentPerms := member.Permissions.Data()
	nextPerms := currentPerms
	nextLevel := member.AccessLevel

	if input.Role != nil && *input.Role != member.Role {
		change("role", member.Role, *input.Role)
		nextLevel = input.Role.DefaultAccessLevel()
		nextPerms = input.Role.DefaultPermissions()
	}
	if input.AccessLevel != nil {
		nextLevel = *input.AccessLevel
	}
	if input.Permissions != nil {
		nextPerms = *input.Permissions
		if nextPerms.Version == 0 {
			nextPerms.Version = models.PermissionsSchemaVersion
		}
	}
	if nextLevel != member.AccessLevel {
		change("access_level", member.AccessLevel, nextLevel)
	}
	if !samePermissions(currentPerms, nextPerms) {
		updates["permissions"] = datatypes.NewJSONType(nextPerms)
		diff["permissions"] = map[string]any{"from": currentPerms, "to": nextPerms}
	}
	if input.Department != nil {
		if dept := strings.TrimSpace(*input.Department); dept != member.Department {
			change("department", member.Department, dept)
		}
	}
	if input.Notes != nil {
		if notes := strings.TrimSpace(*input.Notes); notes != member.Notes {
			change("notes", member.Notes, notes)
		}
	}
	if input.IsActive != nil && *input.IsActive != member.IsActive {
		change("is_active", member.IsActive, *input.IsActive)
	}
	return updates, diff
}

func samePermissions(a, b models.MemberPermissions) bool {
	left, err := a.MarshalJSON()
	if err != nil {
		return false
	}
	right, err := b.MarshalJSON()
	if err != nil {
		return false
	}
	return string(left) == string(right)
}

func permissionsChanged(before, after *models.TeamMember) bool {
	if before == nil || after == nil {
		return false
	}
	return before.Role != after.Role ||
		before.IsActive != after.IsActive ||
		!samePermissions(before.Permissions.Data(), after.Permissions.Data())
}

// RemoveTeamMember soft-deactivates a membership. Rows are never deleted.
func (s *TeamService) RemoveTeamMember(ctx context.Context, actor models.Principal, teamID, memberID, reason string) (err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "teams", "remove_member", attribute.String("team.id", teamID))
	defer func() { tracing.End(span, err) }()

	reason = strings.TrimSpace(reason)
	if len(reason) > 1000 {
		return apperrors.NewValidation("reason must be at most 1000 characters")
	}
	now := s.now().UTC()

	return inTx(ctx, s.db, "team service: transaction", func(tx *gorm.DB) error {
		team, err := loadTeam(tx, teamID)
		if err != nil {
			return err
		}
		grant, err := s.access.AuthorizeManage(ctx, tx, actor, team)
		if err != nil {
			return err
		}

		member, err := loadMember(tx, team.ID, memberID)
		if err != nil {
			return err
		}
		if member.Role == models.RoleOwner || member.UserID == team.OwnerID {
			return ErrOwnerConflict
		}
		if err := grant.Outranks(member.AccessLevel); err != nil {
			return err
		}

		updates := map[string]any{
			"is_active": false,
			"end_date":  startOfDay(now),
		}
		if reason != "" {
			updates["notes"] = reason
		}
		res := tx.Model(&models.TeamMember{}).
			Where("id = ? AND is_active = ?", member.ID, true).
			Updates(updates)
		if res.Error != nil {
			return storageError("team service: deactivate member", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrMemberInactive
		}
		if err := decrementTeamSize(tx, team.ID); err != nil {
			return err
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			TeamID:         team.ID,
			ActorID:        actor.ID,
			TargetMemberID: member.ID,
			Action:         "member.deactivate",
			ActionType:     models.AuditTypeDeactivation,
			Result:         models.AuditResultSuccess,
			Details: map[string]any{
				"user_id": member.UserID,
				"role":    member.Role,
				"reason":  reason,
			},
			ComplianceImpact: member.Permissions.Data().ViewPatientRecords,
		})
	})
}

// DeactivateTeam marks the team inactive and cancels its pending invitations.
// Only the owner may deactivate a team.
func (s *TeamService) DeactivateTeam(ctx context.Context, owner models.Principal, teamID string) (err error) {
	ctx = ensureContext(ctx)
	ctx, span := tracing.Start(ctx, "teams", "deactivate", attribute.String("team.id", teamID))
	defer func() { tracing.End(span, err) }()

	now := s.now().UTC()
	return inTx(ctx, s.db, "team service: transaction", func(tx *gorm.DB) error {
		team, err := loadTeam(tx, teamID)
		if err != nil {
			return err
		}
		if strings.TrimSpace(owner.ID) == "" || team.OwnerID != owner.ID {
			return apperrors.ErrForbidden
		}

		res := tx.Model(&models.Team{}).
			Where("id = ? AND is_active = ?", team.ID, true).
			Update("is_active", false)
		if res.Error != nil {
			return storageError("team service: deactivate team", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTeamInactive
		}

		cancelled, err := settlePending(
			tx.Where("team_id = ?", team.ID),
			"team service: cancel pending invitations", models.InvitationCancelled,
			map[string]any{"cancelled_at": now, "cancelled_by": owner.ID},
		)
		if err != nil {
			return err
		}

		return appendAuditTx(s.audit, ctx, tx, AuditEntry{
			TeamID:     team.ID,
			ActorID:    owner.ID,
			Action:     "team.deactivate",
			ActionType: models.AuditTypeDeactivation,
			Result:     models.AuditResultSuccess,
			Details: map[string]any{
				"cancelled_invitations": cancelled,
			},
			ComplianceImpact: true,
		})
	})
}

func loadTeam(tx *gorm.DB, teamID string) (*models.Team, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return nil, apperrors.ErrConfiguration.WithMessage("Team reference is required")
	}
	var team models.Team
	if err := tx.Where("id = ?", teamID).Take(&team).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, storageError("load team", err)
	}
	return &team, nil
}

func loadMember(tx *gorm.DB, teamID, memberID string) (*models.TeamMember, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, ErrMemberNotFound
	}
	var member models.TeamMember
	if err := tx.Where("id = ? AND team_id = ?", memberID, teamID).Take(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, storageError("load team member", err)
	}
	return &member, nil
}

// incrementTeamSize adds one active member unless the team is full.
func incrementTeamSize(tx *gorm.DB, teamID string) error {
	res := tx.Model(&models.Team{}).
		Where("id = ? AND (max_size = 0 OR current_size < max_size)", teamID).
		UpdateColumn("current_size", gorm.Expr("current_size + ?", 1))
	if res.Error != nil {
		return storageError("increment team size", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTeamCapacity
	}
	return nil
}

func decrementTeamSize(tx *gorm.DB, teamID string) error {
	res := tx.Model(&models.Team{}).
		Where("id = ? AND current_size > 0", teamID).
		UpdateColumn("current_size", gorm.Expr("current_size - ?", 1))
	if res.Error != nil {
		return storageError("decrement team size", res.Error)
	}
	return nil
}
