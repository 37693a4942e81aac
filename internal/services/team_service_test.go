package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/careteam/internal/models"
	apperrors "github.com/charlesng35/careteam/pkg/errors"
)

func TestCreateTeamProvisionsOwnerMembership(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{
		PracticeName: "Bayside Physio Pty Ltd",
		MaxSize:      12,
		ComplianceSettings: &models.ComplianceSettings{
			RequireMFA:       true,
			MFARequiredRoles: []models.TeamRole{models.RolePractitioner},
			Extra:            map[string]any{"ahpra_audit": "quarterly"},
		},
	})
	ctx := context.Background()

	team := reloadTeam(t, f.db, f.team.ID)
	require.Equal(t, f.owner.ID, team.OwnerID)
	require.Equal(t, 1, team.CurrentSize)
	require.Equal(t, 12, team.MaxSize)
	require.True(t, team.IsActive)

	settings := team.Settings()
	require.Equal(t, models.ComplianceSchemaVersion, settings.Version)
	require.True(t, settings.RequiresMFAFor(models.RolePractitioner))
	require.False(t, settings.RequiresMFAFor(models.RoleReceptionist))
	require.Equal(t, "quarterly", settings.Extra["ahpra_audit"])

	members, err := f.teams.ListMembers(ctx, f.owner, f.team.ID, false)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, models.RoleOwner, members[0].Role)
	require.Equal(t, models.AccessLevelOwner, members[0].AccessLevel)
	require.Equal(t, "owner@bayside.example", members[0].InvitedEmail)

	require.Len(t, auditRows(t, f.db, "team.create"), 1)
}

func TestCreateTeamValidation(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{})
	ctx := context.Background()

	_, err := f.teams.CreateTeam(ctx, f.owner, CreateTeamInput{Name: "   "})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.teams.CreateTeam(ctx, f.owner, CreateTeamInput{Name: "Clinic", MaxSize: -1})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.teams.CreateTeam(ctx, f.owner, CreateTeamInput{
		Name:               "Clinic",
		ComplianceSettings: &models.ComplianceSettings{MFARequiredRoles: []models.TeamRole{"surgeon"}},
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.teams.CreateTeam(ctx, models.Principal{}, CreateTeamInput{Name: "Clinic"})
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestGetTeamRequiresMembership(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{})
	ctx := context.Background()

	nurse, _ := f.join(t, "nurse@example.com", models.RoleNurse)

	team, err := f.teams.GetTeam(ctx, nurse, f.team.ID)
	require.NoError(t, err)
	require.Equal(t, f.team.ID, team.ID)

	_, err = f.teams.GetTeam(ctx, newPrincipal("stranger@example.com"), f.team.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.teams.GetTeam(ctx, f.owner, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrTeamNotFound)
}

func TestUpdateTeamMemberRoleResetsDefaults(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{})
	ctx := context.Background()

	_, member := f.join(t, "nina@example.com", models.RoleNurse)

	role := models.RoleBilling
	dept := "Accounts"
	updated, err := f.teams.UpdateTeamMember(ctx, f.owner, f.team.ID, member.ID, UpdateMemberInput{
		Role:       &role,
		Department: &dept,
	})
	require.NoError(t, err)
	require.Equal(t, models.RoleBilling, updated.Role)
	require.Equal(t, models.AccessLevelBilling, updated.AccessLevel)
	require.Equal(t, "Accounts", updated.Department)
	perms := updated.Permissions.Data()
	require.True(t, perms.ManageBilling)
	require.False(t, perms.ViewPatientRecords)

	rows := auditRows(t, f.db, "member.update")
	require.Len(t, rows, 1)
	require.Equal(t, models.AuditTypeMemberUpdate, rows[0].ActionType)
	require.True(t, rows[0].ComplianceImpact)
	changes, ok := rows[0].Details["changes"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, changes, "role")
	require.Contains(t, changes, "department")

	level := 75
	updated, err = f.teams.UpdateTeamMember(ctx, f.owner, f.team.ID, member.ID, UpdateMemberInput{AccessLevel: &level})
	require.NoError(t, err)
	require.Equal(t, 75, updated.AccessLevel)
	require.Equal(t, models.RoleBilling, updated.Role)
}

func TestUpdateTeamMemberGuards(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{})
	ctx := context.Background()

	nurse, member := f.join(t, "olga@example.com", models.RoleNurse)

	owners, err := f.teams.ListMembers(ctx, f.owner, f.team.ID, false)
	require.NoError(t, err)
	var ownerMember models.TeamMember
	for _, m := range owners {
		if m.Role == models.RoleOwner {
			ownerMember = m
		}
	}

	ownerRole := models.RoleOwner
	_, err = f.teams.UpdateTeamMember(ctx, f.owner, f.team.ID, member.ID, UpdateMemberInput{Role: &ownerRole})
	require.ErrorIs(t, err, ErrOwnerConflict)

	demote := models.RoleGuest
	_, err = f.teams.UpdateTeamMember(ctx, f.owner, f.team.ID, ownerMember.ID, UpdateMemberInput{Role: &demote})
	require.ErrorIs(t, err, ErrOwnerConflict)

	inactive := false
	_, err = f.teams.UpdateTeamMember(ctx, f.owner, f.team.ID, ownerMember.ID, UpdateMemberInput{IsActive: &inactive})
	require.ErrorIs(t, err, ErrOwnerConflict)

	_, err = f.teams.UpdateTeamMember(ctx, nurse, f.team.ID, member.ID, UpdateMemberInput{Role: &demote})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	tooHigh := 150
	_, err = f.teams.UpdateTeamMember(ctx, f.owner, f.team.ID, member.ID, UpdateMemberInput{AccessLevel: &tooHigh})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	unknown := models.TeamRole("surgeon")
	_, err = f.teams.UpdateTeamMember(ctx, f.owner, f.team.ID, member.ID, UpdateMemberInput{Role: &unknown})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.teams.UpdateTeamMember(ctx, f.owner, f.team.ID, "00000000-0000-0000-0000-000000000000", UpdateMemberInput{Role: &demote})
	require.ErrorIs(t, err, ErrMemberNotFound)
}

func TestUpdateTeamMemberActiveToggleTracksSize(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{MaxSize: 2})
	ctx := context.Background()

	_, member := f.join(t, "pat@example.com", models.RoleNurse)
	require.Equal(t, 2, reloadTeam(t, f.db, f.team.ID).CurrentSize)

	inactive := false
	updated, err := f.teams.UpdateTeamMember(ctx, f.owner, f.team.ID, member.ID, UpdateMemberInput{IsActive: &inactive})
	require.NoError(t, err)
	require.False(t, updated.IsActive)
	require.NotNil(t, updated.EndDate)
	require.Equal(t, 1, reloadTeam(t, f.db, f.team.ID).CurrentSize)

	active := true
	updated, err = f.teams.UpdateTeamMember(ctx, f.owner, f.team.ID, member.ID, UpdateMemberInput{IsActive: &active})
	require.NoError(t, err)
	require.True(t, updated.IsActive)
	require.Nil(t, updated.EndDate)
	require.Equal(t, 2, reloadTeam(t, f.db, f.team.ID).CurrentSize)
}

func TestRemoveTeamMemberSoftDeletes(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{})
	ctx := context.Background()

	_, member := f.join(t, "quinn@example.com", models.RolePractitioner)

	require.NoError(t, f.teams.RemoveTeamMember(ctx, f.owner, f.team.ID, member.ID, "left the practice"))

	var stored models.TeamMember
	require.NoError(t, f.db.Where("id = ?", member.ID).Take(&stored).Error)
	require.False(t, stored.IsActive)
	require.NotNil(t, stored.EndDate)
	require.Equal(t, "left the practice", stored.Notes)
	require.Equal(t, 1, reloadTeam(t, f.db, f.team.ID).CurrentSize)

	err := f.teams.RemoveTeamMember(ctx, f.owner, f.team.ID, member.ID, "again")
	require.ErrorIs(t, err, ErrMemberInactive)
	require.Equal(t, 1, reloadTeam(t, f.db, f.team.ID).CurrentSize)

	rows := auditRows(t, f.db, "member.deactivate")
	require.Len(t, rows, 1)
	require.Equal(t, models.AuditTypeDeactivation, rows[0].ActionType)
	require.True(t, rows[0].ComplianceImpact)

	active, err := f.teams.ListMembers(ctx, f.owner, f.team.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	all, err := f.teams.ListMembers(ctx, f.owner, f.team.ID, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestRemoveTeamMemberProtectsOwner(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{})
	ctx := context.Background()

	manager, _ := f.join(t, "rita@example.com", models.RoleManager)

	var ownerMember models.TeamMember
	require.NoError(t, f.db.Where("team_id = ? AND user_id = ?", f.team.ID, f.owner.ID).Take(&ownerMember).Error)

	err := f.teams.RemoveTeamMember(ctx, manager, f.team.ID, ownerMember.ID, "")
	require.ErrorIs(t, err, ErrOwnerConflict)
}

func TestDeactivateTeamCancelsPendingInvitations(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{})
	ctx := context.Background()

	manager, _ := f.join(t, "sam@example.com", models.RoleManager)
	pending, err := f.invitations.CreateInvitation(ctx, f.owner, f.team.ID, CreateInvitationInput{Email: "tess@example.com", Role: models.RoleNurse})
	require.NoError(t, err)

	require.ErrorIs(t, f.teams.DeactivateTeam(ctx, manager, f.team.ID), apperrors.ErrForbidden)
	require.NoError(t, f.teams.DeactivateTeam(ctx, f.owner, f.team.ID))
	require.ErrorIs(t, f.teams.DeactivateTeam(ctx, f.owner, f.team.ID), apperrors.ErrConfiguration)

	require.False(t, reloadTeam(t, f.db, f.team.ID).IsActive)

	var stored models.Invitation
	require.NoError(t, f.db.Where("id = ?", pending.Invitation.ID).Take(&stored).Error)
	require.Equal(t, models.InvitationCancelled, stored.Status)

	_, err = f.invitations.AcceptInvitation(ctx, newPrincipal("tess@example.com"), pending.Token)
	require.ErrorIs(t, err, ErrInvitationInvalid)
}

func TestListAuditLogsScopedToTeamManagers(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{})
	ctx := context.Background()

	other, err := f.teams.CreateTeam(ctx, newPrincipal("owner@elsewhere.example"), CreateTeamInput{Name: "Elsewhere Clinic"})
	require.NoError(t, err)
	require.NotEqual(t, f.team.ID, other.ID)

	nurse, _ := f.join(t, "nurse@bayside.example", models.RoleNurse)

	logs, total, err := f.teams.ListAuditLogs(ctx, f.owner, f.team.ID, AuditListOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(len(logs)), total)
	require.NotEmpty(t, logs)
	for _, entry := range logs {
		require.NotNil(t, entry.TeamID)
		require.Equal(t, f.team.ID, *entry.TeamID)
	}

	_, _, err = f.teams.ListAuditLogs(ctx, nurse, f.team.ID, AuditListOptions{})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, _, err = f.teams.ListAuditLogs(ctx, f.owner, "missing", AuditListOptions{})
	require.ErrorIs(t, err, ErrTeamNotFound)
}

func TestUpdateTeamMemberCannotReachActorLevel(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{})
	ctx := context.Background()

	admin, adminMember := f.join(t, "alex@example.com", models.RoleAdmin)
	_, nurseMember := f.join(t, "nell@example.com", models.RoleNurse)
	_, managerMember := f.join(t, "mia@example.com", models.RoleManager)

	owner := models.AccessLevelOwner
	_, err := f.teams.UpdateTeamMember(ctx, admin, f.team.ID, adminMember.ID, UpdateMemberInput{AccessLevel: &owner})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	// Editing yourself is editing someone at your own level.
	dept := "Front desk"
	_, err = f.teams.UpdateTeamMember(ctx, admin, f.team.ID, adminMember.ID, UpdateMemberInput{Department: &dept})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	peer := models.AccessLevelAdmin
	_, err = f.teams.UpdateTeamMember(ctx, admin, f.team.ID, nurseMember.ID, UpdateMemberInput{AccessLevel: &peer})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	manager := models.RoleManager
	_, err = f.teams.UpdateTeamMember(ctx, admin, f.team.ID, nurseMember.ID, UpdateMemberInput{Role: &manager})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	guest := models.RoleGuest
	_, err = f.teams.UpdateTeamMember(ctx, admin, f.team.ID, managerMember.ID, UpdateMemberInput{Role: &guest})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	var stored models.TeamMember
	require.NoError(t, f.db.Where("id = ?", adminMember.ID).Take(&stored).Error)
	require.Equal(t, models.AccessLevelAdmin, stored.AccessLevel)
	require.NoError(t, f.db.Where("id = ?", managerMember.ID).Take(&stored).Error)
	require.Equal(t, models.RoleManager, stored.Role)
	require.Empty(t, auditRows(t, f.db, "member.update"))

	below := models.AccessLevelCompliance
	updated, err := f.teams.UpdateTeamMember(ctx, admin, f.team.ID, nurseMember.ID, UpdateMemberInput{AccessLevel: &below})
	require.NoError(t, err)
	require.Equal(t, models.AccessLevelCompliance, updated.AccessLevel)

	updated, err = f.teams.UpdateTeamMember(ctx, f.owner, f.team.ID, nurseMember.ID, UpdateMemberInput{Role: &manager})
	require.NoError(t, err)
	require.Equal(t, models.AccessLevelManager, updated.AccessLevel)
}

func TestRemoveTeamMemberCannotRemoveEqualOrHigherLevel(t *testing.T) {
	f := newTeamFixture(t, CreateTeamInput{})
	ctx := context.Background()

	admin, adminMember := f.join(t, "ada@example.com", models.RoleAdmin)
	_, otherAdmin := f.join(t, "abe@example.com", models.RoleAdmin)
	manager, managerMember := f.join(t, "max@example.com", models.RoleManager)
	_, nurseMember := f.join(t, "noor@example.com", models.RoleNurse)

	require.ErrorIs(t, f.teams.RemoveTeamMember(ctx, admin, f.team.ID, managerMember.ID, ""), apperrors.ErrForbidden)
	require.ErrorIs(t, f.teams.RemoveTeamMember(ctx, admin, f.team.ID, otherAdmin.ID, ""), apperrors.ErrForbidden)
	require.ErrorIs(t, f.teams.RemoveTeamMember(ctx, admin, f.team.ID, adminMember.ID, ""), apperrors.ErrForbidden)

	var stored models.TeamMember
	require.NoError(t, f.db.Where("id = ?", managerMember.ID).Take(&stored).Error)
	require.True(t, stored.IsActive)
	require.Equal(t, 5, reloadTeam(t, f.db, f.team.ID).CurrentSize)

	require.NoError(t, f.teams.RemoveTeamMember(ctx, admin, f.team.ID, nurseMember.ID, ""))
	require.NoError(t, f.teams.RemoveTeamMember(ctx, manager, f.team.ID, otherAdmin.ID, ""))
	require.NoError(t, f.teams.RemoveTeamMember(ctx, f.owner, f.team.ID, managerMember.ID, ""))
	require.Equal(t, 2, reloadTeam(t, f.db, f.team.ID).CurrentSize)
}

func TestGrantOutranks(t *testing.T) {
	admin := Grant{Level: models.AccessLevelAdmin}
	require.NoError(t, admin.Outranks())
	require.NoError(t, admin.Outranks(models.AccessLevelNurse, models.AccessLevelCompliance))
	require.ErrorIs(t, admin.Outranks(models.AccessLevelNurse, models.AccessLevelAdmin), apperrors.ErrForbidden)
	require.ErrorIs(t, admin.Outranks(models.AccessLevelManager), apperrors.ErrForbidden)

	owner := Grant{Owner: true, Level: models.AccessLevelOwner}
	require.NoError(t, owner.Outranks(models.AccessLevelOwner))
}
