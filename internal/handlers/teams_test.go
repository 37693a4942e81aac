package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/careteam/internal/handlers/testutil"
	"github.com/charlesng35/careteam/internal/models"
)

type teamPayload struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	CurrentSize int    `json:"current_size"`
	MaxSize     int    `json:"max_size"`
	IsActive    bool   `json:"is_active"`
}

type memberPayload struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Role        models.TeamRole `json:"role"`
	AccessLevel int             `json:"access_level"`
	Department  string          `json:"department"`
	IsActive    bool            `json:"is_active"`
}

type invitationResultPayload struct {
	Invitation struct {
		ID     string                  `json:"id"`
		Email  string                  `json:"email"`
		Status models.InvitationStatus `json:"status"`
	} `json:"invitation"`
	Token   string `json:"token"`
	JoinURL string `json:"join_url"`
}

func createTeam(t *testing.T, env *testutil.Env, owner models.Principal, body map[string]any) teamPayload {
	t.Helper()
	var team teamPayload
	testutil.MustSucceed(t, env.Request(http.MethodPost, "/api/teams", body, env.Token(owner)), http.StatusCreated, &team)
	return team
}

// joinTeam invites email into the team as role and accepts as a fresh principal.
func joinTeam(t *testing.T, env *testutil.Env, owner models.Principal, teamID, email string, role models.TeamRole) (models.Principal, memberPayload) {
	t.Helper()

	var invite invitationResultPayload
	testutil.MustSucceed(t, env.Request(http.MethodPost, "/api/teams/"+teamID+"/invitations", map[string]any{
		"email": email,
		"role":  role,
	}, env.Token(owner)), http.StatusCreated, &invite)

	principal := testutil.NewPrincipal(email)
	var member memberPayload
	testutil.MustSucceed(t, env.Request(http.MethodPost, "/api/invitations/"+invite.Token+"/accept", nil, env.Token(principal)), http.StatusOK, &member)
	return principal, member
}

func TestTeamLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := testutil.NewPrincipal("owner@bayside.example")

	team := createTeam(t, env, owner, map[string]any{
		"name":          "Bayside Physio",
		"practice_name": "Bayside Physio Pty Ltd",
		"max_size":      5,
	})
	require.Equal(t, owner.ID, team.OwnerID)
	require.Equal(t, 1, team.CurrentSize)
	require.True(t, team.IsActive)

	var fetched teamPayload
	testutil.MustSucceed(t, env.Request(http.MethodGet, "/api/teams/"+team.ID, nil, env.Token(owner)), http.StatusOK, &fetched)
	require.Equal(t, team.ID, fetched.ID)

	nurse, member := joinTeam(t, env, owner, team.ID, "nurse@bayside.example", models.RoleNurse)
	require.Equal(t, models.RoleNurse, member.Role)
	require.Equal(t, models.AccessLevelNurse, member.AccessLevel)

	var members []memberPayload
	testutil.MustSucceed(t, env.Request(http.MethodGet, "/api/teams/"+team.ID+"/members", nil, env.Token(nurse)), http.StatusOK, &members)
	require.Len(t, members, 2)

	var updated memberPayload
	testutil.MustSucceed(t, env.Request(http.MethodPatch, "/api/teams/"+team.ID+"/members/"+member.ID, map[string]any{
		"role":       models.RolePractitioner,
		"department": "Musculoskeletal",
	}, env.Token(owner)), http.StatusOK, &updated)
	require.Equal(t, models.RolePractitioner, updated.Role)
	require.Equal(t, models.AccessLevelPractitioner, updated.AccessLevel)
	require.Equal(t, "Musculoskeletal", updated.Department)

	// A plain member cannot manage the team.
	testutil.MustFail(t, env.Request(http.MethodPatch, "/api/teams/"+team.ID+"/members/"+member.ID, map[string]any{
		"department": "Hydrotherapy",
	}, env.Token(nurse)), http.StatusForbidden, "FORBIDDEN")

	testutil.MustSucceed[any](t, env.Request(http.MethodDelete, "/api/teams/"+team.ID+"/members/"+member.ID, map[string]any{
		"reason": "contract ended",
	}, env.Token(owner)), http.StatusOK, nil)

	testutil.MustSucceed(t, env.Request(http.MethodGet, "/api/teams/"+team.ID+"/members?include_inactive=true", nil, env.Token(owner)), http.StatusOK, &members)
	require.Len(t, members, 2)
	testutil.MustSucceed(t, env.Request(http.MethodGet, "/api/teams/"+team.ID+"/members", nil, env.Token(owner)), http.StatusOK, &members)
	require.Len(t, members, 1)

	testutil.MustSucceed(t, env.Request(http.MethodGet, "/api/teams/"+team.ID, nil, env.Token(owner)), http.StatusOK, &fetched)
	require.Equal(t, 1, fetched.CurrentSize)

	// The removed member lost access.
	testutil.MustFail(t, env.Request(http.MethodGet, "/api/teams/"+team.ID, nil, env.Token(nurse)), http.StatusForbidden, "FORBIDDEN")
}

func TestTeamRoutesRequireAuthentication(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/api/teams", map[string]any{"name": "Clinic"}, "")
	testutil.MustFail(t, w, http.StatusUnauthorized, "UNAUTHORIZED")
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	testutil.MustFail(t, env.Request(http.MethodGet, "/api/teams/anything", nil, "not-a-token"), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestCreateTeamValidation(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.Token(testutil.NewPrincipal("owner@bayside.example"))

	testutil.MustFail(t, env.Request(http.MethodPost, "/api/teams", map[string]any{}, token), http.StatusBadRequest, "VALIDATION_ERROR")
	testutil.MustFail(t, env.Request(http.MethodPost, "/api/teams", map[string]any{"name": "Clinic", "max_size": -3}, token), http.StatusBadRequest, "VALIDATION_ERROR")
	testutil.MustFail(t, env.Request(http.MethodGet, "/api/teams/00000000-0000-0000-0000-000000000000", nil, token), http.StatusNotFound, "TEAM_NOT_FOUND")
}

func TestDeactivateTeamCancelsInvitations(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := testutil.NewPrincipal("owner@bayside.example")
	team := createTeam(t, env, owner, map[string]any{"name": "Bayside Physio"})

	var invite invitationResultPayload
	testutil.MustSucceed(t, env.Request(http.MethodPost, "/api/teams/"+team.ID+"/invitations", map[string]any{
		"email": "late@bayside.example",
		"role":  models.RoleReceptionist,
	}, env.Token(owner)), http.StatusCreated, &invite)

	testutil.MustSucceed[any](t, env.Request(http.MethodPost, "/api/teams/"+team.ID+"/deactivate", nil, env.Token(owner)), http.StatusOK, nil)

	invitee := testutil.NewPrincipal("late@bayside.example")
	testutil.MustFail(t, env.Request(http.MethodPost, "/api/invitations/"+invite.Token+"/accept", nil, env.Token(invitee)), http.StatusBadRequest, "INVITATION_INVALID")
	testutil.MustFail(t, env.Request(http.MethodGet, "/api/invitations/"+invite.Token, nil, ""), http.StatusBadRequest, "INVITATION_INVALID")
}

type auditPayload struct {
	Action string             `json:"action"`
	TeamID *string            `json:"team_id"`
	Result models.AuditResult `json:"result"`
}

func TestTeamAuditTrail(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := testutil.NewPrincipal("owner@bayside.example")
	team := createTeam(t, env, owner, map[string]any{"name": "Bayside Physio"})
	nurse, _ := joinTeam(t, env, owner, team.ID, "nurse@bayside.example", models.RoleNurse)

	w := env.Request(http.MethodGet, "/api/teams/"+team.ID+"/audit?per_page=2", nil, env.Token(owner))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	require.Equal(t, 1, resp.Meta.Page)
	require.Equal(t, 2, resp.Meta.PerPage)
	require.GreaterOrEqual(t, resp.Meta.Total, 3)

	var entries []auditPayload
	testutil.DecodeInto(t, resp.Data, &entries)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		require.NotNil(t, entry.TeamID)
		require.Equal(t, team.ID, *entry.TeamID)
	}

	testutil.MustSucceed(t, env.Request(http.MethodGet, "/api/teams/"+team.ID+"/audit?action=team.create", nil, env.Token(owner)), http.StatusOK, &entries)
	require.Len(t, entries, 1)
	require.Equal(t, "team.create", entries[0].Action)

	testutil.MustFail(t, env.Request(http.MethodGet, "/api/teams/"+team.ID+"/audit", nil, env.Token(nurse)), http.StatusForbidden, "FORBIDDEN")
	testutil.MustFail(t, env.Request(http.MethodGet, "/api/teams/"+team.ID+"/audit?result=maybe", nil, env.Token(owner)), http.StatusBadRequest, "VALIDATION_ERROR")
	testutil.MustFail(t, env.Request(http.MethodGet, "/api/teams/"+team.ID+"/audit?since=yesterday", nil, env.Token(owner)), http.StatusBadRequest, "VALIDATION_ERROR")
}
