package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/careteam/internal/app"
	"github.com/charlesng35/careteam/internal/handlers/testutil"
	"github.com/charlesng35/careteam/internal/models"
)

type invitationPayload struct {
	ID            string                  `json:"id"`
	Email         string                  `json:"email"`
	Status        models.InvitationStatus `json:"status"`
	ReminderCount int                     `json:"reminder_count"`
}

type previewPayload struct {
	TeamID   string          `json:"team_id"`
	TeamName string          `json:"team_name"`
	Email    string          `json:"email"`
	Role     models.TeamRole `json:"role"`
}

func inviteMember(t *testing.T, env *testutil.Env, owner models.Principal, teamID, email string) invitationResultPayload {
	t.Helper()
	var invite invitationResultPayload
	testutil.MustSucceed(t, env.Request(http.MethodPost, "/api/teams/"+teamID+"/invitations", map[string]any{
		"email":      email,
		"role":       models.RolePractitioner,
		"department": "Physiotherapy",
		"message":    "Welcome aboard",
	}, env.Token(owner)), http.StatusCreated, &invite)
	return invite
}

func TestInvitationCreateLookupAccept(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := testutil.NewPrincipal("owner@bayside.example")
	team := createTeam(t, env, owner, map[string]any{"name": "Bayside Physio"})

	invite := inviteMember(t, env, owner, team.ID, "Dana@Bayside.example")
	require.NotEmpty(t, invite.Token)
	require.Equal(t, "dana@bayside.example", invite.Invitation.Email)
	require.Equal(t, models.InvitationPending, invite.Invitation.Status)
	require.True(t, strings.HasPrefix(invite.JoinURL, "https://app.example.com/join?token="))

	sent := env.Dispatcher.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "dana@bayside.example", sent[0].Email)

	// Lookup is public so the join page can render before sign-in.
	var preview previewPayload
	testutil.MustSucceed(t, env.Request(http.MethodGet, "/api/invitations/"+invite.Token, nil, ""), http.StatusOK, &preview)
	require.Equal(t, team.ID, preview.TeamID)
	require.Equal(t, "Bayside Physio", preview.TeamName)
	require.Equal(t, models.RolePractitioner, preview.Role)

	// A duplicate pending invitation for the same email is rejected.
	testutil.MustFail(t, env.Request(http.MethodPost, "/api/teams/"+team.ID+"/invitations", map[string]any{
		"email": "dana@bayside.example",
		"role":  models.RoleNurse,
	}, env.Token(owner)), http.StatusConflict, "INVITATION_CONFLICT")

	// Someone else holding the link cannot use it.
	intruder := testutil.NewPrincipal("intruder@example.com")
	testutil.MustFail(t, env.Request(http.MethodPost, "/api/invitations/"+invite.Token+"/accept", nil, env.Token(intruder)), http.StatusForbidden, "FORBIDDEN")

	dana := testutil.NewPrincipal("dana@bayside.example")
	var member memberPayload
	testutil.MustSucceed(t, env.Request(http.MethodPost, "/api/invitations/"+invite.Token+"/accept", nil, env.Token(dana)), http.StatusOK, &member)
	require.Equal(t, dana.ID, member.UserID)
	require.Equal(t, models.RolePractitioner, member.Role)
	require.Equal(t, "Physiotherapy", member.Department)

	// The token is single use.
	testutil.MustFail(t, env.Request(http.MethodPost, "/api/invitations/"+invite.Token+"/accept", nil, env.Token(dana)), http.StatusBadRequest, "INVITATION_INVALID")

	var invitations []invitationPayload
	testutil.MustSucceed(t, env.Request(http.MethodGet, "/api/teams/"+team.ID+"/invitations?status=accepted", nil, env.Token(owner)), http.StatusOK, &invitations)
	require.Len(t, invitations, 1)
	require.Equal(t, models.InvitationAccepted, invitations[0].Status)
}

func TestInvitationAcceptRequiresAuthentication(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := testutil.NewPrincipal("owner@bayside.example")
	team := createTeam(t, env, owner, map[string]any{"name": "Bayside Physio"})
	invite := inviteMember(t, env, owner, team.ID, "dana@bayside.example")

	testutil.MustFail(t, env.Request(http.MethodPost, "/api/invitations/"+invite.Token+"/accept", nil, ""), http.StatusUnauthorized, "UNAUTHORIZED")
	testutil.MustFail(t, env.Request(http.MethodGet, "/api/invitations/unknown-token", nil, ""), http.StatusBadRequest, "INVITATION_INVALID")
}

func TestInvitationConcurrentAcceptHasOneWinner(t *testing.T) {
	env := testutil.NewEnv(t, func(cfg *app.Config) {
		cfg.Invitations.EnforceEmailMatch = false
	})
	owner := testutil.NewPrincipal("owner@bayside.example")
	team := createTeam(t, env, owner, map[string]any{"name": "Bayside Physio"})
	invite := inviteMember(t, env, owner, team.ID, "shared@bayside.example")

	const callers = 5
	requests := make([]*http.Request, callers)
	for i := range requests {
		req := httptest.NewRequest(http.MethodPost, "/api/invitations/"+invite.Token+"/accept", nil)
		req.Header.Set("Authorization", "Bearer "+env.Token(testutil.NewPrincipal("caller@bayside.example")))
		requests[i] = req
	}

	codes := make([]int, callers)
	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := httptest.NewRecorder()
			env.Router.ServeHTTP(w, requests[i])
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			winners++
		default:
			require.Equal(t, http.StatusBadRequest, code)
		}
	}
	require.Equal(t, 1, winners)

	var team2 teamPayload
	testutil.MustSucceed(t, env.Request(http.MethodGet, "/api/teams/"+team.ID, nil, env.Token(owner)), http.StatusOK, &team2)
	require.Equal(t, 2, team2.CurrentSize)
}

func TestInvitationCancelResendDecline(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := testutil.NewPrincipal("owner@bayside.example")
	team := createTeam(t, env, owner, map[string]any{"name": "Bayside Physio"})

	first := inviteMember(t, env, owner, team.ID, "first@bayside.example")
	second := inviteMember(t, env, owner, team.ID, "second@bayside.example")

	var resent invitationResultPayload
	testutil.MustSucceed(t, env.Request(http.MethodPost, "/api/teams/"+team.ID+"/invitations/"+first.Invitation.ID+"/resend", nil, env.Token(owner)), http.StatusOK, &resent)
	require.NotEqual(t, first.Token, resent.Token)
	require.Len(t, env.Dispatcher.Sent(), 3)

	// Resending rotates the token.
	testutil.MustFail(t, env.Request(http.MethodGet, "/api/invitations/"+first.Token, nil, ""), http.StatusBadRequest, "INVITATION_INVALID")

	var cancelled invitationPayload
	testutil.MustSucceed(t, env.Request(http.MethodPost, "/api/teams/"+team.ID+"/invitations/"+first.Invitation.ID+"/cancel", nil, env.Token(owner)), http.StatusOK, &cancelled)
	require.Equal(t, models.InvitationCancelled, cancelled.Status)

	testutil.MustFail(t, env.Request(http.MethodPost, "/api/teams/"+team.ID+"/invitations/"+first.Invitation.ID+"/cancel", nil, env.Token(owner)), http.StatusConflict, "INVITATION_NOT_PENDING")

	invitee := testutil.NewPrincipal("second@bayside.example")
	testutil.MustSucceed[any](t, env.Request(http.MethodPost, "/api/invitations/"+second.Token+"/decline", nil, env.Token(invitee)), http.StatusOK, nil)
	testutil.MustFail(t, env.Request(http.MethodPost, "/api/invitations/"+second.Token+"/accept", nil, env.Token(invitee)), http.StatusBadRequest, "INVITATION_INVALID")

	var pending []invitationPayload
	testutil.MustSucceed(t, env.Request(http.MethodGet, "/api/teams/"+team.ID+"/invitations?status=pending", nil, env.Token(owner)), http.StatusOK, &pending)
	require.Empty(t, pending)

	testutil.MustFail(t, env.Request(http.MethodGet, "/api/teams/"+team.ID+"/invitations?status=unknown", nil, env.Token(owner)), http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestInvitationValidationAndPermissions(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := testutil.NewPrincipal("owner@bayside.example")
	team := createTeam(t, env, owner, map[string]any{"name": "Bayside Physio"})

	testutil.MustFail(t, env.Request(http.MethodPost, "/api/teams/"+team.ID+"/invitations", map[string]any{
		"email": "not-an-email",
		"role":  models.RoleNurse,
	}, env.Token(owner)), http.StatusBadRequest, "VALIDATION_ERROR")

	testutil.MustFail(t, env.Request(http.MethodPost, "/api/teams/"+team.ID+"/invitations", map[string]any{
		"email": "valid@bayside.example",
		"role":  "surgeon",
	}, env.Token(owner)), http.StatusBadRequest, "VALIDATION_ERROR")

	stranger := testutil.NewPrincipal("stranger@example.com")
	testutil.MustFail(t, env.Request(http.MethodPost, "/api/teams/"+team.ID+"/invitations", map[string]any{
		"email": "valid@bayside.example",
		"role":  models.RoleNurse,
	}, env.Token(stranger)), http.StatusForbidden, "FORBIDDEN")
}
