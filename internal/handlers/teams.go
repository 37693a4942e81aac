package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/careteam/internal/models"
	"github.com/charlesng35/careteam/internal/services"
	"github.com/charlesng35/careteam/pkg/errors"
	"github.com/charlesng35/careteam/pkg/response"
)

const maxAuditPageSize = 200

type TeamHandler struct {
	svc *services.TeamService
}

type removeMemberRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func NewTeamHandler(svc *services.TeamService) *TeamHandler {
	return &TeamHandler{svc: svc}
}

// POST /api/teams
func (h *TeamHandler) Create(c *gin.Context) {
	var body services.CreateTeamInput
	if !bindAndValidate(c, &body) {
		return
	}

	team, err := h.svc.CreateTeam(requestContext(c), currentPrincipal(c), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, team)
}

// GET /api/teams/:id
func (h *TeamHandler) Get(c *gin.Context) {
	team, err := h.svc.GetTeam(requestContext(c), currentPrincipal(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, team)
}

// POST /api/teams/:id/deactivate
func (h *TeamHandler) Deactivate(c *gin.Context) {
	if err := h.svc.DeactivateTeam(requestContext(c), currentPrincipal(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deactivated": true})
}

// GET /api/teams/:id/members
func (h *TeamHandler) ListMembers(c *gin.Context) {
	members, err := h.svc.ListMembers(requestContext(c), currentPrincipal(c), c.Param("id"), parseBoolQuery(c, "include_inactive"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, members)
}

// PATCH /api/teams/:id/members/:memberID
func (h *TeamHandler) UpdateMember(c *gin.Context) {
	var body services.UpdateMemberInput
	if !bindAndValidate(c, &body) {
		return
	}

	member, err := h.svc.UpdateTeamMember(requestContext(c), currentPrincipal(c), c.Param("id"), c.Param("memberID"), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, member)
}

// DELETE /api/teams/:id/members/:memberID
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	var body removeMemberRequest
	if !bindOptional(c, &body) {
		return
	}

	if err := h.svc.RemoveTeamMember(requestContext(c), currentPrincipal(c), c.Param("id"), c.Param("memberID"), strings.TrimSpace(body.Reason)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

// GET /api/teams/:id/audit
func (h *TeamHandler) Audit(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	if page <= 0 {
		page = 1
	}
	perPage := parseIntQuery(c, "per_page", 50)
	if perPage <= 0 || perPage > maxAuditPageSize {
		perPage = 50
	}

	filters := services.AuditFilters{
		ActorID: strings.TrimSpace(c.Query("actor_id")),
		Action:  strings.TrimSpace(c.Query("action")),
	}
	if value := strings.TrimSpace(c.Query("action_type")); value != "" {
		filters.ActionType = models.AuditActionType(value)
		if !filters.ActionType.Valid() {
			response.Error(c, errors.NewValidation("unknown action_type"))
			return
		}
	}
	if value := strings.TrimSpace(c.Query("result")); value != "" {
		filters.Result = models.AuditResult(value)
		if !filters.Result.Valid() {
			response.Error(c, errors.NewValidation("unknown result"))
			return
		}
	}
	for key, dest := range map[string]**time.Time{"since": &filters.Since, "until": &filters.Until} {
		value := strings.TrimSpace(c.Query(key))
		if value == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			response.Error(c, errors.NewValidation(key+" must be an RFC 3339 timestamp"))
			return
		}
		*dest = &parsed
	}

	logs, total, err := h.svc.ListAuditLogs(requestContext(c), currentPrincipal(c), c.Param("id"), services.AuditListOptions{
		Page:     page,
		PageSize: perPage,
		Filters:  filters,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      int(total),
		TotalPages: totalPages,
	})
}
