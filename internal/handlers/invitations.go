package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/careteam/internal/models"
	"github.com/charlesng35/careteam/internal/services"
	"github.com/charlesng35/careteam/pkg/errors"
	"github.com/charlesng35/careteam/pkg/response"
)

type InvitationHandler struct {
	svc *services.InvitationService
}

func NewInvitationHandler(svc *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{svc: svc}
}

// POST /api/teams/:id/invitations
func (h *InvitationHandler) Create(c *gin.Context) {
	var body services.CreateInvitationInput
	if !bindAndValidate(c, &body) {
		return
	}

	result, err := h.svc.CreateInvitation(requestContext(c), currentPrincipal(c), c.Param("id"), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// GET /api/teams/:id/invitations
func (h *InvitationHandler) List(c *gin.Context) {
	status := models.InvitationStatus(strings.TrimSpace(c.Query("status")))

	invitations, err := h.svc.ListInvitations(requestContext(c), currentPrincipal(c), c.Param("id"), status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, invitations)
}

// POST /api/teams/:id/invitations/:invitationID/cancel
func (h *InvitationHandler) Cancel(c *gin.Context) {
	invitation, err := h.svc.CancelInvitation(requestContext(c), currentPrincipal(c), c.Param("id"), c.Param("invitationID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, invitation)
}

// POST /api/teams/:id/invitations/:invitationID/resend
func (h *InvitationHandler) Resend(c *gin.Context) {
	result, err := h.svc.ResendInvitation(requestContext(c), currentPrincipal(c), c.Param("id"), c.Param("invitationID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GET /api/invitations/:token
func (h *InvitationHandler) Lookup(c *gin.Context) {
	preview, err := h.svc.LookupInvitation(requestContext(c), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, preview)
}

// POST /api/invitations/:token/accept
func (h *InvitationHandler) Accept(c *gin.Context) {
	principal := currentPrincipal(c)
	if principal.ID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	member, err := h.svc.AcceptInvitation(requestContext(c), principal, c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, member)
}

// POST /api/invitations/:token/decline
func (h *InvitationHandler) Decline(c *gin.Context) {
	if err := h.svc.DeclineInvitation(requestContext(c), currentPrincipal(c), c.Param("token")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"declined": true})
}
