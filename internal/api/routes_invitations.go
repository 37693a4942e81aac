package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/careteam/internal/handlers"
)

// registerInvitationRoutes mounts the team-scoped management routes behind auth.
// Looking up a token is public so the join page can render before sign-in.
func registerInvitationRoutes(public, api *gin.RouterGroup, handler *handlers.InvitationHandler) {
	team := api.Group("/teams/:id/invitations")
	{
		team.POST("", handler.Create)
		team.GET("", handler.List)
		team.POST("/:invitationID/cancel", handler.Cancel)
		team.POST("/:invitationID/resend", handler.Resend)
	}

	public.GET("/invitations/:token", handler.Lookup)
	api.POST("/invitations/:token/accept", handler.Accept)
	api.POST("/invitations/:token/decline", handler.Decline)
}
