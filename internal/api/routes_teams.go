package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/careteam/internal/handlers"
)

func registerTeamRoutes(api *gin.RouterGroup, teamHandler *handlers.TeamHandler) {
	teams := api.Group("/teams")
	{
		teams.POST("", teamHandler.Create)
		teams.GET("/:id", teamHandler.Get)
		teams.POST("/:id/deactivate", teamHandler.Deactivate)
		teams.GET("/:id/members", teamHandler.ListMembers)
		teams.PATCH("/:id/members/:memberID", teamHandler.UpdateMember)
		teams.DELETE("/:id/members/:memberID", teamHandler.RemoveMember)
		teams.GET("/:id/audit", teamHandler.Audit)
	}
}
