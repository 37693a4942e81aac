package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/careteam/internal/handlers"
)

func registerMFARoutes(api *gin.RouterGroup, handler *handlers.MFAHandler, limit gin.HandlerFunc) {
	mfa := api.Group("/mfa")
	mfa.Use(limit)
	{
		mfa.GET("/status", handler.Status)
		mfa.POST("/enroll", handler.Enroll)
		mfa.POST("/enroll/verify", handler.CompleteEnrollment)
		mfa.POST("/verify", handler.Verify)
		mfa.POST("/backup-codes", handler.RegenerateBackupCodes)
		mfa.POST("/disable", handler.Disable)
		mfa.POST("/sms", handler.RegisterSMS)
		mfa.POST("/sms/verify", handler.ConfirmSMS)
	}
}
