package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/careteam/internal/auditctx"
	iauth "github.com/charlesng35/careteam/internal/auth"
	"github.com/charlesng35/careteam/pkg/errors"
	"github.com/charlesng35/careteam/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxPrincipalKey = "principal"
	CtxUserIDKey    = "userID"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		principal := claims.Principal()
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxPrincipalKey, principal)
		c.Set(CtxUserIDKey, principal.ID)

		// Audit entries written further down pick the principal up from the request context.
		actor, _ := auditctx.FromContext(c.Request.Context())
		actor.UserID = principal.ID
		actor.Email = principal.Email
		c.Request = c.Request.WithContext(auditctx.WithActor(c.Request.Context(), actor))

		c.Next()
	}
}

// Actor records the caller's network identity for audit entries.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
