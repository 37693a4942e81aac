package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/careteam/internal/auditctx"
	iauth "github.com/charlesng35/careteam/internal/auth"
	"github.com/charlesng35/careteam/internal/models"
)

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Minute,
	})
	require.NoError(t, err)

	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: "user-123",
		Email:  "Nurse@Example.com",
	})
	require.NoError(t, err)

	r := gin.New()
	r.Use(Actor())
	r.GET("/secure", Auth(jwtSvc), func(c *gin.Context) {
		principal := c.MustGet(CtxPrincipalKey).(models.Principal)
		actor, _ := auditctx.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"user_id":    c.GetString(CtxUserIDKey),
			"email":      principal.Email,
			"actor_id":   actor.UserID,
			"user_agent": actor.UserAgent,
		})
	})

	// Missing Authorization header -> 401
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	// Tampered token -> 401
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid token -> downstream handler executes
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "careteam-test")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "user-123", payload["user_id"])
	require.Equal(t, "nurse@example.com", payload["email"])
	require.Equal(t, "user-123", payload["actor_id"])
	require.Equal(t, "careteam-test", payload["user_agent"])
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	issuer, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "secret",
		AccessTokenTTL: time.Minute,
		Clock:          func() time.Time { return now },
	})
	require.NoError(t, err)
	token, err := issuer.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-1", Email: "a@example.com"})
	require.NoError(t, err)

	validator, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret: "secret",
		Clock:  func() time.Time { return now.Add(2 * time.Minute) },
	})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/secure", Auth(validator), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
