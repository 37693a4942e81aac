package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/app"
	iauth "github.com/charlesng35/careteam/internal/auth"
	"github.com/charlesng35/careteam/internal/handlers"
	"github.com/charlesng35/careteam/internal/middleware"
	"github.com/charlesng35/careteam/internal/monitoring"
	"github.com/charlesng35/careteam/internal/monitoring/checks"
	"github.com/charlesng35/careteam/internal/services"
)

// Services bundles the engines exposed over HTTP.
type Services struct {
	Teams           *services.TeamService
	Invitations     *services.InvitationService
	MFAEnrollment   *services.MFAEnrollmentService
	MFAVerification *services.MFAVerificationService

	// Readiness backs /health/ready. Nil probes only the database.
	Readiness *monitoring.Readiness
}

func (s Services) validate() error {
	switch {
	case s.Teams == nil:
		return errors.New("team service must be provided")
	case s.Invitations == nil:
		return errors.New("invitation service must be provided")
	case s.MFAEnrollment == nil:
		return errors.New("mfa enrollment service must be provided")
	case s.MFAVerification == nil:
		return errors.New("mfa verification service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers the API routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, svc Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if err := svc.validate(); err != nil {
		return nil, err
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("configure trusted proxies: %w", err)
	}

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.Actor())
	r.Use(middleware.RateLimit(middleware.NewClientLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)))

	registerHealthRoutes(r, db, cfg, svc.Readiness)

	requireAuth := middleware.Auth(jwt)

	public := r.Group("/api")
	api := r.Group("/api")
	api.Use(requireAuth)

	registerTeamRoutes(api, handlers.NewTeamHandler(svc.Teams))
	registerInvitationRoutes(public, api, handlers.NewInvitationHandler(svc.Invitations))

	// MFA endpoints are keyed per principal, so the stricter bucket runs after auth.
	mfaLimiter := middleware.NewClientLimiter(cfg.RateLimit.MFARPS, cfg.RateLimit.MFABurst)
	registerMFARoutes(api, handlers.NewMFAHandler(svc.MFAEnrollment, svc.MFAVerification), middleware.RateLimit(mfaLimiter))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerHealthRoutes(r *gin.Engine, db *gorm.DB, cfg *app.Config, readiness *monitoring.Readiness) {
	if readiness == nil {
		readiness = monitoring.NewReadiness(checks.Database(db, 0))
	}
	r.GET("/health", handlers.Health(db))
	r.GET("/health/ready", handlers.Readiness(readiness))

	prom := cfg.Monitoring.Prometheus
	if !prom.Enabled {
		return
	}
	endpoint := strings.TrimSpace(prom.Endpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}
	r.GET(endpoint, gin.WrapH(promhttp.Handler()))
}
