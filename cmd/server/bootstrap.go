package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/careteam/internal/api"
	"github.com/charlesng35/careteam/internal/app"
	"github.com/charlesng35/careteam/internal/app/maintenance"
	iauth "github.com/charlesng35/careteam/internal/auth"
	"github.com/charlesng35/careteam/internal/cache"
	"github.com/charlesng35/careteam/internal/database"
	"github.com/charlesng35/careteam/internal/monitoring"
	"github.com/charlesng35/careteam/internal/monitoring/checks"
	"github.com/charlesng35/careteam/internal/services"
	"github.com/charlesng35/careteam/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Redis   *cache.RedisStore
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	var lockoutStore cache.Store = dbStore

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed lockout counters", zap.Error(err))
			stack.Redis = nil
		} else {
			lockoutStore = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	auditSvc, err := services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	teamSvc, err := services.NewTeamService(stack.DB, auditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise team service: %w", err)
	}

	dispatcher, err := app.NewDispatcher(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialise invitation dispatcher: %w", err)
	}

	invitationSvc, err := services.NewInvitationService(stack.DB, auditSvc, dispatcher, cfg.Invitations.InvitationOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise invitation service: %w", err)
	}

	smsVerifier, err := app.NewSMSVerifier(cfg.SMS)
	if err != nil {
		return nil, fmt.Errorf("initialise sms gateway: %w", err)
	}
	if smsVerifier == nil {
		log.Info("sms gateway not configured; sms backup factor disabled")
	}

	mfaDeps, err := cfg.Security.MFADependencies(lockoutStore, smsVerifier, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise mfa dependencies: %w", err)
	}

	verificationSvc, err := services.NewMFAVerificationService(stack.DB, auditSvc, mfaDeps)
	if err != nil {
		return nil, fmt.Errorf("initialise mfa verification service: %w", err)
	}

	enrollmentSvc, err := services.NewMFAEnrollmentService(stack.DB, auditSvc, verificationSvc, mfaDeps)
	if err != nil {
		return nil, fmt.Errorf("initialise mfa enrollment service: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(invitationSvc, dbStore,
		maintenance.WithInvitationSchedule(cfg.Invitations.SweepSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	var redisPinger checks.Pinger
	if stack.Redis != nil {
		redisPinger = stack.Redis
	}
	readiness := monitoring.NewReadiness(
		checks.Database(stack.DB, 0),
		checks.Redis(redisPinger, cfg.Cache.Redis.Enabled, cfg.Cache.Redis.Timeout),
	)

	stack.Router, err = api.NewRouter(stack.DB, jwtSvc, cfg, api.Services{
		Teams:           teamSvc,
		Invitations:     invitationSvc,
		MFAEnrollment:   enrollmentSvc,
		MFAVerification: verificationSvc,
		Readiness:       readiness,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
		s.Cleaner = nil
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
		s.Redis = nil
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
		s.DB = nil
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
