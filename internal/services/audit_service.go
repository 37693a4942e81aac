package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/auditctx"
	"github.com/charlesng35/careteam/internal/models"
	"github.com/charlesng35/careteam/pkg/logger"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	TeamID           string
	ActorID          string
	TargetMemberID   string
	Action           string
	ActionType       models.AuditActionType
	Result           models.AuditResult
	Details          map[string]any
	ComplianceImpact bool
	IPAddress        string
	UserAgent        string
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	TeamID     string
	ActorID    string
	Action     string
	ActionType models.AuditActionType
	Result     models.AuditResult
	Since      *time.Time
	Until      *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService persists and retrieves audit log entries. Rows are append-only.
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
}

// AuditOption customises AuditService behaviour.
type AuditOption func(*AuditService)

// WithAuditClock injects a custom clock primarily for testing.
func WithAuditClock(clock func() time.Time) AuditOption {
	return func(s *AuditService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB, opts ...AuditOption) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	svc := &AuditService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Append stores an audit entry outside any caller transaction.
func (s *AuditService) Append(ctx context.Context, entry AuditEntry) error {
	ctx = ensureContext(ctx)
	return s.AppendTx(ctx, s.db.WithContext(ctx), entry)
}

// AppendTx stores an audit entry using tx so it commits or rolls back with
// the mutation it describes.
func (s *AuditService) AppendTx(ctx context.Context, tx *gorm.DB, entry AuditEntry) error {
	ctx = ensureContext(ctx)
	if tx == nil {
		tx = s.db.WithContext(ctx)
	}

	log, err := s.buildLog(ctx, entry)
	if err != nil {
		return err
	}
	if err := tx.Create(log).Error; err != nil {
		return storageError("audit service: append", err)
	}
	return nil
}

func (s *AuditService) buildLog(ctx context.Context, entry AuditEntry) (*models.AuditLog, error) {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return nil, errors.New("audit service: action is required")
	}
	if !entry.ActionType.Valid() {
		return nil, errors.New("audit service: invalid action type")
	}
	if !entry.Result.Valid() {
		return nil, errors.New("audit service: invalid result")
	}

	ip := strings.TrimSpace(entry.IPAddress)
	ua := strings.TrimSpace(entry.UserAgent)
	actorID := strings.TrimSpace(entry.ActorID)
	if actor, ok := auditctx.FromContext(ctx); ok {
		if ip == "" {
			ip = actor.IPAddress
		}
		if ua == "" {
			ua = actor.UserAgent
		}
		if actorID == "" {
			actorID = actor.UserID
		}
	}

	var details datatypes.JSONMap
	if len(entry.Details) > 0 {
		details = datatypes.JSONMap(entry.Details)
	}

	return &models.AuditLog{
		TeamID:           stringPtr(entry.TeamID),
		ActorID:          stringPtr(actorID),
		TargetMemberID:   stringPtr(entry.TargetMemberID),
		Action:           action,
		ActionType:       entry.ActionType,
		Result:           entry.Result,
		Details:          details,
		ComplianceImpact: entry.ComplianceImpact,
		IPAddress:        ip,
		UserAgent:        ua,
		CreatedAt:        s.now().UTC(),
	}, nil
}

// List returns paginated audit logs ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.AuditLog
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	query = applyAuditFilters(query, opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, storageError("audit service: count logs", err)
	}

	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, storageError("audit service: list logs", err)
	}

	return results, total, nil
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.TeamID != "" {
		query = query.Where("team_id = ?", filters.TeamID)
	}
	if filters.ActorID != "" {
		query = query.Where("actor_id = ?", filters.ActorID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.ActionType != "" {
		query = query.Where("action_type = ?", filters.ActionType)
	}
	if filters.Result != "" {
		query = query.Where("result = ?", filters.Result)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}

// recordAudit writes entry while tolerating audit failures. It is used for
// attempts that did not mutate anything, such as rejected codes.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if err := audit.Append(ctx, entry); err != nil {
		logger.WithModule("audit").Warn("failed to record audit entry",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

// appendAuditTx writes entry inside tx; a nil service is a no-op.
func appendAuditTx(audit *AuditService, ctx context.Context, tx *gorm.DB, entry AuditEntry) error {
	if audit == nil {
		return nil
	}
	return audit.AppendTx(ctx, tx, entry)
}
