package services

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/models"
	apperrors "github.com/charlesng35/careteam/pkg/errors"
	"github.com/charlesng35/careteam/pkg/validator"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func stringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func timePtr(value time.Time) *time.Time {
	return &value
}

// validateInput runs struct validation and folds failures into a ValidationError.
func validateInput(input any) error {
	if err := validator.ValidateStruct(input); err != nil {
		return apperrors.NewValidation(err.Error())
	}
	return nil
}

func requirePrincipal(principal models.Principal) error {
	if strings.TrimSpace(principal.ID) == "" {
		return apperrors.ErrUnauthorized
	}
	return nil
}

// startOfDay truncates t to midnight UTC.
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// inTx runs fn in a transaction. Failures that are not AppErrors, such as a
// failed begin or commit, surface as StorageError for op.
func inTx(ctx context.Context, db *gorm.DB, op string, fn func(tx *gorm.DB) error) error {
	return storageError(op, db.WithContext(ctx).Transaction(fn))
}
