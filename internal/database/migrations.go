package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/careteam/internal/models"
)

// pendingInvitationIndex enforces one pending invitation per (team, email)
// where the dialect supports partial indexes. The service also checks this
// inside its transaction so MySQL deployments get the same behaviour.
const pendingInvitationIndex = "idx_invitations_pending_team_email"

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Team{},
		&models.TeamMember{},
		&models.Invitation{},
		&models.MFACredential{},
		&models.MFABackupCode{},
		&models.SMSBackup{},
		&models.AuditLog{},
		&models.CacheEntry{},
	); err != nil {
		return err
	}

	return ensurePendingInvitationIndex(db)
}

func ensurePendingInvitationIndex(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "sqlite", "postgres":
	default:
		return nil
	}

	stmt := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON invitations (team_id, email) WHERE status = '%s'",
		pendingInvitationIndex, models.InvitationPending,
	)
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create %s: %w", pendingInvitationIndex, err)
	}
	return nil
}
