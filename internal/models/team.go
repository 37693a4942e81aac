package models

import (
	"gorm.io/datatypes"
)

// Team is a practice's collaboration unit. Teams are deactivated, never deleted.
type Team struct {
	BaseModel

	OwnerID      string `gorm:"type:uuid;not null;index" json:"owner_id"`
	Name         string `gorm:"not null" json:"name"`
	PracticeName string `json:"practice_name"`
	// MaxSize of zero means unlimited.
	MaxSize     int  `gorm:"not null;default:0" json:"max_size"`
	CurrentSize int  `gorm:"not null;default:0" json:"current_size"`
	IsActive    bool `gorm:"not null;index" json:"is_active"`

	ComplianceSettings datatypes.JSONType[ComplianceSettings] `json:"compliance_settings"`
}

// Settings returns the decoded compliance settings.
func (t *Team) Settings() ComplianceSettings {
	return t.ComplianceSettings.Data()
}

// HasCapacity reports whether another active member fits.
func (t *Team) HasCapacity() bool {
	return t.MaxSize <= 0 || t.CurrentSize < t.MaxSize
}
