package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AETitleBinding maps a calling AE title to the tenant that owns the device
type AETitleBinding struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AETitle     string         `gorm:"type:varchar(16);not null;uniqueIndex" json:"ae_title"`
	TenantID    string         `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Description string         `gorm:"type:varchar(255)" json:"description,omitempty"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the table name
func (AETitleBinding) TableName() string {
	return "ae_title_bindings"
}

// BeforeCreate hook
func (b *AETitleBinding) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
