package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssociationAudit is written once for every closed association
type AssociationAudit struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AssociationID     string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"association_id"`
	TenantID          string    `gorm:"type:varchar(64);index" json:"tenant_id"`
	CallingAE         string    `gorm:"type:varchar(16);index" json:"calling_ae"`
	CalledAE          string    `gorm:"type:varchar(16)" json:"called_ae"`
	RemoteAddr        string    `gorm:"type:varchar(64)" json:"remote_addr"`
	EndState          string    `gorm:"type:varchar(20);index" json:"end_state"` // released, aborted, rejected, dropped
	InstancesReceived int       `json:"instances_received"`
	InstancesFailed   int       `json:"instances_failed"`
	Echoes            int       `json:"echoes"`
	ErrorMessage      string    `gorm:"type:text" json:"error_message,omitempty"`
	Duration          int64     `json:"duration_ms"` // milliseconds
	StartedAt         time.Time `gorm:"index" json:"started_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName overrides the table name
func (AssociationAudit) TableName() string {
	return "association_audits"
}

// BeforeCreate hook
func (a *AssociationAudit) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
