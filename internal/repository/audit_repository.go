package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/otcheredev/ris-dicom-ingest/internal/models"
)

// AuditRepository handles association audit operations
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create creates a new audit entry
func (r *AuditRepository) Create(ctx context.Context, audit *models.AssociationAudit) error {
	if err := r.db.WithContext(ctx).Create(audit).Error; err != nil {
		return fmt.Errorf("failed to create association audit: %w", err)
	}
	return nil
}

// GetByTenantID retrieves audit entries for a tenant, newest first
func (r *AuditRepository) GetByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]models.AssociationAudit, error) {
	var audits []models.AssociationAudit
	query := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("started_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&audits).Error; err != nil {
		return nil, fmt.Errorf("failed to get association audits: %w", err)
	}
	return audits, nil
}

// GetByCallingAE retrieves audit entries for one device
func (r *AuditRepository) GetByCallingAE(ctx context.Context, callingAE string, limit int) ([]models.AssociationAudit, error) {
	var audits []models.AssociationAudit
	query := r.db.WithContext(ctx).
		Where("calling_ae = ?", callingAE).
		Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&audits).Error; err != nil {
		return nil, fmt.Errorf("failed to get association audits: %w", err)
	}
	return audits, nil
}
