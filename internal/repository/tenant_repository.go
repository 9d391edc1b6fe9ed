package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/otcheredev/ris-dicom-ingest/internal/models"
)

// TenantRepository handles AE title bindings
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create binds an AE title to a tenant
func (r *TenantRepository) Create(ctx context.Context, binding *models.AETitleBinding) error {
	if err := r.db.WithContext(ctx).Create(binding).Error; err != nil {
		return fmt.Errorf("failed to create AE title binding: %w", err)
	}
	return nil
}

// GetByAETitle returns the active binding of an AE title
func (r *TenantRepository) GetByAETitle(ctx context.Context, aeTitle string) (*models.AETitleBinding, error) {
	var binding models.AETitleBinding
	err := r.db.WithContext(ctx).
		Where("ae_title = ? AND is_active = ?", aeTitle, true).
		First(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get AE title binding: %w", err)
	}
	return &binding, nil
}

// ListByTenant returns every binding of a tenant
func (r *TenantRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.AETitleBinding, error) {
	var bindings []models.AETitleBinding
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("ae_title ASC").
		Find(&bindings).Error; err != nil {
		return nil, fmt.Errorf("failed to list AE title bindings: %w", err)
	}
	return bindings, nil
}

// Deactivate stops accepting an AE title without deleting its history
func (r *TenantRepository) Deactivate(ctx context.Context, aeTitle string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.AETitleBinding{}).
		Where("ae_title = ?", aeTitle).
		Update("is_active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate AE title binding: %w", err)
	}
	return nil
}
