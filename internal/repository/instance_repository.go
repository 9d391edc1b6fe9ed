package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/otcheredev/ris-dicom-ingest/internal/models"
)

// InstanceRepository persists stored-instance rows
type InstanceRepository struct {
	db *gorm.DB
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *gorm.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// SaveInstanceList upserts rows by trace id. A redelivered record (same trace
// id, possibly a new transfer status) updates the existing row.
func (r *InstanceRepository) SaveInstanceList(ctx context.Context, rows []models.DicomInstance) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trace_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"file_path", "file_size", "transfer_syntax_uid", "target_transfer_syntax_uid",
			"transfer_status", "number_of_frames", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save %d instances: %w", len(rows), err)
	}
	return nil
}

// GetByTraceID returns one instance row
func (r *InstanceRepository) GetByTraceID(ctx context.Context, traceID string) (*models.DicomInstance, error) {
	var row models.DicomInstance
	err := r.db.WithContext(ctx).Where("trace_id = ?", traceID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return &row, nil
}

// CountByTenant counts the stored instances of a tenant
func (r *InstanceRepository) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.DicomInstance{}).Where("tenant_id = ?", tenantID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return n, nil
}
