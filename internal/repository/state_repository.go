package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/otcheredev/ris-dicom-ingest/internal/models"
)

// StateRepository persists the state, image and JSON projections
type StateRepository struct {
	db *gorm.DB
}

// NewStateRepository creates a new state repository
func NewStateRepository(db *gorm.DB) *StateRepository {
	return &StateRepository{db: db}
}

// SaveStateList upserts projections by (tenant, patient, study, series). The
// list must not repeat a key.
func (r *StateRepository) SaveStateList(ctx context.Context, states []models.StateMeta) error {
	if len(states) == 0 {
		return nil
	}
	rows := make([]models.DicomState, len(states))
	for i := range states {
		rows[i] = models.NewDicomState(&states[i])
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "patient_id"}, {Name: "study_uid"}, {Name: "series_uid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"study_uid_hash", "series_uid_hash", "patient_name", "patient_sex", "patient_birth_date",
			"study_date", "study_time", "study_description", "accession_number", "modality",
			"series_number", "series_description", "body_part_examined", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save %d states: %w", len(rows), err)
	}
	return nil
}

// GetStateMetas returns the projections of a tenant, optionally narrowed to
// one study.
func (r *StateRepository) GetStateMetas(ctx context.Context, tenantID, studyUID string, limit int) ([]models.StateMeta, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if studyUID != "" {
		query = query.Where("study_uid = ?", studyUID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.DicomState
	if err := query.Order("study_date DESC, study_uid, series_uid").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get states: %w", err)
	}
	out := make([]models.StateMeta, len(rows))
	for i := range rows {
		out[i] = rows[i].StateMeta()
	}
	return out, nil
}

// SaveBackupList stores raw payloads that could not be saved as states
func (r *StateRepository) SaveBackupList(ctx context.Context, backups []models.DicomStateBackup) error {
	if len(backups) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&backups).Error; err != nil {
		return fmt.Errorf("failed to save %d state backups: %w", len(backups), err)
	}
	return nil
}

// SaveImageList upserts image rows by (tenant, sop)
func (r *StateRepository) SaveImageList(ctx context.Context, images []models.ImageMeta) error {
	if len(images) == 0 {
		return nil
	}
	rows := make([]models.DicomImage, len(images))
	for i := range images {
		rows[i] = models.NewDicomImage(&images[i])
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "sop_uid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"patient_id", "study_uid", "series_uid", "sop_class_uid", "study_uid_hash", "series_uid_hash",
			"instance_number", "number_of_frames", "rows", "columns", "transfer_syntax_uid",
			"file_path", "file_size", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save %d images: %w", len(rows), err)
	}
	return nil
}

// SaveJsonList upserts JSON cache pointers by (tenant, study, series)
func (r *StateRepository) SaveJsonList(ctx context.Context, metas []models.JsonMeta) error {
	if len(metas) == 0 {
		return nil
	}
	rows := make([]models.DicomJSONMeta, len(metas))
	for i := range metas {
		rows[i] = models.NewDicomJSONMeta(&metas[i])
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "study_uid"}, {Name: "series_uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"study_uid_hash", "series_uid_hash", "file_path", "instance_count", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save %d json metas: %w", len(rows), err)
	}
	return nil
}

// GetJsonMetas returns the JSON cache pointers of a study
func (r *StateRepository) GetJsonMetas(ctx context.Context, tenantID, studyUID string) ([]models.JsonMeta, error) {
	var rows []models.DicomJSONMeta
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND study_uid = ?", tenantID, studyUID).
		Order("series_uid").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get json metas: %w", err)
	}
	out := make([]models.JsonMeta, len(rows))
	for i := range rows {
		out[i] = rows[i].JsonMeta()
	}
	return out, nil
}
