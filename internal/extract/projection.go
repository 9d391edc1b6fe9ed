package extract

import (
	"time"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/otcheredev/ris-dicom-ingest/internal/dicomfile"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
)

// State projects the patient, study and series attributes of a stored
// instance.
func State(inst *dicomfile.Instance, meta *models.TransportMetadata, now time.Time) *models.StateMeta {
	seriesNumber, _ := inst.Int(tag.SeriesNumber)
	return &models.StateMeta{
		TenantID:          meta.TenantID,
		PatientID:         meta.PatientID,
		StudyUID:          meta.StudyUID,
		SeriesUID:         meta.SeriesUID,
		StudyUIDHash:      meta.StudyUIDHash,
		SeriesUIDHash:     meta.SeriesUIDHash,
		PatientName:       truncate(inst.String(tag.PatientName), 64),
		PatientSex:        truncate(inst.String(tag.PatientSex), 16),
		PatientBirthDate:  truncate(inst.String(tag.PatientBirthDate), 8),
		StudyDate:         meta.StudyDate,
		StudyTime:         truncate(inst.String(tag.StudyTime), 16),
		StudyDescription:  truncate(inst.String(tag.StudyDescription), 64),
		AccessionNumber:   truncate(inst.String(tag.AccessionNumber), 16),
		Modality:          truncate(inst.String(tag.Modality), 16),
		SeriesNumber:      seriesNumber,
		SeriesDescription: truncate(inst.String(tag.SeriesDescription), 64),
		BodyPartExamined:  truncate(inst.String(tag.BodyPartExamined), 16),
		UpdatedAt:         now.UTC(),
	}
}

// Image projects the per-instance attributes of a stored instance.
func Image(inst *dicomfile.Instance, meta *models.TransportMetadata, now time.Time) *models.ImageMeta {
	instanceNumber, _ := inst.Int(tag.InstanceNumber)
	rows, _ := inst.Int(tag.Rows)
	columns, _ := inst.Int(tag.Columns)
	return &models.ImageMeta{
		TenantID:          meta.TenantID,
		PatientID:         meta.PatientID,
		StudyUID:          meta.StudyUID,
		SeriesUID:         meta.SeriesUID,
		SOPUID:            meta.SOPUID,
		SOPClassUID:       meta.SOPClassUID,
		StudyUIDHash:      meta.StudyUIDHash,
		SeriesUIDHash:     meta.SeriesUIDHash,
		InstanceNumber:    instanceNumber,
		NumberOfFrames:    frames(inst),
		Rows:              rows,
		Columns:           columns,
		TransferSyntaxUID: inst.TransferSyntaxUID,
		FilePath:          meta.FilePath,
		FileSize:          meta.FileSize,
		CreatedAt:         now.UTC(),
	}
}
