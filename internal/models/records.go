package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DicomInstance is the stored-instance row written by the storage consumer
type DicomInstance struct {
	ID                      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TraceID                 string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"trace_id"`
	TenantID                string    `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	PatientID               string    `gorm:"type:varchar(64);not null;index" json:"patient_id"`
	StudyUID                string    `gorm:"type:varchar(64);not null;index" json:"study_uid"`
	SeriesUID               string    `gorm:"type:varchar(64);not null" json:"series_uid"`
	SOPUID                  string    `gorm:"type:varchar(64);not null;index" json:"sop_uid"`
	SOPClassUID             string    `gorm:"type:varchar(64)" json:"sop_class_uid"`
	StudyDate               string    `gorm:"type:varchar(8)" json:"study_date"`
	FilePath                string    `gorm:"type:varchar(1024);not null" json:"file_path"`
	FileSize                int64     `json:"file_size"`
	TransferSyntaxUID       string    `gorm:"type:varchar(64)" json:"transfer_syntax_uid"`
	TargetTransferSyntaxUID string    `gorm:"type:varchar(64)" json:"target_transfer_syntax_uid"`
	TransferStatus          string    `gorm:"type:varchar(20);index" json:"transfer_status"`
	NumberOfFrames          int       `json:"number_of_frames"`
	StudyUIDHash            string    `gorm:"type:varchar(16);index" json:"study_uid_hash"`
	SeriesUIDHash           string    `gorm:"type:varchar(16)" json:"series_uid_hash"`
	SourceIP                string    `gorm:"type:varchar(45)" json:"source_ip"`
	SourceAE                string    `gorm:"type:varchar(16)" json:"source_ae"`
	ReceivedAt              time.Time `gorm:"index" json:"received_at"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (DicomInstance) TableName() string {
	return "dicom_instances"
}

// BeforeCreate hook
func (d *DicomInstance) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// NewDicomInstance maps a bus record to its row
func NewDicomInstance(m *TransportMetadata) DicomInstance {
	return DicomInstance{
		TraceID:                 m.TraceID,
		TenantID:                m.TenantID,
		PatientID:               m.PatientID,
		StudyUID:                m.StudyUID,
		SeriesUID:               m.SeriesUID,
		SOPUID:                  m.SOPUID,
		SOPClassUID:             m.SOPClassUID,
		StudyDate:               m.StudyDate,
		FilePath:                m.FilePath,
		FileSize:                m.FileSize,
		TransferSyntaxUID:       m.TransferSyntaxUID,
		TargetTransferSyntaxUID: m.TargetTransferSyntaxUID,
		TransferStatus:          string(m.TransferStatus),
		NumberOfFrames:          m.NumberOfFrames,
		StudyUIDHash:            m.StudyUIDHash,
		SeriesUIDHash:           m.SeriesUIDHash,
		SourceIP:                m.SourceIP,
		SourceAE:                m.SourceAE,
		ReceivedAt:              m.CreatedAt,
	}
}

// DicomState is the persisted StateMeta, unique per (tenant, patient, study, series)
type DicomState struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID          string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_dicom_state_key" json:"tenant_id"`
	PatientID         string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_dicom_state_key" json:"patient_id"`
	StudyUID          string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_dicom_state_key" json:"study_uid"`
	SeriesUID         string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_dicom_state_key" json:"series_uid"`
	StudyUIDHash      string    `gorm:"type:varchar(16);index" json:"study_uid_hash"`
	SeriesUIDHash     string    `gorm:"type:varchar(16)" json:"series_uid_hash"`
	PatientName       string    `gorm:"type:varchar(255)" json:"patient_name"`
	PatientSex        string    `gorm:"type:varchar(16)" json:"patient_sex"`
	PatientBirthDate  string    `gorm:"type:varchar(8)" json:"patient_birth_date"`
	StudyDate         string    `gorm:"type:varchar(8);index" json:"study_date"`
	StudyTime         string    `gorm:"type:varchar(16)" json:"study_time"`
	StudyDescription  string    `gorm:"type:varchar(255)" json:"study_description"`
	AccessionNumber   string    `gorm:"type:varchar(64)" json:"accession_number"`
	Modality          string    `gorm:"type:varchar(16)" json:"modality"`
	SeriesNumber      int       `json:"series_number"`
	SeriesDescription string    `gorm:"type:varchar(255)" json:"series_description"`
	BodyPartExamined  string    `gorm:"type:varchar(64)" json:"body_part_examined"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (DicomState) TableName() string {
	return "dicom_states"
}

// BeforeCreate hook
func (d *DicomState) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// NewDicomState maps a projection to its row
func NewDicomState(s *StateMeta) DicomState {
	return DicomState{
		TenantID:          s.TenantID,
		PatientID:         s.PatientID,
		StudyUID:          s.StudyUID,
		SeriesUID:         s.SeriesUID,
		StudyUIDHash:      s.StudyUIDHash,
		SeriesUIDHash:     s.SeriesUIDHash,
		PatientName:       s.PatientName,
		PatientSex:        s.PatientSex,
		PatientBirthDate:  s.PatientBirthDate,
		StudyDate:         s.StudyDate,
		StudyTime:         s.StudyTime,
		StudyDescription:  s.StudyDescription,
		AccessionNumber:   s.AccessionNumber,
		Modality:          s.Modality,
		SeriesNumber:      s.SeriesNumber,
		SeriesDescription: s.SeriesDescription,
		BodyPartExamined:  s.BodyPartExamined,
	}
}

// StateMeta maps the row back to the projection
func (d *DicomState) StateMeta() StateMeta {
	return StateMeta{
		TenantID:          d.TenantID,
		PatientID:         d.PatientID,
		StudyUID:          d.StudyUID,
		SeriesUID:         d.SeriesUID,
		StudyUIDHash:      d.StudyUIDHash,
		SeriesUIDHash:     d.SeriesUIDHash,
		PatientName:       d.PatientName,
		PatientSex:        d.PatientSex,
		PatientBirthDate:  d.PatientBirthDate,
		StudyDate:         d.StudyDate,
		StudyTime:         d.StudyTime,
		StudyDescription:  d.StudyDescription,
		AccessionNumber:   d.AccessionNumber,
		Modality:          d.Modality,
		SeriesNumber:      d.SeriesNumber,
		SeriesDescription: d.SeriesDescription,
		BodyPartExamined:  d.BodyPartExamined,
		UpdatedAt:         d.UpdatedAt,
	}
}

// DicomStateBackup keeps raw state payloads that could not be persisted
type DicomStateBackup struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  string    `gorm:"type:varchar(64);index" json:"tenant_id"`
	Payload   string    `gorm:"type:text;not null" json:"payload"`
	Reason    string    `gorm:"type:text" json:"reason"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName overrides the table name
func (DicomStateBackup) TableName() string {
	return "dicom_state_backups"
}

// BeforeCreate hook
func (d *DicomStateBackup) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// DicomImage is the persisted ImageMeta, unique per (tenant, sop)
type DicomImage struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID          string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_dicom_image_key" json:"tenant_id"`
	SOPUID            string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_dicom_image_key" json:"sop_uid"`
	PatientID         string    `gorm:"type:varchar(64);not null" json:"patient_id"`
	StudyUID          string    `gorm:"type:varchar(64);not null;index" json:"study_uid"`
	SeriesUID         string    `gorm:"type:varchar(64);not null;index" json:"series_uid"`
	SOPClassUID       string    `gorm:"type:varchar(64)" json:"sop_class_uid"`
	StudyUIDHash      string    `gorm:"type:varchar(16)" json:"study_uid_hash"`
	SeriesUIDHash     string    `gorm:"type:varchar(16)" json:"series_uid_hash"`
	InstanceNumber    int       `json:"instance_number"`
	NumberOfFrames    int       `json:"number_of_frames"`
	Rows              int       `json:"rows"`
	Columns           int       `json:"columns"`
	TransferSyntaxUID string    `gorm:"type:varchar(64)" json:"transfer_syntax_uid"`
	FilePath          string    `gorm:"type:varchar(1024)" json:"file_path"`
	FileSize          int64     `json:"file_size"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (DicomImage) TableName() string {
	return "dicom_images"
}

// BeforeCreate hook
func (d *DicomImage) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// NewDicomImage maps an image record to its row
func NewDicomImage(m *ImageMeta) DicomImage {
	return DicomImage{
		TenantID:          m.TenantID,
		SOPUID:            m.SOPUID,
		PatientID:         m.PatientID,
		StudyUID:          m.StudyUID,
		SeriesUID:         m.SeriesUID,
		SOPClassUID:       m.SOPClassUID,
		StudyUIDHash:      m.StudyUIDHash,
		SeriesUIDHash:     m.SeriesUIDHash,
		InstanceNumber:    m.InstanceNumber,
		NumberOfFrames:    m.NumberOfFrames,
		Rows:              m.Rows,
		Columns:           m.Columns,
		TransferSyntaxUID: m.TransferSyntaxUID,
		FilePath:          m.FilePath,
		FileSize:          m.FileSize,
	}
}

// DicomJSONMeta records where the JSON document of a series lives
type DicomJSONMeta struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_dicom_json_key" json:"tenant_id"`
	StudyUID      string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_dicom_json_key" json:"study_uid"`
	SeriesUID     string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_dicom_json_key" json:"series_uid"`
	StudyUIDHash  string    `gorm:"type:varchar(16)" json:"study_uid_hash"`
	SeriesUIDHash string    `gorm:"type:varchar(16)" json:"series_uid_hash"`
	FilePath      string    `gorm:"type:varchar(1024)" json:"file_path"`
	InstanceCount int       `json:"instance_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (DicomJSONMeta) TableName() string {
	return "dicom_json_metas"
}

// BeforeCreate hook
func (d *DicomJSONMeta) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// NewDicomJSONMeta maps a JSON cache pointer to its row
func NewDicomJSONMeta(m *JsonMeta) DicomJSONMeta {
	return DicomJSONMeta{
		TenantID:      m.TenantID,
		StudyUID:      m.StudyUID,
		SeriesUID:     m.SeriesUID,
		StudyUIDHash:  m.StudyUIDHash,
		SeriesUIDHash: m.SeriesUIDHash,
		FilePath:      m.FilePath,
		InstanceCount: m.InstanceCount,
	}
}

// JsonMeta maps the row back
func (d *DicomJSONMeta) JsonMeta() JsonMeta {
	return JsonMeta{
		TenantID:      d.TenantID,
		StudyUID:      d.StudyUID,
		SeriesUID:     d.SeriesUID,
		StudyUIDHash:  d.StudyUIDHash,
		SeriesUIDHash: d.SeriesUIDHash,
		FilePath:      d.FilePath,
		InstanceCount: d.InstanceCount,
		UpdatedAt:     d.UpdatedAt,
	}
}
