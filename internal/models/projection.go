package models

import "time"

// StateKey identifies one StateMeta projection
type StateKey struct {
	TenantID  string
	PatientID string
	StudyUID  string
	SeriesUID string
}

// StateMeta aggregates patient, study and series attributes per
// (tenant, patient, study, series).
type StateMeta struct {
	TenantID          string    `json:"tenant_id"`
	PatientID         string    `json:"patient_id"`
	StudyUID          string    `json:"study_uid"`
	SeriesUID         string    `json:"series_uid"`
	StudyUIDHash      string    `json:"study_uid_hash"`
	SeriesUIDHash     string    `json:"series_uid_hash"`
	PatientName       string    `json:"patient_name,omitempty"`
	PatientSex        string    `json:"patient_sex,omitempty"`
	PatientBirthDate  string    `json:"patient_birth_date,omitempty"`
	StudyDate         string    `json:"study_date"`
	StudyTime         string    `json:"study_time,omitempty"`
	StudyDescription  string    `json:"study_description,omitempty"`
	AccessionNumber   string    `json:"accession_number,omitempty"`
	Modality          string    `json:"modality,omitempty"`
	SeriesNumber      int       `json:"series_number,omitempty"`
	SeriesDescription string    `json:"series_description,omitempty"`
	BodyPartExamined  string    `json:"body_part_examined,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Key returns the de-duplication key
func (s *StateMeta) Key() StateKey {
	return StateKey{TenantID: s.TenantID, PatientID: s.PatientID, StudyUID: s.StudyUID, SeriesUID: s.SeriesUID}
}

// ImageMeta describes one stored instance
type ImageMeta struct {
	TenantID          string    `json:"tenant_id"`
	PatientID         string    `json:"patient_id"`
	StudyUID          string    `json:"study_uid"`
	SeriesUID         string    `json:"series_uid"`
	SOPUID            string    `json:"sop_uid"`
	SOPClassUID       string    `json:"sop_class_uid"`
	StudyUIDHash      string    `json:"study_uid_hash"`
	SeriesUIDHash     string    `json:"series_uid_hash"`
	InstanceNumber    int       `json:"instance_number,omitempty"`
	NumberOfFrames    int       `json:"number_of_frames"`
	Rows              int       `json:"rows,omitempty"`
	Columns           int       `json:"columns,omitempty"`
	TransferSyntaxUID string    `json:"transfer_syntax_uid"`
	FilePath          string    `json:"file_path"`
	FileSize          int64     `json:"file_size"`
	CreatedAt         time.Time `json:"created_at"`
}

// JsonMeta points at the cached JSON document of one series
type JsonMeta struct {
	TenantID      string    `json:"tenant_id"`
	StudyUID      string    `json:"study_uid"`
	SeriesUID     string    `json:"series_uid"`
	StudyUIDHash  string    `json:"study_uid_hash"`
	SeriesUIDHash string    `json:"series_uid_hash"`
	FilePath      string    `json:"file_path"`
	InstanceCount int       `json:"instance_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the key fields and the bounds of every column
func (s *StateMeta) Validate() error {
	return checkFields([]fieldCheck{
		{"tenant_id", s.TenantID, MaxTenantIDLength, true},
		{"patient_id", s.PatientID, MaxPatientIDLength, true},
		{"study_uid", s.StudyUID, MaxUIDLength, true},
		{"series_uid", s.SeriesUID, MaxUIDLength, true},
		{"study_uid_hash", s.StudyUIDHash, HashLength, false},
		{"series_uid_hash", s.SeriesUIDHash, HashLength, false},
		{"patient_name", s.PatientName, MaxTextLength, false},
		{"patient_sex", s.PatientSex, MaxShortLength, false},
		{"patient_birth_date", s.PatientBirthDate, StudyDateLength, false},
		{"study_date", s.StudyDate, StudyDateLength, false},
		{"study_time", s.StudyTime, MaxShortLength, false},
		{"study_description", s.StudyDescription, MaxTextLength, false},
		{"accession_number", s.AccessionNumber, MaxUIDLength, false},
		{"modality", s.Modality, MaxShortLength, false},
		{"series_description", s.SeriesDescription, MaxTextLength, false},
		{"body_part_examined", s.BodyPartExamined, MaxUIDLength, false},
	})
}

// Validate checks every bounded field of an image record
func (m *ImageMeta) Validate() error {
	if err := checkFields([]fieldCheck{
		{"tenant_id", m.TenantID, MaxTenantIDLength, true},
		{"patient_id", m.PatientID, MaxPatientIDLength, true},
		{"study_uid", m.StudyUID, MaxUIDLength, true},
		{"series_uid", m.SeriesUID, MaxUIDLength, true},
		{"sop_uid", m.SOPUID, MaxUIDLength, true},
		{"sop_class_uid", m.SOPClassUID, MaxUIDLength, false},
		{"study_uid_hash", m.StudyUIDHash, HashLength, false},
		{"series_uid_hash", m.SeriesUIDHash, HashLength, false},
		{"transfer_syntax_uid", m.TransferSyntaxUID, MaxUIDLength, false},
		{"file_path", m.FilePath, MaxPathLength, false},
	}); err != nil {
		return err
	}
	if m.FileSize < 0 || m.NumberOfFrames < 0 {
		return ErrInvalidMetadata.New("negative file size or frame count")
	}
	return nil
}
