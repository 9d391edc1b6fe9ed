package models

import (
	"time"

	"github.com/zeebo/errs"
)

// ErrInvalidMetadata is returned when a record violates its field bounds
var ErrInvalidMetadata = errs.Class("invalid metadata")

// Field bounds shared by producers and consumers of bus records
const (
	MaxTenantIDLength  = 64
	MaxUIDLength       = 64
	MaxPatientIDLength = 64
	MaxAETitleLength   = 16
	MaxIPLength        = 45
	MaxPathLength      = 1024
	MaxTraceIDLength   = 36
	HashLength         = 16
	StudyDateLength    = 8
	MaxShortLength     = 16
	MaxTextLength      = 255
)

// TransferStatus tracks whether an instance needs transcoding
type TransferStatus string

const (
	NoTransferNeeded TransferStatus = "NoTransferNeeded"
	NeedTransfer     TransferStatus = "NeedTransfer"
	TransferSuccess  TransferStatus = "Success"
	TransferFailed   TransferStatus = "Failed"
)

// TenantContext identifies who sent an instance and on which association
type TenantContext struct {
	TenantID       string `json:"tenant_id"`
	AssociationID  string `json:"association_id,omitempty"`
	CallingAE      string `json:"calling_ae"`
	CalledAE       string `json:"called_ae,omitempty"`
	RemoteIP       string `json:"remote_ip"`
	SOPClassUID    string `json:"sop_class_uid,omitempty"`
	SOPInstanceUID string `json:"sop_instance_uid,omitempty"`
}

// TransportMetadata is the per-instance record published on the bus once
// the instance is on disk. It is never modified after creation except by the
// transcoder, which republishes it with a new status.
type TransportMetadata struct {
	TraceID                 string         `json:"trace_id"`
	TenantID                string         `json:"tenant_id"`
	PatientID               string         `json:"patient_id"`
	StudyUID                string         `json:"study_uid"`
	SeriesUID               string         `json:"series_uid"`
	SOPUID                  string         `json:"sop_uid"`
	SOPClassUID             string         `json:"sop_class_uid"`
	StudyDate               string         `json:"study_date"`
	FilePath                string         `json:"file_path"`
	FileSize                int64          `json:"file_size"`
	TransferSyntaxUID       string         `json:"transfer_syntax_uid"`
	TargetTransferSyntaxUID string         `json:"target_transfer_syntax_uid,omitempty"`
	TransferStatus          TransferStatus `json:"transfer_status"`
	NumberOfFrames          int            `json:"number_of_frames"`
	StudyUIDHash            string         `json:"study_uid_hash"`
	SeriesUIDHash           string         `json:"series_uid_hash"`
	SourceIP                string         `json:"source_ip,omitempty"`
	SourceAE                string         `json:"source_ae,omitempty"`
	CreatedAt               time.Time      `json:"created_at"`
}

// Validate checks every bounded field. Receivers call it before using a
// record taken off the bus.
func (m *TransportMetadata) Validate() error {
	if err := checkFields([]fieldCheck{
		{"trace_id", m.TraceID, MaxTraceIDLength, true},
		{"tenant_id", m.TenantID, MaxTenantIDLength, true},
		{"patient_id", m.PatientID, MaxPatientIDLength, true},
		{"study_uid", m.StudyUID, MaxUIDLength, true},
		{"series_uid", m.SeriesUID, MaxUIDLength, true},
		{"sop_uid", m.SOPUID, MaxUIDLength, true},
		{"sop_class_uid", m.SOPClassUID, MaxUIDLength, false},
		{"study_date", m.StudyDate, StudyDateLength, true},
		{"file_path", m.FilePath, MaxPathLength, true},
		{"transfer_syntax_uid", m.TransferSyntaxUID, MaxUIDLength, true},
		{"target_transfer_syntax_uid", m.TargetTransferSyntaxUID, MaxUIDLength, false},
		{"study_uid_hash", m.StudyUIDHash, HashLength, false},
		{"series_uid_hash", m.SeriesUIDHash, HashLength, false},
		{"source_ip", m.SourceIP, MaxIPLength, false},
		{"source_ae", m.SourceAE, MaxAETitleLength, false},
	}); err != nil {
		return err
	}
	switch m.TransferStatus {
	case NoTransferNeeded, NeedTransfer, TransferSuccess, TransferFailed:
	default:
		return ErrInvalidMetadata.New("unknown transfer status %q", m.TransferStatus)
	}
	if m.FileSize < 0 || m.NumberOfFrames < 0 {
		return ErrInvalidMetadata.New("negative file size or frame count")
	}
	return nil
}

type fieldCheck struct {
	name     string
	value    string
	max      int
	required bool
}

func checkFields(checks []fieldCheck) error {
	for _, c := range checks {
		if c.required && c.value == "" {
			return ErrInvalidMetadata.New("%s is empty", c.name)
		}
		if len(c.value) > c.max {
			return ErrInvalidMetadata.New("%s exceeds %d characters", c.name, c.max)
		}
	}
	return nil
}
