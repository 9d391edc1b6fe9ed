// Package extract builds bus records from parsed instances.
package extract

import (
	"time"

	"github.com/google/uuid"
	"github.com/suyashkumar/dicom/pkg/tag"
	"github.com/zeebo/errs"

	"github.com/otcheredev/ris-dicom-ingest/internal/dicomfile"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
	"github.com/otcheredev/ris-dicom-ingest/internal/storage"
)

// ErrMissingRequiredField is returned when a mandatory identifier is absent,
// too long or malformed. It is instance-fatal.
var ErrMissingRequiredField = errs.Class("missing required field")

const studyDateLayout = "20060102"

// Extractor pulls TransportMetadata out of parsed instances
type Extractor struct {
	supported map[string]struct{}
	fallback  string
	now       func() time.Time
}

// New creates an extractor. Instances whose transfer syntax is not in
// supported are flagged for transcoding to fallback.
func New(supported []string, fallback string) *Extractor {
	set := make(map[string]struct{}, len(supported))
	for _, ts := range supported {
		set[ts] = struct{}{}
	}
	return &Extractor{supported: set, fallback: fallback, now: time.Now}
}

// Supported reports whether ts is stored as is.
func (e *Extractor) Supported(ts string) bool {
	_, ok := e.supported[ts]
	return ok
}

// Extract builds the transport record of inst. FilePath and FileSize are
// left for the caller, who knows them only after the write.
func (e *Extractor) Extract(inst *dicomfile.Instance, tenant models.TenantContext) (*models.TransportMetadata, error) {
	required := []struct {
		name  string
		value string
		max   int
	}{
		{"tenant_id", tenant.TenantID, models.MaxTenantIDLength},
		{"patient_id", inst.String(tag.PatientID), models.MaxPatientIDLength},
		{"study_uid", inst.String(tag.StudyInstanceUID), models.MaxUIDLength},
		{"series_uid", inst.String(tag.SeriesInstanceUID), models.MaxUIDLength},
		{"sop_uid", inst.SOPInstanceUID, models.MaxUIDLength},
		{"study_date", inst.String(tag.StudyDate), models.StudyDateLength},
		{"transfer_syntax_uid", inst.TransferSyntaxUID, models.MaxUIDLength},
	}
	for _, f := range required {
		if f.value == "" {
			return nil, ErrMissingRequiredField.New("%s is absent", f.name)
		}
		if len(f.value) > f.max {
			return nil, ErrMissingRequiredField.New("%s exceeds %d characters", f.name, f.max)
		}
	}

	studyDate := inst.String(tag.StudyDate)
	if _, err := time.Parse(studyDateLayout, studyDate); err != nil {
		return nil, ErrMissingRequiredField.New("study_date %q is not YYYYMMDD", studyDate)
	}

	traceID, err := uuid.NewV7()
	if err != nil {
		return nil, errs.Wrap(err)
	}

	studyUID := inst.String(tag.StudyInstanceUID)
	seriesUID := inst.String(tag.SeriesInstanceUID)
	meta := &models.TransportMetadata{
		TraceID:           traceID.String(),
		TenantID:          tenant.TenantID,
		PatientID:         inst.String(tag.PatientID),
		StudyUID:          studyUID,
		SeriesUID:         seriesUID,
		SOPUID:            inst.SOPInstanceUID,
		SOPClassUID:       truncate(inst.SOPClassUID, models.MaxUIDLength),
		StudyDate:         studyDate,
		TransferSyntaxUID: inst.TransferSyntaxUID,
		NumberOfFrames:    frames(inst),
		StudyUIDHash:      storage.StudyHash(studyUID),
		SeriesUIDHash:     storage.SeriesHash(studyUID, seriesUID),
		SourceIP:          truncate(tenant.RemoteIP, models.MaxIPLength),
		SourceAE:          truncate(tenant.CallingAE, models.MaxAETitleLength),
		CreatedAt:         e.now().UTC(),
	}

	if e.Supported(meta.TransferSyntaxUID) {
		meta.TransferStatus = models.NoTransferNeeded
	} else {
		meta.TransferStatus = models.NeedTransfer
		meta.TargetTransferSyntaxUID = e.fallback
	}
	return meta, nil
}

// Location returns where the instance described by meta is stored.
func Location(meta *models.TransportMetadata) storage.Location {
	return storage.Location{
		TenantID:  meta.TenantID,
		StudyDate: meta.StudyDate,
		StudyUID:  meta.StudyUID,
		SeriesUID: meta.SeriesUID,
		SOPUID:    meta.SOPUID,
	}
}

func frames(inst *dicomfile.Instance) int {
	n, ok := inst.Int(tag.NumberOfFrames)
	if !ok || n < 1 {
		return 1
	}
	return n
}

// truncate shortens optional fields to their bound
func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
