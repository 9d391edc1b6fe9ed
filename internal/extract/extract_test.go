package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcheredev/ris-dicom-ingest/internal/dicomfile"
	"github.com/otcheredev/ris-dicom-ingest/internal/dicomtest"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
	"github.com/otcheredev/ris-dicom-ingest/internal/storage"
)

var tenant = models.TenantContext{TenantID: "T1", CallingAE: "MODALITY", RemoteIP: "10.0.0.5"}

func parse(t *testing.T, study dicomtest.Study, ts string) *dicomfile.Instance {
	t.Helper()
	inst, err := dicomfile.NewInstance(study.DataSet(ts), ts, dicomtest.CTImageStorage, study.SOPUID)
	require.NoError(t, err)
	return inst
}

func TestExtractSupportedSyntax(t *testing.T) {
	e := New([]string{dicomtest.ExplicitVRLittleEndian}, dicomtest.ExplicitVRLittleEndian)
	e.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

	meta, err := e.Extract(parse(t, dicomtest.DefaultStudy(), dicomtest.ExplicitVRLittleEndian), tenant)
	require.NoError(t, err)

	id, err := uuid.Parse(meta.TraceID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())

	assert.Equal(t, "T1", meta.TenantID)
	assert.Equal(t, "PAT-001", meta.PatientID)
	assert.Equal(t, "1.2.3", meta.StudyUID)
	assert.Equal(t, "4.5.6", meta.SeriesUID)
	assert.Equal(t, "7.8.9", meta.SOPUID)
	assert.Equal(t, "20240101", meta.StudyDate)
	assert.Equal(t, models.NoTransferNeeded, meta.TransferStatus)
	assert.Empty(t, meta.TargetTransferSyntaxUID)
	assert.Equal(t, 1, meta.NumberOfFrames)
	assert.Equal(t, storage.StudyHash("1.2.3"), meta.StudyUIDHash)
	assert.Equal(t, storage.SeriesHash("1.2.3", "4.5.6"), meta.SeriesUIDHash)
	assert.Equal(t, "MODALITY", meta.SourceAE)
	assert.Equal(t, "10.0.0.5", meta.SourceIP)
	assert.Equal(t, e.now(), meta.CreatedAt)
}

func TestExtractFlagsUnsupportedSyntax(t *testing.T) {
	e := New([]string{dicomtest.ImplicitVRLittleEndian}, dicomtest.ImplicitVRLittleEndian)
	study := dicomtest.DefaultStudy()
	study.Frames = 10

	meta, err := e.Extract(parse(t, study, dicomtest.ExplicitVRLittleEndian), tenant)
	require.NoError(t, err)
	assert.Equal(t, models.NeedTransfer, meta.TransferStatus)
	assert.Equal(t, dicomtest.ImplicitVRLittleEndian, meta.TargetTransferSyntaxUID)
	assert.Equal(t, 10, meta.NumberOfFrames)
}

func TestExtractMissingRequiredFields(t *testing.T) {
	e := New([]string{dicomtest.ExplicitVRLittleEndian}, dicomtest.ExplicitVRLittleEndian)

	tests := []struct {
		name   string
		modify func(*dicomtest.Study)
	}{
		{"patient id", func(s *dicomtest.Study) { s.PatientID = "" }},
		{"study uid", func(s *dicomtest.Study) { s.StudyUID = "" }},
		{"series uid", func(s *dicomtest.Study) { s.SeriesUID = "" }},
		{"study date", func(s *dicomtest.Study) { s.StudyDate = "" }},
		{"malformed study date", func(s *dicomtest.Study) { s.StudyDate = "20241301" }},
		{"overlong patient id", func(s *dicomtest.Study) { s.PatientID = strings.Repeat("P", 65) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			study := dicomtest.DefaultStudy()
			tt.modify(&study)
			_, err := e.Extract(parse(t, study, dicomtest.ExplicitVRLittleEndian), tenant)
			require.Error(t, err)
			assert.True(t, ErrMissingRequiredField.Has(err))
		})
	}
}

func TestExtractMissingSOPUID(t *testing.T) {
	e := New(nil, dicomtest.ExplicitVRLittleEndian)
	inst := parse(t, dicomtest.DefaultStudy(), dicomtest.ExplicitVRLittleEndian)
	inst.SOPInstanceUID = ""

	_, err := e.Extract(inst, tenant)
	assert.True(t, ErrMissingRequiredField.Has(err))
}

func TestExtractRequiresTenant(t *testing.T) {
	e := New(nil, dicomtest.ExplicitVRLittleEndian)
	_, err := e.Extract(parse(t, dicomtest.DefaultStudy(), dicomtest.ExplicitVRLittleEndian), models.TenantContext{})
	assert.True(t, ErrMissingRequiredField.Has(err))
}

func TestProjections(t *testing.T) {
	e := New([]string{dicomtest.ExplicitVRLittleEndian}, dicomtest.ExplicitVRLittleEndian)
	inst := parse(t, dicomtest.DefaultStudy(), dicomtest.ExplicitVRLittleEndian)
	meta, err := e.Extract(inst, tenant)
	require.NoError(t, err)
	meta.FilePath = "/data/T1/20240101/1.2.3/4.5.6/7.8.9.dcm"
	meta.FileSize = 512

	now := time.Now()
	state := State(inst, meta, now)
	assert.Equal(t, models.StateKey{TenantID: "T1", PatientID: "PAT-001", StudyUID: "1.2.3", SeriesUID: "4.5.6"}, state.Key())
	assert.Equal(t, "DOE^JANE", state.PatientName)
	assert.Equal(t, "CT", state.Modality)
	assert.Equal(t, 3, state.SeriesNumber)

	image := Image(inst, meta, now)
	assert.Equal(t, "7.8.9", image.SOPUID)
	assert.Equal(t, 1, image.InstanceNumber)
	assert.Equal(t, 4, image.Rows)
	assert.Equal(t, 4, image.Columns)
	assert.Equal(t, meta.FilePath, image.FilePath)
	assert.EqualValues(t, 512, image.FileSize)
}

func TestLocation(t *testing.T) {
	meta := &models.TransportMetadata{TenantID: "T1", StudyDate: "20240101", StudyUID: "1.2.3", SeriesUID: "4.5.6", SOPUID: "7.8.9"}
	assert.Equal(t, "T1/20240101/1.2.3/4.5.6/7.8.9.dcm", Location(meta).RelPath())
}
