package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validImage() ImageMeta {
	return ImageMeta{
		TenantID: "T1", PatientID: "P", StudyUID: "1.2.3", SeriesUID: "4.5.6", SOPUID: "7.8.9",
		SOPClassUID: "1.2.840.10008.5.1.4.1.1.2", TransferSyntaxUID: "1.2.840.10008.1.2.1",
		StudyUIDHash: "0123456789abcdef", SeriesUIDHash: "fedcba9876543210", FilePath: "/data/a.dcm",
	}
}

func TestImageMetaValidateBoundsEveryColumn(t *testing.T) {
	base := validImage()
	require.NoError(t, base.Validate())

	tests := []struct {
		field  string
		mutate func(m *ImageMeta)
	}{
		{"sop_class_uid", func(m *ImageMeta) { m.SOPClassUID = strings.Repeat("1", MaxUIDLength+1) }},
		{"transfer_syntax_uid", func(m *ImageMeta) { m.TransferSyntaxUID = strings.Repeat("1", MaxUIDLength+1) }},
		{"study_uid_hash", func(m *ImageMeta) { m.StudyUIDHash = strings.Repeat("a", HashLength+1) }},
		{"series_uid_hash", func(m *ImageMeta) { m.SeriesUIDHash = strings.Repeat("a", HashLength+1) }},
		{"file_path", func(m *ImageMeta) { m.FilePath = strings.Repeat("a", MaxPathLength+1) }},
		{"sop_uid", func(m *ImageMeta) { m.SOPUID = "" }},
		{"file size", func(m *ImageMeta) { m.FileSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			m := validImage()
			tt.mutate(&m)
			err := m.Validate()
			require.Error(t, err)
			assert.True(t, ErrInvalidMetadata.Has(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestStateMetaValidateBoundsOptionalColumns(t *testing.T) {
	s := StateMeta{TenantID: "T1", PatientID: "P", StudyUID: "1", SeriesUID: "2"}
	require.NoError(t, s.Validate())

	s.Modality = strings.Repeat("C", MaxShortLength+1)
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modality")

	s.Modality = "CT"
	s.PatientID = ""
	assert.ErrorContains(t, s.Validate(), "patient_id")
}
