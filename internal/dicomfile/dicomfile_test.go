package dicomfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/otcheredev/ris-dicom-ingest/internal/dicomtest"
)

func TestWrapLayout(t *testing.T) {
	file := Wrap([]byte{0x08, 0x00}, implicitVRLittleEndian, dicomtest.CTImageStorage, "1.2.3")

	assert.Equal(t, make([]byte, preambleLength), file[:preambleLength])
	assert.Equal(t, magic, string(file[preambleLength:preambleLength+4]))
	// group length element follows the magic
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00, 'U', 'L'}, file[132:138])
	assert.Equal(t, []byte{0x08, 0x00}, file[len(file)-2:])
}

func TestNewInstanceReadsBothNativeSyntaxes(t *testing.T) {
	study := dicomtest.DefaultStudy()
	study.Frames = 10

	for _, ts := range []string{implicitVRLittleEndian, explicitVRLittleEndian} {
		t.Run(ts, func(t *testing.T) {
			inst, err := NewInstance(study.DataSet(ts), ts, dicomtest.CTImageStorage, study.SOPUID)
			require.NoError(t, err)

			assert.Equal(t, ts, inst.TransferSyntaxUID)
			assert.Equal(t, dicomtest.CTImageStorage, inst.SOPClassUID)
			assert.Equal(t, "7.8.9", inst.SOPInstanceUID)
			assert.Equal(t, "PAT-001", inst.String(tag.PatientID))
			assert.Equal(t, "1.2.3", inst.String(tag.StudyInstanceUID))
			assert.Equal(t, "20240101", inst.String(tag.StudyDate))

			frames, ok := inst.Int(tag.NumberOfFrames)
			require.True(t, ok)
			assert.Equal(t, 10, frames)

			rows, ok := inst.Int(tag.Rows)
			require.True(t, ok)
			assert.Equal(t, 4, rows)

			assert.Equal(t, "", inst.String(tag.AccessionNumber))
			assert.False(t, inst.Has(tag.AccessionNumber))
		})
	}
}

func TestNewInstanceRejectsGarbage(t *testing.T) {
	_, err := NewInstance([]byte{0x08, 0x00, 0x18, 0x00, 0xFF, 0xFF, 0xFF, 0x7F}, implicitVRLittleEndian, dicomtest.CTImageStorage, "1.2.3")
	require.Error(t, err)
	assert.True(t, Error.Has(err))
}

func TestNewInstanceRejectsOverrunningElement(t *testing.T) {
	study := dicomtest.DefaultStudy()

	for _, ts := range []string{implicitVRLittleEndian, explicitVRLittleEndian} {
		t.Run(ts, func(t *testing.T) {
			data := study.DataSet(ts)
			// cut the last byte of the final US value
			_, err := NewInstance(data[:len(data)-1], ts, dicomtest.CTImageStorage, study.SOPUID)
			require.Error(t, err)
			assert.True(t, Error.Has(err))
			assert.Contains(t, err.Error(), "remain")
		})
	}
}

func TestNewInstanceRejectsEmptyDataSet(t *testing.T) {
	_, err := NewInstance(nil, explicitVRLittleEndian, dicomtest.CTImageStorage, "1.2.3")
	require.Error(t, err)
	assert.True(t, Error.Has(err))
}

func TestTranscodeExplicitToImplicit(t *testing.T) {
	study := dicomtest.DefaultStudy()
	file := Wrap(study.DataSet(explicitVRLittleEndian), explicitVRLittleEndian, dicomtest.CTImageStorage, study.SOPUID)

	out, err := Transcode(file, implicitVRLittleEndian)
	require.NoError(t, err)

	inst, err := Parse(out, true)
	require.NoError(t, err)
	assert.Equal(t, implicitVRLittleEndian, inst.TransferSyntaxUID)
	assert.Equal(t, "PAT-001", inst.String(tag.PatientID))
	assert.Equal(t, "4.5.6", inst.String(tag.SeriesInstanceUID))
}

func TestTranscodeSameSyntaxIsNoop(t *testing.T) {
	study := dicomtest.DefaultStudy()
	file := Wrap(study.DataSet(implicitVRLittleEndian), implicitVRLittleEndian, dicomtest.CTImageStorage, study.SOPUID)

	out, err := Transcode(file, implicitVRLittleEndian)
	require.NoError(t, err)
	assert.Equal(t, file, out)
}

func TestTranscodeNeedsCodec(t *testing.T) {
	study := dicomtest.DefaultStudy()
	file := Wrap(study.DataSet(explicitVRLittleEndian), explicitVRLittleEndian, dicomtest.CTImageStorage, study.SOPUID)

	_, err := Transcode(file, "1.2.840.10008.1.2.4.90")
	assert.ErrorIs(t, err, ErrUnsupportedTranscode)
	assert.False(t, CanTranscode("1.2.840.10008.1.2.4.50", explicitVRLittleEndian))
}
