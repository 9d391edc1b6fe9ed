package dimse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePDataFragmentsToPeerLimit(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 100)

	var buf bytes.Buffer
	require.NoError(t, writePData(&buf, 3, false, payload, 56))

	var got []byte
	var fragments []PDV
	for buf.Len() > 0 {
		pduType, body, err := readPDU(&buf, 56)
		require.NoError(t, err)
		require.Equal(t, PDUPData, pduType)
		assert.LessOrEqual(t, len(body), 56)

		pdvs, err := parsePData(body)
		require.NoError(t, err)
		fragments = append(fragments, pdvs...)
	}

	require.Len(t, fragments, 2)
	assert.False(t, fragments[0].Last)
	assert.True(t, fragments[1].Last)
	for _, pdv := range fragments {
		assert.Equal(t, byte(3), pdv.ContextID)
		assert.False(t, pdv.Command)
		got = append(got, pdv.Data...)
	}
	assert.Equal(t, payload, got)
}

func TestWritePDataEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePData(&buf, 1, true, nil, 0))

	_, body, err := readPDU(&buf, 0)
	require.NoError(t, err)
	pdvs, err := parsePData(body)
	require.NoError(t, err)
	require.Len(t, pdvs, 1)
	assert.True(t, pdvs[0].Command)
	assert.True(t, pdvs[0].Last)
	assert.Empty(t, pdvs[0].Data)
}

func TestReadPDURejectsOversizedPDU(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePDU(&buf, PDUAssociateRQ, make([]byte, maxControlPDULength+1)))

	_, _, err := readPDU(&buf, 0)
	require.Error(t, err)
	assert.True(t, ProtocolError.Has(err))
}

func TestParsePDataRejectsTruncatedItem(t *testing.T) {
	_, err := parsePData([]byte{0x00, 0x00, 0x00, 0x10, 0x01, 0x03, 0x00})
	require.Error(t, err)
	assert.True(t, ProtocolError.Has(err))

	_, err = parsePData(nil)
	require.Error(t, err)
}

func TestAssociateRQRoundTrip(t *testing.T) {
	rq := &AssociateRQ{
		CalledAE:           "INGEST",
		CallingAE:          "CT_SCANNER_01",
		ApplicationContext: ApplicationContextUID,
		PresentationContexts: []PresentationContextRQ{
			{ID: 1, AbstractSyntax: VerificationSOPClass, TransferSyntaxes: []string{ImplicitVRLittleEndian}},
			{ID: 3, AbstractSyntax: "1.2.840.10008.5.1.4.1.1.2", TransferSyntaxes: []string{JPEG2000Lossless, ExplicitVRLittleEndian}},
		},
		MaxPDULength:           32768,
		ImplementationClassUID: ImplementationClassUID,
		ImplementationVersion:  ImplementationVersionName,
	}

	parsed, err := ParseAssociateRQ(rq.Marshal())
	require.NoError(t, err)

	assert.Equal(t, protocolVersion, parsed.ProtocolVersion)
	assert.Equal(t, "INGEST", parsed.CalledAE)
	assert.Equal(t, "CT_SCANNER_01", parsed.CallingAE)
	assert.Equal(t, ApplicationContextUID, parsed.ApplicationContext)
	assert.Equal(t, rq.PresentationContexts, parsed.PresentationContexts)
	assert.Equal(t, uint32(32768), parsed.MaxPDULength)
	assert.Equal(t, ImplementationClassUID, parsed.ImplementationClassUID)
	assert.Equal(t, ImplementationVersionName, parsed.ImplementationVersion)
}

func TestAssociateACRoundTrip(t *testing.T) {
	ac := &AssociateAC{
		CalledAE:           "INGEST",
		CallingAE:          "MODALITY",
		ApplicationContext: ApplicationContextUID,
		PresentationContexts: []PresentationContextAC{
			{ID: 1, Result: ResultAcceptance, TransferSyntax: ImplicitVRLittleEndian},
			{ID: 3, Result: ResultAbstractSyntaxNotSupported, TransferSyntax: ImplicitVRLittleEndian},
		},
		MaxPDULength: 16384,
	}

	parsed, err := ParseAssociateAC(ac.Marshal())
	require.NoError(t, err)
	assert.Equal(t, ac.PresentationContexts, parsed.PresentationContexts)
	assert.Equal(t, uint32(16384), parsed.MaxPDULength)
	assert.Empty(t, parsed.ImplementationClassUID)
}

func TestParseAssociateRQTooShort(t *testing.T) {
	_, err := ParseAssociateRQ(make([]byte, 10))
	require.Error(t, err)
	assert.True(t, ProtocolError.Has(err))
}

func TestAcceptableTransferSyntaxes(t *testing.T) {
	assert.ElementsMatch(t, []string{ImplicitVRLittleEndian, ExplicitVRLittleEndian}, AcceptableTransferSyntaxes(true))

	all := AcceptableTransferSyntaxes(false)
	assert.Contains(t, all, JPEG2000Lossless)
	assert.Contains(t, all, HTJ2K)
	assert.NotContains(t, all, ExplicitVRBigEndian)

	// callers may not mutate the shared list
	all[0] = "mutated"
	assert.Equal(t, ExplicitVRLittleEndian, AcceptableTransferSyntaxes(false)[0])
}
