package dimse

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEncodeDecode(t *testing.T) {
	rq := &Command{
		CommandField:           CStoreRQ,
		MessageID:              42,
		AffectedSOPClassUID:    "1.2.840.10008.5.1.4.1.1.2",
		AffectedSOPInstanceUID: "1.2.3.4.5",
		CommandDataSetType:     DataSetPresent,
	}

	encoded := rq.Encode()
	// (0000,0000) UL group length covers the remaining elements
	require.GreaterOrEqual(t, len(encoded), 12)
	assert.Equal(t, uint32(len(encoded)-12), binary.LittleEndian.Uint32(encoded[8:12]))

	decoded, err := DecodeCommand(encoded)
	require.NoError(t, err)
	assert.Equal(t, rq, decoded)
	assert.True(t, decoded.HasDataSet())
	assert.False(t, decoded.IsEcho())
}

func TestCommandResponse(t *testing.T) {
	rq := &Command{
		CommandField:        CEchoRQ,
		MessageID:           7,
		AffectedSOPClassUID: VerificationSOPClass,
		CommandDataSetType:  NoDataSet,
	}
	rsp := rq.Response(StatusSuccess)

	decoded, err := DecodeCommand(rsp.Encode())
	require.NoError(t, err)
	assert.Equal(t, CEchoRSP, decoded.CommandField)
	assert.Equal(t, uint16(7), decoded.MessageIDBeingRespondedTo)
	assert.Equal(t, StatusSuccess, decoded.Status)
	assert.Equal(t, VerificationSOPClass, decoded.AffectedSOPClassUID)
	assert.False(t, decoded.HasDataSet())
}

func TestDecodeCommandMissingRequiredTags(t *testing.T) {
	noField := appendCommandElement(nil, tagMessageID, uint16Value(1))
	noField = appendCommandElement(noField, tagCommandDataSetType, uint16Value(NoDataSet))
	_, err := DecodeCommand(noField)
	require.Error(t, err)
	assert.True(t, ProtocolError.Has(err))

	noMessageID := appendCommandElement(nil, tagCommandField, uint16Value(CEchoRQ))
	noMessageID = appendCommandElement(noMessageID, tagCommandDataSetType, uint16Value(NoDataSet))
	_, err = DecodeCommand(noMessageID)
	require.Error(t, err)
	assert.True(t, ProtocolError.Has(err))
}

func TestDecodeCommandRejectsForeignGroup(t *testing.T) {
	data := []byte{0x08, 0x00, 0x18, 0x00, 0x02, 0x00, 0x00, 0x00, '1', '2'}
	_, err := DecodeCommand(data)
	require.Error(t, err)
	assert.True(t, ProtocolError.Has(err))
}

func TestDecodeCommandOddUIDPadding(t *testing.T) {
	rq := &Command{
		CommandField:           CStoreRQ,
		MessageID:              1,
		AffectedSOPClassUID:    "1.2.3",
		AffectedSOPInstanceUID: "1.2.3.4",
		CommandDataSetType:     DataSetPresent,
	}
	decoded, err := DecodeCommand(rq.Encode())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", decoded.AffectedSOPClassUID)
	assert.Equal(t, "1.2.3.4", decoded.AffectedSOPInstanceUID)
}
