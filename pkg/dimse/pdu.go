package dimse

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/errs"
)

// ProtocolError marks failures that are fatal to the whole association.
var ProtocolError = errs.Class("dimse protocol")

// PDU types
const (
	PDUAssociateRQ byte = 0x01
	PDUAssociateAC byte = 0x02
	PDUAssociateRJ byte = 0x03
	PDUPData       byte = 0x04
	PDUReleaseRQ   byte = 0x05
	PDUReleaseRP   byte = 0x06
	PDUAbort       byte = 0x07
)

const pduHeaderLength = 6

// maxControlPDULength bounds association-control PDUs, which carry no data.
const maxControlPDULength = 64 * 1024

func pduName(t byte) string {
	switch t {
	case PDUAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case PDUAssociateAC:
		return "A-ASSOCIATE-AC"
	case PDUAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case PDUPData:
		return "P-DATA-TF"
	case PDUReleaseRQ:
		return "A-RELEASE-RQ"
	case PDUReleaseRP:
		return "A-RELEASE-RP"
	case PDUAbort:
		return "A-ABORT"
	default:
		return fmt.Sprintf("PDU(0x%02x)", t)
	}
}

// readPDU reads one PDU. maxDataLength bounds P-DATA-TF bodies; 0 means the
// control limit applies to every PDU type.
func readPDU(r io.Reader, maxDataLength uint32) (byte, []byte, error) {
	header := make([]byte, pduHeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	pduType := header[0]
	length := binary.BigEndian.Uint32(header[2:6])

	limit := uint32(maxControlPDULength)
	if pduType == PDUPData && maxDataLength > limit {
		limit = maxDataLength
	}
	if length > limit {
		return pduType, nil, ProtocolError.New("%s length %d exceeds limit %d", pduName(pduType), length, limit)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return pduType, nil, fmt.Errorf("failed to read %s body: %w", pduName(pduType), err)
	}
	return pduType, body, nil
}

// writePDU writes the 6-byte header followed by body.
func writePDU(w io.Writer, pduType byte, body []byte) error {
	pdu := make([]byte, pduHeaderLength, pduHeaderLength+len(body))
	pdu[0] = pduType
	binary.BigEndian.PutUint32(pdu[2:6], uint32(len(body)))
	pdu = append(pdu, body...)
	_, err := w.Write(pdu)
	return err
}

// releaseBody is the body of both A-RELEASE-RQ and A-RELEASE-RP
func releaseBody() []byte {
	return []byte{0x00, 0x00, 0x00, 0x00}
}

// Abort sources and reasons
const (
	AbortSourceServiceUser     byte = 0x00
	AbortSourceServiceProvider byte = 0x02

	AbortReasonNotSpecified     byte = 0x00
	AbortReasonUnrecognizedPDU  byte = 0x01
	AbortReasonUnexpectedPDU    byte = 0x02
	AbortReasonInvalidParameter byte = 0x06
)

func abortBody(source, reason byte) []byte {
	return []byte{0x00, 0x00, source, reason}
}

// PDV is one presentation data value item from a P-DATA-TF PDU.
type PDV struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

const (
	pdvCommandBit = 0x01
	pdvLastBit    = 0x02
)

// parsePData splits a P-DATA-TF body into its PDV items.
func parsePData(body []byte) ([]PDV, error) {
	var pdvs []PDV
	for offset := 0; offset < len(body); {
		if len(body)-offset < 6 {
			return nil, ProtocolError.New("truncated PDV item at offset %d", offset)
		}
		length := int(binary.BigEndian.Uint32(body[offset : offset+4]))
		if length < 2 || offset+4+length > len(body) {
			return nil, ProtocolError.New("invalid PDV item length %d at offset %d", length, offset)
		}
		header := body[offset+5]
		pdvs = append(pdvs, PDV{
			ContextID: body[offset+4],
			Command:   header&pdvCommandBit != 0,
			Last:      header&pdvLastBit != 0,
			Data:      body[offset+6 : offset+4+length],
		})
		offset += 4 + length
	}
	if len(pdvs) == 0 {
		return nil, ProtocolError.New("P-DATA-TF without PDV items")
	}
	return pdvs, nil
}

// writePData sends payload on a presentation context, fragmenting so that no
// PDU exceeds maxPDULength (the peer's limit; 0 means unlimited).
func writePData(w io.Writer, contextID byte, command bool, payload []byte, maxPDULength uint32) error {
	// PDV item header: 4 length + context id + control header
	const pdvOverhead = 6
	chunk := len(payload)
	if maxPDULength > pdvOverhead {
		if limit := int(maxPDULength) - pdvOverhead; limit < chunk {
			chunk = limit
		}
	}
	if chunk == 0 {
		chunk = 1
	}

	for offset := 0; ; {
		end := offset + chunk
		if end > len(payload) {
			end = len(payload)
		}
		fragment := payload[offset:end]

		header := byte(0)
		if command {
			header |= pdvCommandBit
		}
		if end == len(payload) {
			header |= pdvLastBit
		}

		body := make([]byte, 4, pdvOverhead+len(fragment))
		binary.BigEndian.PutUint32(body[0:4], uint32(len(fragment)+2))
		body = append(body, contextID, header)
		body = append(body, fragment...)
		if err := writePDU(w, PDUPData, body); err != nil {
			return err
		}

		offset = end
		if offset >= len(payload) {
			return nil
		}
	}
}
