package dimse

import (
	"encoding/binary"
	"sort"
	"strings"
)

// Command fields
const (
	CStoreRQ  uint16 = 0x0001
	CStoreRSP uint16 = 0x8001
	CEchoRQ   uint16 = 0x0030
	CEchoRSP  uint16 = 0x8030
)

// Command data set types
const (
	DataSetPresent uint16 = 0x0000
	NoDataSet      uint16 = 0x0101
)

// Status codes
const (
	StatusSuccess               uint16 = 0x0000
	StatusUnrecognizedOperation uint16 = 0x0211
	StatusProcessingFailure     uint16 = 0x0110
)

// Command group tags (group 0x0000 element numbers)
const (
	tagCommandGroupLength        uint16 = 0x0000
	tagAffectedSOPClassUID       uint16 = 0x0002
	tagCommandField              uint16 = 0x0100
	tagMessageID                 uint16 = 0x0110
	tagMessageIDBeingRespondedTo uint16 = 0x0120
	tagMoveOriginatorAE          uint16 = 0x1030
	tagMoveOriginatorMessageID   uint16 = 0x1031
	tagPriority                  uint16 = 0x0700
	tagCommandDataSetType        uint16 = 0x0800
	tagStatus                    uint16 = 0x0900
	tagAffectedSOPInstanceUID    uint16 = 0x1000
)

// Command is a decoded DIMSE command set. Commands are always encoded in
// Implicit VR Little Endian regardless of the negotiated data transfer syntax.
type Command struct {
	CommandField              uint16
	MessageID                 uint16
	MessageIDBeingRespondedTo uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	MoveOriginatorAE          string
	MoveOriginatorMessageID   uint16
}

// HasDataSet reports whether a data set follows the command.
func (c *Command) HasDataSet() bool {
	return c.CommandDataSetType != NoDataSet
}

// IsEcho reports whether the command is a C-ECHO request.
func (c *Command) IsEcho() bool {
	return c.CommandField == CEchoRQ
}

// DecodeCommand parses an Implicit VR Little Endian command set. A command
// without a command field, message id or data set type is malformed.
func DecodeCommand(data []byte) (*Command, error) {
	cmd := &Command{}
	seen := make(map[uint16]bool)

	for offset := 0; offset < len(data); {
		if len(data)-offset < 8 {
			return nil, ProtocolError.New("truncated command element at offset %d", offset)
		}
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		offset += 8
		if group != 0x0000 {
			return nil, ProtocolError.New("command element (%04x,%04x) outside group 0000", group, element)
		}
		if length < 0 || offset+length > len(data) {
			return nil, ProtocolError.New("command element (0000,%04x) length %d overruns command", element, length)
		}
		value := data[offset : offset+length]
		offset += length
		seen[element] = true

		switch element {
		case tagAffectedSOPClassUID:
			cmd.AffectedSOPClassUID = trimUID(value)
		case tagAffectedSOPInstanceUID:
			cmd.AffectedSOPInstanceUID = trimUID(value)
		case tagMoveOriginatorAE:
			cmd.MoveOriginatorAE = strings.TrimSpace(string(value))
		case tagCommandField, tagMessageID, tagMessageIDBeingRespondedTo, tagPriority,
			tagCommandDataSetType, tagStatus, tagMoveOriginatorMessageID:
			if length != 2 {
				return nil, ProtocolError.New("command element (0000,%04x) has length %d, want 2", element, length)
			}
			v := binary.LittleEndian.Uint16(value)
			switch element {
			case tagCommandField:
				cmd.CommandField = v
			case tagMessageID:
				cmd.MessageID = v
			case tagMessageIDBeingRespondedTo:
				cmd.MessageIDBeingRespondedTo = v
			case tagPriority:
				cmd.Priority = v
			case tagCommandDataSetType:
				cmd.CommandDataSetType = v
			case tagStatus:
				cmd.Status = v
			case tagMoveOriginatorMessageID:
				cmd.MoveOriginatorMessageID = v
			}
		}
	}

	if !seen[tagCommandField] {
		return nil, ProtocolError.New("command set is missing (0000,0100) Command Field")
	}
	if !seen[tagCommandDataSetType] {
		return nil, ProtocolError.New("command set is missing (0000,0800) Command Data Set Type")
	}
	isResponse := cmd.CommandField&0x8000 != 0
	if !isResponse && !seen[tagMessageID] {
		return nil, ProtocolError.New("command set is missing (0000,0110) Message ID")
	}
	if isResponse && !seen[tagMessageIDBeingRespondedTo] {
		return nil, ProtocolError.New("command set is missing (0000,0120) Message ID Being Responded To")
	}
	return cmd, nil
}

// Encode serializes the command set with its group length element.
func (c *Command) Encode() []byte {
	elements := map[uint16][]byte{
		tagCommandField:       uint16Value(c.CommandField),
		tagCommandDataSetType: uint16Value(c.CommandDataSetType),
	}
	if c.AffectedSOPClassUID != "" {
		elements[tagAffectedSOPClassUID] = uidValue(c.AffectedSOPClassUID)
	}
	if c.AffectedSOPInstanceUID != "" {
		elements[tagAffectedSOPInstanceUID] = uidValue(c.AffectedSOPInstanceUID)
	}
	if c.CommandField&0x8000 != 0 {
		elements[tagMessageIDBeingRespondedTo] = uint16Value(c.MessageIDBeingRespondedTo)
		elements[tagStatus] = uint16Value(c.Status)
	} else {
		elements[tagMessageID] = uint16Value(c.MessageID)
		if c.CommandField == CStoreRQ {
			elements[tagPriority] = uint16Value(c.Priority)
		}
	}
	if c.MoveOriginatorAE != "" {
		elements[tagMoveOriginatorAE] = []byte(padEven(c.MoveOriginatorAE, ' '))
		elements[tagMoveOriginatorMessageID] = uint16Value(c.MoveOriginatorMessageID)
	}

	tags := make([]int, 0, len(elements))
	for t := range elements {
		tags = append(tags, int(t))
	}
	sort.Ints(tags)

	var body []byte
	for _, t := range tags {
		body = appendCommandElement(body, uint16(t), elements[uint16(t)])
	}
	out := appendCommandElement(nil, tagCommandGroupLength, binary.LittleEndian.AppendUint32(nil, uint32(len(body))))
	return append(out, body...)
}

// Response builds the response to a request command with the given status.
func (c *Command) Response(status uint16) *Command {
	return &Command{
		CommandField:              c.CommandField | 0x8000,
		MessageIDBeingRespondedTo: c.MessageID,
		AffectedSOPClassUID:       c.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    c.AffectedSOPInstanceUID,
		CommandDataSetType:        NoDataSet,
		Status:                    status,
	}
}

func appendCommandElement(dst []byte, element uint16, value []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, 0x0000)
	dst = binary.LittleEndian.AppendUint16(dst, element)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(value)))
	return append(dst, value...)
}

func uint16Value(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

func uidValue(uid string) []byte {
	return []byte(padEven(uid, 0x00))
}

// padEven pads odd-length values to even length as DICOM requires.
func padEven(s string, pad byte) string {
	if len(s)%2 == 1 {
		return s + string(pad)
	}
	return s
}
