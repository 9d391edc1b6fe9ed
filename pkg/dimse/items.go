package dimse

import (
	"encoding/binary"
	"strings"
)

// Item types
const (
	itemApplicationContext    byte = 0x10
	itemPresentationContextRQ byte = 0x20
	itemPresentationContextAC byte = 0x21
	itemAbstractSyntax        byte = 0x30
	itemTransferSyntax        byte = 0x40
	itemUserInformation       byte = 0x50
	itemMaximumLength         byte = 0x51
	itemImplementationClass   byte = 0x52
	itemImplementationVersion byte = 0x55
)

// Presentation context results (PS3.8 9.3.3.2)
const (
	ResultAcceptance                 byte = 0x00
	ResultUserRejection              byte = 0x01
	ResultNoReason                   byte = 0x02
	ResultAbstractSyntaxNotSupported byte = 0x03
	ResultTransferSyntaxNotSupported byte = 0x04
)

// A-ASSOCIATE-RJ result, source and reason values
const (
	RejectPermanent byte = 0x01
	RejectTransient byte = 0x02

	RejectSourceServiceUser byte = 0x01

	RejectReasonNoReason               byte = 0x01
	RejectReasonAppContextNotSupported byte = 0x02
	RejectReasonCallingAENotRecognized byte = 0x03
	RejectReasonCalledAENotRecognized  byte = 0x07
)

const protocolVersion uint16 = 0x0001

// PresentationContextRQ is one proposed presentation context.
type PresentationContextRQ struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// PresentationContextAC is the acceptor's answer for one context.
type PresentationContextAC struct {
	ID             byte
	Result         byte
	TransferSyntax string
}

// AssociateRQ holds the fields of an A-ASSOCIATE-RQ PDU.
type AssociateRQ struct {
	ProtocolVersion        uint16
	CalledAE               string
	CallingAE              string
	ApplicationContext     string
	PresentationContexts   []PresentationContextRQ
	MaxPDULength           uint32
	ImplementationClassUID string
	ImplementationVersion  string
}

// AssociateAC holds the fields of an A-ASSOCIATE-AC PDU.
type AssociateAC struct {
	CalledAE               string
	CallingAE              string
	ApplicationContext     string
	PresentationContexts   []PresentationContextAC
	MaxPDULength           uint32
	ImplementationClassUID string
	ImplementationVersion  string
}

// AssociateRJ holds the fields of an A-ASSOCIATE-RJ PDU.
type AssociateRJ struct {
	Result byte
	Source byte
	Reason byte
}

// Marshal builds the A-ASSOCIATE-RQ body (without the PDU header).
func (rq *AssociateRQ) Marshal() []byte {
	body := associateHeader(rq.CalledAE, rq.CallingAE)
	body = appendItem(body, itemApplicationContext, []byte(rq.ApplicationContext))
	for _, pc := range rq.PresentationContexts {
		sub := []byte{pc.ID, 0x00, 0x00, 0x00}
		sub = appendItem(sub, itemAbstractSyntax, []byte(pc.AbstractSyntax))
		for _, ts := range pc.TransferSyntaxes {
			sub = appendItem(sub, itemTransferSyntax, []byte(ts))
		}
		body = appendItem(body, itemPresentationContextRQ, sub)
	}
	body = appendItem(body, itemUserInformation, userInformation(rq.MaxPDULength, rq.ImplementationClassUID, rq.ImplementationVersion))
	return body
}

// Marshal builds the A-ASSOCIATE-AC body (without the PDU header).
func (ac *AssociateAC) Marshal() []byte {
	body := associateHeader(ac.CalledAE, ac.CallingAE)
	body = appendItem(body, itemApplicationContext, []byte(ac.ApplicationContext))
	for _, pc := range ac.PresentationContexts {
		sub := []byte{pc.ID, 0x00, pc.Result, 0x00}
		sub = appendItem(sub, itemTransferSyntax, []byte(pc.TransferSyntax))
		body = appendItem(body, itemPresentationContextAC, sub)
	}
	body = appendItem(body, itemUserInformation, userInformation(ac.MaxPDULength, ac.ImplementationClassUID, ac.ImplementationVersion))
	return body
}

// Marshal builds the A-ASSOCIATE-RJ body.
func (rj *AssociateRJ) Marshal() []byte {
	return []byte{0x00, rj.Result, rj.Source, rj.Reason}
}

// ParseAssociateRQ decodes an A-ASSOCIATE-RQ body.
func ParseAssociateRQ(body []byte) (*AssociateRQ, error) {
	if len(body) < 68 {
		return nil, ProtocolError.New("A-ASSOCIATE-RQ too short: %d bytes", len(body))
	}
	rq := &AssociateRQ{
		ProtocolVersion: binary.BigEndian.Uint16(body[0:2]),
		CalledAE:        strings.TrimSpace(string(body[4:20])),
		CallingAE:       strings.TrimSpace(string(body[20:36])),
	}

	err := walkItems(body[68:], func(itemType byte, data []byte) error {
		switch itemType {
		case itemApplicationContext:
			rq.ApplicationContext = trimUID(data)
		case itemPresentationContextRQ:
			pc, err := parsePresentationContextRQ(data)
			if err != nil {
				return err
			}
			rq.PresentationContexts = append(rq.PresentationContexts, pc)
		case itemUserInformation:
			return parseUserInformation(data, &rq.MaxPDULength, &rq.ImplementationClassUID, &rq.ImplementationVersion)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rq, nil
}

// ParseAssociateAC decodes an A-ASSOCIATE-AC body.
func ParseAssociateAC(body []byte) (*AssociateAC, error) {
	if len(body) < 68 {
		return nil, ProtocolError.New("A-ASSOCIATE-AC too short: %d bytes", len(body))
	}
	ac := &AssociateAC{
		CalledAE:  strings.TrimSpace(string(body[4:20])),
		CallingAE: strings.TrimSpace(string(body[20:36])),
	}

	err := walkItems(body[68:], func(itemType byte, data []byte) error {
		switch itemType {
		case itemApplicationContext:
			ac.ApplicationContext = trimUID(data)
		case itemPresentationContextAC:
			if len(data) < 4 {
				return ProtocolError.New("presentation context AC item too short")
			}
			pc := PresentationContextAC{ID: data[0], Result: data[2]}
			err := walkItems(data[4:], func(subType byte, sub []byte) error {
				if subType == itemTransferSyntax {
					pc.TransferSyntax = trimUID(sub)
				}
				return nil
			})
			if err != nil {
				return err
			}
			ac.PresentationContexts = append(ac.PresentationContexts, pc)
		case itemUserInformation:
			return parseUserInformation(data, &ac.MaxPDULength, &ac.ImplementationClassUID, &ac.ImplementationVersion)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ac, nil
}

// ParseAssociateRJ decodes an A-ASSOCIATE-RJ body.
func ParseAssociateRJ(body []byte) (*AssociateRJ, error) {
	if len(body) < 4 {
		return nil, ProtocolError.New("A-ASSOCIATE-RJ too short: %d bytes", len(body))
	}
	return &AssociateRJ{Result: body[1], Source: body[2], Reason: body[3]}, nil
}

func parsePresentationContextRQ(data []byte) (PresentationContextRQ, error) {
	if len(data) < 4 {
		return PresentationContextRQ{}, ProtocolError.New("presentation context RQ item too short")
	}
	pc := PresentationContextRQ{ID: data[0]}
	err := walkItems(data[4:], func(subType byte, sub []byte) error {
		switch subType {
		case itemAbstractSyntax:
			pc.AbstractSyntax = trimUID(sub)
		case itemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, trimUID(sub))
		}
		return nil
	})
	return pc, err
}

func parseUserInformation(data []byte, maxLength *uint32, implClass, implVersion *string) error {
	return walkItems(data, func(subType byte, sub []byte) error {
		switch subType {
		case itemMaximumLength:
			if len(sub) != 4 {
				return ProtocolError.New("maximum length sub-item has %d bytes", len(sub))
			}
			*maxLength = binary.BigEndian.Uint32(sub)
		case itemImplementationClass:
			*implClass = trimUID(sub)
		case itemImplementationVersion:
			*implVersion = strings.TrimSpace(string(sub))
		}
		return nil
	})
}

// walkItems iterates type/reserved/length(2)/value items.
func walkItems(data []byte, fn func(itemType byte, value []byte) error) error {
	for offset := 0; offset < len(data); {
		if len(data)-offset < 4 {
			return ProtocolError.New("truncated item header at offset %d", offset)
		}
		itemType := data[offset]
		length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		if offset+4+length > len(data) {
			return ProtocolError.New("item 0x%02x length %d overruns PDU", itemType, length)
		}
		if err := fn(itemType, data[offset+4:offset+4+length]); err != nil {
			return err
		}
		offset += 4 + length
	}
	return nil
}

// associateHeader builds protocol version, reserved, AE titles and the
// 32 reserved bytes shared by RQ and AC.
func associateHeader(calledAE, callingAE string) []byte {
	body := make([]byte, 0, 68)
	body = binary.BigEndian.AppendUint16(body, protocolVersion)
	body = append(body, 0x00, 0x00)
	body = append(body, padAET(calledAE)...)
	body = append(body, padAET(callingAE)...)
	body = append(body, make([]byte, 32)...)
	return body
}

func userInformation(maxLength uint32, implClass, implVersion string) []byte {
	var sub []byte
	sub = appendItem(sub, itemMaximumLength, binary.BigEndian.AppendUint32(nil, maxLength))
	if implClass != "" {
		sub = appendItem(sub, itemImplementationClass, []byte(implClass))
	}
	if implVersion != "" {
		sub = appendItem(sub, itemImplementationVersion, []byte(implVersion))
	}
	return sub
}

func appendItem(dst []byte, itemType byte, value []byte) []byte {
	dst = append(dst, itemType, 0x00)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(value)))
	return append(dst, value...)
}

// padAET pads AE Title to 16 bytes with spaces
func padAET(aet string) []byte {
	result := make([]byte, 16)
	copy(result, []byte(aet))
	for i := len(aet); i < 16; i++ {
		result[i] = ' '
	}
	return result
}
