// Package dicomfile turns data sets received on the wire into Part 10 files
// and reads them back with github.com/suyashkumar/dicom.
package dicomfile

import (
	"bytes"
	"encoding/binary"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"github.com/zeebo/errs"
)

// Error marks instance-fatal parse failures
var Error = errs.Class("dicom file")

const (
	preambleLength = 128
	magic          = "DICM"

	implementationClassUID = "1.2.826.0.1.3680043.9.7433.1.2"
	implementationVersion  = "RIS_INGEST_V1"
)

// Wrap prefixes a data set with the preamble and a File Meta Information
// group (Explicit VR Little Endian). The data set bytes are kept untouched in
// the transfer syntax they were received in.
func Wrap(data []byte, transferSyntaxUID, sopClassUID, sopInstanceUID string) []byte {
	var meta []byte
	meta = appendExplicit(meta, 0x0001, "OB", []byte{0x00, 0x01})
	meta = appendExplicit(meta, 0x0002, "UI", uidBytes(sopClassUID))
	meta = appendExplicit(meta, 0x0003, "UI", uidBytes(sopInstanceUID))
	meta = appendExplicit(meta, 0x0010, "UI", uidBytes(transferSyntaxUID))
	meta = appendExplicit(meta, 0x0012, "UI", uidBytes(implementationClassUID))
	meta = appendExplicit(meta, 0x0013, "SH", textBytes(implementationVersion))

	out := make([]byte, preambleLength, preambleLength+len(magic)+12+len(meta)+len(data))
	out = append(out, magic...)
	out = appendExplicit(out, 0x0000, "UL", binary.LittleEndian.AppendUint32(nil, uint32(len(meta))))
	out = append(out, meta...)
	return append(out, data...)
}

// appendExplicit encodes one group 0002 element in Explicit VR Little Endian
func appendExplicit(dst []byte, element uint16, vr string, value []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, 0x0002)
	dst = binary.LittleEndian.AppendUint16(dst, element)
	dst = append(dst, vr...)
	switch vr {
	case "OB", "OW", "SQ", "UN", "UT":
		dst = append(dst, 0x00, 0x00)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(value)))
	default:
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(value)))
	}
	return append(dst, value...)
}

func uidBytes(uid string) []byte {
	b := []byte(uid)
	if len(b)%2 == 1 {
		b = append(b, 0x00)
	}
	return b
}

func textBytes(s string) []byte {
	b := []byte(s)
	if len(b)%2 == 1 {
		b = append(b, ' ')
	}
	return b
}

// Instance is a parsed Part 10 file
type Instance struct {
	Dataset           dicom.Dataset
	TransferSyntaxUID string
	SOPClassUID       string
	SOPInstanceUID    string
	// Bytes holds the complete Part 10 encoding
	Bytes []byte
}

// NewInstance wraps a received data set and parses it. Pixel data is skipped.
func NewInstance(data []byte, transferSyntaxUID, sopClassUID, sopInstanceUID string) (*Instance, error) {
	if err := checkDataSet(data, transferSyntaxUID); err != nil {
		return nil, err
	}
	file := Wrap(data, transferSyntaxUID, sopClassUID, sopInstanceUID)
	inst, err := Parse(file, false)
	if err != nil {
		return nil, err
	}
	if inst.SOPInstanceUID == "" {
		inst.SOPInstanceUID = sopInstanceUID
	}
	if inst.SOPClassUID == "" {
		inst.SOPClassUID = sopClassUID
	}
	return inst, nil
}

// checkDataSet walks the top level elements of a little endian data set and
// rejects one that is empty or whose declared lengths run past its end. The
// walk stops at the first undefined length element.
func checkDataSet(data []byte, transferSyntaxUID string) error {
	switch transferSyntaxUID {
	case deflatedExplicitVRLittleEndian, explicitVRBigEndian:
		return nil
	}
	if len(data) == 0 {
		return Error.New("data set has no elements")
	}
	implicit := transferSyntaxUID == implicitVRLittleEndian

	for pos := 0; pos < len(data); {
		if len(data)-pos < 8 {
			return Error.New("truncated element header at offset %d", pos)
		}
		header, length := 8, uint64(0)
		switch {
		case implicit:
			length = uint64(binary.LittleEndian.Uint32(data[pos+4:]))
		case longLengthVR(string(data[pos+4 : pos+6])):
			if len(data)-pos < 12 {
				return Error.New("truncated element header at offset %d", pos)
			}
			header = 12
			length = uint64(binary.LittleEndian.Uint32(data[pos+8:]))
		default:
			length = uint64(binary.LittleEndian.Uint16(data[pos+6:]))
		}
		if length == undefinedLength {
			return nil
		}
		if remaining := uint64(len(data) - pos - header); length > remaining {
			group := binary.LittleEndian.Uint16(data[pos:])
			element := binary.LittleEndian.Uint16(data[pos+2:])
			return Error.New("element (%04X,%04X) declares %d bytes but %d remain", group, element, length, remaining)
		}
		pos += header + int(length)
	}
	return nil
}

func longLengthVR(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "SV", "UC", "UN", "UR", "UT", "UV":
		return true
	}
	return false
}

// Parse reads a complete Part 10 encoding.
func Parse(file []byte, withPixelData bool) (*Instance, error) {
	var opts []dicom.ParseOption
	if !withPixelData {
		opts = append(opts, dicom.SkipPixelData())
	}

	ds, err := dicom.Parse(bytes.NewReader(file), int64(len(file)), nil, opts...)
	if err != nil {
		return nil, Error.New("failed to parse data set: %v", err)
	}

	inst := &Instance{Dataset: ds, Bytes: file}
	inst.TransferSyntaxUID = inst.String(tag.TransferSyntaxUID)
	inst.SOPClassUID = inst.String(tag.SOPClassUID)
	if inst.SOPClassUID == "" {
		inst.SOPClassUID = inst.String(tag.MediaStorageSOPClassUID)
	}
	inst.SOPInstanceUID = inst.String(tag.SOPInstanceUID)
	if inst.SOPInstanceUID == "" {
		inst.SOPInstanceUID = inst.String(tag.MediaStorageSOPInstanceUID)
	}
	return inst, nil
}

// Open reads and parses a stored file.
func Open(path string, withPixelData bool) (*Instance, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return Parse(file, withPixelData)
}

// String returns the first value of a string element, trimmed of padding.
// Missing elements yield "".
func (i *Instance) String(t tag.Tag) string {
	el, err := i.Dataset.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return ""
	}
	if el.Value.ValueType() != dicom.Strings {
		return ""
	}
	values := dicom.MustGetStrings(el.Value)
	if len(values) == 0 {
		return ""
	}
	return strings.Trim(values[0], " \x00")
}

// Int returns the first value of an integer element. IS elements are parsed
// from their string form.
func (i *Instance) Int(t tag.Tag) (int, bool) {
	el, err := i.Dataset.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return 0, false
	}
	switch el.Value.ValueType() {
	case dicom.Ints:
		values := dicom.MustGetInts(el.Value)
		if len(values) == 0 {
			return 0, false
		}
		return values[0], true
	case dicom.Strings:
		values := dicom.MustGetStrings(el.Value)
		if len(values) == 0 {
			return 0, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.Trim(values[0], "\x00")))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Has reports whether the element is present.
func (i *Instance) Has(t tag.Tag) bool {
	_, err := i.Dataset.FindElementByTag(t)
	return err == nil
}
