// Package dicomtest encodes small data sets for tests without going through a
// full DICOM writer.
package dicomtest

import (
	"encoding/binary"
	"sort"
	"strconv"
)

// Transfer syntaxes understood by Encode
const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	CTImageStorage         = "1.2.840.10008.5.1.4.1.1.2"
)

// Element is one data element
type Element struct {
	Group   uint16
	Element uint16
	VR      string
	Value   []byte
}

// Str builds a text element padded to even length.
func Str(group, element uint16, vr, value string) Element {
	b := []byte(value)
	if len(b)%2 == 1 {
		if vr == "UI" {
			b = append(b, 0x00)
		} else {
			b = append(b, ' ')
		}
	}
	return Element{Group: group, Element: element, VR: vr, Value: b}
}

// US builds an unsigned short element.
func US(group, element uint16, v uint16) Element {
	return Element{Group: group, Element: element, VR: "US", Value: binary.LittleEndian.AppendUint16(nil, v)}
}

// Encode serializes elements in ascending tag order.
func Encode(transferSyntaxUID string, elements ...Element) []byte {
	sorted := append([]Element(nil), elements...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Group != sorted[j].Group {
			return sorted[i].Group < sorted[j].Group
		}
		return sorted[i].Element < sorted[j].Element
	})

	explicit := transferSyntaxUID != ImplicitVRLittleEndian
	var out []byte
	for _, el := range sorted {
		out = binary.LittleEndian.AppendUint16(out, el.Group)
		out = binary.LittleEndian.AppendUint16(out, el.Element)
		if !explicit {
			out = binary.LittleEndian.AppendUint32(out, uint32(len(el.Value)))
		} else {
			out = append(out, el.VR...)
			switch el.VR {
			case "OB", "OW", "OF", "SQ", "UN", "UT":
				out = append(out, 0x00, 0x00)
				out = binary.LittleEndian.AppendUint32(out, uint32(len(el.Value)))
			default:
				out = binary.LittleEndian.AppendUint16(out, uint16(len(el.Value)))
			}
		}
		out = append(out, el.Value...)
	}
	return out
}

// Study describes the identifying fields of a test instance.
type Study struct {
	PatientID   string
	PatientName string
	StudyUID    string
	SeriesUID   string
	SOPUID      string
	StudyDate   string
	Modality    string
	Frames      int
}

// DefaultStudy returns a complete single-frame CT instance description.
func DefaultStudy() Study {
	return Study{
		PatientID:   "PAT-001",
		PatientName: "DOE^JANE",
		StudyUID:    "1.2.3",
		SeriesUID:   "4.5.6",
		SOPUID:      "7.8.9",
		StudyDate:   "20240101",
		Modality:    "CT",
		Frames:      1,
	}
}

// Elements returns the data elements of s. Empty fields are left out.
func (s Study) Elements() []Element {
	var els []Element
	add := func(group, element uint16, vr, value string) {
		if value != "" {
			els = append(els, Str(group, element, vr, value))
		}
	}
	add(0x0008, 0x0016, "UI", CTImageStorage)
	add(0x0008, 0x0018, "UI", s.SOPUID)
	add(0x0008, 0x0020, "DA", s.StudyDate)
	add(0x0008, 0x0060, "CS", s.Modality)
	add(0x0010, 0x0010, "PN", s.PatientName)
	add(0x0010, 0x0020, "LO", s.PatientID)
	add(0x0020, 0x000D, "UI", s.StudyUID)
	add(0x0020, 0x000E, "UI", s.SeriesUID)
	add(0x0020, 0x0011, "IS", "3")
	add(0x0020, 0x0013, "IS", "1")
	if s.Frames > 0 {
		add(0x0028, 0x0008, "IS", strconv.Itoa(s.Frames))
	}
	els = append(els, US(0x0028, 0x0010, 4), US(0x0028, 0x0011, 4))
	return els
}

// DataSet encodes s in the given transfer syntax.
func (s Study) DataSet(transferSyntaxUID string) []byte {
	return Encode(transferSyntaxUID, s.Elements()...)
}
