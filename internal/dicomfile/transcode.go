package dicomfile

import (
	"bytes"
	"errors"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrUnsupportedTranscode is returned for conversions that need a codec
var ErrUnsupportedTranscode = errors.New("unsupported transcode")

const (
	implicitVRLittleEndian = "1.2.840.10008.1.2"
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"

	deflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
	explicitVRBigEndian            = "1.2.840.10008.1.2.2"

	undefinedLength = 0xFFFFFFFF
)

// CanTranscode reports whether Transcode supports from -> to. Only the native
// little endian syntaxes can be converted without an image codec.
func CanTranscode(from, to string) bool {
	return isNative(from) && isNative(to)
}

func isNative(ts string) bool {
	return ts == implicitVRLittleEndian || ts == explicitVRLittleEndian
}

// Transcode re-encodes a Part 10 file in the target transfer syntax.
func Transcode(file []byte, target string) ([]byte, error) {
	inst, err := Parse(file, true)
	if err != nil {
		return nil, err
	}
	if inst.TransferSyntaxUID == target {
		return file, nil
	}
	if !CanTranscode(inst.TransferSyntaxUID, target) {
		return nil, ErrUnsupportedTranscode
	}

	replaced := false
	for idx, el := range inst.Dataset.Elements {
		if el.Tag == tag.TransferSyntaxUID {
			ts, err := dicom.NewElement(tag.TransferSyntaxUID, []string{target})
			if err != nil {
				return nil, Error.Wrap(err)
			}
			inst.Dataset.Elements[idx] = ts
			replaced = true
			break
		}
	}
	if !replaced {
		return nil, Error.New("file has no transfer syntax element")
	}

	var out bytes.Buffer
	if err := dicom.Write(&out, inst.Dataset, dicom.SkipVRVerification()); err != nil {
		return nil, Error.New("failed to write %s: %v", target, err)
	}
	return out.Bytes(), nil
}
