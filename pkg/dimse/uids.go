package dimse

import "strings"

// DICOM Application Context Name
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Verification SOP Class (C-ECHO)
const VerificationSOPClass = "1.2.840.10008.1.1"

// storageSOPClassPrefix covers every Storage SOP Class in PS3.4 Annex B
const storageSOPClassPrefix = "1.2.840.10008.5.1.4.1.1."

// Implementation identity sent in the user information item
const (
	ImplementationClassUID    = "1.2.826.0.1.3680043.9.7433.1.2"
	ImplementationVersionName = "RIS_INGEST_V1"
)

// Transfer syntaxes
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	EncapsulatedUncompressedLE     = "1.2.840.10008.1.2.1.98"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2" // retired
	JPEGBaseline8Bit               = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit              = "1.2.840.10008.1.2.4.51"
	JPEGLossless                   = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1                = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless                 = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless             = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless               = "1.2.840.10008.1.2.4.90"
	JPEG2000                       = "1.2.840.10008.1.2.4.91"
	JPEG2000MCLossless             = "1.2.840.10008.1.2.4.92"
	JPEG2000MC                     = "1.2.840.10008.1.2.4.93"
	MPEG2MPML                      = "1.2.840.10008.1.2.4.100"
	MPEG2MPHL                      = "1.2.840.10008.1.2.4.101"
	MPEG4HP41                      = "1.2.840.10008.1.2.4.102"
	MPEG4HP41BD                    = "1.2.840.10008.1.2.4.103"
	MPEG4HP422D                    = "1.2.840.10008.1.2.4.104"
	MPEG4HP423D                    = "1.2.840.10008.1.2.4.105"
	MPEG4HP42Stereo                = "1.2.840.10008.1.2.4.106"
	HEVCMP51                       = "1.2.840.10008.1.2.4.107"
	HEVCM10P51                     = "1.2.840.10008.1.2.4.108"
	JPEGXLLossless                 = "1.2.840.10008.1.2.4.110"
	JPEGXLJPEGRecompression        = "1.2.840.10008.1.2.4.111"
	JPEGXL                         = "1.2.840.10008.1.2.4.112"
	HTJ2KLossless                  = "1.2.840.10008.1.2.4.201"
	HTJ2KLosslessRPCL              = "1.2.840.10008.1.2.4.202"
	HTJ2K                          = "1.2.840.10008.1.2.4.203"
	RLELossless                    = "1.2.840.10008.1.2.5"
)

// registeredTransferSyntaxes lists every non-retired transfer syntax that can
// carry a stored instance, in the order we prefer them.
var registeredTransferSyntaxes = []string{
	ExplicitVRLittleEndian,
	ImplicitVRLittleEndian,
	EncapsulatedUncompressedLE,
	DeflatedExplicitVRLittleEndian,
	JPEGBaseline8Bit,
	JPEGExtended12Bit,
	JPEGLossless,
	JPEGLosslessSV1,
	JPEGLSLossless,
	JPEGLSNearLossless,
	JPEG2000Lossless,
	JPEG2000,
	JPEG2000MCLossless,
	JPEG2000MC,
	MPEG2MPML,
	MPEG2MPHL,
	MPEG4HP41,
	MPEG4HP41BD,
	MPEG4HP422D,
	MPEG4HP423D,
	MPEG4HP42Stereo,
	HEVCMP51,
	HEVCM10P51,
	JPEGXLLossless,
	JPEGXLJPEGRecompression,
	JPEGXL,
	HTJ2KLossless,
	HTJ2KLosslessRPCL,
	HTJ2K,
	RLELossless,
}

var uncompressedTransferSyntaxes = []string{
	ImplicitVRLittleEndian,
	ExplicitVRLittleEndian,
}

// AcceptableTransferSyntaxes returns the transfer syntaxes an acceptor offers.
func AcceptableTransferSyntaxes(uncompressedOnly bool) []string {
	src := registeredTransferSyntaxes
	if uncompressedOnly {
		src = uncompressedTransferSyntaxes
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// IsStorageSOPClass reports whether uid names a Storage SOP Class.
func IsStorageSOPClass(uid string) bool {
	return strings.HasPrefix(uid, storageSOPClassPrefix)
}

// trimUID strips the NUL/space padding DICOM puts on odd-length UIDs.
func trimUID(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}
