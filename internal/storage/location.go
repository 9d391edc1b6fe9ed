package storage

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Location identifies where one instance lives under the DICOM root:
// {tenant}/{studyDate}/{studyUID}/{seriesUID}/{sopUID}.dcm
type Location struct {
	TenantID  string
	StudyDate string
	StudyUID  string
	SeriesUID string
	SOPUID    string
}

// RelPath returns the slash separated path relative to the root.
func (l Location) RelPath() string {
	return strings.Join([]string{
		sanitize(l.TenantID),
		sanitize(l.StudyDate),
		sanitize(l.StudyUID),
		sanitize(l.SeriesUID),
		sanitize(l.SOPUID) + ".dcm",
	}, "/")
}

// Dir returns the series directory relative to the root.
func (l Location) Dir() string {
	return filepath.Dir(filepath.FromSlash(l.RelPath()))
}

// sanitize keeps path components inside their directory. UIDs only contain
// digits and dots; anything else (separators, "..") is replaced.
func sanitize(component string) string {
	if component == "" || component == "." || component == ".." {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, component)
}

// StudyHash is the fixed width digest of a study UID used for sharding.
func StudyHash(studyUID string) string {
	return hex16(xxhash.Sum64String(studyUID))
}

// SeriesHash digests study and series together so equal series UIDs in
// different studies do not collide.
func SeriesHash(studyUID, seriesUID string) string {
	d := xxhash.New()
	_, _ = d.WriteString(studyUID)
	_, _ = d.WriteString("/")
	_, _ = d.WriteString(seriesUID)
	return hex16(d.Sum64())
}

func hex16(v uint64) string {
	s := strconv.FormatUint(v, 16)
	return strings.Repeat("0", 16-len(s)) + s
}
