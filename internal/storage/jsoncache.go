package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// SeriesDocument is the cached JSON description of one series
type SeriesDocument struct {
	TenantID  string          `json:"tenant_id"`
	StudyUID  string          `json:"study_uid"`
	SeriesUID string          `json:"series_uid"`
	Instances []InstanceEntry `json:"instances"`
}

// InstanceEntry is one instance of a SeriesDocument
type InstanceEntry struct {
	SOPUID         string `json:"sop_uid"`
	SOPClassUID    string `json:"sop_class_uid"`
	InstanceNumber int    `json:"instance_number,omitempty"`
	NumberOfFrames int    `json:"number_of_frames"`
	FilePath       string `json:"file_path"`
	FileSize       int64  `json:"file_size"`
}

// JSONCache keeps one document per series under
// {root}/{tenant}/{studyHash}/{seriesHash}.json
type JSONCache struct {
	root string
}

// NewJSONCache creates a cache rooted at root
func NewJSONCache(root string) *JSONCache {
	return &JSONCache{root: root}
}

// Path returns the document path of a series
func (c *JSONCache) Path(tenantID, studyUID, seriesUID string) string {
	return filepath.Join(c.root, sanitize(tenantID), StudyHash(studyUID), SeriesHash(studyUID, seriesUID)+".json")
}

// Load reads a series document; a missing document is returned empty.
func (c *JSONCache) Load(tenantID, studyUID, seriesUID string) (*SeriesDocument, error) {
	data, err := os.ReadFile(c.Path(tenantID, studyUID, seriesUID))
	if errors.Is(err, fs.ErrNotExist) {
		return &SeriesDocument{TenantID: tenantID, StudyUID: studyUID, SeriesUID: seriesUID}, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var doc SeriesDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, Error.New("corrupt series document: %v", err)
	}
	return &doc, nil
}

// Merge adds or replaces entries (by SOP UID) and rewrites the document.
// It returns the document path and the resulting instance count.
func (c *JSONCache) Merge(tenantID, studyUID, seriesUID string, entries []InstanceEntry) (string, int, error) {
	doc, err := c.Load(tenantID, studyUID, seriesUID)
	if err != nil {
		return "", 0, err
	}

	bySOP := make(map[string]InstanceEntry, len(doc.Instances)+len(entries))
	for _, e := range doc.Instances {
		bySOP[e.SOPUID] = e
	}
	for _, e := range entries {
		bySOP[e.SOPUID] = e
	}
	doc.Instances = doc.Instances[:0]
	for _, e := range bySOP {
		doc.Instances = append(doc.Instances, e)
	}
	sort.Slice(doc.Instances, func(i, j int) bool {
		a, b := doc.Instances[i], doc.Instances[j]
		if a.InstanceNumber != b.InstanceNumber {
			return a.InstanceNumber < b.InstanceNumber
		}
		return a.SOPUID < b.SOPUID
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", 0, Error.Wrap(err)
	}
	path := c.Path(tenantID, studyUID, seriesUID)
	if _, err := WriteFileAtomic(path, data); err != nil {
		return "", 0, err
	}
	return path, len(doc.Instances), nil
}
