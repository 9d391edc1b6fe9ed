// Package bus carries JSON records between services over Redis Streams.
// Delivery is at least once: a message is redelivered until it is committed.
package bus

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Message is one record read from a topic
type Message struct {
	Topic   string
	ID      string
	Key     string
	Payload []byte
}

// Publisher sends records to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Subscriber reads records of one topic for one consumer group. Fetch blocks
// until messages arrive, the block timeout passes (no messages, no error) or
// ctx ends.
type Subscriber interface {
	Fetch(ctx context.Context) ([]Message, error)
	Commit(ctx context.Context, msgs ...Message) error
}

// StateKey is the partition key of a state record.
func StateKey(tenantID, patientID, studyUID, seriesUID string) string {
	return digest(tenantID, patientID, studyUID, seriesUID)
}

// ImageKey is the partition key of an image record.
func ImageKey(tenantID, patientID, studyUID, seriesUID, sopUID string) string {
	return digest(tenantID, patientID, studyUID, seriesUID, sopUID)
}

func digest(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}
