// Package dlq holds records the storage consumer could not persist.
package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/telhawk-systems/trackstack/common/messaging"
)

// Failure reasons.
const (
	ReasonMalformed      = "malformed"
	ReasonWriteExhausted = "write_exhausted"
)

// ErrDisabled is returned by read operations on a nil queue.
var ErrDisabled = errors.New("dlq not enabled")

// FailedRecord captures a log record that was skipped, with enough context to replay it.
type FailedRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Partition   int       `json:"partition"`
	Offset      uint64    `json:"offset"`
	Key         string    `json:"key,omitempty"`
	EventID     string    `json:"event_id,omitempty"`
	Data        string    `json:"data"`
	Error       string    `json:"error"`
	Reason      string    `json:"reason"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
}

// NewFailedRecord builds a FailedRecord from the log record and the last error.
func NewFailedRecord(rec *messaging.Record, eventID string, err error, reason string, attempts int) *FailedRecord {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &FailedRecord{
		Timestamp:   now,
		Partition:   rec.Partition,
		Offset:      rec.Offset,
		Key:         rec.Key,
		EventID:     eventID,
		Data:        string(rec.Data),
		Error:       msg,
		Reason:      reason,
		Attempts:    attempts,
		LastAttempt: now,
	}
}

// Writer is a dead-letter destination.
type Writer interface {
	Write(ctx context.Context, failed *FailedRecord) error
	List(ctx context.Context, limit int) ([]FailedRecord, error)
	Stats(ctx context.Context) map[string]interface{}
	Purge(ctx context.Context) error
}
