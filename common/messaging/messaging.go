// Package messaging defines the durable log the gateway appends to and the
// storage consumer reads from. Implementations live in subpackages (nats, memlog)
// so services are not coupled to a specific broker.
package messaging

import (
	"context"
	"errors"
	"time"
)

// HeaderMsgID carries the idempotency key of an appended record.
// JetStream uses it for duplicate suppression inside its dedup window.
const HeaderMsgID = "Nats-Msg-Id"

// HeaderKey carries the partition key of an appended record.
const HeaderKey = "Log-Key"

// ErrStopConsuming tells a log consumer to stop reading the partition and return
// the handler's error. Any other handler error leaves the record uncommitted and
// it is delivered again.
var ErrStopConsuming = errors.New("stop consuming partition")

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("log closed")

// Record is one entry of the durable log.
type Record struct {
	// Key selects the partition; records sharing a key keep their append order.
	Key string

	// Partition is the partition the record was appended to.
	Partition int

	// Offset is the position of the record within its partition, starting at 1.
	Offset uint64

	// Data is the raw record payload.
	Data []byte

	// Metadata contains optional key-value headers.
	Metadata map[string]string

	// Timestamp is when the log accepted the record.
	Timestamp time.Time

	// Redelivered is true when the record was handed out before without a commit.
	Redelivered bool
}

// Position identifies an appended record.
type Position struct {
	Partition int
	Offset    uint64
	Duplicate bool
}

// RecordHandler processes one record. Returning nil commits the record.
type RecordHandler func(ctx context.Context, rec *Record) error

// LogProducer appends records to the durable log.
type LogProducer interface {
	// Append durably appends data under key and returns once the log has accepted
	// it. A nil error means the record will be delivered to consumers.
	Append(ctx context.Context, key string, data []byte, opts ...AppendOption) (Position, error)

	// Close releases any resources held by the producer.
	Close() error
}

// LogConsumer reads partitions of the durable log.
type LogConsumer interface {
	// Partitions returns the number of partitions of the log.
	Partitions() int

	// ConsumePartition delivers records of one partition to handler in order,
	// one at a time, resuming after the last committed record. It blocks until
	// ctx is done (returning nil) or handler returns an error wrapping
	// ErrStopConsuming (returning that error).
	ConsumePartition(ctx context.Context, partition int, handler RecordHandler) error
}

// AppendOption configures a single append.
type AppendOption func(*AppendOptions)

// AppendOptions is the resolved set of append options. Implementations call
// ApplyAppendOptions to build it.
type AppendOptions struct {
	MsgID   string
	Headers map[string]string
}

// WithMsgID sets the idempotency key of the appended record.
func WithMsgID(id string) AppendOption {
	return func(o *AppendOptions) {
		o.MsgID = id
	}
}

// WithHeader adds a header to the appended record.
func WithHeader(key, value string) AppendOption {
	return func(o *AppendOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// ApplyAppendOptions resolves opts.
func ApplyAppendOptions(opts ...AppendOption) AppendOptions {
	var o AppendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IsStop reports whether err asks the consumer loop to stop.
func IsStop(err error) bool {
	return errors.Is(err, ErrStopConsuming)
}
