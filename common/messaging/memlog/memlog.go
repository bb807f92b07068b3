// Package memlog is an in-process durable log used by tests and the
// single-binary development mode. It honours the same contract as the
// JetStream log: keyed partitioning, per-partition order, message-id
// deduplication and commit-after-handle.
package memlog

import (
	"context"
	"sync"
	"time"

	"github.com/telhawk-systems/trackstack/common/messaging"
)

// Log is an in-memory partitioned log with one committed position per partition.
type Log struct {
	mu         sync.Mutex
	partitions [][]messaging.Record
	committed  []uint64
	delivered  []uint64
	msgIDs     map[string]messaging.Position
	appendErr  error
	closed     bool
	notify     chan struct{}

	redeliveryDelay time.Duration
}

var (
	_ messaging.LogProducer = (*Log)(nil)
	_ messaging.LogConsumer = (*Log)(nil)
)

// Option configures a Log.
type Option func(*Log)

// WithRedeliveryDelay sets the pause before a failed record is handed out again.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(l *Log) {
		l.redeliveryDelay = d
	}
}

// New creates a log with n partitions.
func New(n int, opts ...Option) *Log {
	if n < 1 {
		n = 1
	}
	l := &Log{
		partitions:      make([][]messaging.Record, n),
		committed:       make([]uint64, n),
		delivered:       make([]uint64, n),
		msgIDs:          make(map[string]messaging.Position),
		notify:          make(chan struct{}),
		redeliveryDelay: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Partitions returns the partition count.
func (l *Log) Partitions() int {
	return len(l.partitions)
}

// SetAppendError makes every following Append fail with err until it is reset with nil.
func (l *Log) SetAppendError(err error) {
	l.mu.Lock()
	l.appendErr = err
	l.mu.Unlock()
}

// Append adds a record to the partition chosen by key.
func (l *Log) Append(ctx context.Context, key string, data []byte, opts ...messaging.AppendOption) (messaging.Position, error) {
	if err := ctx.Err(); err != nil {
		return messaging.Position{}, err
	}
	o := messaging.ApplyAppendOptions(opts...)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return messaging.Position{}, messaging.ErrClosed
	}
	if l.appendErr != nil {
		return messaging.Position{}, l.appendErr
	}
	if o.MsgID != "" {
		if pos, ok := l.msgIDs[o.MsgID]; ok {
			pos.Duplicate = true
			return pos, nil
		}
	}

	p := messaging.PartitionFor(key, len(l.partitions))
	buf := make([]byte, len(data))
	copy(buf, data)

	metadata := make(map[string]string, len(o.Headers)+1)
	for k, v := range o.Headers {
		metadata[k] = v
	}
	if o.MsgID != "" {
		metadata[messaging.HeaderMsgID] = o.MsgID
	}

	rec := messaging.Record{
		Key:       key,
		Partition: p,
		Offset:    uint64(len(l.partitions[p]) + 1),
		Data:      buf,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
	l.partitions[p] = append(l.partitions[p], rec)

	pos := messaging.Position{Partition: p, Offset: rec.Offset}
	if o.MsgID != "" {
		l.msgIDs[o.MsgID] = pos
	}

	close(l.notify)
	l.notify = make(chan struct{})
	return pos, nil
}

// ConsumePartition hands out records after the committed position, in order.
func (l *Log) ConsumePartition(ctx context.Context, partition int, handler messaging.RecordHandler) error {
	if partition < 0 || partition >= len(l.partitions) {
		return messaging.ErrClosed
	}

	for {
		rec, wait, ok := l.next(partition)
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-wait:
				continue
			}
		}

		if err := handler(ctx, &rec); err != nil {
			if messaging.IsStop(err) {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.redeliveryDelay):
			}
			continue
		}

		l.mu.Lock()
		l.committed[partition] = rec.Offset
		l.mu.Unlock()
	}
}

func (l *Log) next(partition int) (messaging.Record, <-chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.committed[partition]
	if idx >= uint64(len(l.partitions[partition])) {
		return messaging.Record{}, l.notify, false
	}

	rec := l.partitions[partition][idx]
	rec.Redelivered = l.delivered[partition] >= rec.Offset
	l.delivered[partition] = rec.Offset
	return rec, nil, true
}

// Records returns a copy of all records of a partition.
func (l *Log) Records(partition int) []messaging.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]messaging.Record, len(l.partitions[partition]))
	copy(out, l.partitions[partition])
	return out
}

// Len returns the total number of records across partitions.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range l.partitions {
		n += len(p)
	}
	return n
}

// Committed returns the committed offset of a partition.
func (l *Log) Committed(partition int) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed[partition]
}

// Lag returns the number of appended but uncommitted records across partitions.
func (l *Log) Lag() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	lag := 0
	for i, p := range l.partitions {
		lag += len(p) - int(l.committed[i])
	}
	return lag
}

// IsConnected always reports true for an open log.
func (l *Log) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

// Ping fails once the log is closed.
func (l *Log) Ping(ctx context.Context) error {
	if !l.IsConnected() {
		return messaging.ErrClosed
	}
	return nil
}

// Close rejects further appends.
func (l *Log) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
