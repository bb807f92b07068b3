package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/common/messaging"
	"github.com/telhawk-systems/trackstack/common/messaging/nats"
)

// JetStreamQueue publishes failed records to the EVENTS_DLQ stream.
// Safe for use across multiple consumer instances.
type JetStreamQueue struct {
	js      *nats.JetStreamClient
	stream  jetstream.Stream
	logger  *slog.Logger
	written atomic.Uint64
}

var _ Writer = (*JetStreamQueue)(nil)

// NewJetStreamQueue creates the DLQ stream if needed.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *slog.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.StreamConfig{
		Name:      messaging.StreamDLQ,
		Subjects:  []string{messaging.SubjectDLQ + ".>"},
		MaxAge:    30 * 24 * time.Hour,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	return &JetStreamQueue{
		js:     js,
		stream: stream,
		logger: logging.OrDefault(logger),
	}, nil
}

// Write publishes failed to events.dlq.<reason> and waits for the stream ack.
func (q *JetStreamQueue) Write(ctx context.Context, failed *FailedRecord) error {
	if q == nil {
		return ErrDisabled
	}

	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", messaging.SubjectDLQ, failed.Reason)
	headers := map[string]string{}
	if failed.EventID != "" {
		headers[messaging.HeaderMsgID] = "dlq-" + failed.EventID
	}

	if _, err := q.js.PublishSync(ctx, subject, data, headers); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	q.written.Add(1)
	q.logger.WarnContext(ctx, "record written to dlq",
		logging.Subject(subject),
		logging.EventID(failed.EventID),
		logging.Partition(failed.Partition))
	return nil
}

func (q *JetStreamQueue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false, "backend": "jetstream"}
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		return map[string]interface{}{
			"enabled":       true,
			"backend":       "jetstream",
			"written_local": q.written.Load(),
			"error":         err.Error(),
		}
	}

	return map[string]interface{}{
		"enabled":        true,
		"backend":        "jetstream",
		"written_local":  q.written.Load(),
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
	}
}

// List reads up to limit records from the start of the stream through an
// ephemeral consumer. Messages are not removed.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedRecord, error) {
	if q == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messaging.SubjectDLQ + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var records []FailedRecord
	for msg := range msgs.Messages() {
		var failed FailedRecord
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			q.logger.Error("failed to parse dlq message", logging.Error(err))
			continue
		}
		records = append(records, failed)
	}
	if err := msgs.Error(); err != nil {
		q.logger.Warn("dlq fetch completed with error", logging.Error(err))
	}

	return records, nil
}

func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if q == nil {
		return ErrDisabled
	}
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.Info("dlq purged")
	return nil
}
