package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/telhawk-systems/trackstack/common/messaging"
)

// JetStreamClient extends Client with JetStream persistence capabilities.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	MaxBytes int64

	// Duplicates is the window in which a repeated Nats-Msg-Id is dropped.
	Duplicates time.Duration

	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{
		Client: client,
		js:     js,
	}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		Duplicates: cfg.Duplicates,
		Retention:  cfg.Retention,
		Storage:    cfg.Storage,
	}

	stream, err := c.js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}

	return stream, nil
}

// Stream looks up an existing stream.
func (c *JetStreamClient) Stream(ctx context.Context, name string) (jetstream.Stream, error) {
	stream, err := c.js.Stream(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", name, err)
	}
	return stream, nil
}

// PublishSync publishes a message with headers and waits for the stream ack.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte, headers map[string]string) (*jetstream.PubAck, error) {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	if len(headers) > 0 {
		msg.Header = make(nats.Header, len(headers))
		for k, v := range headers {
			msg.Header.Set(k, v)
		}
	}
	return c.js.PublishMsg(ctx, msg)
}

// LogConfig describes the partitioned event log stream.
type LogConfig struct {
	Stream        string
	SubjectPrefix string
	Partitions    int
	MaxAge        time.Duration
	Duplicates    time.Duration

	// AckWait bounds how long a delivered record may stay unacknowledged.
	AckWait time.Duration

	// RedeliveryDelay is applied to records whose handler failed.
	RedeliveryDelay time.Duration

	// FetchWait is the long-poll interval of each partition reader.
	FetchWait time.Duration
}

// DefaultLogConfig returns the EVENTS stream layout.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Stream:          messaging.StreamEvents,
		SubjectPrefix:   messaging.SubjectEventsPrefix,
		Partitions:      messaging.DefaultPartitions,
		MaxAge:          7 * 24 * time.Hour,
		Duplicates:      2 * time.Minute,
		AckWait:         60 * time.Second,
		RedeliveryDelay: 5 * time.Second,
		FetchWait:       2 * time.Second,
	}
}

// Log is a partitioned durable log on a JetStream stream. Each partition is a
// subject; each reader is a durable pull consumer with one record in flight.
type Log struct {
	client *JetStreamClient
	stream jetstream.Stream
	cfg    LogConfig
	logger *slog.Logger
}

var (
	_ messaging.LogProducer = (*Log)(nil)
	_ messaging.LogConsumer = (*Log)(nil)
)

// NewLog ensures the stream exists and returns a Log bound to it.
func NewLog(ctx context.Context, client *JetStreamClient, cfg LogConfig, logger *slog.Logger) (*Log, error) {
	if cfg.Partitions < 1 {
		return nil, fmt.Errorf("invalid partition count %d", cfg.Partitions)
	}
	if logger == nil {
		logger = slog.Default()
	}

	stream, err := client.CreateOrUpdateStream(ctx, StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{messaging.WildcardSubject(cfg.SubjectPrefix)},
		MaxAge:     cfg.MaxAge,
		Duplicates: cfg.Duplicates,
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
	})
	if err != nil {
		return nil, err
	}

	return &Log{client: client, stream: stream, cfg: cfg, logger: logger}, nil
}

// Partitions returns the configured partition count.
func (l *Log) Partitions() int {
	return l.cfg.Partitions
}

// Append publishes data to the partition selected by key and waits for the
// stream acknowledgement.
func (l *Log) Append(ctx context.Context, key string, data []byte, opts ...messaging.AppendOption) (messaging.Position, error) {
	o := messaging.ApplyAppendOptions(opts...)
	partition := messaging.PartitionFor(key, l.cfg.Partitions)
	subject := messaging.PartitionSubject(l.cfg.SubjectPrefix, partition)

	headers := make(map[string]string, len(o.Headers)+2)
	for k, v := range o.Headers {
		headers[k] = v
	}
	headers[messaging.HeaderKey] = key
	if o.MsgID != "" {
		headers[messaging.HeaderMsgID] = o.MsgID
	}

	ack, err := l.client.PublishSync(ctx, subject, data, headers)
	if err != nil {
		return messaging.Position{}, fmt.Errorf("publish to %s: %w", subject, err)
	}

	return messaging.Position{
		Partition: partition,
		Offset:    ack.Sequence,
		Duplicate: ack.Duplicate,
	}, nil
}

// ConsumePartition reads one partition through its durable consumer.
func (l *Log) ConsumePartition(ctx context.Context, partition int, handler messaging.RecordHandler) error {
	if partition < 0 || partition >= l.cfg.Partitions {
		return fmt.Errorf("partition %d out of range [0,%d)", partition, l.cfg.Partitions)
	}

	name := messaging.ConsumerName(partition)
	consumer, err := l.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		FilterSubject: messaging.PartitionSubject(l.cfg.SubjectPrefix, partition),
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       l.cfg.AckWait,
		MaxAckPending: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update consumer %s: %w", name, err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(l.cfg.FetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("fetch failed", slog.Int("partition", partition), slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.cfg.RedeliveryDelay):
			}
			continue
		}

		for msg := range batch.Messages() {
			if err := l.handle(ctx, partition, msg, handler); err != nil {
				return err
			}
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && ctx.Err() == nil {
			l.logger.Warn("fetch batch error", slog.Int("partition", partition), slog.String("error", err.Error()))
		}
	}
}

func (l *Log) handle(ctx context.Context, partition int, msg jetstream.Msg, handler messaging.RecordHandler) error {
	rec := &messaging.Record{
		Partition: partition,
		Data:      msg.Data(),
	}
	if meta, err := msg.Metadata(); err == nil {
		rec.Offset = meta.Sequence.Stream
		rec.Timestamp = meta.Timestamp
		rec.Redelivered = meta.NumDelivered > 1
	}
	if headers := msg.Headers(); headers != nil {
		rec.Metadata = make(map[string]string, len(headers))
		for k := range headers {
			rec.Metadata[k] = headers.Get(k)
		}
		rec.Key = rec.Metadata[messaging.HeaderKey]
	}

	if err := handler(ctx, rec); err != nil {
		if messaging.IsStop(err) {
			_ = msg.Nak()
			return err
		}
		_ = msg.NakWithDelay(l.cfg.RedeliveryDelay)
		return nil
	}

	if err := msg.DoubleAck(ctx); err != nil {
		// The record stays pending and is redelivered after AckWait.
		l.logger.Warn("ack failed", slog.Int("partition", partition), slog.Uint64("offset", rec.Offset), slog.String("error", err.Error()))
	}
	return nil
}

// Close is a no-op; the owning JetStreamClient closes the connection.
func (l *Log) Close() error {
	return nil
}
