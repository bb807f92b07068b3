// Package consumer moves events from the durable log into the event store.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/common/messaging"
	"github.com/telhawk-systems/trackstack/common/models"
	"github.com/telhawk-systems/trackstack/storage/internal/config"
	"github.com/telhawk-systems/trackstack/storage/internal/dlq"
	"github.com/telhawk-systems/trackstack/storage/internal/metrics"
	"github.com/telhawk-systems/trackstack/storage/internal/repository"
)

// ErrWriteExhausted reports that an insert kept failing after every local retry.
var ErrWriteExhausted = errors.New("event write retries exhausted")

type Config struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	Policy       string
}

// DefaultConfig mirrors the storage service defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		RetryBackoff: 200 * time.Millisecond,
		Policy:       config.PolicySkip,
	}
}

// Consumer runs one worker per log partition. Each worker inserts a record
// and only then lets the log commit it.
type Consumer struct {
	log    messaging.LogConsumer
	repo   repository.EventRepository
	dlq    dlq.Writer
	cfg    Config
	logger *slog.Logger
}

func New(log messaging.LogConsumer, repo repository.EventRepository, dead dlq.Writer, cfg Config, logger *slog.Logger) *Consumer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Policy == "" {
		cfg.Policy = config.PolicySkip
	}
	return &Consumer{
		log:    log,
		repo:   repo,
		dlq:    dead,
		cfg:    cfg,
		logger: logging.OrDefault(logger).With(slog.String("component", "consumer")),
	}
}

// Run consumes every partition until ctx is cancelled. It returns the first
// worker error, which under fail_fast wraps ErrWriteExhausted.
func (c *Consumer) Run(ctx context.Context) error {
	n := c.log.Partitions()
	c.logger.Info("starting partition workers",
		logging.Count(n),
		slog.String("policy", c.cfg.Policy),
		slog.Int("max_attempts", c.cfg.MaxAttempts))

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < n; p++ {
		g.Go(func() error {
			metrics.WorkersRunning.Inc()
			defer metrics.WorkersRunning.Dec()

			err := c.log.ConsumePartition(gctx, p, c.HandleRecord)
			if err != nil {
				c.logger.Error("partition worker stopped", logging.Partition(p), logging.Error(err))
				return fmt.Errorf("partition %d: %w", p, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// HandleRecord persists one record. A nil return commits it; an error wrapping
// messaging.ErrStopConsuming stops the worker; any other error leaves the
// record uncommitted for redelivery.
func (c *Consumer) HandleRecord(ctx context.Context, rec *messaging.Record) error {
	partition := strconv.Itoa(rec.Partition)

	var event models.Event
	if err := json.Unmarshal(rec.Data, &event); err != nil || event.EventID == "" {
		if err == nil {
			err = models.ErrMissingEventID
		}
		return c.deadLetter(ctx, rec, "", err, dlq.ReasonMalformed, 0)
	}

	inserted, attempts, err := c.insert(ctx, &event)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, repository.ErrClosed) {
			// Shutting down; the record stays uncommitted.
			metrics.RecordsTotal.WithLabelValues(partition, metrics.ResultFailed).Inc()
			return err
		}

		exhausted := fmt.Errorf("%w after %d attempts: %w", ErrWriteExhausted, attempts, err)
		if c.cfg.Policy == config.PolicyFailFast {
			metrics.RecordsTotal.WithLabelValues(partition, metrics.ResultFailed).Inc()
			return fmt.Errorf("offset %d: %w: %w", rec.Offset, messaging.ErrStopConsuming, exhausted)
		}
		return c.deadLetter(ctx, rec, event.EventID, exhausted, dlq.ReasonWriteExhausted, attempts)
	}

	if inserted {
		metrics.RecordsTotal.WithLabelValues(partition, metrics.ResultInserted).Inc()
		c.logger.DebugContext(ctx, "event stored",
			logging.EventID(event.EventID),
			logging.Partition(rec.Partition))
	} else {
		metrics.Duplicates.Inc()
		metrics.RecordsTotal.WithLabelValues(partition, metrics.ResultDuplicate).Inc()
		c.logger.DebugContext(ctx, "duplicate event ignored",
			logging.EventID(event.EventID),
			logging.Partition(rec.Partition),
			slog.Bool("redelivered", rec.Redelivered))
	}
	return nil
}

// insert tries up to MaxAttempts times with exponential backoff between attempts.
func (c *Consumer) insert(ctx context.Context, event *models.Event) (bool, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		inserted, err := c.repo.Insert(ctx, event)
		metrics.InsertDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			return inserted, attempt, nil
		}
		lastErr = err
		if errors.Is(err, repository.ErrClosed) || ctx.Err() != nil {
			return false, attempt, err
		}

		c.logger.WarnContext(ctx, "event insert failed",
			logging.EventID(event.EventID),
			logging.Attempt(attempt),
			logging.Error(err))

		if attempt == c.cfg.MaxAttempts {
			break
		}
		metrics.InsertRetries.Inc()
		delay := c.cfg.RetryBackoff << (attempt - 1)
		select {
		case <-ctx.Done():
			return false, attempt, ctx.Err()
		case <-time.After(delay):
		}
	}
	return false, c.cfg.MaxAttempts, lastErr
}

func (c *Consumer) deadLetter(ctx context.Context, rec *messaging.Record, eventID string, cause error, reason string, attempts int) error {
	if c.dlq == nil {
		return fmt.Errorf("%s record at offset %d: %w", reason, rec.Offset, dlq.ErrDisabled)
	}

	failed := dlq.NewFailedRecord(rec, eventID, cause, reason, attempts)
	if err := c.dlq.Write(ctx, failed); err != nil {
		c.logger.ErrorContext(ctx, "dlq write failed; record will be redelivered",
			logging.Partition(rec.Partition),
			slog.Uint64("offset", rec.Offset),
			logging.Error(err))
		return fmt.Errorf("dlq write: %w", err)
	}

	metrics.DLQWrites.WithLabelValues(reason).Inc()
	metrics.RecordsTotal.WithLabelValues(strconv.Itoa(rec.Partition), metrics.ResultDLQ).Inc()
	return nil
}
