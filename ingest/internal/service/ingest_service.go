package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/common/messaging"
	"github.com/telhawk-systems/trackstack/common/models"
	"github.com/telhawk-systems/trackstack/ingest/internal/metrics"
	"github.com/telhawk-systems/trackstack/ingest/internal/validator"
)

// ErrPublish is returned when an event could not be appended to the log.
var ErrPublish = errors.New("failed to publish event")

// ValidationError lists every problem found in a batch.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid batch: %d problem(s)", len(e.Details))
}

// IngestService validates batches and republishes each event onto the log.
type IngestService struct {
	log            messaging.LogProducer
	validator      *validator.Chain
	publishTimeout time.Duration
	logger         *slog.Logger
}

// NewIngestService creates the service. A nil chain uses validator.Default().
func NewIngestService(log messaging.LogProducer, chain *validator.Chain, publishTimeout time.Duration, logger *slog.Logger) *IngestService {
	if chain == nil {
		chain = validator.Default()
	}
	return &IngestService{
		log:            log,
		validator:      chain,
		publishTimeout: publishTimeout,
		logger:         logging.OrDefault(logger),
	}
}

// Ingest publishes events individually, in order, keyed by user (or session).
// Nothing is published when any event is invalid. On a publish failure the
// events before it stay published; the client resends the whole batch and the
// store deduplicates by event_id.
func (s *IngestService) Ingest(ctx context.Context, events []models.Event) (int, error) {
	if details := s.validator.ValidateBatch(ctx, events); len(details) > 0 {
		metrics.EventsTotal.WithLabelValues(metrics.ResultInvalid).Add(float64(len(events)))
		return 0, &ValidationError{Details: details}
	}

	for i := range events {
		if err := s.publish(ctx, &events[i]); err != nil {
			metrics.EventsTotal.WithLabelValues(metrics.ResultPublishFailed).Add(float64(len(events) - i))
			return i, err
		}
		metrics.EventsTotal.WithLabelValues(metrics.ResultAccepted).Inc()
	}
	return len(events), nil
}

func (s *IngestService) publish(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPublish, event.EventID, err)
	}

	if s.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
	}

	start := time.Now()
	pos, err := s.log.Append(ctx, event.PartitionKey(), data, messaging.WithMsgID(event.EventID))
	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PublishErrors.Inc()
		s.logger.ErrorContext(ctx, "failed to publish event",
			logging.EventID(event.EventID),
			logging.EventType(event.EventType),
			logging.Error(err))
		return fmt.Errorf("%w %s: %w", ErrPublish, event.EventID, err)
	}
	if pos.Duplicate {
		metrics.PublishDuplicates.Inc()
	}

	s.logger.DebugContext(ctx, "event published",
		logging.EventID(event.EventID),
		logging.EventType(event.EventType),
		logging.Partition(pos.Partition))
	return nil
}
