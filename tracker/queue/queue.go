// Package queue buffers tracked events on the client, persists them across
// restarts and delivers them in batches with exponential backoff.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/trackstack/common/models"
	"github.com/telhawk-systems/trackstack/tracker/device"
	"github.com/telhawk-systems/trackstack/tracker/platform"
	"github.com/telhawk-systems/trackstack/tracker/transport"
)

// Event types emitted by the queue itself.
const (
	EventTypeHealthPing = "health_ping"
)

// Identity supplies the ids stamped on each event.
type Identity interface {
	UserID() string
	SessionID() string
}

// ContextSource supplies the page context stamped on each event.
type ContextSource interface {
	Context() *models.PageContext
}

// BatchCallback observes a batch leaving the queue for good or exhausting retries.
type BatchCallback func(batch []models.Event, err error)

// Queue is the client event queue. All methods are safe for concurrent use.
type Queue struct {
	cfg       Config
	platform  platform.Platform
	sender    transport.Sender
	identity  Identity
	device    device.Source
	context   ContextSource
	scheduler Scheduler
	logger    *slog.Logger
	now       func() time.Time

	onSent      BatchCallback
	onRejected  BatchCallback
	onExhausted BatchCallback

	mu         sync.Mutex
	events     []models.Event
	retryCount int
	state      State
	closed     bool
	retryTimer Timer

	wg        sync.WaitGroup
	startOnce sync.Once
	stop      chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

func WithDeviceSource(s device.Source) Option  { return func(q *Queue) { q.device = s } }
func WithContextSource(s ContextSource) Option { return func(q *Queue) { q.context = s } }
func WithScheduler(s Scheduler) Option         { return func(q *Queue) { q.scheduler = s } }
func WithClock(now func() time.Time) Option    { return func(q *Queue) { q.now = now } }
func OnSent(cb BatchCallback) Option           { return func(q *Queue) { q.onSent = cb } }
func OnRejected(cb BatchCallback) Option       { return func(q *Queue) { q.onRejected = cb } }
func OnExhausted(cb BatchCallback) Option      { return func(q *Queue) { q.onExhausted = cb } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New creates a queue and restores any events persisted by a previous run.
func New(cfg Config, p platform.Platform, sender transport.Sender, id Identity, opts ...Option) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	q := &Queue{
		cfg:       cfg,
		platform:  p,
		sender:    sender,
		identity:  id,
		scheduler: RealScheduler,
		logger:    slog.Default(),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.events = q.load()
	return q, nil
}

func (q *Queue) load() []models.Event {
	raw, ok, err := q.platform.Read(platform.KeyQueue)
	if err != nil {
		q.logger.Warn("failed to load persisted queue", slog.String("error", err.Error()))
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var events []models.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		q.logger.Warn("discarding corrupt persisted queue", slog.String("error", err.Error()))
		return nil
	}
	if len(events) > 0 {
		q.logger.Info("restored persisted queue", slog.Int("count", len(events)))
	}
	return events
}

// persistLocked writes the live queue. Callers hold q.mu.
func (q *Queue) persistLocked() {
	events := q.events
	if events == nil {
		events = []models.Event{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		q.logger.Error("failed to encode queue", slog.String("error", err.Error()))
		return
	}
	if err := q.platform.Write(platform.KeyQueue, string(data)); err != nil {
		q.logger.Warn("failed to persist queue", slog.String("error", err.Error()))
	}
}

// Enqueue records an event. It never blocks on the network. Reaching the batch
// size starts a flush in the background.
func (q *Queue) Enqueue(eventType string, payload map[string]any) {
	if eventType == "" {
		q.logger.Warn("refusing event without type")
		return
	}

	event := q.build(eventType, payload)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("queue closed, dropping event", slog.String("event_type", eventType))
		return
	}
	q.events = append(q.events, event)
	q.persistLocked()
	if len(q.events) >= q.cfg.BatchSize {
		q.goLocked(func() { q.Flush(context.Background(), false) })
	}
	q.mu.Unlock()
}

func (q *Queue) build(eventType string, payload map[string]any) models.Event {
	event := models.Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: q.now().UTC(),
		Payload:   payload,
	}
	if q.identity != nil {
		event.UserID = q.identity.UserID()
		event.SessionID = q.identity.SessionID()
	}
	if q.device != nil {
		if d, err := q.device.Device(q.platform.IsOnline()); err == nil {
			event.Device = d
		} else {
			q.logger.Debug("device snapshot unavailable", slog.String("error", err.Error()))
		}
	}
	if q.context != nil {
		event.Context = q.context.Context()
	}
	return event
}

// goLocked runs f on a goroutine that Close waits for. Callers hold q.mu and
// have checked q.closed.
func (q *Queue) goLocked(f func()) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		f()
	}()
}

// Flush makes one delivery attempt of everything currently queued. A final
// flush leaves the events in the queue while sending and removes only what was
// delivered, so a failed final flush changes nothing.
func (q *Queue) Flush(ctx context.Context, final bool) Result {
	return q.flush(ctx, final, !final)
}

// flush is Flush with retry accounting controlled separately: a final flush
// made while the process keeps running still backs off on failure.
func (q *Queue) flush(ctx context.Context, final, retry bool) Result {
	if !q.platform.IsOnline() {
		return ResultOffline
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ResultClosed
	}
	if len(q.events) == 0 {
		q.mu.Unlock()
		return ResultEmpty
	}
	batch := make([]models.Event, len(q.events))
	copy(batch, q.events)
	if !final {
		q.events = nil
		q.persistLocked()
	}
	q.state = StateSending
	q.mu.Unlock()

	d := q.deliver(ctx, batch)

	q.mu.Lock()
	if final {
		done := make([]models.Event, 0, len(d.sent)+len(d.rejected))
		done = append(append(done, d.sent...), d.rejected...)
		if len(done) > 0 {
			q.removeLocked(done)
		}
	} else if len(d.failed) > 0 {
		q.events = append(d.failed, q.events...)
		q.persistLocked()
	}

	var (
		result  Result
		attempt int
		delay   time.Duration
	)
	switch {
	case d.err == nil:
		q.retryCount = 0
		q.state = StateIdle
		result = ResultSent
		if len(d.rejected) > 0 {
			result = ResultRejected
		}
	case !retry || q.closed:
		q.state = StateIdle
		result = ResultFailed
	default:
		q.retryCount++
		attempt = q.retryCount
		if attempt > q.cfg.MaxRetries {
			q.state = StateExhausted
			result = ResultExhausted
		} else {
			delay = q.cfg.RetryDelay(attempt)
			q.state = StateRetryScheduled
			q.scheduleLocked(delay)
			result = ResultRetryScheduled
		}
	}
	q.mu.Unlock()

	if len(d.sent) > 0 {
		q.logger.Debug("batch delivered", slog.Int("count", len(d.sent)), slog.Bool("final", final))
		if q.onSent != nil {
			q.onSent(d.sent, nil)
		}
	}
	if len(d.rejected) > 0 {
		q.logger.Error("batch rejected by collector, dropping",
			slog.Int("count", len(d.rejected)),
			slog.String("error", d.rejectErr.Error()))
		if q.onRejected != nil {
			q.onRejected(d.rejected, d.rejectErr)
		}
	}

	switch result {
	case ResultFailed:
		q.logger.Warn("flush failed, events kept for next run",
			slog.Int("count", len(d.failed)),
			slog.String("error", d.err.Error()))
	case ResultExhausted:
		q.logger.Warn("max retries reached, events stay queued",
			slog.Int("count", len(d.failed)),
			slog.Int("attempt", attempt),
			slog.String("error", d.err.Error()))
		if q.onExhausted != nil {
			q.onExhausted(d.failed, d.err)
		}
	case ResultRetryScheduled:
		q.logger.Info("batch send failed, retry scheduled",
			slog.Int("count", len(d.failed)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", d.err.Error()))
	}
	return result
}

// delivery is the outcome of sending one captured batch.
type delivery struct {
	sent      []models.Event
	rejected  []models.Event
	rejectErr error
	// failed holds everything not yet accepted once a transient error stops
	// the attempt, in queue order.
	failed []models.Event
	err    error
}

// deliver sends batch, halving any chunk the gateway finds too large. A chunk
// rejected as invalid is dropped and the rest still goes out; the first
// transient error stops the attempt.
func (q *Queue) deliver(ctx context.Context, batch []models.Event) delivery {
	var d delivery
	pending := [][]models.Event{batch}
	for len(pending) > 0 {
		chunk := pending[0]
		pending = pending[1:]

		err := q.sender.Send(ctx, chunk)
		switch {
		case err == nil:
			d.sent = append(d.sent, chunk...)
		case transport.IsTooLarge(err) && len(chunk) > 1:
			mid := len(chunk) / 2
			pending = append([][]models.Event{chunk[:mid], chunk[mid:]}, pending...)
		case transport.IsRejected(err):
			d.rejected = append(d.rejected, chunk...)
			d.rejectErr = err
		default:
			d.failed = append(d.failed, chunk...)
			for _, rest := range pending {
				d.failed = append(d.failed, rest...)
			}
			d.err = err
			return d
		}
	}
	return d
}

// scheduleLocked arms the retry timer. Callers hold q.mu.
func (q *Queue) scheduleLocked(delay time.Duration) {
	if q.closed {
		return
	}
	if q.retryTimer != nil {
		q.retryTimer.Stop()
	}
	q.retryTimer = q.scheduler.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		q.wg.Add(1)
		q.mu.Unlock()
		defer q.wg.Done()

		q.flush(context.Background(), false, true)
	})
}

// removeLocked drops the delivered events from the live queue by event id.
func (q *Queue) removeLocked(batch []models.Event) {
	delivered := make(map[string]struct{}, len(batch))
	for _, e := range batch {
		delivered[e.EventID] = struct{}{}
	}
	kept := q.events[:0]
	for _, e := range q.events {
		if _, ok := delivered[e.EventID]; !ok {
			kept = append(kept, e)
		}
	}
	q.events = kept
	q.persistLocked()
}

// Start runs the timer, health ping and platform signal triggers until ctx is
// done or Close is called.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		q.goLocked(func() { q.run(ctx) })
	})
}

func (q *Queue) run(ctx context.Context) {
	batchTicker := time.NewTicker(q.cfg.BatchInterval)
	defer batchTicker.Stop()

	var healthC <-chan time.Time
	if q.cfg.HealthPingInterval > 0 {
		healthTicker := time.NewTicker(q.cfg.HealthPingInterval)
		defer healthTicker.Stop()
		healthC = healthTicker.C
	}

	signals := q.platform.Signals()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-batchTicker.C:
			q.Flush(ctx, false)
		case <-healthC:
			q.Enqueue(EventTypeHealthPing, map[string]any{"status": "alive"})
			q.Flush(ctx, false)
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			switch {
			case sig == platform.SignalOnline:
				q.logger.Info("back online, flushing queue")
				q.Flush(ctx, false)
			case sig == platform.SignalHidden:
				// the host may never come back, but if it does the failure
				// must back off like any other
				q.flush(context.WithoutCancel(ctx), true, true)
			case sig.IsFinal():
				q.Flush(context.WithoutCancel(ctx), true)
			}
		}
	}
}

// Close stops the triggers and waits for in-flight background flushes.
// A retry already sending is waited for; later ones are cancelled. Events
// stay persisted.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.retryTimer != nil {
		q.retryTimer.Stop()
	}
	q.mu.Unlock()

	close(q.stop)
	q.wg.Wait()
	return nil
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Snapshot returns a copy of the queued events in order.
func (q *Queue) Snapshot() []models.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.Event, len(q.events))
	copy(out, q.events)
	return out
}

// RetryCount returns the number of consecutive failed attempts.
func (q *Queue) RetryCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retryCount
}

// State returns the current delivery state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}
