package seeder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/common/models"
	"github.com/telhawk-systems/trackstack/tracker"
	"github.com/telhawk-systems/trackstack/tracker/queue"
	"github.com/telhawk-systems/trackstack/tracker/transport"
)

func TestGenerator_Reproducible(t *testing.T) {
	a, err := NewGenerator(42, nil)
	require.NoError(t, err)
	b, err := NewGenerator(42, nil)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
	assert.Equal(t, a.Device(), b.Device())
}

func TestGenerator_Samples(t *testing.T) {
	gen, err := NewGenerator(7, nil)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		s := gen.Next()
		seen[s.EventType] = true
		require.Contains(t, DefaultEventTypes, s.EventType)

		if s.EventType == TypePageView {
			assert.Contains(t, s.URL, "https://")
			assert.NotEmpty(t, s.Title)
			assert.GreaterOrEqual(t, s.Depth, 5.0)
			assert.LessOrEqual(t, s.Depth, 100.0)
			assert.Nil(t, s.Payload)
		} else {
			assert.NotEmpty(t, s.Payload)
		}
	}
	assert.Len(t, seen, len(DefaultEventTypes))
}

func TestGenerator_RestrictedTypes(t *testing.T) {
	gen, err := NewGenerator(1, []string{TypeSearch})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		s := gen.Next()
		assert.Equal(t, TypeSearch, s.EventType)
		assert.Contains(t, s.Payload, "query")
	}

	_, err = NewGenerator(1, []string{"checkout"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown event type "checkout"`)
}

type recordingSender struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (s *recordingSender) Send(_ context.Context, events []models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSender) byType() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, e := range s.events {
		counts[e.EventType]++
	}
	return counts
}

func testQueueConfig() queue.Config {
	cfg := queue.DefaultConfig()
	cfg.BatchSize = 5
	cfg.BatchInterval = time.Hour
	cfg.HealthPingInterval = 0
	return cfg
}

func TestRunner_DeliversEverything(t *testing.T) {
	sender := &recordingSender{}
	r := NewRunner(Config{Count: 23, Users: 3, Seed: 99, Queue: testQueueConfig()}, sender, logging.Discard())

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	counts := sender.byType()
	generated := 0
	for _, typ := range DefaultEventTypes {
		generated += counts[typ]
	}
	assert.Equal(t, 23, generated)
	assert.Equal(t, 3, counts[tracker.EventTypeTimeOnPage])

	assert.Equal(t, 3, summary.Users)
	assert.Equal(t, 23, summary.Tracked)
	assert.Equal(t, len(sender.events), summary.Delivered)
	assert.Zero(t, summary.Pending)
	assert.Zero(t, summary.Rejected)

	users := map[string]bool{}
	for _, e := range sender.events {
		require.NotEmpty(t, e.UserID)
		require.NotNil(t, e.Device)
		users[e.UserID] = true
	}
	assert.Len(t, users, 3)
}

func TestRunner_RejectedBatches(t *testing.T) {
	rejection := fmt.Errorf("%w: %w", transport.ErrRejected, &transport.StatusError{StatusCode: 400, Body: "Invalid event"})
	sender := &recordingSender{err: rejection}
	r := NewRunner(Config{Count: 4, Users: 1, Seed: 3, Queue: testQueueConfig()}, sender, logging.Discard())

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Delivered)
	assert.Positive(t, summary.Rejected)
	assert.Zero(t, summary.Pending)
}

func TestRunner_GatewayDownKeepsPending(t *testing.T) {
	sender := &recordingSender{err: errors.New("connection refused")}
	cfg := testQueueConfig()
	cfg.BatchSize = 100
	r := NewRunner(Config{Count: 4, Users: 2, Seed: 3, Queue: cfg}, sender, logging.Discard())

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Delivered)
	// 4 generated plus one time_on_page per user, scroll depth only after page views.
	assert.GreaterOrEqual(t, summary.Pending, 6)
}

func TestRunner_CancelledContext(t *testing.T) {
	sender := &recordingSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(Config{Count: 10, Users: 1, Queue: testQueueConfig()}, sender, logging.Discard())
	summary, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Tracked)
	assert.Equal(t, 1, sender.byType()[tracker.EventTypeTimeOnPage])
}

func TestRunner_InvalidCount(t *testing.T) {
	_, err := NewRunner(Config{}, &recordingSender{}, nil).Run(context.Background())
	require.Error(t, err)
}
