package tracker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/trackstack/common/models"
	"github.com/telhawk-systems/trackstack/tracker/platform"
	"github.com/telhawk-systems/trackstack/tracker/queue"
	"github.com/telhawk-systems/trackstack/tracker/transport"
)

type recordingSender struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (s *recordingSender) Send(ctx context.Context, events []models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

func quietQueue() queue.Config {
	cfg := queue.DefaultConfig()
	cfg.BatchInterval = time.Hour
	cfg.HealthPingInterval = 0
	return cfg
}

func TestTracker_TrackAndClose(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	sender := &recordingSender{}
	tr, err := New(platform.NewMemory(), sender, WithQueueConfig(quietQueue()), WithClock(clock))
	require.NoError(t, err)

	tr.PageView("https://shop.example.com/", "Shop")
	tr.Track("add_to_cart", map[string]any{"sku": "A-1"})
	tr.ReportDepth(40)
	tr.ReportDepth(72.6)
	tr.ReportDepth(10)

	mu.Lock()
	now = start.Add(90 * time.Second)
	mu.Unlock()

	result, err := tr.Close(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.ResultSent, result)

	assert.Equal(t, []string{"page_view", "add_to_cart", "time_on_page", "scroll_depth"}, sender.types())
	assert.Equal(t, int64(90000), sender.events[2].Payload["milliseconds"])
	assert.Equal(t, 73, sender.events[3].Payload["percent"])
	assert.Equal(t, "https://shop.example.com/", sender.events[1].Context.URL)
	assert.Equal(t, tr.UserID(), sender.events[0].UserID)

	_, err = tr.Close(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	tr.Track("after_close", nil)
	assert.Len(t, sender.types(), 4)
}

func TestTracker_FailedCloseKeepsEventsForNextRun(t *testing.T) {
	storage := platform.NewMemoryStorage()
	failing := &recordingSender{err: &transport.StatusError{StatusCode: 503}}

	tr, err := New(platform.NewMemoryWithStorage(storage), failing, WithQueueConfig(quietQueue()))
	require.NoError(t, err)
	user := tr.UserID()
	tr.Track("checkout", nil)

	result, err := tr.Close(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.ResultFailed, result)

	sender := &recordingSender{}
	next, err := New(platform.NewMemoryWithStorage(storage), sender, WithQueueConfig(quietQueue()))
	require.NoError(t, err)
	assert.Equal(t, user, next.UserID())
	assert.Equal(t, 2, next.Queue().Len())

	assert.Equal(t, queue.ResultSent, next.Flush(context.Background()))
	assert.Equal(t, []string{"checkout", "time_on_page"}, sender.types())
}

func TestInit_DeliversOverHTTP(t *testing.T) {
	var mu sync.Mutex
	var received []models.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != transport.CollectPath {
			w.WriteHeader(http.StatusOK)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var events []models.Event
		require.NoError(t, json.Unmarshal(body, &events))
		mu.Lock()
		received = append(received, events...)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{
		Endpoint:       srv.URL,
		StorageBackend: platform.BackendSQLite,
		StoragePath:    filepath.Join(t.TempDir(), "tracker.db"),
		Queue:          quietQueue(),
		ProbeInterval:  time.Hour,
		AppName:        "test-app",
		Version:        "0.1.0",
	}
	cfg.Queue.BatchSize = 2

	tr, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	tr.Track("a", nil)
	tr.Track("b", nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 5*time.Millisecond)

	_, err = tr.Close(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3)
	assert.Contains(t, received[0].Device.UserAgent, "test-app/0.1.0")
	assert.Equal(t, "time_on_page", received[2].EventType)
}

func TestInit_Errors(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	assert.Error(t, err)

	_, err = Init(context.Background(), Config{Endpoint: "http://localhost:1", StorageBackend: "tape"})
	assert.Error(t, err)
}
