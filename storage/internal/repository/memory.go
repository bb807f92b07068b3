package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/telhawk-systems/trackstack/common/models"
)

// MemoryRepository keeps events in a map keyed by event_id. Used by tests and
// by the storage service when no database is configured.
type MemoryRepository struct {
	mu       sync.Mutex
	events   map[string]models.Event
	order    []string
	closed   bool
	failures int
	failErr  error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{events: make(map[string]models.Event)}
}

// FailNext makes the next n inserts return err.
func (r *MemoryRepository) FailNext(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = n
	r.failErr = err
}

func (r *MemoryRepository) Insert(ctx context.Context, event *models.Event) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrClosed
	}
	if r.failures > 0 {
		r.failures--
		return false, r.failErr
	}
	if _, ok := r.events[event.EventID]; ok {
		return false, nil
	}

	stored, err := clone(event)
	if err != nil {
		return false, fmt.Errorf("failed to copy event: %w", err)
	}
	r.events[event.EventID] = stored
	r.order = append(r.order, event.EventID)
	return true, nil
}

func (r *MemoryRepository) Get(ctx context.Context, eventID string) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	event, ok := r.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return &event, nil
}

func (r *MemoryRepository) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	return int64(len(r.events)), nil
}

// IDs returns the stored event ids in insertion order.
func (r *MemoryRepository) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

func (r *MemoryRepository) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// clone detaches the stored row from the caller's pointers and maps.
func clone(event *models.Event) (models.Event, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return models.Event{}, err
	}
	var out models.Event
	err = json.Unmarshal(data, &out)
	return out, err
}
