package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

var errPebbleClosed = fmt.Errorf("%w: pebble closed", ErrStorageUnavailable)

// PebbleStorage keeps tracker state in an embedded Pebble database. Every write
// is synced so the queue survives a crash. Operations after Close fail with
// ErrStorageUnavailable.
type PebbleStorage struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

// OpenPebble opens or creates the database in dir.
func OpenPebble(dir string) (*PebbleStorage, error) {
	if dir == "" {
		return nil, errors.New("pebble: data dir is required")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &PebbleStorage{db: db}, nil
}

func (p *PebbleStorage) Get(key string) (string, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", false, errPebbleClosed
	}

	val, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("pebble get %s: %w", key, err)
	}
	defer closer.Close()
	return string(val), true, nil
}

func (p *PebbleStorage) Set(key, value string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPebbleClosed
	}

	if err := p.db.Set([]byte(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	return nil
}

func (p *PebbleStorage) Delete(key string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPebbleClosed
	}

	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete %s: %w", key, err)
	}
	return nil
}

func (p *PebbleStorage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}
