package platform

import (
	"sync"
)

// MemoryStorage is a Storage held in a map.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]string
	err  error
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

// SetError makes every following operation fail with err (nil restores it).
func (m *MemoryStorage) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

// Clear wipes all keys, like a user clearing site data.
func (m *MemoryStorage) Clear() {
	m.mu.Lock()
	m.data = make(map[string]string)
	m.mu.Unlock()
}

func (m *MemoryStorage) Close() error { return nil }

// Memory is a Platform fully controlled by the caller. Tests drive
// connectivity and lifecycle through SetOnline and Emit.
type Memory struct {
	*MemoryStorage

	mu      sync.RWMutex
	online  bool
	signals chan Signal
}

var _ Platform = (*Memory)(nil)

// NewMemory returns an online Memory platform with empty storage.
func NewMemory() *Memory {
	return NewMemoryWithStorage(NewMemoryStorage())
}

// NewMemoryWithStorage shares storage between platform instances, which
// simulates a process restart.
func NewMemoryWithStorage(s *MemoryStorage) *Memory {
	return &Memory{
		MemoryStorage: s,
		online:        true,
		signals:       make(chan Signal, 16),
	}
}

func (m *Memory) Read(key string) (string, bool, error) { return m.Get(key) }
func (m *Memory) Write(key, value string) error         { return m.Set(key, value) }

func (m *Memory) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Memory) Signals() <-chan Signal { return m.signals }

// SetOnline changes connectivity and emits a transition signal when it changes.
func (m *Memory) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		m.Emit(SignalOnline)
	} else {
		m.Emit(SignalOffline)
	}
}

// Emit delivers a signal, dropping it if nobody drains the channel.
func (m *Memory) Emit(s Signal) {
	select {
	case m.signals <- s:
	default:
	}
}
