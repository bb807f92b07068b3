package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Prober checks whether the collection endpoint is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// HTTPProber treats any HTTP response from URL as reachable.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p HTTPProber) Probe(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// HostConfig configures a Host.
type HostConfig struct {
	// ProbeInterval is how often reachability is re-checked. Zero disables probing
	// and the host is always considered online.
	ProbeInterval time.Duration

	// HandleOSSignals turns SIGINT and SIGTERM into SignalTeardown.
	HandleOSSignals bool

	Logger *slog.Logger
}

// Host is the Platform for a regular Go process.
type Host struct {
	storage Storage
	prober  Prober
	cfg     HostConfig
	logger  *slog.Logger

	online    atomic.Bool
	signals   chan Signal
	startOnce sync.Once
}

var _ Platform = (*Host)(nil)

// NewHost builds a Host over storage. prober may be nil.
func NewHost(storage Storage, prober Prober, cfg HostConfig) *Host {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		storage: storage,
		prober:  prober,
		cfg:     cfg,
		logger:  logger,
		signals: make(chan Signal, 16),
	}
	h.online.Store(true)
	return h
}

func (h *Host) Read(key string) (string, bool, error) { return h.storage.Get(key) }
func (h *Host) Write(key, value string) error         { return h.storage.Set(key, value) }
func (h *Host) IsOnline() bool                        { return h.online.Load() }
func (h *Host) Signals() <-chan Signal                { return h.signals }

// Start runs the reachability probe and OS signal relay until ctx is done.
func (h *Host) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		if h.prober != nil && h.cfg.ProbeInterval > 0 {
			h.setOnline(h.prober.Probe(ctx))
			go h.probeLoop(ctx)
		}
		if h.cfg.HandleOSSignals {
			go h.relayOSSignals(ctx)
		}
	})
}

func (h *Host) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.setOnline(h.prober.Probe(ctx))
		}
	}
}

func (h *Host) relayOSSignals(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case <-ctx.Done():
	case sig := <-ch:
		h.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		h.emit(SignalTeardown)
	}
}

func (h *Host) setOnline(online bool) {
	if h.online.Swap(online) == online {
		return
	}
	if online {
		h.logger.Info("collector reachable")
		h.emit(SignalOnline)
	} else {
		h.logger.Warn("collector unreachable")
		h.emit(SignalOffline)
	}
}

func (h *Host) emit(s Signal) {
	select {
	case h.signals <- s:
	default:
		h.logger.Warn("dropping platform signal", slog.String("signal", s.String()))
	}
}

// Close closes the underlying storage.
func (h *Host) Close() error {
	return h.storage.Close()
}

// Storage backends accepted by OpenStorage.
const (
	BackendPebble = "pebble"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// OpenStorage opens the named backend at path.
func OpenStorage(backend, path string) (Storage, error) {
	switch backend {
	case BackendPebble, "":
		return OpenPebble(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
