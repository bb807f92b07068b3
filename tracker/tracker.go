// Package tracker is the client SDK: it wires identity, device enrichment,
// local persistence and the delivery queue behind Track and Close.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/telhawk-systems/trackstack/tracker/device"
	"github.com/telhawk-systems/trackstack/tracker/identity"
	"github.com/telhawk-systems/trackstack/tracker/platform"
	"github.com/telhawk-systems/trackstack/tracker/queue"
	"github.com/telhawk-systems/trackstack/tracker/transport"
)

// Event types emitted by the tracker itself.
const (
	EventTypePageView    = "page_view"
	EventTypeTimeOnPage  = "time_on_page"
	EventTypeScrollDepth = "scroll_depth"
)

// ErrClosed is returned by operations on a closed tracker.
var ErrClosed = errors.New("tracker closed")

// Tracker is the explicit context object of the client SDK. Create one per
// process with New or Init and call Close on shutdown.
type Tracker struct {
	platform platform.Platform
	identity *identity.Provider
	queue    *queue.Queue
	page     *device.Page
	logger   *slog.Logger
	now      func() time.Time
	closers  []func() error

	startedAt time.Time

	mu       sync.Mutex
	maxDepth float64
	closed   bool
	cancel   context.CancelFunc
}

type options struct {
	queueConfig    queue.Config
	queueOptions   []queue.Option
	sessionTimeout time.Duration
	device         device.Source
	page           *device.Page
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures a Tracker.
type Option func(*options)

func WithQueueConfig(cfg queue.Config) Option      { return func(o *options) { o.queueConfig = cfg } }
func WithQueueOptions(opts ...queue.Option) Option { return func(o *options) { o.queueOptions = append(o.queueOptions, opts...) } }
func WithSessionTimeout(d time.Duration) Option    { return func(o *options) { o.sessionTimeout = d } }
func WithDeviceSource(s device.Source) Option      { return func(o *options) { o.device = s } }
func WithPage(p *device.Page) Option               { return func(o *options) { o.page = p } }
func WithLogger(l *slog.Logger) Option             { return func(o *options) { o.logger = l } }
func WithClock(now func() time.Time) Option        { return func(o *options) { o.now = now } }

// New builds a tracker on an existing platform and sender. The identity is
// initialised and persisted events are restored; triggers start with Start.
func New(p platform.Platform, sender transport.Sender, opts ...Option) (*Tracker, error) {
	o := options{
		queueConfig: queue.DefaultConfig(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.page == nil {
		o.page = &device.Page{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}

	id := identity.New(p,
		identity.WithClock(o.now),
		identity.WithSessionTimeout(o.sessionTimeout),
		identity.WithLogger(o.logger))
	id.Init()

	qopts := []queue.Option{
		queue.WithLogger(o.logger),
		queue.WithClock(o.now),
		queue.WithContextSource(o.page),
	}
	if o.device != nil {
		qopts = append(qopts, queue.WithDeviceSource(o.device))
	}
	qopts = append(qopts, o.queueOptions...)

	q, err := queue.New(o.queueConfig, p, sender, id, qopts...)
	if err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}

	return &Tracker{
		platform:  p,
		identity:  id,
		queue:     q,
		page:      o.page,
		logger:    o.logger,
		now:       o.now,
		startedAt: o.now(),
	}, nil
}

// Config describes a tracker running in a regular Go process.
type Config struct {
	// Endpoint is the gateway base URL, e.g. http://localhost:8088.
	Endpoint string

	// StorageBackend is pebble, sqlite or memory; StoragePath its location.
	StorageBackend string
	StoragePath    string

	Queue          queue.Config
	SessionTimeout time.Duration

	// ProbeInterval is how often the gateway health endpoint is polled to
	// detect offline periods. Zero disables probing.
	ProbeInterval time.Duration

	// HandleOSSignals turns SIGINT/SIGTERM into a final flush.
	HandleOSSignals bool

	AppName string
	Version string
}

// Init opens local storage, connects the HTTP sender and starts the triggers.
func Init(ctx context.Context, cfg Config, opts ...Option) (*Tracker, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("tracker endpoint is required")
	}

	storage, err := platform.OpenStorage(cfg.StorageBackend, cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open tracker storage: %w", err)
	}

	sender := transport.NewHTTPSender(cfg.Endpoint, transport.WithUserAgent(userAgent(cfg)))

	var prober platform.Prober
	if cfg.ProbeInterval > 0 {
		prober = platform.HTTPProber{URL: cfg.Endpoint + "/health"}
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	host := platform.NewHost(storage, prober, platform.HostConfig{
		ProbeInterval:   cfg.ProbeInterval,
		HandleOSSignals: cfg.HandleOSSignals,
		Logger:          o.logger,
	})

	qcfg := cfg.Queue
	if qcfg == (queue.Config{}) {
		qcfg = queue.DefaultConfig()
	}
	all := []Option{
		WithQueueConfig(qcfg),
		WithSessionTimeout(cfg.SessionTimeout),
		WithDeviceSource(device.Host{AppName: cfg.AppName, Version: cfg.Version}),
	}
	t, err := New(host, sender, append(all, opts...)...)
	if err != nil {
		storage.Close()
		return nil, err
	}
	t.closers = append(t.closers, host.Close)

	host.Start(ctx)
	t.Start(ctx)
	return t, nil
}

func userAgent(cfg Config) string {
	name := cfg.AppName
	if name == "" {
		name = "trackstack-tracker"
	}
	if cfg.Version != "" {
		name += "/" + cfg.Version
	}
	return name
}

// Start runs the queue triggers until ctx is done or Close is called.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.queue.Start(runCtx)
}

// Track enqueues a custom event.
func (t *Tracker) Track(eventType string, payload map[string]any) {
	if t.isClosed() {
		t.logger.Warn("tracker closed, dropping event", slog.String("event_type", eventType))
		return
	}
	t.queue.Enqueue(eventType, payload)
}

// PageView records navigation to url and enqueues a page_view event.
func (t *Tracker) PageView(url, title string) {
	t.page.Navigate(url, title)
	t.Track(EventTypePageView, map[string]any{"url": url, "title": title})
}

// ReportDepth records how far through the current content the user got, as a
// percentage. The maximum is sent as scroll_depth on Close.
func (t *Tracker) ReportDepth(percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if percent > t.maxDepth {
		t.maxDepth = math.Min(percent, 100)
	}
}

// Flush attempts delivery of everything queued now.
func (t *Tracker) Flush(ctx context.Context) queue.Result {
	return t.queue.Flush(ctx, false)
}

// UserID returns the persistent user id.
func (t *Tracker) UserID() string { return t.identity.UserID() }

// SessionID returns the current session id.
func (t *Tracker) SessionID() string { return t.identity.SessionID() }

// Queue exposes the underlying queue for inspection.
func (t *Tracker) Queue() *queue.Queue { return t.queue }

// Close enqueues the teardown events, makes a final delivery attempt and
// releases local storage. Undelivered events stay persisted for the next run.
func (t *Tracker) Close(ctx context.Context) (queue.Result, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return queue.ResultClosed, ErrClosed
	}
	depth := t.maxDepth
	t.mu.Unlock()

	spent := t.now().Sub(t.startedAt)
	t.queue.Enqueue(EventTypeTimeOnPage, map[string]any{"milliseconds": spent.Milliseconds()})
	if depth > 0 {
		t.queue.Enqueue(EventTypeScrollDepth, map[string]any{"percent": int(math.Round(depth))})
	}

	t.mu.Lock()
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	result := t.queue.Flush(ctx, true)
	if result != queue.ResultSent {
		t.logger.Info("final flush did not deliver", slog.String("result", result.String()), slog.Int("queued", t.queue.Len()))
	}

	if cancel != nil {
		cancel()
	}
	var errs []error
	if err := t.queue.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range t.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return result, errors.Join(errs...)
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
