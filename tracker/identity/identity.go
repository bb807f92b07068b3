// Package identity issues the persistent user id and the rotating session id
// attached to every tracked event.
package identity

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/trackstack/tracker/platform"
)

// DefaultSessionTimeout is the inactivity window after which a session rotates.
const DefaultSessionTimeout = 30 * time.Minute

// KV is the storage the provider persists ids in.
type KV interface {
	Read(key string) (string, bool, error)
	Write(key, value string) error
}

// Provider owns the user and session ids. It is safe for concurrent use.
type Provider struct {
	kv      KV
	now     func() time.Time
	timeout time.Duration
	logger  *slog.Logger

	mu           sync.Mutex
	initialized  bool
	ephemeral    bool
	userID       string
	sessionID    string
	sessionStart time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithSessionTimeout sets the inactivity window.
func WithSessionTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a provider backed by kv.
func New(kv KV, opts ...Option) *Provider {
	p := &Provider{
		kv:      kv,
		now:     time.Now,
		timeout: DefaultSessionTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Init loads or creates the user id and evaluates the session. Calling it
// again has no effect.
func (p *Provider) Init() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initLocked()
}

func (p *Provider) initLocked() {
	if p.initialized {
		return
	}
	p.initialized = true

	if id, ok := p.read(platform.KeyUserID); ok && id != "" {
		p.userID = id
	} else {
		p.userID = uuid.NewString()
		p.write(platform.KeyUserID, p.userID)
	}

	if id, ok := p.read(platform.KeySessionID); ok && id != "" {
		if raw, ok := p.read(platform.KeySessionStart); ok {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				p.sessionID = id
				p.sessionStart = time.UnixMilli(ms)
			}
		}
	}
	p.touchLocked()
}

// UserID returns the installation's user id.
func (p *Provider) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initLocked()
	return p.userID
}

// SessionID returns the current session id. A session idle for longer than the
// timeout is replaced; otherwise its activity time is extended.
func (p *Provider) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initLocked()
	p.touchLocked()
	return p.sessionID
}

// SessionStart returns the last activity time of the current session.
func (p *Provider) SessionStart() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initLocked()
	return p.sessionStart
}

// Ephemeral reports whether ids are only held in memory because storage failed.
func (p *Provider) Ephemeral() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ephemeral
}

func (p *Provider) touchLocked() {
	now := p.now()
	if p.sessionID == "" || now.Sub(p.sessionStart) > p.timeout {
		p.sessionID = uuid.NewString()
		p.write(platform.KeySessionID, p.sessionID)
	}
	p.sessionStart = now
	p.write(platform.KeySessionStart, strconv.FormatInt(now.UnixMilli(), 10))
}

func (p *Provider) read(key string) (string, bool) {
	if p.ephemeral {
		return "", false
	}
	v, ok, err := p.kv.Read(key)
	if err != nil {
		p.degrade(err)
		return "", false
	}
	return v, ok
}

func (p *Provider) write(key, value string) {
	if p.ephemeral {
		return
	}
	if err := p.kv.Write(key, value); err != nil {
		p.degrade(err)
	}
}

func (p *Provider) degrade(err error) {
	p.ephemeral = true
	p.logger.Warn("identity storage unavailable, using in-memory ids", slog.String("error", err.Error()))
}
