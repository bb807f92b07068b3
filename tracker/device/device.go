// Package device captures the environment snapshot and page context attached
// to each event.
package device

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/telhawk-systems/trackstack/common/models"
)

// Source produces a device snapshot. An error omits the device from the event.
type Source interface {
	Device(online bool) (*models.Device, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(online bool) (*models.Device, error)

func (f SourceFunc) Device(online bool) (*models.Device, error) { return f(online) }

// Host describes the running Go process as a device.
type Host struct {
	AppName    string
	Version    string
	Viewport   *models.Viewport
	Connection *models.Connection

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

var _ Source = Host{}

// Device returns the process snapshot.
func (h Host) Device(online bool) (*models.Device, error) {
	getenv := h.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	name := h.AppName
	if name == "" {
		name = "trackstack"
	}
	ua := name
	if h.Version != "" {
		ua += "/" + h.Version
	}
	ua = fmt.Sprintf("%s (%s; %s) %s", ua, runtime.GOOS, runtime.GOARCH, runtime.Version())

	d := &models.Device{
		UserAgent:  ua,
		Platform:   runtime.GOOS,
		Language:   Language(getenv),
		Viewport:   h.Viewport,
		Connection: h.Connection,
		Online:     &online,
	}
	return d, nil
}

// Language derives a BCP 47 tag from the POSIX locale variables.
// "en_US.UTF-8" becomes "en-US"; C and POSIX locales yield "".
func Language(getenv func(string) string) string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := getenv(key)
		if v == "" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		if v == "C" || v == "POSIX" || v == "" {
			return ""
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return ""
}

// Page tracks the current page context. Navigating moves the previous URL
// into the referrer.
type Page struct {
	mu  sync.RWMutex
	ctx models.PageContext
}

// NewPage starts at url with an optional external referrer.
func NewPage(url, referrer, title string) *Page {
	return &Page{ctx: models.PageContext{URL: url, Referrer: referrer, Title: title}}
}

// Navigate records a page change.
func (p *Page) Navigate(url, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx.Referrer = p.ctx.URL
	p.ctx.URL = url
	p.ctx.Title = title
}

// Context returns a copy of the current context, or nil when nothing is known.
func (p *Page) Context() *models.PageContext {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ctx == (models.PageContext{}) {
		return nil
	}
	c := p.ctx
	return &c
}
