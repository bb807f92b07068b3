// Package transport delivers event batches to the collection gateway.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/telhawk-systems/trackstack/common/models"
)

// CollectPath is the gateway endpoint that accepts event batches.
const CollectPath = "/event/collect"

// ErrRejected marks a batch the gateway refused as invalid. Resending the same
// batch cannot succeed.
var ErrRejected = errors.New("batch rejected by collector")

// ErrTooLarge marks a batch whose body exceeded the gateway limit. Smaller
// batches of the same events may still be accepted.
var ErrTooLarge = errors.New("batch too large for collector")

// StatusError is returned for non-2xx gateway responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("collector returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("collector returned status %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether the gateway refused the batch contents. Only 400
// qualifies; other 4xx come from routing, auth or limits and may clear up.
func (e *StatusError) Permanent() bool {
	return e.StatusCode == http.StatusBadRequest
}

// Sender delivers one batch. A nil error means every event was accepted.
type Sender interface {
	Send(ctx context.Context, events []models.Event) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, events []models.Event) error

func (f SenderFunc) Send(ctx context.Context, events []models.Event) error { return f(ctx, events) }

// HTTPSender posts batches as a JSON array.
type HTTPSender struct {
	endpoint  string
	client    *http.Client
	userAgent string
}

// Option configures an HTTPSender.
type Option func(*HTTPSender)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPSender) { s.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *HTTPSender) { s.userAgent = ua }
}

// NewHTTPSender targets baseURL + CollectPath.
func NewHTTPSender(baseURL string, opts ...Option) *HTTPSender {
	s := &HTTPSender{
		endpoint:  strings.TrimRight(baseURL, "/") + CollectPath,
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: "trackstack-tracker",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Endpoint returns the full collect URL.
func (s *HTTPSender) Endpoint() string { return s.endpoint }

// Send posts events and classifies the outcome.
func (s *HTTPSender) Send(ctx context.Context, events []models.Event) error {
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("%w: encode batch: %w", ErrRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	switch {
	case statusErr.Permanent():
		return fmt.Errorf("%w: %w", ErrRejected, statusErr)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %w", ErrTooLarge, statusErr)
	}
	return statusErr
}

// IsRejected reports whether err is a permanent rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsTooLarge reports whether the batch should be split and resent.
func IsTooLarge(err error) bool {
	return errors.Is(err, ErrTooLarge)
}
