package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event is one tracked user or application event. The JSON field names are the
// wire shape shared by every tracker client, the gateway and the log.
type Event struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Device    *Device        `json:"device,omitempty"`
	Context   *PageContext   `json:"context,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Device is a snapshot of the client environment. Every field is optional.
type Device struct {
	UserAgent  string      `json:"userAgent,omitempty"`
	Platform   string      `json:"platform,omitempty"`
	Language   string      `json:"language,omitempty"`
	Viewport   *Viewport   `json:"viewport,omitempty"`
	Connection *Connection `json:"connection,omitempty"`
	Online     *bool       `json:"online,omitempty"`
}

type Viewport struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	PixelRatio float64 `json:"pixelRatio,omitempty"`
}

type Connection struct {
	EffectiveType string  `json:"effectiveType,omitempty"`
	Downlink      float64 `json:"downlink,omitempty"`
	RTT           int     `json:"rtt,omitempty"`
}

// PageContext describes where the event happened.
type PageContext struct {
	URL      string `json:"url,omitempty"`
	Referrer string `json:"referrer,omitempty"`
	Title    string `json:"title,omitempty"`
}

var (
	ErrMissingEventID   = errors.New("event_id is required")
	ErrMissingEventType = errors.New("event_type is required")
	ErrMissingIdentity  = errors.New("user_id or session_id is required")
)

// Validate reports every missing required field.
func (e *Event) Validate() []error {
	var errs []error
	if e.EventID == "" {
		errs = append(errs, ErrMissingEventID)
	}
	if e.EventType == "" {
		errs = append(errs, ErrMissingEventType)
	}
	if e.UserID == "" && e.SessionID == "" {
		errs = append(errs, ErrMissingIdentity)
	}
	return errs
}

// PartitionKey is the log key: the user id, or the session id for anonymous events.
func (e *Event) PartitionKey() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.SessionID
}

// DecodeBatch decodes a request body holding either one event object or an
// array of events.
func DecodeBatch(data []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	switch trimmed[0] {
	case '[':
		var events []Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
		return events, nil
	case '{':
		var event Event
		if err := json.Unmarshal(trimmed, &event); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		return []Event{event}, nil
	default:
		return nil, errors.New("body must be a JSON object or array")
	}
}
