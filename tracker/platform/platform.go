// Package platform abstracts the host the tracker runs on: key/value durable
// storage, network reachability and lifecycle signals.
package platform

import "errors"

// Well-known storage keys.
const (
	KeyQueue        = "tracker_queue"
	KeyUserID       = "tracker_user_id"
	KeySessionID    = "tracker_session_id"
	KeySessionStart = "tracker_session_start"
)

// ErrStorageUnavailable is returned when the storage backend cannot be used.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Signal is a lifecycle notification from the host.
type Signal int

const (
	// SignalOnline fires on an offline to online transition.
	SignalOnline Signal = iota + 1
	// SignalOffline fires on an online to offline transition.
	SignalOffline
	// SignalHidden means the host is going to the background. It gets a final
	// flush, but the process may keep running.
	SignalHidden
	// SignalTeardown means the process is about to exit.
	SignalTeardown
)

func (s Signal) String() string {
	switch s {
	case SignalOnline:
		return "online"
	case SignalOffline:
		return "offline"
	case SignalHidden:
		return "hidden"
	case SignalTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// IsFinal reports whether the signal requires a final flush.
func (s Signal) IsFinal() bool {
	return s == SignalHidden || s == SignalTeardown
}

// Storage is a string key/value store that survives restarts.
type Storage interface {
	// Get returns the value and whether the key exists.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// Platform is everything the tracker needs from its host.
type Platform interface {
	Read(key string) (string, bool, error)
	Write(key, value string) error
	IsOnline() bool
	Signals() <-chan Signal
}
