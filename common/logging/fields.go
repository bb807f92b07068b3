package logging

import "log/slog"

// Common field names for consistent logging across the pipeline.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldEventID   = "event_id"
	FieldEventType = "event_type"
	FieldUserID    = "user_id"
	FieldSessionID = "session_id"
	FieldIP        = "ip"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldPartition = "partition"
	FieldSubject   = "subject"
	FieldCount     = "count"
	FieldAttempt   = "attempt"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EventType returns a slog attribute for an event type tag.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// UserID returns a slog attribute for the user ID.
func UserID(id string) slog.Attr {
	return slog.String(FieldUserID, id)
}

// SessionID returns a slog attribute for the session ID.
func SessionID(id string) slog.Attr {
	return slog.String(FieldSessionID, id)
}

// IP returns a slog attribute for the IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Partition returns a slog attribute for a log partition number.
func Partition(p int) slog.Attr {
	return slog.Int(FieldPartition, p)
}

// Subject returns a slog attribute for a broker subject.
func Subject(s string) slog.Attr {
	return slog.String(FieldSubject, s)
}

// Count returns a slog attribute for an item count (batch size, queue length).
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Attempt returns a slog attribute for a 1-indexed attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}
