package queue

// State is the delivery state of the queue.
type State int

const (
	StateIdle State = iota
	StateSending
	StateRetryScheduled
	// StateExhausted is entered when retries run out. It is left by the next
	// successful flush.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateRetryScheduled:
		return "retry_scheduled"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Flush call.
type Result int

const (
	ResultOffline Result = iota
	ResultEmpty
	ResultSent
	ResultRetryScheduled
	ResultExhausted
	ResultRejected
	// ResultFailed is a failed final flush; the queue is left untouched.
	ResultFailed
	ResultClosed
)

func (r Result) String() string {
	switch r {
	case ResultOffline:
		return "offline"
	case ResultEmpty:
		return "empty"
	case ResultSent:
		return "sent"
	case ResultRetryScheduled:
		return "retry_scheduled"
	case ResultExhausted:
		return "exhausted"
	case ResultRejected:
		return "rejected"
	case ResultFailed:
		return "failed"
	case ResultClosed:
		return "closed"
	default:
		return "unknown"
	}
}
