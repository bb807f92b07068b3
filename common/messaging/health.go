package messaging

import (
	"context"
	"fmt"
	"time"
)

// HealthChecker can check the health of a log connection.
type HealthChecker interface {
	// IsConnected returns true if the client is connected to the broker.
	IsConnected() bool

	// Ping performs a round trip to the broker.
	Ping(ctx context.Context) error
}

// HealthStatus represents the health state of a log connection.
type HealthStatus struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// Healthy reports whether the connection is usable.
func (s HealthStatus) Healthy() bool {
	return s.Connected && s.Error == ""
}

// CheckHealth checks connectivity and measures ping latency.
func CheckHealth(ctx context.Context, hc HealthChecker) HealthStatus {
	status := HealthStatus{}

	if hc == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = hc.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
		return status
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.Ping(pingCtx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = fmt.Sprintf("health check failed: %v", err)
	}

	return status
}
