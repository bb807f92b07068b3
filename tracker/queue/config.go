package queue

import (
	"fmt"
	"math"
	"time"
)

// Config controls batching and retry behaviour.
type Config struct {
	// BatchSize triggers an immediate flush once the queue holds this many events.
	BatchSize int

	// BatchInterval is the period of the timer-driven flush.
	BatchInterval time.Duration

	// MaxRetries is the number of scheduled retries after consecutive failures.
	MaxRetries int

	// RetryInitialDelay is the delay before the first retry; it doubles per attempt.
	RetryInitialDelay time.Duration

	// HealthPingInterval is the period of the health_ping event. Zero disables it.
	HealthPingInterval time.Duration
}

// DefaultConfig returns the standard tracker settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:          10,
		BatchInterval:      5 * time.Second,
		MaxRetries:         5,
		RetryInitialDelay:  time.Second,
		HealthPingInterval: 5 * time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.BatchInterval <= 0 {
		return fmt.Errorf("batch interval must be positive, got %s", c.BatchInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryInitialDelay <= 0 {
		return fmt.Errorf("retry initial delay must be positive, got %s", c.RetryInitialDelay)
	}
	if c.HealthPingInterval < 0 {
		return fmt.Errorf("health ping interval must not be negative, got %s", c.HealthPingInterval)
	}
	return nil
}

// RetryDelay returns the backoff before retry number attempt (1-based):
// RetryInitialDelay * 2^(attempt-1), saturating at the largest Duration.
func (c Config) RetryDelay(attempt int) time.Duration {
	d := c.RetryInitialDelay
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			return math.MaxInt64
		}
		d *= 2
	}
	return d
}
