// Package gateway assembles the ingestion gateway HTTP handler so that it can
// be served by cmd/ingest or embedded in another process.
package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/common/messaging"
	"github.com/telhawk-systems/trackstack/ingest/internal/handlers"
	"github.com/telhawk-systems/trackstack/ingest/internal/ratelimit"
	"github.com/telhawk-systems/trackstack/ingest/internal/server"
	"github.com/telhawk-systems/trackstack/ingest/internal/service"
	"github.com/telhawk-systems/trackstack/ingest/internal/validator"
)

// DefaultMaxBodySize is the request body cap when Options.MaxBodySize is zero.
const DefaultMaxBodySize = 1 << 20

// Options configures the gateway. Only Log is required.
type Options struct {
	Log            messaging.LogProducer
	Health         messaging.HealthChecker
	RateLimiter    ratelimit.RateLimiter
	MaxBodySize    int64
	PublishTimeout time.Duration
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewHandler returns the gateway's router: /event/collect, /health, /readyz and /metrics.
func NewHandler(opts Options) http.Handler {
	logger := logging.OrDefault(opts.Logger)
	if opts.MaxBodySize == 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}

	svc := service.NewIngestService(opts.Log, validator.Default(), opts.PublishTimeout, logger)
	h := handlers.NewCollectHandler(svc, opts.RateLimiter, opts.Health, opts.MaxBodySize, logger)
	return server.NewRouter(h, opts.AllowedOrigins, logger)
}
