package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/trackstack/common/middleware"
	"github.com/telhawk-systems/trackstack/ingest/internal/handlers"
)

// NewRouter constructs a ServeMux with the gateway routes registered.
func NewRouter(h *handlers.CollectHandler, allowedOrigins []string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/event/collect", h.Collect)

	// Health endpoints
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = middleware.CORS(middleware.CollectorCORSConfig(allowedOrigins))(handler)
	handler = middleware.AccessLog(logger)(handler)
	return middleware.RequestID(handler)
}
