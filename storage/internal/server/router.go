package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/trackstack/common/middleware"
	"github.com/telhawk-systems/trackstack/storage/internal/handlers"
)

// NewRouter constructs a ServeMux with the consumer's admin routes registered.
func NewRouter(h *handlers.StorageHandler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/dlq", h.ListDLQ)
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/readyz", h.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(middleware.AccessLog(logger)(mux))
}
