package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/telhawk-systems/trackstack/common/httputil"
	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/common/messaging"
	"github.com/telhawk-systems/trackstack/common/models"
	"github.com/telhawk-systems/trackstack/ingest/internal/metrics"
	"github.com/telhawk-systems/trackstack/ingest/internal/ratelimit"
	"github.com/telhawk-systems/trackstack/ingest/internal/service"
)

// IngestService is the subset of the ingest service the handler depends on.
type IngestService interface {
	Ingest(ctx context.Context, events []models.Event) (int, error)
}

// CollectResponse is the success body of POST /event/collect.
type CollectResponse struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
}

type CollectHandler struct {
	service     IngestService
	rateLimiter ratelimit.RateLimiter
	health      messaging.HealthChecker
	maxBodySize int64
	logger      *slog.Logger
}

// NewCollectHandler wires the handler. A nil limiter disables rate limiting.
func NewCollectHandler(svc IngestService, limiter ratelimit.RateLimiter, health messaging.HealthChecker, maxBodySize int64, logger *slog.Logger) *CollectHandler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	return &CollectHandler{
		service:     svc,
		rateLimiter: limiter,
		health:      health,
		maxBodySize: maxBodySize,
		logger:      logging.OrDefault(logger),
	}
}

// Collect accepts a JSON event object or an array of events.
func (h *CollectHandler) Collect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.fail(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	ctx := r.Context()
	clientIP := httputil.GetClientIP(r)

	// The limiter fails open: a Redis outage must not drop analytics.
	allowed, err := h.rateLimiter.Allow(ctx, "ip:"+clientIP)
	if err != nil {
		h.logger.WarnContext(ctx, "rate limiter unavailable", logging.IP(clientIP), logging.Error(err))
	} else if !allowed {
		metrics.RateLimitHits.Inc()
		h.fail(w, http.StatusTooManyRequests, "Too many requests", nil)
		return
	}

	body, err := httputil.ReadBody(w, r, h.maxBodySize)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			h.fail(w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
			return
		}
		h.fail(w, http.StatusBadRequest, "Invalid event", []string{err.Error()})
		return
	}
	metrics.RequestBytesTotal.Add(float64(len(body)))

	events, err := models.DecodeBatch(body)
	if err != nil {
		h.fail(w, http.StatusBadRequest, "Invalid event", []string{err.Error()})
		return
	}
	metrics.BatchSize.Observe(float64(len(events)))

	n, err := h.service.Ingest(ctx, events)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			h.fail(w, http.StatusBadRequest, "Invalid event", verr.Details)
			return
		}
		h.logger.ErrorContext(ctx, "failed to ingest batch",
			logging.IP(clientIP),
			logging.Count(len(events)),
			logging.Error(err))
		h.fail(w, http.StatusInternalServerError, "Failed to send event", nil)
		return
	}

	metrics.RequestsTotal.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	httputil.WriteJSON(w, http.StatusOK, CollectResponse{Status: "Event received", Accepted: n})
}

func (h *CollectHandler) fail(w http.ResponseWriter, status int, msg string, details []string) {
	metrics.RequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	httputil.WriteErrorDetails(w, status, msg, details)
}

// Health reports process liveness.
func (h *CollectHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteText(w, http.StatusOK, "OK")
}

// Ready reports whether the log is reachable.
func (h *CollectHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	status := messaging.CheckHealth(r.Context(), h.health)
	if !status.Healthy() {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"log":    status,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"log":    status,
	})
}
