package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/telhawk-systems/trackstack/common/httputil"
	"github.com/telhawk-systems/trackstack/common/messaging"
	"github.com/telhawk-systems/trackstack/storage/internal/dlq"
)

// Pinger is satisfied by the event repository.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageHandler serves the consumer's admin endpoints.
type StorageHandler struct {
	store Pinger
	log   messaging.HealthChecker
	dlq   dlq.Writer
}

func NewStorageHandler(store Pinger, log messaging.HealthChecker, dead dlq.Writer) *StorageHandler {
	return &StorageHandler{
		store: store,
		log:   log,
		dlq:   dead,
	}
}

func (h *StorageHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteText(w, http.StatusOK, "OK")
}

// Ready checks both the store and the log.
func (h *StorageHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": "database unavailable"})
		return
	}
	if h.log != nil {
		if status := messaging.CheckHealth(ctx, h.log); !status.Healthy() {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": status.Error})
			return
		}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// DLQResponse is the body of GET /api/v1/dlq.
type DLQResponse struct {
	Records []dlq.FailedRecord     `json:"records"`
	Stats   map[string]interface{} `json:"stats"`
}

// ListDLQ returns dead-lettered records; ?limit= caps the count (default 50, max 500).
// DELETE purges the queue.
func (h *StorageHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteError(w, http.StatusNotFound, "Dead letter queue not enabled")
		return
	}

	switch r.Method {
	case http.MethodGet:
		page := httputil.ParsePagination(r, 50, 500)
		records, err := h.dlq.List(r.Context(), page.Limit)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, dlq.ErrDisabled) {
				status = http.StatusNotFound
			}
			httputil.WriteError(w, status, "Failed to list dead letter queue")
			return
		}
		if records == nil {
			records = []dlq.FailedRecord{}
		}
		httputil.WriteJSON(w, http.StatusOK, DLQResponse{
			Records: records,
			Stats:   h.dlq.Stats(r.Context()),
		})
	case http.MethodDelete:
		if err := h.dlq.Purge(r.Context()); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "Failed to purge dead letter queue")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
