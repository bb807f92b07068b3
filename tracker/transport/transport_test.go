package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/trackstack/common/models"
)

func batch() []models.Event {
	return []models.Event{
		{EventID: "e1", EventType: "page_view", UserID: "u1", Timestamp: time.Now().UTC()},
		{EventID: "e2", EventType: "click", UserID: "u1", Timestamp: time.Now().UTC()},
	}
}

func TestHTTPSender_PostsJSONArray(t *testing.T) {
	var got []models.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, CollectPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"Event received","accepted":2}`))
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL+"/", WithUserAgent("test-agent"))
	assert.Equal(t, srv.URL+CollectPath, s.Endpoint())
	require.NoError(t, s.Send(context.Background(), batch()))
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].EventID)
	assert.Equal(t, "e2", got[1].EventID)
}

func TestHTTPSender_StatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		rejected bool
		tooLarge bool
	}{
		{http.StatusBadRequest, true, false},
		{http.StatusRequestEntityTooLarge, false, true},
		{http.StatusUnauthorized, false, false},
		{http.StatusForbidden, false, false},
		{http.StatusNotFound, false, false},
		{http.StatusRequestTimeout, false, false},
		{http.StatusTooManyRequests, false, false},
		{http.StatusInternalServerError, false, false},
		{http.StatusServiceUnavailable, false, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			err := NewHTTPSender(srv.URL).Send(context.Background(), batch())
			require.Error(t, err)
			assert.Equal(t, tt.rejected, IsRejected(err))
			assert.Equal(t, tt.tooLarge, IsTooLarge(err))

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Contains(t, statusErr.Error(), "nope")
		})
	}
}

func TestHTTPSender_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	err := NewHTTPSender(srv.URL).Send(context.Background(), batch())
	require.Error(t, err)
	assert.False(t, IsRejected(err))
}

func TestHTTPSender_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewHTTPSender(srv.URL).Send(ctx, batch())
	assert.Error(t, err)
	assert.False(t, IsRejected(err))
}
