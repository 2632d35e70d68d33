package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking/internal/logging"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func newIdempotentRouter(store ResponseStore, calls *int, status int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Idempotency(store, logging.Discard()))
	r.POST("/v1/bookings/:id/payment/confirm", func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"booking_id": c.Param("id"), "call": *calls})
	})
	return r
}

func post(r http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	store := &memoryStore{data: map[string][]byte{}}
	calls := 0
	r := newIdempotentRouter(store, &calls, http.StatusOK)

	first := post(r, "/v1/bookings/b-1/payment/confirm", "k-1")
	second := post(r, "/v1/bookings/b-1/payment/confirm", "k-1")

	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
}

func TestIdempotency_KeyScopedToPath(t *testing.T) {
	store := &memoryStore{data: map[string][]byte{}}
	calls := 0
	r := newIdempotentRouter(store, &calls, http.StatusOK)

	post(r, "/v1/bookings/b-1/payment/confirm", "k-1")
	post(r, "/v1/bookings/b-2/payment/confirm", "k-1")

	assert.Equal(t, 2, calls)
}

func TestIdempotency_ServerErrorsNotStored(t *testing.T) {
	store := &memoryStore{data: map[string][]byte{}}
	calls := 0
	r := newIdempotentRouter(store, &calls, http.StatusServiceUnavailable)

	post(r, "/v1/bookings/b-1/payment/confirm", "k-1")
	post(r, "/v1/bookings/b-1/payment/confirm", "k-1")

	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	calls := 0
	r := newIdempotentRouter(&memoryStore{data: map[string][]byte{}}, &calls, http.StatusOK)

	post(r, "/v1/bookings/b-1/payment/confirm", "")
	post(r, "/v1/bookings/b-1/payment/confirm", "")

	assert.Equal(t, 2, calls)
}
