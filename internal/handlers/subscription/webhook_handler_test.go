package subscription

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"cimamplify-service/internal/domain/billing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubParser struct {
	evt *billing.Event
	err error
}

func (p stubParser) ParseWebhook([]byte, string) (*billing.Event, error) {
	return p.evt, p.err
}

type stubHandler struct {
	err   error
	calls int
}

func (h *stubHandler) HandleEvent(context.Context, *billing.Event) error {
	h.calls++
	return h.err
}

type memoryClaims struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{held: map[string]bool{}}
}

func (m *memoryClaims) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *memoryClaims) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	m.released = append(m.released, key)
	return nil
}

func postWebhook(h *WebhookHandler) *httptest.ResponseRecorder {
	r := gin.New()
	r.POST("/webhooks/stripe", h.HandleStripe)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler(t *testing.T) {
	t.Parallel()

	evt := &billing.Event{ID: "evt_1", Type: billing.EventPaymentIntentSucceeded}

	t.Run("bad signature is 400", func(t *testing.T) {
		t.Parallel()
		handler := &stubHandler{}
		h := NewWebhookHandler(stubParser{err: errors.New("bad signature")}, handler, newMemoryClaims(), nil, zap.NewNop())

		w := postWebhook(h)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid webhook signature")
		assert.Equal(t, 0, handler.calls)
	})

	t.Run("processed once then acknowledged as duplicate", func(t *testing.T) {
		t.Parallel()
		handler := &stubHandler{}
		h := NewWebhookHandler(stubParser{evt: evt}, handler, newMemoryClaims(), nil, zap.NewNop())

		first := postWebhook(h)
		assert.Equal(t, http.StatusOK, first.Code)
		assert.Contains(t, first.Body.String(), `"received":true`)

		second := postWebhook(h)
		assert.Equal(t, http.StatusOK, second.Code)
		assert.Contains(t, second.Body.String(), "event already processed")
		assert.Equal(t, 1, handler.calls)
	})

	t.Run("processing error is 500 and releases the claim", func(t *testing.T) {
		t.Parallel()
		handler := &stubHandler{err: errors.New("db down")}
		claims := newMemoryClaims()
		h := NewWebhookHandler(stubParser{evt: evt}, handler, claims, nil, zap.NewNop())

		w := postWebhook(h)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, []string{"stripe:event:evt_1"}, claims.released)

		handler.err = nil
		w = postWebhook(h)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2, handler.calls)
	})

	t.Run("works without a claim store", func(t *testing.T) {
		t.Parallel()
		handler := &stubHandler{}
		h := NewWebhookHandler(stubParser{evt: evt}, handler, nil, nil, zap.NewNop())

		assert.Equal(t, http.StatusOK, postWebhook(h).Code)
		assert.Equal(t, http.StatusOK, postWebhook(h).Code)
		assert.Equal(t, 2, handler.calls)
	})
}
