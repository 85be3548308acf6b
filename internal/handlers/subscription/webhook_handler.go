// internal/handlers/subscription/webhook_handler.go
package subscription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"cimamplify-service/internal/domain/billing"
	"cimamplify-service/internal/pkg/metrics"
	"cimamplify-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxWebhookBody = 65536
	eventClaimTTL  = 72 * time.Hour
)

type EventParser interface {
	ParseWebhook(payload []byte, signature string) (*billing.Event, error)
}

type EventHandler interface {
	HandleEvent(ctx context.Context, evt *billing.Event) error
}

type EventClaimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// WebhookHandler receives provider events. A bad signature is rejected with
// 400; a processing error answers 500 so the provider redelivers.
type WebhookHandler struct {
	parser  EventParser
	handler EventHandler
	claims  EventClaimer
	metrics *metrics.BillingMetrics
	logger  *zap.Logger
}

func NewWebhookHandler(parser EventParser, handler EventHandler, claims EventClaimer, m *metrics.BillingMetrics, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		parser:  parser,
		handler: handler,
		claims:  claims,
		metrics: m,
		logger:  logger,
	}
}

func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "failed to read webhook body", err)
		return
	}

	evt, err := h.parser.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook rejected", zap.Error(err))
		h.metrics.IncWebhook("unknown", "invalid_signature")
		response.Error(c, http.StatusBadRequest, "invalid webhook signature", nil)
		return
	}

	ctx := c.Request.Context()
	claimKey := "stripe:event:" + evt.ID
	if h.claims != nil {
		ok, err := h.claims.Claim(ctx, claimKey, eventClaimTTL)
		switch {
		case err != nil:
			h.logger.Warn("event claim unavailable, processing anyway", zap.String("event_id", evt.ID), zap.Error(err))
		case !ok:
			h.metrics.IncWebhook(string(evt.Type), "duplicate")
			response.Success(c, http.StatusOK, "event already processed", gin.H{"received": true})
			return
		}
	}

	if err := h.handler.HandleEvent(ctx, evt); err != nil {
		h.logger.Error("webhook processing failed",
			zap.String("event_id", evt.ID),
			zap.String("type", string(evt.Type)),
			zap.Error(err),
		)
		h.release(claimKey)
		h.metrics.IncWebhook(string(evt.Type), "error")
		response.Error(c, http.StatusInternalServerError, "webhook processing failed", nil)
		return
	}

	h.metrics.IncWebhook(string(evt.Type), "processed")
	response.Success(c, http.StatusOK, "event processed", gin.H{"received": true})
}

func (h *WebhookHandler) release(key string) {
	if h.claims == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.claims.Release(ctx, key); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("failed to release event claim", zap.String("key", key), zap.Error(err))
	}
}
