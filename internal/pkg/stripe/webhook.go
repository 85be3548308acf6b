// internal/pkg/stripe/webhook.go
package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cimamplify-service/internal/domain/billing"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrInvalidSignature is returned when the payload was not signed with our secret.
var ErrInvalidSignature = errors.New("stripe: invalid webhook signature")

// ParseWebhook verifies the signature and decodes the event object for the
// types the service handles. Other types come back with no object set.
func (c *Client) ParseWebhook(payload []byte, signature string) (*billing.Event, error) {
	return parseEvent(payload, signature, c.webhookSecret)
}

func parseEvent(payload []byte, signature, secret string) (*billing.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &billing.Event{
		ID:      event.ID,
		Type:    billing.EventType(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case billing.EventPaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		out.PaymentIntent = toPaymentIntent(&pi)

	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		out.Subscription = toSubscription(&sub)

	case billing.EventInvoicePaymentSucceeded, billing.EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}
		out.Invoice = toInvoice(&inv)
	}

	return out, nil
}
