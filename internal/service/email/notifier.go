// internal/service/email/notifier.go
package email

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Notifier sends lifecycle emails in the background. A failed send is retried
// with backoff and then logged; it never fails the caller.
type Notifier struct {
	sender     Sender
	logger     *zap.Logger
	baseURL    string
	maxElapsed time.Duration
	wg         sync.WaitGroup
}

func NewNotifier(sender Sender, logger *zap.Logger, baseURL string) *Notifier {
	return &Notifier{
		sender:     sender,
		logger:     logger,
		baseURL:    baseURL,
		maxElapsed: time.Minute,
	}
}

type Recipient struct {
	Email    string
	FullName string
}

func (n *Notifier) PaymentFailed(to Recipient, reason string) {
	subject, body := paymentFailedEmail(to.FullName, reason, n.baseURL+"/billing/payment-method")
	n.dispatch(Message{To: to.Email, Subject: subject, HTMLBody: body, Tag: "payment-failed"})
}

func (n *Notifier) SubscriptionExpired(to Recipient, endedAt *time.Time) {
	subject, body := subscriptionExpiredEmail(to.FullName, n.baseURL+"/billing/reactivate", endedAt)
	n.dispatch(Message{To: to.Email, Subject: subject, HTMLBody: body, Tag: "subscription-expired"})
}

type Introduction struct {
	Advisor       Recipient
	SellerName    string
	SellerEmail   string
	SellerCompany string
	Message       string
}

func (n *Notifier) Introduction(intro Introduction) {
	subject, body := introductionEmail(intro.Advisor.FullName, intro.SellerCompany, intro.SellerName, intro.SellerEmail, intro.Message)
	n.dispatch(Message{To: intro.Advisor.Email, Subject: subject, HTMLBody: body, Tag: "introduction"})
}

// Wait blocks until in-flight sends finish. Used on shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) dispatch(msg Message) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.maxElapsed+10*time.Second)
		defer cancel()

		if err := n.deliver(ctx, msg); err != nil {
			n.logger.Error("failed to send email",
				zap.String("to", msg.To),
				zap.String("tag", msg.Tag),
				zap.Error(err),
			)
		}
	}()
}

func (n *Notifier) deliver(ctx context.Context, msg Message) error {
	operation := func() error {
		err := n.sender.Send(ctx, msg)
		if err != nil && errors.Is(err, ErrInvalidConfig) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = n.maxElapsed

	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}
