// internal/pkg/stripe/client.go
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"cimamplify-service/internal/domain/billing"
	xerrors "cimamplify-service/internal/pkg/errors"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	Currency      string
}

// Client wraps the Stripe API. Build it once at startup and share it.
type Client struct {
	api           *client.API
	webhookSecret string
	priceID       string
	currency      string
	logger        *zap.Logger
}

// NewClient fails fast when credentials are missing so a misconfigured
// deployment never starts taking requests.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	currency := cfg.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	return &Client{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		priceID:       cfg.PriceID,
		currency:      currency,
		logger:        logger,
	}, nil
}

func (c *Client) Currency() string {
	return c.currency
}

// EnsureCustomer returns the existing customer id or creates a customer tagged
// with the account id.
func (c *Client) EnsureCustomer(ctx context.Context, accountID int64, email, name string, existingID *string) (string, error) {
	if existingID != nil && *existingID != "" {
		return *existingID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.AddMetadata(billing.MetaAccountID, strconv.FormatInt(accountID, 10))
	params.Context = ctx
	params.IdempotencyKey = stripe.String(fmt.Sprintf("customer-%d", accountID))

	cus, err := c.api.Customers.New(params)
	if err != nil {
		c.logStripeError("EnsureCustomer", err)
		return "", xerrors.Provider("failed to create customer", err)
	}

	c.logger.Info("stripe customer created",
		zap.String("customer_id", cus.ID),
		zap.Int64("account_id", accountID),
	)
	return cus.ID, nil
}

type PaymentIntentInput struct {
	CustomerID  string
	AmountCents int64
	Description string
	Metadata    map[string]string
}

// CreatePaymentIntent starts an on-session payment the frontend confirms with
// the returned client secret. The card is saved for off-session renewals.
func (c *Client) CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*billing.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:           stripe.Int64(in.AmountCents),
		Currency:         stripe.String(c.currency),
		Customer:         stripe.String(in.CustomerID),
		Description:      stripe.String(in.Description),
		SetupFutureUsage: stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		c.logStripeError("CreatePaymentIntent", err)
		return nil, xerrors.Provider("failed to create payment intent", err)
	}
	return toPaymentIntent(pi), nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*billing.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		c.logStripeError("GetPaymentIntent", err)
		return nil, xerrors.Provider("failed to retrieve payment intent", err)
	}
	return toPaymentIntent(pi), nil
}

type OffSessionCharge struct {
	CustomerID      string
	PaymentMethodID string
	AmountCents     int64
	Description     string
	IdempotencyKey  string
	Metadata        map[string]string
}

// ChargeOffSession confirms a payment immediately against a saved card. A card
// decline is not an error: the returned intent carries the failure message.
func (c *Client) ChargeOffSession(ctx context.Context, in OffSessionCharge) (*billing.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(in.AmountCents),
		Currency:           stripe.String(c.currency),
		Customer:           stripe.String(in.CustomerID),
		PaymentMethod:      stripe.String(in.PaymentMethodID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Description:        stripe.String(in.Description),
		Confirm:            stripe.Bool(true),
		OffSession:         stripe.Bool(true),
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(in.IdempotencyKey)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			failed := &billing.PaymentIntent{Status: "requires_payment_method", LastError: stripeErr.Msg}
			if stripeErr.PaymentIntent != nil {
				failed = toPaymentIntent(stripeErr.PaymentIntent)
				failed.LastError = stripeErr.Msg
			}
			c.logger.Warn("off-session charge declined",
				zap.String("customer_id", in.CustomerID),
				zap.String("decline_code", string(stripeErr.DeclineCode)),
				zap.String("message", stripeErr.Msg),
			)
			return failed, nil
		}
		c.logStripeError("ChargeOffSession", err)
		return nil, xerrors.Provider("failed to charge saved card", err)
	}
	return toPaymentIntent(pi), nil
}

// AttachPaymentMethod attaches the card to the customer, makes it the default
// for invoices and returns its display details.
func (c *Client) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*billing.PaymentMethod, error) {
	attach := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	attach.Context = ctx

	pm, err := c.api.PaymentMethods.Attach(paymentMethodID, attach)
	if err != nil {
		var stripeErr *stripe.Error
		// Already attached to this customer is fine.
		if !(errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceAlreadyExists) {
			c.logStripeError("AttachPaymentMethod", err)
			return nil, xerrors.Provider("failed to attach payment method", err)
		}
		if pm, err = c.api.PaymentMethods.Get(paymentMethodID, &stripe.PaymentMethodParams{Params: stripe.Params{Context: ctx}}); err != nil {
			c.logStripeError("GetPaymentMethod", err)
			return nil, xerrors.Provider("failed to retrieve payment method", err)
		}
	}

	if err := c.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		return nil, err
	}
	return toPaymentMethod(pm), nil
}

func (c *Client) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	if _, err := c.api.Customers.Update(customerID, params); err != nil {
		c.logStripeError("SetDefaultPaymentMethod", err)
		return xerrors.Provider("failed to set default payment method", err)
	}
	return nil
}

func (c *Client) GetPaymentMethod(ctx context.Context, id string) (*billing.PaymentMethod, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx

	pm, err := c.api.PaymentMethods.Get(id, params)
	if err != nil {
		c.logStripeError("GetPaymentMethod", err)
		return nil, xerrors.Provider("failed to retrieve payment method", err)
	}
	return toPaymentMethod(pm), nil
}

type SubscriptionInput struct {
	CustomerID       string
	TrialDays        int64
	ProviderCouponID string
	IdempotencyKey   string
	Metadata         map[string]string
}

// CreateSubscription starts a provider-managed membership. The first invoice
// is left incomplete so the frontend can confirm it with the client secret.
func (c *Client) CreateSubscription(ctx context.Context, in SubscriptionInput) (*billing.ProviderSubscription, string, error) {
	if c.priceID == "" {
		return nil, "", fmt.Errorf("%w: stripe price id is not configured", xerrors.ErrInvalidState)
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(c.priceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	if in.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(in.TrialDays)
	}
	if in.ProviderCouponID != "" {
		params.Coupon = stripe.String(in.ProviderCouponID)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(in.IdempotencyKey)
	}
	params.AddExpand("latest_invoice.payment_intent")

	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		c.logStripeError("CreateSubscription", err)
		return nil, "", xerrors.Provider("failed to create subscription", err)
	}

	clientSecret := ""
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		clientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}

	c.logger.Info("stripe subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("status", string(sub.Status)),
	)
	return toSubscription(sub), clientSecret, nil
}

func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*billing.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		c.logStripeError("SetCancelAtPeriodEnd", err)
		return nil, xerrors.Provider("failed to update subscription", err)
	}
	return toSubscription(sub), nil
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*billing.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice")

	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		c.logStripeError("GetSubscription", err)
		return nil, xerrors.Provider("failed to retrieve subscription", err)
	}
	return toSubscription(sub), nil
}

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*billing.Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx

	inv, err := c.api.Invoices.Get(invoiceID, params)
	if err != nil {
		c.logStripeError("GetInvoice", err)
		return nil, xerrors.Provider("failed to retrieve invoice", err)
	}
	return toInvoice(inv), nil
}

// PayInvoice attempts an open invoice with the given card. Declines come back
// as a non-paid invoice, not an error.
func (c *Client) PayInvoice(ctx context.Context, invoiceID, paymentMethodID, idempotencyKey string) (*billing.Invoice, error) {
	params := &stripe.InvoicePayParams{
		PaymentMethod: stripe.String(paymentMethodID),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	inv, err := c.api.Invoices.Pay(invoiceID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			c.logger.Warn("invoice payment declined",
				zap.String("invoice_id", invoiceID),
				zap.String("message", stripeErr.Msg),
			)
			return &billing.Invoice{ID: invoiceID, Status: billing.InvoiceOpen}, nil
		}
		c.logStripeError("PayInvoice", err)
		return nil, xerrors.Provider("failed to pay invoice", err)
	}
	return toInvoice(inv), nil
}

// logStripeError logs the details of a Stripe API failure.
func (c *Client) logStripeError(operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		c.logger.Error("stripe api error",
			zap.String("operation", operation),
			zap.String("type", string(stripeErr.Type)),
			zap.String("code", string(stripeErr.Code)),
			zap.String("param", stripeErr.Param),
			zap.String("message", stripeErr.Msg),
			zap.String("request_id", stripeErr.RequestID),
			zap.Int("status_code", stripeErr.HTTPStatusCode),
		)
		return
	}
	c.logger.Error("non-stripe error during stripe operation",
		zap.String("operation", operation),
		zap.Error(err),
	)
}
