package subscription

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"cimamplify-service/internal/domain/account"
	"cimamplify-service/internal/domain/billing"
	"cimamplify-service/internal/domain/coupon"
	"cimamplify-service/internal/domain/subscription"
	"cimamplify-service/internal/pkg/events"
	xerrors "cimamplify-service/internal/pkg/errors"
	"cimamplify-service/internal/pkg/stripe"
	"cimamplify-service/internal/service/email"
)

const testFee int64 = 500000

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[int64]account.Account
	saves    int
	saveErr  error
}

func newFakeAccounts(accs ...account.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: map[int64]account.Account{}}
	for _, a := range accs {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) get(id int64) account.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id]
}

func (f *fakeAccounts) FindByID(_ context.Context, id int64) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &a, nil
}

func (f *fakeAccounts) find(match func(a account.Account) bool) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if match(a) {
			a := a
			return &a, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeAccounts) FindByProviderCustomerID(_ context.Context, customerID string) (*account.Account, error) {
	return f.find(func(a account.Account) bool {
		return a.Billing.ProviderCustomerID != nil && *a.Billing.ProviderCustomerID == customerID
	})
}

func (f *fakeAccounts) FindByProviderSubscriptionID(_ context.Context, subscriptionID string) (*account.Account, error) {
	return f.find(func(a account.Account) bool {
		id := a.Subscription.ProviderSubscriptionID
		return id != nil && *id == subscriptionID
	})
}

func (f *fakeAccounts) SaveSubscription(_ context.Context, id int64, s subscription.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	a := f.accounts[id]
	a.Subscription = s
	f.accounts[id] = a
	f.saves++
	return nil
}

func (f *fakeAccounts) SaveBilling(_ context.Context, id int64, b billing.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.accounts[id]
	a.Billing = b
	f.accounts[id] = a
	return nil
}

func (f *fakeAccounts) MarkRenewAttempt(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.accounts[id]
	a.Subscription.LastAutoRenewAttempt = &at
	f.accounts[id] = a
	return nil
}

func (f *fakeAccounts) MarkInlineRenewAttempt(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.accounts[id]
	a.Subscription.LastInlineRenewAttempt = &at
	f.accounts[id] = a
	return nil
}

func (f *fakeAccounts) setSaveErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

type fakeHistory struct {
	mu      sync.Mutex
	entries map[string]billing.HistoryEntry
	// afterInsert runs once, outside the lock, after the first insert lands.
	afterInsert func(e billing.HistoryEntry)
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{entries: map[string]billing.HistoryEntry{}}
}

func (f *fakeHistory) Exists(_ context.Context, paymentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[paymentID]
	return ok, nil
}

func (f *fakeHistory) Insert(_ context.Context, e *billing.HistoryEntry) (bool, error) {
	f.mu.Lock()
	if _, ok := f.entries[e.PaymentID]; ok {
		f.mu.Unlock()
		return false, nil
	}
	f.entries[e.PaymentID] = *e
	hook := f.afterInsert
	f.afterInsert = nil
	f.mu.Unlock()

	if hook != nil {
		hook(*e)
	}
	return true, nil
}

func (f *fakeHistory) SetPeriod(_ context.Context, paymentID string, start, end *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[paymentID]
	if !ok {
		return xerrors.ErrNotFound
	}
	e.PeriodStart, e.PeriodEnd = start, end
	f.entries[paymentID] = e
	return nil
}

func (f *fakeHistory) Release(_ context.Context, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, paymentID)
	return nil
}

func (f *fakeHistory) get(paymentID string) (billing.HistoryEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[paymentID]
	return e, ok
}

func (f *fakeHistory) ListByAccount(_ context.Context, accountID int64, _ int) ([]billing.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []billing.HistoryEntry
	for _, e := range f.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeHistory) count(status billing.PaymentStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

type fakeCoupons struct {
	mu           sync.Mutex
	coupons      map[string]coupon.Coupon
	increments   map[string]int
	incrementErr error
}

func newFakeCoupons(cs ...coupon.Coupon) *fakeCoupons {
	f := &fakeCoupons{coupons: map[string]coupon.Coupon{}, increments: map[string]int{}}
	for _, c := range cs {
		f.coupons[c.Code] = c
	}
	return f
}

func (f *fakeCoupons) Validate(_ context.Context, code string) (*coupon.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[strings.ToUpper(code)]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	if c.Exhausted() {
		return nil, xerrors.InvalidState("coupon usage limit reached")
	}
	return &c, nil
}

func (f *fakeCoupons) Quote(ctx context.Context, code string, feeCents int64, currency string) (*coupon.Quote, error) {
	c, err := f.Validate(ctx, code)
	if err != nil {
		return nil, err
	}
	return &coupon.Quote{Code: c.Code, Type: c.Type, OriginalCents: feeCents, AmountCents: feeCents, Currency: currency}, nil
}

func (f *fakeCoupons) IncrementUsage(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrementErr != nil {
		return f.incrementErr
	}
	c, ok := f.coupons[code]
	if !ok || c.Exhausted() {
		return xerrors.InvalidState("coupon usage limit reached")
	}
	c.UsedCount++
	f.coupons[code] = c
	f.increments[code]++
	return nil
}

func (f *fakeCoupons) incremented(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.increments[code]
}

type fakeGateway struct {
	mu            sync.Mutex
	chargeResult  *billing.PaymentIntent
	chargeErr     error
	charges       []stripe.OffSessionCharge
	intents       map[string]*billing.PaymentIntent
	createdIntent int
	payInvoice    func(invoiceID string) (*billing.Invoice, error)
	invoiceKeys   []string
	subscriptions map[string]*billing.ProviderSubscription
	subInputs     []stripe.SubscriptionInput
	invoices      map[string]*billing.Invoice
	cancelCalls   []bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents:       map[string]*billing.PaymentIntent{},
		subscriptions: map[string]*billing.ProviderSubscription{},
		invoices:      map[string]*billing.Invoice{},
	}
}

func (g *fakeGateway) Currency() string { return "usd" }

func (g *fakeGateway) EnsureCustomer(_ context.Context, _ int64, _, _ string, existingID *string) (string, error) {
	if existingID != nil && *existingID != "" {
		return *existingID, nil
	}
	return "cus_new", nil
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, in stripe.PaymentIntentInput) (*billing.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createdIntent++
	pi := &billing.PaymentIntent{ID: "pi_checkout", CustomerID: in.CustomerID, Status: "requires_payment_method", AmountCents: in.AmountCents, Currency: "usd", ClientSecret: "secret", Metadata: in.Metadata}
	g.intents[pi.ID] = pi
	return pi, nil
}

func (g *fakeGateway) GetPaymentIntent(_ context.Context, id string) (*billing.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.intents[id]
	if !ok {
		return nil, xerrors.Provider("failed to retrieve payment intent", errors.New("no such payment_intent"))
	}
	return pi, nil
}

func (g *fakeGateway) ChargeOffSession(_ context.Context, in stripe.OffSessionCharge) (*billing.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, in)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	pi := *g.chargeResult
	pi.Metadata = in.Metadata
	return &pi, nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

func (g *fakeGateway) AttachPaymentMethod(_ context.Context, _, paymentMethodID string) (*billing.PaymentMethod, error) {
	return &billing.PaymentMethod{ID: paymentMethodID, Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}, nil
}

func (g *fakeGateway) GetPaymentMethod(_ context.Context, id string) (*billing.PaymentMethod, error) {
	return &billing.PaymentMethod{ID: id, Brand: "visa", Last4: "4242"}, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, in stripe.SubscriptionInput) (*billing.ProviderSubscription, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subInputs = append(g.subInputs, in)
	psub := &billing.ProviderSubscription{ID: "sub_new", CustomerID: in.CustomerID, Status: "incomplete", Metadata: in.Metadata}
	return psub, "sub_secret", nil
}

func (g *fakeGateway) SetCancelAtPeriodEnd(_ context.Context, subscriptionID string, cancel bool) (*billing.ProviderSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls = append(g.cancelCalls, cancel)
	return &billing.ProviderSubscription{ID: subscriptionID, Status: "active", CancelAtPeriodEnd: cancel}, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, subscriptionID string) (*billing.ProviderSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	psub, ok := g.subscriptions[subscriptionID]
	if !ok {
		return nil, xerrors.Provider("failed to retrieve subscription", errors.New("no such subscription"))
	}
	return psub, nil
}

func (g *fakeGateway) GetInvoice(_ context.Context, invoiceID string) (*billing.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inv, ok := g.invoices[invoiceID]
	if !ok {
		return nil, xerrors.Provider("failed to retrieve invoice", errors.New("no such invoice"))
	}
	return inv, nil
}

func (g *fakeGateway) PayInvoice(_ context.Context, invoiceID, _, idempotencyKey string) (*billing.Invoice, error) {
	g.mu.Lock()
	g.invoiceKeys = append(g.invoiceKeys, idempotencyKey)
	pay := g.payInvoice
	g.mu.Unlock()
	if pay == nil {
		return nil, xerrors.Provider("failed to pay invoice", errors.New("card_declined"))
	}
	return pay(invoiceID)
}

type fakeNotifier struct {
	mu      sync.Mutex
	failed  []string
	expired []string
}

func (n *fakeNotifier) PaymentFailed(to email.Recipient, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, to.Email)
}

func (n *fakeNotifier) SubscriptionExpired(to email.Recipient, _ *time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired = append(n.expired, to.Email)
}

func (n *fakeNotifier) failedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.failed)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.StatusChanged
}

func (p *fakePublisher) PublishStatusChanged(_ context.Context, evt events.StatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	svc       *SubscriptionService
	accounts  *fakeAccounts
	history   *fakeHistory
	coupons   *fakeCoupons
	gateway   *fakeGateway
	notifier  *fakeNotifier
	publisher *fakePublisher
	clock     *clock
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, accs []account.Account, cs ...coupon.Coupon) *harness {
	t.Helper()
	h := &harness{
		accounts:  newFakeAccounts(accs...),
		history:   newFakeHistory(),
		coupons:   newFakeCoupons(cs...),
		gateway:   newFakeGateway(),
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		clock:     &clock{now: testNow},
	}
	h.svc = NewSubscriptionService(
		h.accounts,
		h.history,
		h.coupons,
		h.gateway,
		h.notifier,
		h.publisher,
		nil,
		Config{MembershipFeeCents: testFee},
		zap.NewNop(),
	)
	h.svc.now = h.clock.Now
	return h
}

func strp(s string) *string { return &s }

func timep(t time.Time) *time.Time { return &t }

// advisorWithCard is an advisor whose membership ends at end.
func advisorWithCard(id int64, status subscription.Status, end time.Time) account.Account {
	return account.Account{
		ID:       id,
		Email:    "advisor@example.com",
		FullName: "Ada Advisor",
		Role:     account.RoleAdvisor,
		Subscription: subscription.Subscription{
			Status:             status,
			CurrentPeriodStart: timep(end.AddDate(-1, 0, 0)),
			CurrentPeriodEnd:   timep(end),
		},
		Billing: billing.Profile{
			ProviderCustomerID:     strp("cus_1"),
			DefaultPaymentMethodID: strp("pm_1"),
			CardBrand:              strp("visa"),
			CardLast4:              strp("4242"),
		},
	}
}

func succeededIntent(id string) *billing.PaymentIntent {
	return &billing.PaymentIntent{
		ID:              id,
		CustomerID:      "cus_1",
		PaymentMethodID: "pm_1",
		Status:          billing.IntentSucceeded,
		AmountCents:     testFee,
		Currency:        "usd",
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
