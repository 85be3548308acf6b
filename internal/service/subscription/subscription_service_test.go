package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cimamplify-service/internal/domain/account"
	"cimamplify-service/internal/domain/billing"
	"cimamplify-service/internal/domain/coupon"
	"cimamplify-service/internal/domain/subscription"
	xerrors "cimamplify-service/internal/pkg/errors"
)

func TestAttemptRenewal_ExtendsFromPeriodEnd(t *testing.T) {
	t.Parallel()

	end := testNow.AddDate(0, 0, 10)
	h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusActive, end)})
	h.gateway.chargeResult = succeededIntent("pi_renew")

	ok, err := h.svc.AttemptRenewal(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)

	got := h.accounts.get(1).Subscription
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, end, *got.CurrentPeriodStart)
	assert.Equal(t, end.AddDate(1, 0, 0), *got.CurrentPeriodEnd)
	assert.Nil(t, got.LastAutoRenewAttempt)

	require.Len(t, h.gateway.charges, 1)
	charge := h.gateway.charges[0]
	assert.Equal(t, testFee, charge.AmountCents)
	assert.Equal(t, "pm_1", charge.PaymentMethodID)
	assert.Equal(t, "renew-1-"+itoa(end.Unix())+"-pm_1", charge.IdempotencyKey)
	assert.Equal(t, purposeRenewal, charge.Metadata[billing.MetaPurpose])
}

func TestApplyCharge_ReplayIsNoOp(t *testing.T) {
	t.Parallel()

	end := testNow.AddDate(0, 0, 10)
	h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusActive, end)})
	h.gateway.chargeResult = succeededIntent("pi_renew")

	ok, err := h.svc.AttemptRenewal(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	after := h.accounts.get(1).Subscription

	// The webhook for the same intent arrives afterwards.
	pi := succeededIntent("pi_renew")
	pi.Metadata = map[string]string{billing.MetaAccountID: "1", billing.MetaPurpose: purposeRenewal}
	err = h.svc.HandleEvent(context.Background(), &billing.Event{ID: "evt_1", Type: billing.EventPaymentIntentSucceeded, PaymentIntent: pi})
	require.NoError(t, err)

	assert.Equal(t, *after.CurrentPeriodEnd, *h.accounts.get(1).Subscription.CurrentPeriodEnd)
	assert.Equal(t, 1, h.history.count(billing.PaymentStatusSucceeded))
}

func TestAttemptRenewal_ExpiredRestartsFromNow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusExpired, testNow.AddDate(0, 0, -30))})
	h.gateway.chargeResult = succeededIntent("pi_renew")

	ok, err := h.svc.AttemptRenewal(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)

	got := h.accounts.get(1).Subscription
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, testNow, *got.CurrentPeriodStart)
	assert.Equal(t, testNow.AddDate(1, 0, 0), *got.CurrentPeriodEnd)
}

func TestAttemptRenewal_DeclineRecordsFailure(t *testing.T) {
	t.Parallel()

	end := testNow.AddDate(0, 0, -1)
	h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusActive, end)})
	h.gateway.chargeResult = &billing.PaymentIntent{ID: "pi_declined", Status: "requires_payment_method", AmountCents: testFee, Currency: "usd", LastError: "Your card was declined."}

	ok, err := h.svc.AttemptRenewal(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, h.history.count(billing.PaymentStatusFailed))

	got := h.accounts.get(1).Subscription
	assert.Equal(t, end, *got.CurrentPeriodEnd)
	require.NotNil(t, got.LastAutoRenewAttempt)

	require.NoError(t, h.svc.Expire(context.Background(), 1, "renewal_failed"))
	assert.Equal(t, subscription.StatusExpired, h.accounts.get(1).Subscription.Status)
	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, "expired", h.publisher.events[0].To)
}

func TestAttemptRenewal_RequiresPaymentMethod(t *testing.T) {
	t.Parallel()

	acc := advisorWithCard(1, subscription.StatusActive, testNow)
	acc.Billing.DefaultPaymentMethodID = nil
	h := newHarness(t, []account.Account{acc})

	_, err := h.svc.AttemptRenewal(context.Background(), 1)
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)
	assert.Equal(t, 0, h.gateway.chargeCount())
}

func TestAttemptRenewal_PaysOpenProviderInvoice(t *testing.T) {
	t.Parallel()

	acc := advisorWithCard(1, subscription.StatusPastDue, testNow.AddDate(0, 0, -2))
	acc.Subscription.ProviderSubscriptionID = strp("sub_1")
	h := newHarness(t, []account.Account{acc})

	periodStart := testNow.AddDate(0, 0, -2)
	periodEnd := periodStart.AddDate(1, 0, 0)
	h.gateway.subscriptions["sub_1"] = &billing.ProviderSubscription{
		ID:            "sub_1",
		Status:        "past_due",
		LatestInvoice: &billing.Invoice{ID: "in_1", Status: billing.InvoiceOpen, AmountDueCents: testFee, Currency: "usd"},
	}
	h.gateway.payInvoice = func(id string) (*billing.Invoice, error) {
		return &billing.Invoice{ID: id, SubscriptionID: "sub_1", Status: billing.InvoicePaid, AmountPaidCents: testFee, Currency: "usd", PeriodStart: &periodStart, PeriodEnd: &periodEnd}, nil
	}

	ok, err := h.svc.AttemptRenewal(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, h.gateway.chargeCount())

	got := h.accounts.get(1).Subscription
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, periodEnd, *got.CurrentPeriodEnd)
}

func TestExpire_LeavesActiveAccountAlone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusActive, testNow.AddDate(0, 1, 0))})

	require.NoError(t, h.svc.Expire(context.Background(), 1, "renewal_failed"))
	assert.Equal(t, subscription.StatusActive, h.accounts.get(1).Subscription.Status)
	assert.Equal(t, 0, h.accounts.saves)
}

func TestCancelThenAccess(t *testing.T) {
	t.Parallel()

	end := testNow.AddDate(0, 0, 30)
	h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusActive, end)})
	ctx := context.Background()

	status, err := h.svc.CancelAtPeriodEnd(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, status.Subscription.Status)
	assert.True(t, status.IsActive)
	assert.True(t, status.Subscription.CancelAtPeriodEnd)

	decision, err := h.svc.CheckAccess(ctx, 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	_, err = h.svc.CancelAtPeriodEnd(ctx, 1)
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)

	h.clock.Set(end.Add(time.Minute))
	decision, err = h.svc.CheckAccess(ctx, 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.False(t, decision.RenewalAttempted)
	require.NotNil(t, decision.Denied)
	assert.Equal(t, subscription.AccessDeniedCode, decision.Denied.Code)
	assert.True(t, decision.Denied.HasPaymentMethod)
	assert.Equal(t, RedirectReactivate, decision.Denied.RedirectTo)
	assert.Equal(t, 0, h.gateway.chargeCount())
}

func TestCancel_UpdatesProviderSubscription(t *testing.T) {
	t.Parallel()

	acc := advisorWithCard(1, subscription.StatusActive, testNow.AddDate(0, 1, 0))
	acc.Subscription.ProviderSubscriptionID = strp("sub_1")
	h := newHarness(t, []account.Account{acc})

	_, err := h.svc.CancelAtPeriodEnd(context.Background(), 1)
	require.NoError(t, err)
	_, err = h.svc.Resume(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false}, h.gateway.cancelCalls)
	assert.Equal(t, subscription.StatusActive, h.accounts.get(1).Subscription.Status)
}

func TestResume_AfterPeriodEndIsNoOp(t *testing.T) {
	t.Parallel()

	acc := advisorWithCard(1, subscription.StatusCanceled, testNow.AddDate(0, 0, -1))
	acc.Subscription.CancelAtPeriodEnd = true
	h := newHarness(t, []account.Account{acc})

	status, err := h.svc.Resume(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, status.Subscription.Status)
	assert.False(t, status.IsActive)
	assert.Equal(t, 0, h.accounts.saves)
}

func TestCheckAccess(t *testing.T) {
	t.Parallel()

	t.Run("non advisors pass", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, []account.Account{{ID: 1, Role: account.RoleSeller}})

		decision, err := h.svc.CheckAccess(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("no card redirects to payment method", func(t *testing.T) {
		t.Parallel()
		acc := advisorWithCard(1, subscription.StatusExpired, testNow.AddDate(0, 0, -5))
		acc.Billing.DefaultPaymentMethodID = nil
		h := newHarness(t, []account.Account{acc})

		decision, err := h.svc.CheckAccess(context.Background(), 1)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.False(t, decision.RenewalAttempted)
		assert.False(t, decision.Denied.HasPaymentMethod)
		assert.Equal(t, RedirectPaymentMethod, decision.Denied.RedirectTo)
	})

	t.Run("lapsed advisor is renewed inline", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusActive, testNow.AddDate(0, 0, -1))})
		h.gateway.chargeResult = succeededIntent("pi_inline")

		decision, err := h.svc.CheckAccess(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.True(t, decision.RenewalAttempted)
		assert.True(t, decision.Account.Subscription.IsActive(testNow))
	})

	t.Run("recent attempt is not retried", func(t *testing.T) {
		t.Parallel()
		acc := advisorWithCard(1, subscription.StatusPastDue, testNow.AddDate(0, 0, -1))
		acc.Subscription.LastAutoRenewAttempt = timep(testNow.Add(-5 * time.Minute))
		h := newHarness(t, []account.Account{acc})

		decision, err := h.svc.CheckAccess(context.Background(), 1)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.False(t, decision.RenewalAttempted)
		assert.Equal(t, RedirectReactivate, decision.Denied.RedirectTo)
		assert.Equal(t, 0, h.gateway.chargeCount())
	})

	t.Run("declined inline renewal denies", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusActive, testNow.AddDate(0, 0, -1))})
		h.gateway.chargeResult = &billing.PaymentIntent{ID: "pi_declined", Status: "requires_payment_method", LastError: "declined"}

		decision, err := h.svc.CheckAccess(context.Background(), 1)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.True(t, decision.RenewalAttempted)
		assert.Equal(t, 1, h.gateway.chargeCount())
	})
}

func TestHandleEvent_PaymentIntentReplay(t *testing.T) {
	t.Parallel()

	acc := account.Account{ID: 1, Email: "a@example.com", Role: account.RoleAdvisor, Subscription: subscription.Subscription{Status: subscription.StatusNone}}
	h := newHarness(t, []account.Account{acc}, coupon.Coupon{Code: "SAVE20", Type: coupon.TypePercentage, Value: 20, IsActive: true})

	pi := succeededIntent("pi_checkout")
	pi.AmountCents = 400000
	pi.Metadata = map[string]string{
		billing.MetaAccountID:  "1",
		billing.MetaPurpose:    purposeMembership,
		billing.MetaCouponCode: "SAVE20",
	}
	evt := &billing.Event{ID: "evt_1", Type: billing.EventPaymentIntentSucceeded, PaymentIntent: pi}

	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.HandleEvent(context.Background(), evt))
	}

	got := h.accounts.get(1)
	assert.Equal(t, subscription.StatusActive, got.Subscription.Status)
	assert.Equal(t, testNow.AddDate(1, 0, 0), *got.Subscription.CurrentPeriodEnd)
	assert.Equal(t, 1, h.history.count(billing.PaymentStatusSucceeded))
	assert.Equal(t, 1, h.coupons.incremented("SAVE20"))
	require.NotNil(t, got.Billing.DefaultPaymentMethodID)
	assert.Equal(t, "pm_1", *got.Billing.DefaultPaymentMethodID)
}

func TestHandleEvent_IgnoresForeignIntents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusNone, testNow)})
	pi := succeededIntent("pi_invoice")
	pi.Metadata = map[string]string{billing.MetaAccountID: "1"}

	require.NoError(t, h.svc.HandleEvent(context.Background(), &billing.Event{ID: "evt_1", Type: billing.EventPaymentIntentSucceeded, PaymentIntent: pi}))
	assert.Equal(t, 0, h.accounts.saves)
}

func TestHandleEvent_UnknownAccountIsAcknowledged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	pi := succeededIntent("pi_x")
	pi.CustomerID = "cus_unknown"
	pi.Metadata = map[string]string{billing.MetaAccountID: "99", billing.MetaPurpose: purposeMembership}

	err := h.svc.HandleEvent(context.Background(), &billing.Event{ID: "evt_1", Type: billing.EventPaymentIntentSucceeded, PaymentIntent: pi})
	assert.NoError(t, err)
}

func TestHandleEvent_InvoiceFailed(t *testing.T) {
	t.Parallel()

	t.Run("retry fails then past due and one email", func(t *testing.T) {
		t.Parallel()
		acc := advisorWithCard(1, subscription.StatusActive, testNow.AddDate(0, 0, -1))
		acc.Subscription.ProviderSubscriptionID = strp("sub_1")
		h := newHarness(t, []account.Account{acc})

		evt := &billing.Event{
			ID:      "evt_1",
			Type:    billing.EventInvoicePaymentFailed,
			Invoice: &billing.Invoice{ID: "in_1", CustomerID: "cus_1", SubscriptionID: "sub_1", Status: billing.InvoiceOpen, AmountDueCents: testFee, Currency: "usd"},
		}
		require.NoError(t, h.svc.HandleEvent(context.Background(), evt))
		require.NoError(t, h.svc.HandleEvent(context.Background(), evt))

		assert.Equal(t, subscription.StatusPastDue, h.accounts.get(1).Subscription.Status)
		assert.Equal(t, 1, h.notifier.failedCount())
		assert.Equal(t, 1, h.history.count(billing.PaymentStatusFailed))
		assert.Equal(t, "retry-in_1", h.gateway.invoiceKeys[0])
	})

	t.Run("successful retry activates", func(t *testing.T) {
		t.Parallel()
		acc := advisorWithCard(1, subscription.StatusActive, testNow.AddDate(0, 0, -1))
		acc.Subscription.ProviderSubscriptionID = strp("sub_1")
		h := newHarness(t, []account.Account{acc})

		periodEnd := testNow.AddDate(1, 0, 0)
		h.gateway.payInvoice = func(id string) (*billing.Invoice, error) {
			return &billing.Invoice{ID: id, SubscriptionID: "sub_1", Status: billing.InvoicePaid, AmountPaidCents: testFee, Currency: "usd", PeriodStart: timep(testNow), PeriodEnd: &periodEnd}, nil
		}

		evt := &billing.Event{
			ID:      "evt_1",
			Type:    billing.EventInvoicePaymentFailed,
			Invoice: &billing.Invoice{ID: "in_1", SubscriptionID: "sub_1", Status: billing.InvoiceOpen},
		}
		require.NoError(t, h.svc.HandleEvent(context.Background(), evt))

		got := h.accounts.get(1).Subscription
		assert.Equal(t, subscription.StatusActive, got.Status)
		assert.Equal(t, periodEnd, *got.CurrentPeriodEnd)
		assert.Equal(t, 0, h.notifier.failedCount())
	})
}

func TestHandleEvent_SubscriptionUpdated(t *testing.T) {
	t.Parallel()

	acc := advisorWithCard(1, subscription.StatusActive, testNow.AddDate(0, 1, 0))
	acc.Subscription.ProviderSubscriptionID = strp("sub_1")
	h := newHarness(t, []account.Account{acc})
	end := testNow.AddDate(0, 1, 0)

	evt := &billing.Event{
		ID:   "evt_1",
		Type: billing.EventSubscriptionUpdated,
		Subscription: &billing.ProviderSubscription{
			ID: "sub_1", CustomerID: "cus_1", Status: "active", CancelAtPeriodEnd: true, CurrentPeriodEnd: &end,
		},
	}
	require.NoError(t, h.svc.HandleEvent(context.Background(), evt))

	got := h.accounts.get(1).Subscription
	assert.Equal(t, subscription.StatusCanceled, got.Status)
	assert.True(t, got.CancelAtPeriodEnd)
	assert.NotNil(t, got.CanceledAt)
	assert.True(t, got.IsActive(testNow))

	evt.Type = billing.EventSubscriptionDeleted
	evt.Subscription.CurrentPeriodEnd = timep(testNow.Add(-time.Second))
	require.NoError(t, h.svc.HandleEvent(context.Background(), evt))
	assert.False(t, h.accounts.get(1).Subscription.IsActive(testNow))
}

func TestCreateCheckout(t *testing.T) {
	t.Parallel()

	t.Run("full coupon redeems without payment", func(t *testing.T) {
		t.Parallel()
		acc := account.Account{ID: 1, Role: account.RoleAdvisor, Subscription: subscription.Subscription{Status: subscription.StatusNone}}
		h := newHarness(t, []account.Account{acc}, coupon.Coupon{Code: "FREE", Type: coupon.TypePercentage, Value: 100, IsActive: true})

		resp, err := h.svc.CreateCheckout(context.Background(), 1, "free")
		require.NoError(t, err)
		assert.True(t, resp.Redeemed)
		assert.Equal(t, int64(0), resp.AmountCents)
		assert.Equal(t, 0, h.gateway.createdIntent)
		assert.Equal(t, 1, h.coupons.incremented("FREE"))
		assert.Equal(t, 1, h.history.count(billing.PaymentStatusFree))
		assert.True(t, h.accounts.get(1).Subscription.IsActive(testNow))
	})

	t.Run("creates a payment intent", func(t *testing.T) {
		t.Parallel()
		acc := account.Account{ID: 1, Role: account.RoleAdvisor, Subscription: subscription.Subscription{Status: subscription.StatusNone}}
		h := newHarness(t, []account.Account{acc}, coupon.Coupon{Code: "SAVE20", Type: coupon.TypePercentage, Value: 20, IsActive: true})

		resp, err := h.svc.CreateCheckout(context.Background(), 1, "save20")
		require.NoError(t, err)
		assert.False(t, resp.Redeemed)
		assert.Equal(t, int64(400000), resp.AmountCents)
		assert.Equal(t, "pi_checkout", resp.PaymentIntentID)
		assert.Equal(t, "SAVE20", h.gateway.intents["pi_checkout"].Metadata[billing.MetaCouponCode])
		assert.Equal(t, "cus_new", *h.accounts.get(1).Billing.ProviderCustomerID)
		assert.Equal(t, 0, h.coupons.incremented("SAVE20"))
	})

	t.Run("sellers are refused", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, []account.Account{{ID: 1, Role: account.RoleSeller}})

		_, err := h.svc.CreateCheckout(context.Background(), 1, "")
		assert.ErrorIs(t, err, xerrors.ErrForbidden)
	})
}

func TestConfirmPayment(t *testing.T) {
	t.Parallel()

	acc := account.Account{ID: 1, Role: account.RoleAdvisor, Subscription: subscription.Subscription{Status: subscription.StatusNone}}
	h := newHarness(t, []account.Account{acc, {ID: 2, Role: account.RoleAdvisor}})

	pending := &billing.PaymentIntent{ID: "pi_pending", Status: billing.IntentRequiresAction, Metadata: map[string]string{billing.MetaAccountID: "1"}}
	done := succeededIntent("pi_done")
	done.Metadata = map[string]string{billing.MetaAccountID: "1", billing.MetaPurpose: purposeMembership}
	h.gateway.intents[pending.ID] = pending
	h.gateway.intents[done.ID] = done

	_, err := h.svc.ConfirmPayment(context.Background(), 2, "pi_done")
	assert.ErrorIs(t, err, xerrors.ErrForbidden)

	_, err = h.svc.ConfirmPayment(context.Background(), 1, "pi_pending")
	assert.ErrorIs(t, err, xerrors.ErrPaymentProvider)

	status, err := h.svc.ConfirmPayment(context.Background(), 1, "pi_done")
	require.NoError(t, err)
	assert.True(t, status.IsActive)
	assert.True(t, status.IsPaymentVerified)

	// The webhook for the same intent changes nothing.
	require.NoError(t, h.svc.HandleEvent(context.Background(), &billing.Event{ID: "evt_1", Type: billing.EventPaymentIntentSucceeded, PaymentIntent: done}))
	assert.Equal(t, testNow.AddDate(1, 0, 0), *h.accounts.get(1).Subscription.CurrentPeriodEnd)
}

func TestRedeemCoupon(t *testing.T) {
	t.Parallel()

	t.Run("free trial needs a lapsed membership", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusActive, testNow.AddDate(0, 1, 0))},
			coupon.Coupon{Code: "TRIAL", Type: coupon.TypeFreeTrial, Value: 14, IsActive: true})

		_, err := h.svc.RedeemCoupon(context.Background(), 1, "trial")
		assert.ErrorIs(t, err, xerrors.ErrInvalidState)
		assert.Equal(t, 0, h.coupons.incremented("TRIAL"))
	})

	t.Run("free trial grants its days", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusExpired, testNow.AddDate(0, 0, -3))},
			coupon.Coupon{Code: "TRIAL", Type: coupon.TypeFreeTrial, Value: 14, IsActive: true})

		status, err := h.svc.RedeemCoupon(context.Background(), 1, "trial")
		require.NoError(t, err)
		assert.True(t, status.IsActive)
		assert.Equal(t, testNow.AddDate(0, 0, 14), *status.Subscription.CurrentPeriodEnd)
	})

	t.Run("partial coupon is refused", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusNone, testNow)},
			coupon.Coupon{Code: "SAVE20", Type: coupon.TypePercentage, Value: 20, IsActive: true})

		_, err := h.svc.RedeemCoupon(context.Background(), 1, "save20")
		assert.ErrorIs(t, err, xerrors.ErrInvalidState)
	})

	t.Run("exhausted coupon stops at the usage gate", func(t *testing.T) {
		t.Parallel()
		limit := 1
		h := newHarness(t, []account.Account{
			{ID: 1, Role: account.RoleAdvisor},
			{ID: 2, Role: account.RoleAdvisor},
		}, coupon.Coupon{Code: "ONCE", Type: coupon.TypePercentage, Value: 100, IsActive: true, UsageLimit: &limit})

		_, err := h.svc.RedeemCoupon(context.Background(), 1, "once")
		require.NoError(t, err)
		_, err = h.svc.RedeemCoupon(context.Background(), 2, "once")
		assert.ErrorIs(t, err, xerrors.ErrInvalidState)
		assert.False(t, h.accounts.get(2).Subscription.IsActive(testNow))
	})
}

func TestAttachPaymentMethod(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []account.Account{{ID: 1, Role: account.RoleAdvisor, Email: "a@example.com"}})

	status, err := h.svc.AttachPaymentMethod(context.Background(), 1, "pm_new")
	require.NoError(t, err)
	assert.True(t, status.HasPaymentMethod)
	assert.Equal(t, "4242", status.CardLast4)

	got := h.accounts.get(1).Billing
	assert.Equal(t, "cus_new", *got.ProviderCustomerID)
	assert.Equal(t, "pm_new", *got.DefaultPaymentMethodID)
}

func TestListPaymentHistory_NeverNil(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []account.Account{{ID: 1, Role: account.RoleAdvisor}})
	entries, err := h.svc.ListPaymentHistory(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestApplyCharge_ConcurrentDeliveryExtendsOnce(t *testing.T) {
	t.Parallel()

	acc := account.Account{ID: 1, Email: "a@example.com", Role: account.RoleAdvisor, Subscription: subscription.Subscription{Status: subscription.StatusNone}}
	h := newHarness(t, []account.Account{acc}, coupon.Coupon{Code: "SAVE20", Type: coupon.TypePercentage, Value: 20, IsActive: true})

	pi := succeededIntent("pi_checkout")
	pi.Metadata = map[string]string{
		billing.MetaAccountID:  "1",
		billing.MetaPurpose:    purposeMembership,
		billing.MetaCouponCode: "SAVE20",
	}
	h.gateway.intents[pi.ID] = pi

	// The webhook lands while the client confirmation is between its history
	// write and the membership update.
	var webhookErr error
	h.history.afterInsert = func(billing.HistoryEntry) {
		webhookErr = h.svc.HandleEvent(context.Background(), &billing.Event{ID: "evt_1", Type: billing.EventPaymentIntentSucceeded, PaymentIntent: pi})
	}

	_, err := h.svc.ConfirmPayment(context.Background(), 1, pi.ID)
	require.NoError(t, err)
	require.NoError(t, webhookErr)

	got := h.accounts.get(1).Subscription
	assert.Equal(t, testNow, *got.CurrentPeriodStart)
	assert.Equal(t, testNow.AddDate(1, 0, 0), *got.CurrentPeriodEnd)
	assert.Equal(t, 1, h.history.count(billing.PaymentStatusSucceeded))
	assert.Equal(t, 1, h.coupons.incremented("SAVE20"))

	entry, ok := h.history.get(pi.ID)
	require.True(t, ok)
	require.NotNil(t, entry.PeriodEnd)
	assert.Equal(t, testNow.AddDate(1, 0, 0), *entry.PeriodEnd)
}

func TestApplyCharge_FailedUpdateReleasesPayment(t *testing.T) {
	t.Parallel()

	acc := account.Account{ID: 1, Email: "a@example.com", Role: account.RoleAdvisor, Subscription: subscription.Subscription{Status: subscription.StatusNone}}
	h := newHarness(t, []account.Account{acc})

	pi := succeededIntent("pi_checkout")
	pi.Metadata = map[string]string{billing.MetaAccountID: "1", billing.MetaPurpose: purposeMembership}
	evt := &billing.Event{ID: "evt_1", Type: billing.EventPaymentIntentSucceeded, PaymentIntent: pi}

	h.accounts.setSaveErr(errors.New("connection reset"))
	require.Error(t, h.svc.HandleEvent(context.Background(), evt))
	_, claimed := h.history.get(pi.ID)
	assert.False(t, claimed)

	// The provider redelivers and the payment is applied.
	h.accounts.setSaveErr(nil)
	require.NoError(t, h.svc.HandleEvent(context.Background(), evt))
	assert.True(t, h.accounts.get(1).Subscription.IsActive(testNow))
	assert.Equal(t, 1, h.history.count(billing.PaymentStatusSucceeded))
}

func TestHandleEvent_InvoicePaidReplay(t *testing.T) {
	t.Parallel()

	acc := advisorWithCard(1, subscription.StatusIncomplete, testNow)
	acc.Subscription.ProviderSubscriptionID = strp("sub_1")
	h := newHarness(t, []account.Account{acc}, coupon.Coupon{Code: "SAVE20", Type: coupon.TypePercentage, Value: 20, IsActive: true})

	periodEnd := testNow.AddDate(1, 0, 0)
	evt := &billing.Event{
		ID:   "evt_1",
		Type: billing.EventInvoicePaymentSucceeded,
		Invoice: &billing.Invoice{
			ID:              "in_1",
			CustomerID:      "cus_1",
			SubscriptionID:  "sub_1",
			Status:          billing.InvoicePaid,
			AmountPaidCents: 400000,
			Currency:        "usd",
			PeriodStart:     timep(testNow),
			PeriodEnd:       &periodEnd,
			Metadata:        map[string]string{billing.MetaAccountID: "1", billing.MetaCouponCode: "SAVE20"},
		},
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.HandleEvent(context.Background(), evt))
	}

	got := h.accounts.get(1).Subscription
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, periodEnd, *got.CurrentPeriodEnd)
	assert.Equal(t, 1, h.history.count(billing.PaymentStatusSucceeded))
	assert.Equal(t, 1, h.coupons.incremented("SAVE20"))
}

func TestCreateCheckout_SubscriptionMode(t *testing.T) {
	t.Parallel()

	t.Run("coupon without a provider coupon is refused", func(t *testing.T) {
		t.Parallel()
		acc := account.Account{ID: 1, Role: account.RoleAdvisor, Subscription: subscription.Subscription{Status: subscription.StatusNone}}
		h := newHarness(t, []account.Account{acc}, coupon.Coupon{Code: "SAVE20", Type: coupon.TypePercentage, Value: 20, IsActive: true})
		h.svc.cfg.BillingMode = BillingModeSubscription

		_, err := h.svc.CreateCheckout(context.Background(), 1, "save20")
		assert.ErrorIs(t, err, xerrors.ErrInvalidState)
		assert.Empty(t, h.gateway.subInputs)
	})

	t.Run("provider coupon is passed through", func(t *testing.T) {
		t.Parallel()
		acc := account.Account{ID: 1, Role: account.RoleAdvisor, Subscription: subscription.Subscription{Status: subscription.StatusNone}}
		h := newHarness(t, []account.Account{acc}, coupon.Coupon{Code: "SAVE20", Type: coupon.TypePercentage, Value: 20, IsActive: true, ProviderCouponID: strp("co_save20")})
		h.svc.cfg.BillingMode = BillingModeSubscription

		resp, err := h.svc.CreateCheckout(context.Background(), 1, "save20")
		require.NoError(t, err)
		assert.Equal(t, int64(400000), resp.AmountCents)
		require.Len(t, h.gateway.subInputs, 1)
		assert.Equal(t, "co_save20", h.gateway.subInputs[0].ProviderCouponID)
		assert.Equal(t, "SAVE20", h.gateway.subInputs[0].Metadata[billing.MetaCouponCode])
	})
}

func TestConfirmPayment_SubscriptionInvoiceIntent(t *testing.T) {
	t.Parallel()

	acc := advisorWithCard(1, subscription.StatusIncomplete, testNow)
	acc.Subscription.ProviderSubscriptionID = strp("sub_1")
	other := advisorWithCard(2, subscription.StatusNone, testNow)
	other.Billing.ProviderCustomerID = strp("cus_2")
	h := newHarness(t, []account.Account{acc, other}, coupon.Coupon{Code: "SAVE20", Type: coupon.TypePercentage, Value: 20, IsActive: true})

	// Invoice intents carry no metadata of their own.
	pi := succeededIntent("pi_invoice")
	pi.InvoiceID = "in_1"
	h.gateway.intents[pi.ID] = pi

	periodEnd := testNow.AddDate(1, 0, 0)
	inv := &billing.Invoice{
		ID:              "in_1",
		CustomerID:      "cus_1",
		SubscriptionID:  "sub_1",
		Status:          billing.InvoicePaid,
		AmountPaidCents: 400000,
		Currency:        "usd",
		PeriodStart:     timep(testNow),
		PeriodEnd:       &periodEnd,
		Metadata:        map[string]string{billing.MetaAccountID: "1", billing.MetaCouponCode: "SAVE20"},
	}
	h.gateway.invoices[inv.ID] = inv

	_, err := h.svc.ConfirmPayment(context.Background(), 2, pi.ID)
	assert.ErrorIs(t, err, xerrors.ErrForbidden)

	status, err := h.svc.ConfirmPayment(context.Background(), 1, pi.ID)
	require.NoError(t, err)
	assert.True(t, status.IsActive)
	assert.Equal(t, periodEnd, *h.accounts.get(1).Subscription.CurrentPeriodEnd)

	// The invoice webhook for the same payment changes nothing.
	require.NoError(t, h.svc.HandleEvent(context.Background(), &billing.Event{ID: "evt_1", Type: billing.EventInvoicePaymentSucceeded, Invoice: inv}))
	_, ok := h.history.get("in_1")
	assert.True(t, ok)
	assert.Equal(t, 1, h.history.count(billing.PaymentStatusSucceeded))
	assert.Equal(t, 1, h.coupons.incremented("SAVE20"))
}

func TestRedeemCoupon_RefusedUsageUndoesGrant(t *testing.T) {
	t.Parallel()

	acc := account.Account{ID: 1, Role: account.RoleAdvisor, Subscription: subscription.Subscription{Status: subscription.StatusNone}}
	h := newHarness(t, []account.Account{acc}, coupon.Coupon{Code: "FREE", Type: coupon.TypePercentage, Value: 100, IsActive: true})
	h.coupons.incrementErr = xerrors.InvalidState("coupon usage limit reached")

	_, err := h.svc.RedeemCoupon(context.Background(), 1, "free")
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)

	got := h.accounts.get(1).Subscription
	assert.Equal(t, subscription.StatusNone, got.Status)
	assert.Nil(t, got.CurrentPeriodEnd)
	assert.Equal(t, 0, h.history.count(billing.PaymentStatusFree))
}

func TestRedeemCoupon_FailedGrantKeepsUsage(t *testing.T) {
	t.Parallel()

	acc := account.Account{ID: 1, Role: account.RoleAdvisor, Subscription: subscription.Subscription{Status: subscription.StatusNone}}
	h := newHarness(t, []account.Account{acc}, coupon.Coupon{Code: "FREE", Type: coupon.TypePercentage, Value: 100, IsActive: true})
	h.accounts.setSaveErr(errors.New("connection reset"))

	_, err := h.svc.RedeemCoupon(context.Background(), 1, "free")
	require.Error(t, err)
	assert.Equal(t, 0, h.coupons.incremented("FREE"))
}

func TestCheckAccess_InlineAttemptsLeaveSweeperSchedule(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []account.Account{advisorWithCard(1, subscription.StatusPastDue, testNow.AddDate(0, 0, -1))})
	h.gateway.chargeResult = &billing.PaymentIntent{ID: "pi_declined", Status: "requires_payment_method", LastError: "declined"}

	decision, err := h.svc.CheckAccess(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, decision.RenewalAttempted)

	got := h.accounts.get(1).Subscription
	assert.Nil(t, got.LastAutoRenewAttempt)
	require.NotNil(t, got.LastInlineRenewAttempt)
	assert.Equal(t, testNow, *got.LastInlineRenewAttempt)

	// Within the cooldown the guard does not charge again.
	h.clock.Set(testNow.Add(5 * time.Minute))
	decision, err = h.svc.CheckAccess(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, decision.RenewalAttempted)
	assert.Equal(t, 1, h.gateway.chargeCount())

	// The sweeper's own attempt is recorded in its column.
	_, err = h.svc.AttemptRenewal(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, h.accounts.get(1).Subscription.LastAutoRenewAttempt)
}
