// internal/service/sweeper/sweeper.go
package sweeper

import (
	"context"
	"time"

	"cimamplify-service/internal/domain/account"
	"cimamplify-service/internal/pkg/metrics"
	"cimamplify-service/internal/service/email"

	"go.uber.org/zap"
)

const (
	SweepRenewal = "renewal"
	SweepExpiry  = "expiry"
)

type Store interface {
	ListRenewalCandidates(ctx context.Context, now, attemptCutoff time.Time, limit int) ([]account.Account, error)
	ListUnnotifiedExpired(ctx context.Context, now time.Time, limit int) ([]account.Account, error)
	MarkExpiryNotified(ctx context.Context, id int64, at time.Time) error
}

type Renewer interface {
	AttemptRenewal(ctx context.Context, accountID int64) (bool, error)
	Expire(ctx context.Context, accountID int64, reason string) error
}

type ExpiryNotifier interface {
	SubscriptionExpired(to email.Recipient, endedAt *time.Time)
}

type Config struct {
	RenewalInterval time.Duration
	ExpiryInterval  time.Duration
	RenewCooldown   time.Duration
	BatchSize       int
	Enabled         bool
}

func (c Config) withDefaults() Config {
	if c.RenewalInterval <= 0 {
		c.RenewalInterval = time.Hour
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = 24 * time.Hour
	}
	if c.RenewCooldown <= 0 {
		c.RenewCooldown = 12 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	return c
}

// Result summarizes one sweep.
type Result struct {
	Sweep      string    `json:"sweep"`
	StartedAt  time.Time `json:"started_at"`
	Duration   string    `json:"duration"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    bool      `json:"skipped,omitempty"`
	FetchError string    `json:"fetch_error,omitempty"`
}

// Sweeper holds the run-once sweeps. Each account is handled on its own; one
// failure never stops the batch.
type Sweeper struct {
	store    Store
	renewer  Renewer
	notifier ExpiryNotifier
	metrics  *metrics.BillingMetrics
	cfg      Config
	logger   *zap.Logger
}

func NewSweeper(store Store, renewer Renewer, notifier ExpiryNotifier, m *metrics.BillingMetrics, cfg Config, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		renewer:  renewer,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// RunRenewalSweep makes one renewal attempt for every lapsed advisor with a
// card on file. Accounts whose attempt fails are expired.
func (s *Sweeper) RunRenewalSweep(ctx context.Context, now time.Time) (res Result) {
	res = Result{Sweep: SweepRenewal, StartedAt: now}
	started := time.Now()
	defer func() { res.Duration = time.Since(started).String() }()

	candidates, err := s.store.ListRenewalCandidates(ctx, now, now.Add(-s.cfg.RenewCooldown), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to list renewal candidates", zap.Error(err))
		res.FetchError = err.Error()
		return res
	}

	for i := range candidates {
		acc := &candidates[i]
		res.Processed++

		if s.renewOne(ctx, acc) {
			res.Succeeded++
			s.metrics.IncSweep(SweepRenewal, "renewed")
			continue
		}
		res.Failed++
		s.metrics.IncSweep(SweepRenewal, "expired")
	}

	s.logger.Info("renewal sweep completed",
		zap.Int("processed", res.Processed),
		zap.Int("renewed", res.Succeeded),
		zap.Int("expired", res.Failed),
	)
	return res
}

func (s *Sweeper) renewOne(ctx context.Context, acc *account.Account) (renewed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during renewal", zap.Int64("account_id", acc.ID), zap.Any("panic", r))
			renewed = false
		}
	}()

	ok, err := s.renewer.AttemptRenewal(ctx, acc.ID)
	if err != nil {
		s.logger.Warn("renewal attempt errored", zap.Int64("account_id", acc.ID), zap.Error(err))
	}
	if ok {
		return true
	}

	if err := s.renewer.Expire(ctx, acc.ID, "renewal_failed"); err != nil {
		s.logger.Error("failed to expire account", zap.Int64("account_id", acc.ID), zap.Error(err))
	}
	return false
}

// RunExpiryNotices emails each advisor once per lapsed period. A fresh cycle
// clears the marker so the next lapse is announced again.
func (s *Sweeper) RunExpiryNotices(ctx context.Context, now time.Time) (res Result) {
	res = Result{Sweep: SweepExpiry, StartedAt: now}
	started := time.Now()
	defer func() { res.Duration = time.Since(started).String() }()

	accounts, err := s.store.ListUnnotifiedExpired(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to list expired accounts", zap.Error(err))
		res.FetchError = err.Error()
		return res
	}

	for i := range accounts {
		acc := &accounts[i]
		if acc.Subscription.IsActive(now) {
			continue
		}
		res.Processed++

		s.notifier.SubscriptionExpired(email.Recipient{Email: acc.Email, FullName: acc.FullName}, acc.Subscription.CurrentPeriodEnd)

		if err := s.store.MarkExpiryNotified(ctx, acc.ID, now); err != nil {
			s.logger.Error("failed to mark expiry notified", zap.Int64("account_id", acc.ID), zap.Error(err))
			res.Failed++
			s.metrics.IncSweep(SweepExpiry, "failed")
			continue
		}
		res.Succeeded++
		s.metrics.IncSweep(SweepExpiry, "notified")
	}

	s.logger.Info("expiry notice sweep completed",
		zap.Int("processed", res.Processed),
		zap.Int("notified", res.Succeeded),
	)
	return res
}
