// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cimamplify-service/internal/config"
	"cimamplify-service/internal/db"
	adminHandler "cimamplify-service/internal/handlers/admin"
	advisorHandler "cimamplify-service/internal/handlers/advisor"
	couponHandler "cimamplify-service/internal/handlers/coupon"
	sellerHandler "cimamplify-service/internal/handlers/seller"
	subscriptionHandler "cimamplify-service/internal/handlers/subscription"
	"cimamplify-service/internal/middleware"
	"cimamplify-service/internal/pkg/events"
	"cimamplify-service/internal/pkg/idempotency"
	"cimamplify-service/internal/pkg/jwt"
	"cimamplify-service/internal/pkg/metrics"
	"cimamplify-service/internal/pkg/stripe"
	"cimamplify-service/internal/repository/postgres"
	couponsvc "cimamplify-service/internal/service/coupon"
	"cimamplify-service/internal/service/email"
	matchingsvc "cimamplify-service/internal/service/matching"
	profilesvc "cimamplify-service/internal/service/profile"
	subscriptionsvc "cimamplify-service/internal/service/subscription"
	"cimamplify-service/internal/service/sweeper"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg       config.AppConfig
	engine    *gin.Engine
	logger    *zap.Logger
	http      *http.Server
	pool      *pgxpool.Pool
	redis     *redis.Client
	scheduler *sweeper.Scheduler
	notifier  *email.Notifier
	publisher *events.Publisher
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{cfg: cfg, engine: gin.New(), logger: logger}
}

// Start wires every dependency and blocks serving HTTP until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	logger := s.logger

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	s.pool = pool
	store := postgres.NewDB(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("postgres connected")

	// ----- Redis -----
	redisClient, err := db.ConnectRedis(ctx, db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       s.cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s.redis = redisClient
	logger.Info("redis connected")

	// ----- JWT -----
	verifier, err := jwt.LoadVerifier(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT verifier: %w", err)
	}

	// ----- Metrics -----
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	billingMetrics := metrics.NewBillingMetrics(registry)

	// ----- Payment provider -----
	stripeClient, err := stripe.NewClient(s.cfg.Stripe, logger)
	if err != nil {
		return err
	}

	// ----- Email -----
	sender, err := s.buildEmailSender()
	if err != nil {
		return fmt.Errorf("failed to configure email: %w", err)
	}
	s.notifier = email.NewNotifier(sender, logger, s.cfg.FrontendURL)

	// ----- Events -----
	s.publisher = events.NewPublisher(s.cfg.KafkaBrokers, s.cfg.KafkaTopic, logger)

	// ----- Repositories -----
	accountRepo, couponRepo, historyRepo := store.Accounts, store.Coupons, store.History
	advisorRepo, sellerRepo := store.Advisors, store.Sellers

	eventClaims := idempotency.NewStore(redisClient, "stripe:event")
	sweepLocks := idempotency.NewStore(redisClient, "sweeper")

	// ----- Services -----
	couponService := couponsvc.NewService(couponRepo, billingMetrics, logger)
	subscriptionService := subscriptionsvc.NewSubscriptionService(
		accountRepo,
		historyRepo,
		couponService,
		stripeClient,
		s.notifier,
		s.publisher,
		billingMetrics,
		subscriptionsvc.Config{
			MembershipFeeCents:  s.cfg.Billing.MembershipFeeCents,
			TrialDays:           s.cfg.Billing.TrialDays,
			BillingMode:         s.cfg.BillingMode(),
			InlineRenewCooldown: s.cfg.Billing.InlineRenewCooldown,
			InlineRenewTimeout:  s.cfg.Billing.InlineRenewTimeout,
		},
		logger,
	)
	profileService := profilesvc.NewProfileService(advisorRepo, sellerRepo, logger)
	matchingService := matchingsvc.NewMatchingService(sellerRepo, advisorRepo, accountRepo, s.notifier, logger)

	sweep := sweeper.NewSweeper(accountRepo, subscriptionService, s.notifier, billingMetrics, sweeper.Config{
		Enabled:         s.cfg.Sweeper.Enabled,
		RenewalInterval: s.cfg.Sweeper.RenewalInterval,
		ExpiryInterval:  s.cfg.Sweeper.ExpiryInterval,
		RenewCooldown:   s.cfg.Sweeper.RenewCooldown,
		BatchSize:       s.cfg.Sweeper.BatchSize,
	}, logger)
	s.scheduler = sweeper.NewScheduler(sweep, sweepLocks, logger)

	// ----- Handlers -----
	handlers := &Handlers{
		BillingHandler: subscriptionHandler.NewBillingHandler(subscriptionService),
		WebhookHandler: subscriptionHandler.NewWebhookHandler(stripeClient, subscriptionService, eventClaims, billingMetrics, logger),
		CouponHandler:  couponHandler.NewCouponHandler(couponService),
		AdvisorHandler: advisorHandler.NewProfileHandler(profileService),
		SellerHandler:  sellerHandler.NewSellerHandler(profileService, matchingService),
		SweeperHandler: adminHandler.NewSweeperHandler(s.scheduler),
		AuthMiddleware: middleware.NewAuthMiddleware(verifier),
		Guard:          middleware.NewSubscriptionGuard(subscriptionService, logger),
		Registry:       registry,
	}

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(s.cfg.CORSOrigins),
	)

	SetupRouter(s.engine, logger, handlers)

	s.scheduler.Start()

	s.http = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("server starting", zap.String("addr", s.cfg.HTTPAddr), zap.String("billing_mode", s.cfg.BillingMode()))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for background work and closes
// connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.notifier != nil {
		s.notifier.Wait()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return errors.Join(errs...)
}

func (s *Server) buildEmailSender() (email.Sender, error) {
	ec := s.cfg.Email
	if ec.Provider == "postmark" {
		return email.NewPostmarkSender(email.PostmarkConfig{
			ServerToken:  ec.PostmarkServerToken,
			AccountToken: ec.PostmarkAccountToken,
			SenderEmail:  ec.FromEmail,
			ReplyTo:      ec.ReplyTo,
		})
	}
	return email.NewSMTPSender(email.SMTPConfig{
		Host:        ec.SMTPHost,
		Port:        ec.SMTPPort,
		User:        ec.SMTPUser,
		Password:    ec.SMTPPass,
		FromName:    ec.SMTPFromName,
		ImplicitTLS: ec.SMTPSecure,
	})
}
