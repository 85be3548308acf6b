package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cimamplify-service/internal/pkg/jwt"
	"cimamplify-service/internal/pkg/stripe"
)

type EmailConfig struct {
	Provider string // smtp | postmark

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPass     string
	SMTPFromName string
	SMTPSecure   bool

	PostmarkServerToken  string
	PostmarkAccountToken string
	FromEmail            string
	ReplyTo              string
}

type BillingConfig struct {
	Mode                string
	MembershipFeeCents  int64
	TrialDays           int
	InlineRenewCooldown time.Duration
	InlineRenewTimeout  time.Duration
}

type SweeperConfig struct {
	Enabled         bool
	RenewalInterval time.Duration
	ExpiryInterval  time.Duration
	RenewCooldown   time.Duration
	BatchSize       int
}

type AppConfig struct {
	// Server
	Env         string
	HTTPAddr    string
	DatabaseURL string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	CORSOrigins []string
	FrontendURL string

	JWT     jwt.Config
	Stripe  stripe.Config
	Billing BillingConfig
	Sweeper SweeperConfig
	Email   EmailConfig

	KafkaBrokers []string
	KafkaTopic   string
}

// Load loads environment variables into AppConfig.
func Load() AppConfig {
	return AppConfig{
		Env:         getEnv("APP_ENV", "production"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8000"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:   getEnv("REDIS_PASS", ""),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		CORSOrigins: getEnvSlice("CORS_ORIGINS", nil),
		FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),

		JWT: jwt.Config{
			PubPath:  getEnv("JWT_PUBLIC_KEY_PATH", "/app/secrets/jwt_public.pem"),
			Issuer:   getEnv("JWT_ISSUER", "cimamplify-auth"),
			Audience: getEnv("JWT_AUDIENCE", "cimamplify-api"),
		},

		Stripe: stripe.Config{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			PriceID:       getEnv("STRIPE_PRICE_ID", ""),
			Currency:      strings.ToLower(getEnv("STRIPE_CURRENCY", "usd")),
		},

		Billing: BillingConfig{
			Mode:                getEnv("BILLING_MODE", ""),
			MembershipFeeCents:  int64(getEnvInt("MEMBERSHIP_FEE_CENTS", 500000)),
			TrialDays:           getEnvInt("TRIAL_DAYS", 30),
			InlineRenewCooldown: getEnvDuration("INLINE_RENEW_COOLDOWN", 15*time.Minute),
			InlineRenewTimeout:  getEnvDuration("INLINE_RENEW_TIMEOUT", 10*time.Second),
		},

		Sweeper: SweeperConfig{
			Enabled:         getEnvBool("SWEEPER_ENABLED", true),
			RenewalInterval: getEnvDuration("SWEEPER_RENEWAL_INTERVAL", time.Hour),
			ExpiryInterval:  getEnvDuration("SWEEPER_EXPIRY_INTERVAL", 24*time.Hour),
			RenewCooldown:   getEnvDuration("SWEEPER_RENEW_COOLDOWN", 12*time.Hour),
			BatchSize:       getEnvInt("SWEEPER_BATCH_SIZE", 200),
		},

		Email: EmailConfig{
			Provider:             strings.ToLower(getEnv("EMAIL_PROVIDER", "smtp")),
			SMTPHost:             getEnv("SMTP_HOST", ""),
			SMTPPort:             getEnv("SMTP_PORT", "465"),
			SMTPUser:             getEnv("SMTP_USER", ""),
			SMTPPass:             getEnv("SMTP_PASS", ""),
			SMTPFromName:         getEnv("SMTP_FROM_NAME", "CIM Amplify"),
			SMTPSecure:           getEnvBool("SMTP_SECURE", true),
			PostmarkServerToken:  getEnv("POSTMARK_SERVER_TOKEN", ""),
			PostmarkAccountToken: getEnv("POSTMARK_ACCOUNT_TOKEN", ""),
			FromEmail:            getEnv("EMAIL_FROM", ""),
			ReplyTo:              getEnv("EMAIL_REPLY_TO", ""),
		},

		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", ""),
	}
}

// Validate fails fast on settings the service cannot run without.
func (c AppConfig) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	if c.Billing.Mode == "subscription" && c.Stripe.PriceID == "" {
		errs = append(errs, errors.New("STRIPE_PRICE_ID is required when BILLING_MODE=subscription"))
	}
	if c.Billing.MembershipFeeCents <= 0 {
		errs = append(errs, errors.New("MEMBERSHIP_FEE_CENTS must be positive"))
	}
	switch c.Email.Provider {
	case "smtp":
	case "postmark":
		if c.Email.PostmarkServerToken == "" || c.Email.FromEmail == "" {
			errs = append(errs, errors.New("POSTMARK_SERVER_TOKEN and EMAIL_FROM are required for postmark"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_PROVIDER %q", c.Email.Provider))
	}
	return errors.Join(errs...)
}

// BillingMode resolves the effective mode. A configured price id switches the
// default to provider subscriptions.
func (c AppConfig) BillingMode() string {
	if c.Billing.Mode != "" {
		return c.Billing.Mode
	}
	if c.Stripe.PriceID != "" {
		return "subscription"
	}
	return "payment_intent"
}

// --- Helper functions ---

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
