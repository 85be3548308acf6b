// internal/repository/postgres/schema.go
package postgres

const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		full_name VARCHAR(200) NOT NULL DEFAULT '',
		role VARCHAR(20) NOT NULL,
		subscription_status VARCHAR(30) NOT NULL DEFAULT 'none',
		provider_subscription_id VARCHAR(255),
		current_period_start TIMESTAMPTZ,
		current_period_end TIMESTAMPTZ,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
		canceled_at TIMESTAMPTZ,
		last_auto_renew_attempt TIMESTAMPTZ,
		last_inline_renew_attempt TIMESTAMPTZ,
		expiry_notified_at TIMESTAMPTZ,
		provider_customer_id VARCHAR(255),
		default_payment_method_id VARCHAR(255),
		card_brand VARCHAR(30),
		card_last4 VARCHAR(4),
		card_exp_month INT,
		card_exp_year INT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT valid_account_role CHECK (role IN ('advisor', 'seller', 'admin'))
	);

	ALTER TABLE accounts ADD COLUMN IF NOT EXISTS last_inline_renew_attempt TIMESTAMPTZ;

	CREATE INDEX IF NOT EXISTS idx_accounts_period_end ON accounts(current_period_end) WHERE role = 'advisor';
	CREATE INDEX IF NOT EXISTS idx_accounts_customer ON accounts(provider_customer_id);
	CREATE INDEX IF NOT EXISTS idx_accounts_provider_sub ON accounts(provider_subscription_id);

	CREATE TABLE IF NOT EXISTS coupons (
		id BIGSERIAL PRIMARY KEY,
		code VARCHAR(64) NOT NULL,
		type VARCHAR(20) NOT NULL,
		value NUMERIC(12, 2) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at TIMESTAMPTZ,
		usage_limit INT,
		used_count INT NOT NULL DEFAULT 0,
		provider_coupon_id VARCHAR(255),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT valid_coupon_type CHECK (type IN ('percentage', 'fixed', 'free_trial')),
		CONSTRAINT coupon_usage_within_limit CHECK (usage_limit IS NULL OR used_count <= usage_limit)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_coupons_code ON coupons(UPPER(code));

	CREATE TABLE IF NOT EXISTS payment_history (
		id BIGSERIAL PRIMARY KEY,
		payment_id VARCHAR(255) NOT NULL UNIQUE,
		account_id BIGINT NOT NULL REFERENCES accounts(id),
		amount_cents BIGINT NOT NULL,
		currency VARCHAR(3) NOT NULL,
		status VARCHAR(20) NOT NULL,
		coupon_code VARCHAR(64),
		period_start TIMESTAMPTZ,
		period_end TIMESTAMPTZ,
		description TEXT NOT NULL DEFAULT '',
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_payment_history_account ON payment_history(account_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS advisor_profiles (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL UNIQUE REFERENCES accounts(id),
		full_name VARCHAR(200) NOT NULL,
		company_name VARCHAR(200) NOT NULL,
		email VARCHAR(255) NOT NULL,
		phone VARCHAR(40) NOT NULL DEFAULT '',
		website VARCHAR(255) NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		industries TEXT[] NOT NULL DEFAULT '{}',
		geographies TEXT[] NOT NULL DEFAULT '{}',
		revenue_min NUMERIC(18, 2),
		revenue_max NUMERIC(18, 2),
		years_experience INT NOT NULL DEFAULT 0,
		worked_with_cimamplify BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		send_leads BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_advisor_profiles_leads ON advisor_profiles(is_active, send_leads);

	CREATE TABLE IF NOT EXISTS seller_profiles (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL UNIQUE REFERENCES accounts(id),
		company_name VARCHAR(200) NOT NULL,
		industry VARCHAR(120) NOT NULL DEFAULT '',
		geography VARCHAR(240) NOT NULL DEFAULT '',
		annual_revenue NUMERIC(18, 2),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`
