package repository

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id BIGSERIAL PRIMARY KEY,
		full_name TEXT NOT NULL,
		phone TEXT NOT NULL,
		passport_series TEXT NOT NULL DEFAULT '',
		passport_fingerprint TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		district TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		profile_images TEXT NOT NULL DEFAULT '[]',
		product_name TEXT NOT NULL,
		original_price NUMERIC(18,2) NOT NULL,
		profit_percentage NUMERIC(9,4),
		markup_amount NUMERIC(18,2),
		selling_price NUMERIC(18,2) NOT NULL,
		installment_months INTEGER NOT NULL,
		monthly_payment NUMERIC(18,2) NOT NULL,
		start_date TIMESTAMPTZ NOT NULL,
		initial_payment NUMERIC(18,2) NOT NULL,
		remaining_amount NUMERIC(18,2) NOT NULL,
		remaining_months INTEGER NOT NULL,
		total_paid NUMERIC(18,2) NOT NULL DEFAULT 0,
		next_payment_date TIMESTAMPTZ,
		guarantor TEXT,
		call_note TEXT NOT NULL DEFAULT '',
		last_call_date TIMESTAMPTZ,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_customers_due ON customers (status, next_payment_date)`,
	`CREATE INDEX IF NOT EXISTS idx_customers_passport ON customers (passport_fingerprint)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
		amount NUMERIC(18,2) NOT NULL,
		method TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL,
		remaining_after NUMERIC(18,2) NOT NULL,
		monthly_payment_after NUMERIC(18,2) NOT NULL,
		remaining_months_after INTEGER NOT NULL,
		created_by BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (customer_id, idempotency_key)
	)`,
}

// Decimals are TEXT in SQLite so no precision is lost; DATETIME lets the
// driver scan timestamps back into time.Time.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		full_name TEXT NOT NULL,
		phone TEXT NOT NULL,
		passport_series TEXT NOT NULL DEFAULT '',
		passport_fingerprint TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		district TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		profile_images TEXT NOT NULL DEFAULT '[]',
		product_name TEXT NOT NULL,
		original_price TEXT NOT NULL,
		profit_percentage TEXT,
		markup_amount TEXT,
		selling_price TEXT NOT NULL,
		installment_months INTEGER NOT NULL,
		monthly_payment TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		initial_payment TEXT NOT NULL,
		remaining_amount TEXT NOT NULL,
		remaining_months INTEGER NOT NULL,
		total_paid TEXT NOT NULL DEFAULT '0',
		next_payment_date DATETIME,
		guarantor TEXT,
		call_note TEXT NOT NULL DEFAULT '',
		last_call_date DATETIME,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_customers_due ON customers (status, next_payment_date)`,
	`CREATE INDEX IF NOT EXISTS idx_customers_passport ON customers (passport_fingerprint)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL,
		remaining_after TEXT NOT NULL,
		monthly_payment_after TEXT NOT NULL,
		remaining_months_after INTEGER NOT NULL,
		created_by INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		UNIQUE (customer_id, idempotency_key)
	)`,
}
