package database

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS clinics (
		id                      UUID PRIMARY KEY,
		name                    TEXT NOT NULL UNIQUE,
		slug                    TEXT NOT NULL UNIQUE,
		subscription_status     TEXT NOT NULL DEFAULT 'trial',
		subscription_plan       TEXT NOT NULL DEFAULT 'basic',
		subscription_expires_at TIMESTAMPTZ,
		max_users               INTEGER NOT NULL DEFAULT 10,
		is_active               BOOLEAN NOT NULL DEFAULT TRUE,
		created_by              UUID,
		deleted_at              TIMESTAMPTZ,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id                    UUID PRIMARY KEY,
		clinic_id             UUID REFERENCES clinics(id) ON DELETE CASCADE,
		username              TEXT NOT NULL,
		email                 TEXT NOT NULL,
		first_name            TEXT NOT NULL DEFAULT '',
		last_name             TEXT NOT NULL DEFAULT '',
		password_hash         TEXT NOT NULL,
		role                  TEXT NOT NULL,
		permissions           TEXT[] NOT NULL DEFAULT '{}',
		is_active             BOOLEAN NOT NULL DEFAULT TRUE,
		failed_login_attempts INTEGER NOT NULL DEFAULT 0,
		locked_until          TIMESTAMPTZ,
		last_login_at         TIMESTAMPTZ,
		password_changed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT users_role_check CHECK (role IN ('super_admin', 'clinic_admin', 'agent')),
		CONSTRAINT users_clinic_role_check CHECK ((role = 'super_admin') = (clinic_id IS NULL))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_clinic_username_idx ON users (clinic_id, username) WHERE clinic_id IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_super_admin_username_idx ON users (username) WHERE clinic_id IS NULL`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id            UUID PRIMARY KEY,
		clinic_id     UUID,
		user_id       UUID,
		action        TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id   TEXT NOT NULL DEFAULT '',
		old_values    JSONB,
		new_values    JSONB,
		ip_address    TEXT NOT NULL DEFAULT '',
		user_agent    TEXT NOT NULL DEFAULT '',
		request_id    TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_clinic_created_idx ON audit_logs (clinic_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_created_idx ON audit_logs (created_at DESC)`,
	`ALTER TABLE clinics ADD COLUMN IF NOT EXISTS deleted_at TIMESTAMPTZ`,
}
