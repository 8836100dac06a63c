package postgres

// schema holds the idempotent DDL applied by Migrate, in order.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS durable_jobs (
		id              TEXT PRIMARY KEY,
		type            TEXT NOT NULL,
		tenant_id       TEXT NOT NULL,
		run_id          TEXT,
		payload         BYTEA,
		status          TEXT NOT NULL DEFAULT 'pending',
		claimed_by      TEXT,
		attempts        INTEGER NOT NULL DEFAULT 0,
		max_retries     INTEGER NOT NULL DEFAULT 3,
		priority        INTEGER NOT NULL DEFAULT 0,
		claimed_at      TIMESTAMPTZ,
		started_at      TIMESTAMPTZ,
		completed_at    TIMESTAMPTZ,
		last_heartbeat  TIMESTAMPTZ,
		error           TEXT NOT NULL DEFAULT '',
		result          BYTEA,
		message_id      TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_durable_jobs_pending
		ON durable_jobs (tenant_id, priority DESC, created_at ASC)
		WHERE status = 'pending'`,

	`CREATE INDEX IF NOT EXISTS idx_durable_jobs_stale
		ON durable_jobs (last_heartbeat ASC)
		WHERE status IN ('claimed', 'running')`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_durable_jobs_message
		ON durable_jobs (message_id)
		WHERE message_id IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_durable_jobs_run
		ON durable_jobs (run_id)`,

	`CREATE TABLE IF NOT EXISTS durable_runs (
		id                 TEXT PRIMARY KEY,
		tenant_id          TEXT NOT NULL,
		status             TEXT NOT NULL DEFAULT 'running',
		steps              JSONB,
		current_step_index INTEGER NOT NULL DEFAULT 0,
		error              TEXT NOT NULL DEFAULT '',
		started_at         TIMESTAMPTZ NOT NULL,
		completed_at       TIMESTAMPTZ,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_durable_runs_tenant
		ON durable_runs (tenant_id, status)`,

	`CREATE TABLE IF NOT EXISTS durable_checkpoints (
		run_id             TEXT PRIMARY KEY,
		tenant_id          TEXT NOT NULL,
		current_step_index INTEGER NOT NULL DEFAULT 0,
		current_step_name  TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL,
		completed_steps    JSONB,
		failed_step_id     TEXT NOT NULL DEFAULT '',
		artifacts          JSONB,
		reason             TEXT NOT NULL,
		checkpointed_at    TIMESTAMPTZ NOT NULL,
		version            BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS durable_run_locks (
		run_id      TEXT PRIMARY KEY,
		holder_id   TEXT NOT NULL,
		acquired_at TIMESTAMPTZ NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS durable_idempotency (
		id           TEXT PRIMARY KEY,
		scope        TEXT NOT NULL,
		source       TEXT NOT NULL,
		external_id  TEXT NOT NULL,
		input_hash   TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'processing',
		result       BYTEA,
		owner_id     TEXT,
		run_id       TEXT,
		started_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (scope, source, external_id)
	)`,
}
