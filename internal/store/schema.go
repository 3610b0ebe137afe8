package store

import (
	"context"
	"fmt"
	"strings"
)

// EnsureSchema bootstraps the schema. It is idempotent: existing tables and
// indices are left alone, and legacy provider_usage tables gain the token
// and cost columns in place.
func (d *DB) EnsureSchema(ctx context.Context) error {
	autoinc := "INTEGER PRIMARY KEY AUTOINCREMENT"
	blob := "BLOB"
	if d.dialect == DialectPostgres {
		autoinc = "BIGSERIAL PRIMARY KEY"
		blob = "BYTEA"
	}

	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS credentials (
	provider TEXT PRIMARY KEY,
	nonce %s NOT NULL,
	ciphertext %s NOT NULL,
	base_url TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`, blob, blob),
		`
CREATE TABLE IF NOT EXISTS provider_health (
	provider TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'available',
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	last_success_at TEXT,
	last_failure_at TEXT,
	last_error_kind TEXT,
	last_error TEXT,
	next_retry_at TEXT,
	updated_at TEXT NOT NULL
)`,
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS provider_models (
	id %s,
	provider TEXT NOT NULL,
	workload TEXT NOT NULL,
	model TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	priority INTEGER NOT NULL DEFAULT 100,
	rationale TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(provider, workload, model)
)`, autoinc),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS provider_model_suggestions (
	id %s,
	provider TEXT NOT NULL,
	workload TEXT NOT NULL,
	model TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	rationale TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(provider, workload, model)
)`, autoinc),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS provider_usage (
	id %s,
	provider TEXT NOT NULL,
	model TEXT,
	success INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	error_message TEXT,
	created_at TEXT NOT NULL
)`, autoinc),
		`CREATE INDEX IF NOT EXISTS idx_provider_models_active
			ON provider_models(provider, workload, status, priority)`,
		`CREATE INDEX IF NOT EXISTS idx_provider_model_suggestions_lookup
			ON provider_model_suggestions(provider, workload, status)`,
		`CREATE INDEX IF NOT EXISTS idx_provider_usage_lookup
			ON provider_usage(provider, model, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize %s schema: %w", d.dialect, err)
		}
	}
	return d.ensureUsageColumns(ctx)
}

// ensureUsageColumns upgrades provider_usage tables created before token
// and cost accounting existed.
func (d *DB) ensureUsageColumns(ctx context.Context) error {
	alterStatements := []string{
		"ALTER TABLE provider_usage ADD COLUMN prompt_tokens INTEGER",
		"ALTER TABLE provider_usage ADD COLUMN completion_tokens INTEGER",
		"ALTER TABLE provider_usage ADD COLUMN total_tokens INTEGER",
		"ALTER TABLE provider_usage ADD COLUMN input_cost_micros INTEGER",
		"ALTER TABLE provider_usage ADD COLUMN output_cost_micros INTEGER",
		"ALTER TABLE provider_usage ADD COLUMN total_cost_micros INTEGER",
	}
	for _, stmt := range alterStatements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("ensure provider_usage columns: %w", err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column")
}
