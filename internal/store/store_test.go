package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}

	// All five tables must exist and be queryable.
	for _, table := range []string{
		"credentials", "provider_health", "provider_models",
		"provider_model_suggestions", "provider_usage",
	} {
		var n int
		if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestEnsureSchemaUpgradesLegacyUsageTable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// A pre-token-accounting usage table.
	_, err := db.Exec(ctx, `CREATE TABLE provider_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		model TEXT,
		success INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		error_message TEXT,
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create legacy table: %v", err)
	}

	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("bootstrap over legacy table: %v", err)
	}

	_, err = db.Exec(ctx,
		"INSERT INTO provider_usage(provider, success, latency_ms, total_tokens, created_at) VALUES(?, ?, ?, ?, ?)",
		"groq", 1, 42, 100, FormatTime(time.Now()))
	if err != nil {
		t.Fatalf("insert with upgraded column: %v", err)
	}
}

func TestBindPostgresPlaceholders(t *testing.T) {
	got := bind(DialectPostgres, "INSERT INTO t(a, b, c) VALUES(?, ?, ?)")
	want := "INSERT INTO t(a, b, c) VALUES($1, $2, $3)"
	if got != want {
		t.Errorf("bind = %q, want %q", got, want)
	}

	if got := bind(DialectSQLite, "SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite bind rewrote query: %q", got)
	}
}

func TestFormatTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 30, 0, 0, time.UTC)
	s := FormatTime(now)
	parsed, err := ParseTime(s)
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("round trip changed time: %v != %v", parsed, now)
	}
}
