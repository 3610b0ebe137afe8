// Package usage records per-attempt call outcomes for cost and reliability
// reporting.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/tidewater-ai/conduit/internal/store"
	"github.com/tidewater-ai/conduit/providers"
)

// Record is one routed attempt against a provider.
type Record struct {
	Provider         providers.Provider
	Model            string
	Success          bool
	LatencyMS        int64
	ErrorMessage     string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	InputCostMicros  int64
	OutputCostMicros int64
	TotalCostMicros  int64
}

// Stats summarizes recorded attempts for one provider.
type Stats struct {
	TotalCalls  int64   `json:"total_calls"`
	SuccessRate float64 `json:"success_rate"`
	AvgLatency  float64 `json:"avg_latency_ms"`
}

// Logger writes usage rows. Writes are synchronous; the row is durable
// before the routed response returns.
type Logger struct {
	db  *store.DB
	now func() time.Time
}

func NewLogger(db *store.DB) *Logger {
	return &Logger{db: db, now: time.Now}
}

// Record inserts one usage row.
func (l *Logger) Record(ctx context.Context, rec Record) error {
	success := 0
	if rec.Success {
		success = 1
	}
	var errMsg any
	if rec.ErrorMessage != "" {
		errMsg = rec.ErrorMessage
	}
	_, err := l.db.Exec(ctx, `
INSERT INTO provider_usage(
	provider, model, success, latency_ms, error_message,
	prompt_tokens, completion_tokens, total_tokens,
	input_cost_micros, output_cost_micros, total_cost_micros,
	created_at
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Provider), rec.Model, success, rec.LatencyMS, errMsg,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.InputCostMicros, rec.OutputCostMicros, rec.TotalCostMicros,
		store.FormatTime(l.now()))
	if err != nil {
		return fmt.Errorf("record %s usage: %w", rec.Provider, err)
	}
	return nil
}

// ProviderStats aggregates all recorded attempts for p. When workload is
// non-nil the aggregation is restricted to models currently cataloged for
// that workload.
func (l *Logger) ProviderStats(ctx context.Context, p providers.Provider, workload *providers.Workload) (Stats, error) {
	query := `
SELECT COUNT(*),
	COALESCE(AVG(CASE WHEN success = 1 THEN 1.0 ELSE 0.0 END), 0),
	COALESCE(AVG(latency_ms), 0)
FROM provider_usage
WHERE provider = ?`
	args := []any{string(p)}
	if workload != nil {
		query += `
AND model IN (SELECT model FROM provider_models WHERE provider = ? AND workload = ?)`
		args = append(args, string(p), string(*workload))
	}

	var s Stats
	if err := l.db.QueryRow(ctx, query, args...).Scan(&s.TotalCalls, &s.SuccessRate, &s.AvgLatency); err != nil {
		return Stats{}, fmt.Errorf("aggregate %s usage: %w", p, err)
	}
	return s, nil
}
