// Package catalog maintains the provider model catalog: which model each
// provider serves for each workload, with priorities that define the
// cross-provider fallback order. Refresh runs park discovered models in a
// suggestions table until an operator adopts them.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tidewater-ai/conduit/internal/store"
	"github.com/tidewater-ai/conduit/providers"
)

const (
	StatusActive  = "active"
	StatusRetired = "retired"

	SuggestionPending = "pending"
	SuggestionAdopted = "adopted"
)

// Entry is one active or retired catalog row.
type Entry struct {
	ID        int64               `json:"id"`
	Provider  providers.Provider  `json:"provider"`
	Workload  providers.Workload  `json:"workload"`
	Model     string              `json:"model"`
	Status    string              `json:"status"`
	Priority  int                 `json:"priority"`
	Rationale string              `json:"rationale,omitempty"`
	Metadata  string              `json:"metadata,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Suggestion is a refresh-discovered model awaiting adoption.
type Suggestion struct {
	ID        int64              `json:"id"`
	Provider  providers.Provider `json:"provider"`
	Workload  providers.Workload `json:"workload"`
	Model     string             `json:"model"`
	Status    string             `json:"status"`
	Rationale string             `json:"rationale,omitempty"`
	Metadata  string             `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// Catalog reads and mutates the model tables.
type Catalog struct {
	db  *store.DB
	now func() time.Time
}

func New(db *store.DB) *Catalog {
	return &Catalog{db: db, now: time.Now}
}

const entryColumns = "id, provider, workload, model, status, priority, rationale, metadata, updated_at"

// Active returns the active entries for (p, w), best priority first.
func (c *Catalog) Active(ctx context.Context, p providers.Provider, w providers.Workload) ([]Entry, error) {
	return c.queryEntries(ctx, `
SELECT `+entryColumns+` FROM provider_models
WHERE provider = ? AND workload = ? AND status = ?
ORDER BY priority ASC, updated_at DESC`, string(p), string(w), StatusActive)
}

// ActiveForWorkload returns every provider's active entries for w, best
// priority first across providers.
func (c *Catalog) ActiveForWorkload(ctx context.Context, w providers.Workload) ([]Entry, error) {
	return c.queryEntries(ctx, `
SELECT `+entryColumns+` FROM provider_models
WHERE workload = ? AND status = ?
ORDER BY priority ASC, updated_at DESC`, string(w), StatusActive)
}

// ActiveForModel returns the active entries naming model, regardless of
// provider or workload.
func (c *Catalog) ActiveForModel(ctx context.Context, model string) ([]Entry, error) {
	return c.queryEntries(ctx, `
SELECT `+entryColumns+` FROM provider_models
WHERE model = ? AND status = ?
ORDER BY priority ASC, updated_at DESC`, model, StatusActive)
}

// ActiveAll returns every active entry.
func (c *Catalog) ActiveAll(ctx context.Context) ([]Entry, error) {
	return c.queryEntries(ctx, `
SELECT `+entryColumns+` FROM provider_models
WHERE status = ?
ORDER BY provider, workload, priority ASC`, StatusActive)
}

func (c *Catalog) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e                   Entry
			provider, workload  string
			rationale, metadata sql.NullString
			updated             string
		)
		if err := rows.Scan(&e.ID, &provider, &workload, &e.Model, &e.Status, &e.Priority, &rationale, &metadata, &updated); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		e.Provider = providers.Provider(provider)
		e.Workload = providers.Workload(workload)
		e.Rationale = rationale.String
		e.Metadata = metadata.String
		if e.UpdatedAt, err = store.ParseTime(updated); err != nil {
			return nil, fmt.Errorf("parse catalog timestamp: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	return out, nil
}

// Adopt promotes a pending suggestion into the active catalog at the given
// priority. The catalog upsert and the suggestion flip commit together.
func (c *Catalog) Adopt(ctx context.Context, suggestionID int64, priority int) (Entry, error) {
	var adopted Entry
	err := c.db.WithTx(ctx, func(tx *store.Tx) error {
		var (
			provider, workload, model, status string
			rationale, metadata               sql.NullString
		)
		err := tx.QueryRow(ctx, `
SELECT provider, workload, model, status, rationale, metadata
FROM provider_model_suggestions WHERE id = ?`, suggestionID,
		).Scan(&provider, &workload, &model, &status, &rationale, &metadata)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("suggestion %d not found", suggestionID)
		}
		if err != nil {
			return fmt.Errorf("load suggestion %d: %w", suggestionID, err)
		}
		if status != SuggestionPending {
			return fmt.Errorf("suggestion %d is %s, not pending", suggestionID, status)
		}

		now := store.FormatTime(c.now())
		_, err = tx.Exec(ctx, `
INSERT INTO provider_models(provider, workload, model, status, priority, rationale, metadata, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, workload, model) DO UPDATE SET
	status = excluded.status,
	priority = excluded.priority,
	rationale = excluded.rationale,
	metadata = excluded.metadata,
	updated_at = excluded.updated_at`,
			provider, workload, model, StatusActive, priority,
			rationale.String, metadata.String, now, now)
		if err != nil {
			return fmt.Errorf("adopt %s/%s/%s: %w", provider, workload, model, err)
		}

		if _, err := tx.Exec(ctx, `
UPDATE provider_model_suggestions SET status = ?, updated_at = ? WHERE id = ?`,
			SuggestionAdopted, now, suggestionID); err != nil {
			return fmt.Errorf("mark suggestion %d adopted: %w", suggestionID, err)
		}

		adopted = Entry{
			Provider:  providers.Provider(provider),
			Workload:  providers.Workload(workload),
			Model:     model,
			Status:    StatusActive,
			Priority:  priority,
			Rationale: rationale.String,
			Metadata:  metadata.String,
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return adopted, nil
}

// Retire marks an active entry retired so routing stops considering it.
func (c *Catalog) Retire(ctx context.Context, p providers.Provider, w providers.Workload, model string) error {
	res, err := c.db.Exec(ctx, `
UPDATE provider_models SET status = ?, updated_at = ?
WHERE provider = ? AND workload = ? AND model = ? AND status = ?`,
		StatusRetired, store.FormatTime(c.now()), string(p), string(w), model, StatusActive)
	if err != nil {
		return fmt.Errorf("retire %s/%s/%s: %w", p, w, model, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no active entry for %s/%s/%s", p, w, model)
	}
	return nil
}

// InsertSuggestions stores refresh results, skipping (provider, workload,
// model) tuples already suggested. It returns how many rows were inserted.
func (c *Catalog) InsertSuggestions(ctx context.Context, suggestions []Suggestion) (int, error) {
	inserted := 0
	now := store.FormatTime(c.now())
	for _, s := range suggestions {
		res, err := c.db.Exec(ctx, `
INSERT INTO provider_model_suggestions(provider, workload, model, status, rationale, metadata, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, workload, model) DO NOTHING`,
			string(s.Provider), string(s.Workload), s.Model, SuggestionPending,
			s.Rationale, s.Metadata, now, now)
		if err != nil {
			return inserted, fmt.Errorf("insert suggestion %s/%s/%s: %w", s.Provider, s.Workload, s.Model, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// Suggestions lists suggestion rows, optionally filtered by provider and
// status (pass "" to skip a filter).
func (c *Catalog) Suggestions(ctx context.Context, p providers.Provider, status string) ([]Suggestion, error) {
	query := `
SELECT id, provider, workload, model, status, rationale, metadata, created_at
FROM provider_model_suggestions WHERE 1=1`
	var args []any
	if p != "" {
		query += " AND provider = ?"
		args = append(args, string(p))
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY provider, workload, created_at DESC"

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Suggestion
	for rows.Next() {
		var (
			s                   Suggestion
			provider, workload  string
			rationale, metadata sql.NullString
			created             string
		)
		if err := rows.Scan(&s.ID, &provider, &workload, &s.Model, &s.Status, &rationale, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan suggestion row: %w", err)
		}
		s.Provider = providers.Provider(provider)
		s.Workload = providers.Workload(workload)
		s.Rationale = rationale.String
		s.Metadata = metadata.String
		if s.CreatedAt, err = store.ParseTime(created); err != nil {
			return nil, fmt.Errorf("parse suggestion timestamp: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	return out, nil
}
