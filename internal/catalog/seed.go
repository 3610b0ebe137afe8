package catalog

import (
	"context"
	"fmt"

	"github.com/tidewater-ai/conduit/internal/store"
	"github.com/tidewater-ai/conduit/providers"
)

// seedEntry is one built-in catalog default. Priorities band providers by
// cost: 10-20 fast free tiers, 21-30 free with conditions, 31-50
// rate-limited free, 51+ paid fallback.
type seedEntry struct {
	provider providers.Provider
	workload providers.Workload
	model    string
	priority int
}

var seedDefaults = []seedEntry{
	{providers.Groq, providers.WorkloadChat, "llama-3.3-70b-versatile", 10},
	{providers.Groq, providers.WorkloadCode, "llama-3.3-70b-versatile", 10},
	{providers.Groq, providers.WorkloadCreative, "llama-3.3-70b-versatile", 15},
	{providers.Groq, providers.WorkloadSummarization, "llama-3.3-70b-versatile", 20},

	{providers.DeepSeek, providers.WorkloadCode, "deepseek-chat", 15},
	{providers.DeepSeek, providers.WorkloadChat, "deepseek-chat", 18},
	{providers.DeepSeek, providers.WorkloadExtraction, "deepseek-chat", 18},
	{providers.DeepSeek, providers.WorkloadSummarization, "deepseek-chat", 20},
	{providers.DeepSeek, providers.WorkloadClassification, "deepseek-chat", 20},
	{providers.DeepSeek, providers.WorkloadCreative, "deepseek-chat", 25},

	{providers.Mistral, providers.WorkloadChat, "mistral-small-latest", 22},
	{providers.Mistral, providers.WorkloadClassification, "mistral-small-latest", 25},

	{providers.Together, providers.WorkloadChat, "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free", 25},
	{providers.Together, providers.WorkloadSummarization, "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free", 30},

	{providers.Google, providers.WorkloadChat, "gemini-2.0-flash", 35},
	{providers.Google, providers.WorkloadExtraction, "gemini-2.0-flash", 40},

	{providers.HuggingFace, providers.WorkloadChat, "HuggingFaceH4/zephyr-7b-beta", 45},

	{providers.OpenAI, providers.WorkloadChat, "gpt-4o-mini", 55},
	{providers.OpenAI, providers.WorkloadCode, "gpt-4o-mini", 55},

	{providers.Anthropic, providers.WorkloadCreative, "claude-3-5-haiku-latest", 58},
	{providers.Anthropic, providers.WorkloadChat, "claude-3-5-haiku-latest", 60},

	{providers.Cohere, providers.WorkloadClassification, "command-r", 62},
	{providers.Cohere, providers.WorkloadChat, "command-r", 65},

	{providers.Bedrock, providers.WorkloadChat, "anthropic.claude-3-5-haiku-20241022-v1:0", 70},
}

// Seed installs the built-in defaults for every (provider, workload) pair
// that has no active rows yet. Existing rows, including operator edits and
// retirements, are never touched.
func (c *Catalog) Seed(ctx context.Context) error {
	for _, def := range seedDefaults {
		var n int
		err := c.db.QueryRow(ctx, `
SELECT COUNT(*) FROM provider_models
WHERE provider = ? AND workload = ? AND status = ?`,
			string(def.provider), string(def.workload), StatusActive,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("probe %s/%s defaults: %w", def.provider, def.workload, err)
		}
		if n > 0 {
			continue
		}

		now := store.FormatTime(c.now())
		_, err = c.db.Exec(ctx, `
INSERT INTO provider_models(provider, workload, model, status, priority, rationale, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, workload, model) DO NOTHING`,
			string(def.provider), string(def.workload), def.model, StatusActive,
			def.priority, "built-in default", now, now)
		if err != nil {
			return fmt.Errorf("seed %s/%s: %w", def.provider, def.workload, err)
		}
	}
	return nil
}

// SeedDefault returns the built-in model and priority for (p, w), or false
// when no default exists for the pair.
func SeedDefault(p providers.Provider, w providers.Workload) (model string, priority int, ok bool) {
	for _, def := range seedDefaults {
		if def.provider == p && def.workload == w {
			return def.model, def.priority, true
		}
	}
	return "", 0, false
}

// Upsert installs or reactivates an entry directly, bypassing the
// suggestion flow. Used for manual adoption by operators.
func (c *Catalog) Upsert(ctx context.Context, e Entry) error {
	now := store.FormatTime(c.now())
	_, err := c.db.Exec(ctx, `
INSERT INTO provider_models(provider, workload, model, status, priority, rationale, metadata, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, workload, model) DO UPDATE SET
	status = excluded.status,
	priority = excluded.priority,
	rationale = excluded.rationale,
	metadata = excluded.metadata,
	updated_at = excluded.updated_at`,
		string(e.Provider), string(e.Workload), e.Model, StatusActive,
		e.Priority, e.Rationale, e.Metadata, now, now)
	if err != nil {
		return fmt.Errorf("upsert %s/%s/%s: %w", e.Provider, e.Workload, e.Model, err)
	}
	return nil
}
