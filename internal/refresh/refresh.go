// Package refresh asks a routed model to review the current catalog and
// propose replacements. Proposals land in the suggestions table; nothing
// becomes active until an operator adopts it.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tidewater-ai/conduit"
	"github.com/tidewater-ai/conduit/internal/catalog"
	"github.com/tidewater-ai/conduit/internal/logging"
	"github.com/tidewater-ai/conduit/internal/usage"
	"github.com/tidewater-ai/conduit/providers"
)

// Generator produces one completion. Satisfied by *conduit.Router.
type Generator interface {
	Generate(ctx context.Context, req conduit.Request) (*conduit.Response, error)
}

// suggestionSchema validates the envelope a model must return before any
// row is written.
const suggestionSchema = `{
	"type": "object",
	"required": ["suggestions"],
	"properties": {
		"suggestions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["model", "workload"],
				"properties": {
					"model": {"type": "string", "minLength": 1},
					"workload": {"type": "string", "minLength": 1},
					"rationale": {"type": "string"}
				}
			}
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString("suggestions.json", suggestionSchema)

// Report is the outcome of one refresh run.
type Report struct {
	Provider    providers.Provider   `json:"provider"`
	Workload    *providers.Workload  `json:"workload,omitempty"`
	Suggestions []catalog.Suggestion `json:"suggestions"`
	Inserted    int                  `json:"inserted"`
	Skipped     int                  `json:"skipped"`
	DryRun      bool                 `json:"dry_run"`
}

// Refresher generates catalog suggestions for one provider at a time.
type Refresher struct {
	gen     Generator
	catalog *catalog.Catalog
	usage   *usage.Logger
}

func New(gen Generator, cat *catalog.Catalog, logger *usage.Logger) *Refresher {
	return &Refresher{gen: gen, catalog: cat, usage: logger}
}

// Run builds the catalog context for p, asks the router for suggestions,
// validates them, and inserts the survivors unless dryRun is set. workload
// may be nil to cover every workload.
func (r *Refresher) Run(ctx context.Context, p providers.Provider, workload *providers.Workload, dryRun bool) (*Report, error) {
	doc, err := r.contextDocument(ctx, p)
	if err != nil {
		return nil, err
	}

	resp, err := r.gen.Generate(ctx, conduit.Request{
		Prompt: buildPrompt(p, workload, doc),
		Hints:  conduit.Hints{Workload: string(providers.WorkloadExtraction)},
	})
	if err != nil {
		return nil, err
	}

	suggestions, err := parseSuggestions(p, resp.Content)
	if err != nil {
		return nil, err
	}

	report := &Report{Provider: p, Workload: workload, DryRun: dryRun}
	for _, s := range suggestions {
		if workload != nil && s.Workload != *workload {
			report.Skipped++
			continue
		}
		report.Suggestions = append(report.Suggestions, s)
	}

	if dryRun {
		return report, nil
	}
	inserted, err := r.catalog.InsertSuggestions(ctx, report.Suggestions)
	if err != nil {
		return nil, conduit.NewRouteError(conduit.CodePersistence, "store suggestions", err)
	}
	report.Inserted = inserted
	logging.FromContext(ctx).Info("catalog refresh complete",
		"provider", string(p), "suggested", len(report.Suggestions), "inserted", inserted)
	return report, nil
}

// contextDocument summarizes the active catalog and observed usage for p so
// the model proposes against real state instead of guessing.
func (r *Refresher) contextDocument(ctx context.Context, p providers.Provider) (string, error) {
	type modelLine struct {
		Workload    string  `json:"workload"`
		Model       string  `json:"model"`
		Priority    int     `json:"priority"`
		TotalCalls  int64   `json:"total_calls"`
		SuccessRate float64 `json:"success_rate"`
		AvgLatency  float64 `json:"avg_latency_ms"`
	}

	var lines []modelLine
	for _, w := range providers.Workloads() {
		entries, err := r.catalog.Active(ctx, p, w)
		if err != nil {
			return "", conduit.NewRouteError(conduit.CodePersistence, "load catalog", err)
		}
		if len(entries) == 0 {
			continue
		}
		stats, err := r.usage.ProviderStats(ctx, p, &w)
		if err != nil {
			return "", conduit.NewRouteError(conduit.CodePersistence, "load usage stats", err)
		}
		for _, e := range entries {
			lines = append(lines, modelLine{
				Workload: string(e.Workload), Model: e.Model, Priority: e.Priority,
				TotalCalls: stats.TotalCalls, SuccessRate: stats.SuccessRate, AvgLatency: stats.AvgLatency,
			})
		}
	}

	doc, err := json.MarshalIndent(map[string]any{
		"provider":      string(p),
		"active_models": lines,
		"workloads":     providers.Workloads(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode context document: %w", err)
	}
	return string(doc), nil
}

func buildPrompt(p providers.Provider, workload *providers.Workload, doc string) string {
	var b strings.Builder
	b.WriteString("You maintain the model roster for the ")
	b.WriteString(string(p))
	b.WriteString(" provider. Review the current roster and usage summary below, then propose better or newer models")
	if workload != nil {
		b.WriteString(" for the ")
		b.WriteString(string(*workload))
		b.WriteString(" workload")
	}
	b.WriteString(".\n\nCurrent state:\n")
	b.WriteString(doc)
	b.WriteString("\n\nRespond with JSON only, no prose, in this shape:\n")
	b.WriteString(`{"suggestions": [{"model": "...", "workload": "...", "rationale": "..."}]}`)
	b.WriteString("\nOnly name models actually served by this provider. An empty suggestions array is a valid answer.")
	return b.String()
}

// parseSuggestions validates the model output and maps it onto suggestion
// rows, dropping entries with unknown workload tags.
func parseSuggestions(p providers.Provider, content string) ([]catalog.Suggestion, error) {
	raw := extractJSON(content)

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, conduit.NewRouteError(conduit.CodeSuggestionParse, "model output is not valid JSON", err)
	}
	if err := compiledSchema.Validate(decoded); err != nil {
		return nil, conduit.NewRouteError(conduit.CodeSuggestionParse, "model output does not match the suggestion schema", err)
	}

	var envelope struct {
		Suggestions []struct {
			Model     string `json:"model"`
			Workload  string `json:"workload"`
			Rationale string `json:"rationale"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, conduit.NewRouteError(conduit.CodeSuggestionParse, "decode suggestions", err)
	}

	var out []catalog.Suggestion
	for _, s := range envelope.Suggestions {
		w, err := providers.ParseWorkload(s.Workload)
		if err != nil {
			continue
		}
		out = append(out, catalog.Suggestion{
			Provider: p, Workload: w, Model: s.Model, Rationale: s.Rationale,
		})
	}
	return out, nil
}

// extractJSON strips markdown code fences models habitually wrap JSON in.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSpace(s)
	}
	// Some models prepend prose despite instructions; fall back to the
	// outermost braces.
	if start := strings.Index(s, "{"); start > 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}
