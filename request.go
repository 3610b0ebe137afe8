// Package conduit routes text generation requests across multiple hosted
// model providers, preferring cheap fast providers and falling back down a
// priority-ordered catalog when a provider is unhealthy or fails.
package conduit

import (
	"fmt"
	"strings"

	"github.com/tidewater-ai/conduit/providers"
)

// Hints steer candidate selection. All fields are optional; Provider pins
// routing to one provider, the rest bias ordering without excluding anyone.
type Hints struct {
	Provider   string   `json:"provider,omitempty"`
	Workload   string   `json:"workload,omitempty"`
	Complexity string   `json:"complexity,omitempty"`
	Quality    string   `json:"quality,omitempty"`
	Speed      string   `json:"speed,omitempty"`
	Guardrail  string   `json:"guardrail,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Request is one generation request entering the router, from either the
// HTTP surface or the CLI.
type Request struct {
	Prompt   string            `json:"prompt"`
	Model    string            `json:"model,omitempty"`
	Hints    Hints             `json:"hints,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate rejects requests the router cannot act on. A pinned provider or
// workload hint must parse; an empty prompt is never routable.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return NewRouteError(CodeInvalidRequest, "prompt is required", nil)
	}
	if r.Hints.Provider != "" {
		if _, err := providers.Parse(r.Hints.Provider); err != nil {
			return NewRouteError(CodeInvalidRequest, fmt.Sprintf("unknown provider %q", r.Hints.Provider), err)
		}
	}
	if r.Hints.Workload != "" {
		if _, err := providers.ParseWorkload(r.Hints.Workload); err != nil {
			return NewRouteError(CodeInvalidRequest, fmt.Sprintf("unknown workload %q", r.Hints.Workload), err)
		}
	}
	return nil
}

// Attempt records one provider call made while routing a request.
type Attempt struct {
	Provider  providers.Provider  `json:"provider"`
	Model     string              `json:"model"`
	Success   bool                `json:"success"`
	LatencyMS int64               `json:"latency_ms"`
	ErrorKind providers.ErrorKind `json:"error_kind,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Response is a successful routed generation.
type Response struct {
	Provider  providers.Provider   `json:"provider"`
	Model     string               `json:"model"`
	Content   string               `json:"content"`
	LatencyMS int64                `json:"latency_ms"`
	Usage     providers.TokenUsage `json:"usage"`
	Attempts  []Attempt            `json:"attempts,omitempty"`
}
