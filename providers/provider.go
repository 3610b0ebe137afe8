// Package providers defines the adapter contract shared by every upstream
// vendor, together with the closed provider, workload, and error-kind
// enumerations used by the router, the health tracker, and the persistence
// layer.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Provider identifies one upstream vendor. The zero value is invalid.
type Provider string

// Known providers. Declaration order doubles as the router's fallback order
// for candidates of equal catalog priority.
const (
	Groq        Provider = "groq"
	DeepSeek    Provider = "deepseek"
	Together    Provider = "together"
	Google      Provider = "google"
	HuggingFace Provider = "huggingface"
	Mistral     Provider = "mistral"
	OpenAI      Provider = "openai"
	Anthropic   Provider = "anthropic"
	Cohere      Provider = "cohere"
	Bedrock     Provider = "bedrock"
)

// All returns every known provider in declaration order.
func All() []Provider {
	return []Provider{
		Groq, DeepSeek, Together, Google, HuggingFace,
		Mistral, OpenAI, Anthropic, Cohere, Bedrock,
	}
}

var providerAliases = map[string]Provider{
	"groq":          Groq,
	"deepseek":      DeepSeek,
	"deep-seek":     DeepSeek,
	"together":      Together,
	"togetherai":    Together,
	"together-ai":   Together,
	"google":        Google,
	"gemini":        Google,
	"google-gemini": Google,
	"huggingface":   HuggingFace,
	"hugging-face":  HuggingFace,
	"hugging_face":  HuggingFace,
	"hf":            HuggingFace,
	"mistral":       Mistral,
	"mistralai":     Mistral,
	"openai":        OpenAI,
	"open-ai":       OpenAI,
	"anthropic":     Anthropic,
	"claude":        Anthropic,
	"cohere":        Cohere,
	"bedrock":       Bedrock,
	"aws":           Bedrock,
	"aws-bedrock":   Bedrock,
}

// Parse maps a provider spelling (including common aliases) onto its
// canonical tag.
func Parse(s string) (Provider, error) {
	p, ok := providerAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

func (p Provider) String() string { return string(p) }

// Workload is the task category a model is cataloged under.
type Workload string

// Supported workloads.
const (
	WorkloadChat           Workload = "chat"
	WorkloadCode           Workload = "code"
	WorkloadSummarization  Workload = "summarization"
	WorkloadExtraction     Workload = "extraction"
	WorkloadCreative       Workload = "creative"
	WorkloadClassification Workload = "classification"
)

// Workloads returns every workload tag in declaration order.
func Workloads() []Workload {
	return []Workload{
		WorkloadChat, WorkloadCode, WorkloadSummarization,
		WorkloadExtraction, WorkloadCreative, WorkloadClassification,
	}
}

// ParseWorkload maps a workload spelling onto its canonical tag.
func ParseWorkload(s string) (Workload, error) {
	w := Workload(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Workloads() {
		if w == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown workload %q", s)
}

// ErrorKind classifies a failed provider call for health accounting. The
// taxonomy is closed: causes that fit nothing else collapse to KindUnknown
// rather than leaking raw transport errors into health decisions.
type ErrorKind string

const (
	KindRateLimit         ErrorKind = "rate_limit"
	KindAuthFailure       ErrorKind = "auth_failure"
	KindServiceOutage     ErrorKind = "service_outage"
	KindTimeout           ErrorKind = "timeout"
	KindTransient         ErrorKind = "transient"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindClientError       ErrorKind = "client_error"
	KindUnknown           ErrorKind = "unknown"
)

// Call is the input to a single adapter invocation. The model has already
// been chosen by the router.
type Call struct {
	Model  string
	Prompt string
}

// TokenUsage reports token counts when the vendor returns them.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Result is a successful adapter invocation. Content is non-empty.
type Result struct {
	Content string
	Usage   TokenUsage
}

// Adapter is implemented once per vendor. Adapters are stateless aside from
// an HTTP client handle and immutable credentials; they are safe for
// concurrent use.
type Adapter interface {
	Identity() Provider
	// DefaultModel is the compiled-in model used when neither the request
	// nor the catalog names one.
	DefaultModel() string
	Generate(ctx context.Context, call Call) (*Result, error)
}

// AdapterError is a classified provider failure. Adapters return it for any
// non-2xx vendor response and for responses they cannot interpret.
type AdapterError struct {
	Provider Provider
	Kind     ErrorKind
	Status   int
	Message  string
}

func (e *AdapterError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// ClassifyStatus maps an upstream HTTP status onto an ErrorKind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthFailure
	case status == http.StatusNotFound:
		return KindMalformedResponse
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status >= 400 && status < 500:
		return KindClientError
	case status >= 500:
		return KindServiceOutage
	default:
		return KindUnknown
	}
}

// Classify normalizes any error from an adapter into an *AdapterError.
// Already-classified errors pass through; context and transport errors map
// to Timeout/Transient; everything else is Unknown.
func Classify(p Provider, err error) *AdapterError {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae
	}
	kind := KindUnknown
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindTransient
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				kind = KindTimeout
			} else {
				kind = KindTransient
			}
		}
	}
	return &AdapterError{Provider: p, Kind: kind, Message: err.Error()}
}

func httpError(p Provider, status int, message string) *AdapterError {
	return &AdapterError{Provider: p, Kind: ClassifyStatus(status), Status: status, Message: message}
}

func malformed(p Provider, format string, args ...any) *AdapterError {
	return &AdapterError{Provider: p, Kind: KindMalformedResponse, Message: fmt.Sprintf(format, args...)}
}
