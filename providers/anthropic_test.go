package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("unexpected api key header: %s", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("unexpected version header: %s", got)
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.MaxTokens != anthropicMaxTokens {
			t.Errorf("max_tokens = %d", req.MaxTokens)
		}

		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"role": "assistant",
			"content": [{"type": "text", "text": "salut"}],
			"model": "claude-3-5-haiku-latest",
			"usage": {"input_tokens": 4, "output_tokens": 1}
		}`))
	}))
	defer server.Close()

	adapter := NewAnthropic("test-key", server.URL)
	result, err := adapter.Generate(context.Background(), Call{Model: "claude-3-5-haiku-latest", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Content != "salut" {
		t.Errorf("content = %q", result.Content)
	}
	if result.Usage.TotalTokens != 5 {
		t.Errorf("total tokens = %d, want 5", result.Usage.TotalTokens)
	}
}

func TestAnthropicGenerateAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"type": "authentication_error", "message": "invalid x-api-key"}}`))
	}))
	defer server.Close()

	adapter := NewAnthropic("bad-key", server.URL)
	_, err := adapter.Generate(context.Background(), Call{Model: "m", Prompt: "hello"})
	var ae *AdapterError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AdapterError, got %T", err)
	}
	if ae.Kind != KindAuthFailure {
		t.Errorf("kind = %q, want %q", ae.Kind, KindAuthFailure)
	}
}
