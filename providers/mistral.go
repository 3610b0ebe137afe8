package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MistralAdapter calls Mistral's OpenAI-compatible chat completions API.
type MistralAdapter struct {
	Base
	httpClient *http.Client
}

// NewMistral creates a Mistral adapter. Pass "" for baseURL to use the
// default endpoint.
func NewMistral(apiKey, baseURL string) *MistralAdapter {
	return &MistralAdapter{
		Base: Base{
			provider: Mistral,
			apiKey:   apiKey,
			baseURL:  resolveBase(baseURL, "https://api.mistral.ai/v1"),
		},
		httpClient: &http.Client{},
	}
}

// DefaultModel returns the compiled-in fallback model.
func (a *MistralAdapter) DefaultModel() string { return "mistral-small-latest" }

type mistralMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type mistralRequest struct {
	Model    string           `json:"model"`
	Messages []mistralMessage `json:"messages"`
}

type mistralResponse struct {
	Choices []struct {
		Message mistralMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type mistralErrorResponse struct {
	Message string `json:"message"`
}

// Generate sends a single-turn chat completion request to Mistral.
func (a *MistralAdapter) Generate(ctx context.Context, call Call) (*Result, error) {
	payload := mistralRequest{
		Model:    call.Model,
		Messages: []mistralMessage{{Role: "user", Content: call.Prompt}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal mistral request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create mistral request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mistral request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read mistral response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var errResp mistralErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			msg = errResp.Message
		}
		return nil, httpError(Mistral, httpResp.StatusCode, msg)
	}

	var resp mistralResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, malformed(Mistral, "decode response: %v", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, malformed(Mistral, "response contained no completion")
	}

	return &Result{
		Content: resp.Choices[0].Message.Content,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
