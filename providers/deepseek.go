package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DeepSeekAdapter calls DeepSeek's OpenAI-compatible chat completions API.
type DeepSeekAdapter struct {
	Base
	httpClient *http.Client
}

// NewDeepSeek creates a DeepSeek adapter. Pass "" for baseURL to use the
// default endpoint.
func NewDeepSeek(apiKey, baseURL string) *DeepSeekAdapter {
	return &DeepSeekAdapter{
		Base: Base{
			provider: DeepSeek,
			apiKey:   apiKey,
			baseURL:  resolveBase(baseURL, "https://api.deepseek.com"),
		},
		httpClient: &http.Client{},
	}
}

// DefaultModel returns the compiled-in fallback model.
func (a *DeepSeekAdapter) DefaultModel() string { return "deepseek-chat" }

type deepseekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deepseekRequest struct {
	Model    string            `json:"model"`
	Messages []deepseekMessage `json:"messages"`
}

type deepseekResponse struct {
	Choices []struct {
		Message deepseekMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type deepseekErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends a single-turn chat completion request to DeepSeek.
func (a *DeepSeekAdapter) Generate(ctx context.Context, call Call) (*Result, error) {
	payload := deepseekRequest{
		Model:    call.Model,
		Messages: []deepseekMessage{{Role: "user", Content: call.Prompt}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal deepseek request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create deepseek request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepseek request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read deepseek response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var errResp deepseekErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return nil, httpError(DeepSeek, httpResp.StatusCode, msg)
	}

	var resp deepseekResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, malformed(DeepSeek, "decode response: %v", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, malformed(DeepSeek, "response contained no completion")
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
