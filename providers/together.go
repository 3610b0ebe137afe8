package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// TogetherAdapter calls Together AI's OpenAI-compatible chat completions API.
type TogetherAdapter struct {
	Base
	httpClient *http.Client
}

// NewTogether creates a Together adapter. Pass "" for baseURL to use the
// default endpoint.
func NewTogether(apiKey, baseURL string) *TogetherAdapter {
	return &TogetherAdapter{
		Base: Base{
			provider: Together,
			apiKey:   apiKey,
			baseURL:  resolveBase(baseURL, "https://api.together.xyz/v1"),
		},
		httpClient: &http.Client{},
	}
}

// DefaultModel returns the compiled-in fallback model.
func (a *TogetherAdapter) DefaultModel() string {
	return "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free"
}

type togetherMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type togetherRequest struct {
	Model    string            `json:"model"`
	Messages []togetherMessage `json:"messages"`
}

type togetherResponse struct {
	Choices []struct {
		Message togetherMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Together wraps errors in the OpenAI envelope but occasionally returns a
// bare {"message": ...} object, so both shapes are probed.
type togetherErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// Generate sends a single-turn chat completion request to Together.
func (a *TogetherAdapter) Generate(ctx context.Context, call Call) (*Result, error) {
	payload := togetherRequest{
		Model:    call.Model,
		Messages: []togetherMessage{{Role: "user", Content: call.Prompt}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal together request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create together request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("together request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read together response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var errResp togetherErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			if errResp.Error.Message != "" {
				msg = errResp.Error.Message
			} else if errResp.Message != "" {
				msg = errResp.Message
			}
		}
		return nil, httpError(Together, httpResp.StatusCode, msg)
	}

	var resp togetherResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, malformed(Together, "decode response: %v", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, malformed(Together, "response contained no completion")
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
