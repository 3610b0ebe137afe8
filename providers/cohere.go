package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// CohereAdapter calls the Cohere v2 chat API.
type CohereAdapter struct {
	Base
	httpClient *http.Client
}

// NewCohere creates a Cohere adapter. Pass "" for baseURL to use the default
// endpoint.
func NewCohere(apiKey, baseURL string) *CohereAdapter {
	return &CohereAdapter{
		Base: Base{
			provider: Cohere,
			apiKey:   apiKey,
			baseURL:  resolveBase(baseURL, "https://api.cohere.com"),
		},
		httpClient: &http.Client{},
	}
}

// DefaultModel returns the compiled-in fallback model.
func (a *CohereAdapter) DefaultModel() string { return "command-r" }

type cohereChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type cohereRequest struct {
	Model    string              `json:"model"`
	Messages []cohereChatMessage `json:"messages"`
}

type cohereContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type cohereResponse struct {
	ID      string `json:"id"`
	Message struct {
		Role    string               `json:"role"`
		Content []cohereContentBlock `json:"content"`
	} `json:"message"`
	Usage struct {
		Tokens struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"tokens"`
	} `json:"usage"`
}

type cohereErrorResponse struct {
	Message string `json:"message"`
}

// Generate sends a single-turn chat request to Cohere.
func (a *CohereAdapter) Generate(ctx context.Context, call Call) (*Result, error) {
	payload := cohereRequest{
		Model:    call.Model,
		Messages: []cohereChatMessage{{Role: "user", Content: call.Prompt}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal cohere request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v2/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create cohere request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cohere request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read cohere response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var errResp cohereErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			msg = errResp.Message
		}
		return nil, httpError(Cohere, httpResp.StatusCode, msg)
	}

	var resp cohereResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, malformed(Cohere, "decode response: %v", err)
	}

	var parts []string
	for _, block := range resp.Message.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	content := strings.Join(parts, "")
	if content == "" {
		return nil, malformed(Cohere, "response contained no text blocks")
	}

	tokens := resp.Usage.Tokens
	return &Result{
		Content: content,
		Usage: TokenUsage{
			PromptTokens:     tokens.InputTokens,
			CompletionTokens: tokens.OutputTokens,
			TotalTokens:      tokens.InputTokens + tokens.OutputTokens,
		},
	}, nil
}
