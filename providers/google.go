package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// GoogleAdapter calls the Gemini generateContent API.
type GoogleAdapter struct {
	Base
	httpClient *http.Client
}

// NewGoogle creates a Google Gemini adapter. Pass "" for baseURL to use the
// default endpoint.
func NewGoogle(apiKey, baseURL string) *GoogleAdapter {
	return &GoogleAdapter{
		Base: Base{
			provider: Google,
			apiKey:   apiKey,
			baseURL:  resolveBase(baseURL, "https://generativelanguage.googleapis.com"),
		},
		httpClient: &http.Client{},
	}
}

// DefaultModel returns the compiled-in fallback model.
func (a *GoogleAdapter) DefaultModel() string { return "gemini-2.0-flash" }

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googleRequest struct {
	Contents []googleContent `json:"contents"`
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type googleErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate sends a single-turn generateContent request to Gemini.
func (a *GoogleAdapter) Generate(ctx context.Context, call Call) (*Result, error) {
	payload := googleRequest{
		Contents: []googleContent{{Role: "user", Parts: []googlePart{{Text: call.Prompt}}}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal google request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.baseURL, call.Model, a.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create google request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("google request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read google response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var errResp googleErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return nil, httpError(Google, httpResp.StatusCode, msg)
	}

	var resp googleResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, malformed(Google, "decode response: %v", err)
	}

	var text string
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			text += part.Text
		}
		break
	}
	if text == "" {
		return nil, malformed(Google, "response contained no candidates")
	}

	return &Result{
		Content: text,
		Usage: TokenUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}
