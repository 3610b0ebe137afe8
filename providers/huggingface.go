package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HuggingFaceAdapter calls the Hugging Face Inference API. Responses vary by
// task pipeline, so generated text is extracted from either the array or the
// object shape.
type HuggingFaceAdapter struct {
	Base
	httpClient *http.Client
}

// NewHuggingFace creates a Hugging Face adapter. Pass "" for baseURL to use
// the default endpoint.
func NewHuggingFace(apiKey, baseURL string) *HuggingFaceAdapter {
	return &HuggingFaceAdapter{
		Base: Base{
			provider: HuggingFace,
			apiKey:   apiKey,
			baseURL:  resolveBase(baseURL, "https://api-inference.huggingface.co"),
		},
		httpClient: &http.Client{},
	}
}

// DefaultModel returns the compiled-in fallback model.
func (a *HuggingFaceAdapter) DefaultModel() string { return "HuggingFaceH4/zephyr-7b-beta" }

type huggingFaceParameters struct {
	ReturnFullText *bool `json:"return_full_text,omitempty"`
}

type huggingFaceRequest struct {
	Inputs     string                 `json:"inputs"`
	Parameters *huggingFaceParameters `json:"parameters,omitempty"`
}

type huggingFaceErrorResponse struct {
	Error string `json:"error"`
}

// Generate sends an inference request to Hugging Face.
func (a *HuggingFaceAdapter) Generate(ctx context.Context, call Call) (*Result, error) {
	returnFull := false
	payload := huggingFaceRequest{
		Inputs:     call.Prompt,
		Parameters: &huggingFaceParameters{ReturnFullText: &returnFull},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal huggingface request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s", a.baseURL, call.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create huggingface request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("huggingface request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read huggingface response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var errResp huggingFaceErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return nil, httpError(HuggingFace, httpResp.StatusCode, msg)
	}

	var value any
	if err := json.Unmarshal(respBody, &value); err != nil {
		return nil, malformed(HuggingFace, "decode response: %v", err)
	}
	text, ok := extractGeneratedText(value)
	if !ok || text == "" {
		return nil, malformed(HuggingFace, "response contained no generated text")
	}

	return &Result{Content: text}, nil
}

// extractGeneratedText pulls the completion out of the Inference API's two
// response shapes: a list of {generated_text} objects (optionally nested
// under generated_texts) or a single object.
func extractGeneratedText(value any) (string, bool) {
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := obj["generated_text"].(string); ok {
				return text, true
			}
			if children, ok := obj["generated_texts"].([]any); ok && len(children) > 0 {
				if first, ok := children[0].(map[string]any); ok {
					if text, ok := first["text"].(string); ok {
						return text, true
					}
				}
			}
		}
	case map[string]any:
		if text, ok := v["generated_text"].(string); ok {
			return text, true
		}
	}
	return "", false
}
