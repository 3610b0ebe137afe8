package providers

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter calls OpenAI through the official SDK.
type OpenAIAdapter struct {
	Base
	client openai.Client
}

// NewOpenAI creates an OpenAI adapter. Pass "" for baseURL to use the
// default endpoint.
func NewOpenAI(apiKey, baseURL string) *OpenAIAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	resolved := "https://api.openai.com/v1"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		resolved = baseURL
	}
	return &OpenAIAdapter{
		Base:   Base{provider: OpenAI, apiKey: apiKey, baseURL: resolved},
		client: openai.NewClient(opts...),
	}
}

// DefaultModel returns the compiled-in fallback model.
func (a *OpenAIAdapter) DefaultModel() string { return "gpt-4o-mini" }

// Generate sends a single-turn chat completion request to OpenAI.
func (a *OpenAIAdapter) Generate(ctx context.Context, call Call) (*Result, error) {
	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(call.Prompt),
		},
		Model: call.Model,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if msg == "" {
				msg = apiErr.Error()
			}
			return nil, httpError(OpenAI, apiErr.StatusCode, msg)
		}
		return nil, err
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, malformed(OpenAI, "response contained no completion")
	}

	return &Result{
		Content: completion.Choices[0].Message.Content,
		Usage: TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}
