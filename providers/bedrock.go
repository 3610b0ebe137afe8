package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockAdapter calls AWS Bedrock through the runtime InvokeModel API.
// Authentication comes from the ambient AWS credential chain rather than a
// stored token; the request body is dispatched on the model-ID prefix
// (Anthropic Claude, Amazon Titan, Meta Llama).
type BedrockAdapter struct {
	client *bedrockruntime.Client
	region string
}

// NewBedrock creates a Bedrock adapter. region defaults to us-east-1.
func NewBedrock(ctx context.Context, region string) (*BedrockAdapter, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &BedrockAdapter{
		client: bedrockruntime.NewFromConfig(cfg),
		region: region,
	}, nil
}

// Identity returns the provider tag.
func (a *BedrockAdapter) Identity() Provider { return Bedrock }

// DefaultModel returns the compiled-in fallback model.
func (a *BedrockAdapter) DefaultModel() string {
	return "anthropic.claude-3-5-haiku-20241022-v1:0"
}

type bedrockClaudeRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
}

type bedrockClaudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type bedrockTitanRequest struct {
	InputText            string `json:"inputText"`
	TextGenerationConfig struct {
		MaxTokenCount int `json:"maxTokenCount,omitempty"`
	} `json:"textGenerationConfig"`
}

type bedrockTitanResponse struct {
	InputTextTokenCount int `json:"inputTextTokenCount"`
	Results             []struct {
		TokenCount int    `json:"tokenCount"`
		OutputText string `json:"outputText"`
	} `json:"results"`
}

type bedrockLlamaRequest struct {
	Prompt    string `json:"prompt"`
	MaxGenLen int    `json:"max_gen_len,omitempty"`
}

type bedrockLlamaResponse struct {
	Generation           string `json:"generation"`
	PromptTokenCount     int    `json:"prompt_token_count"`
	GenerationTokenCount int    `json:"generation_token_count"`
}

// Generate invokes the Bedrock model matching the candidate's model ID.
func (a *BedrockAdapter) Generate(ctx context.Context, call Call) (*Result, error) {
	switch {
	case strings.HasPrefix(call.Model, "anthropic."):
		return a.generateClaude(ctx, call)
	case strings.HasPrefix(call.Model, "amazon.titan"):
		return a.generateTitan(ctx, call)
	case strings.HasPrefix(call.Model, "meta.llama"):
		return a.generateLlama(ctx, call)
	default:
		return nil, &AdapterError{
			Provider: Bedrock,
			Kind:     KindClientError,
			Message:  fmt.Sprintf("unsupported Bedrock model prefix: %s", call.Model),
		}
	}
}

func (a *BedrockAdapter) invoke(ctx context.Context, model string, body []byte) ([]byte, error) {
	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}
	return output.Body, nil
}

func (a *BedrockAdapter) generateClaude(ctx context.Context, call Call) (*Result, error) {
	body, err := json.Marshal(bedrockClaudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        anthropicMaxTokens,
		Messages:         []anthropicMessage{{Role: "user", Content: call.Prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	out, err := a.invoke(ctx, call.Model, body)
	if err != nil {
		return nil, err
	}

	var resp bedrockClaudeResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, malformed(Bedrock, "decode response: %v", err)
	}
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, malformed(Bedrock, "response contained no text blocks")
	}
	return &Result{
		Content: text,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (a *BedrockAdapter) generateTitan(ctx context.Context, call Call) (*Result, error) {
	req := bedrockTitanRequest{InputText: call.Prompt}
	req.TextGenerationConfig.MaxTokenCount = anthropicMaxTokens
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	out, err := a.invoke(ctx, call.Model, body)
	if err != nil {
		return nil, err
	}

	var resp bedrockTitanResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, malformed(Bedrock, "decode response: %v", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].OutputText == "" {
		return nil, malformed(Bedrock, "response contained no results")
	}
	completion := 0
	for _, r := range resp.Results {
		completion += r.TokenCount
	}
	return &Result{
		Content: resp.Results[0].OutputText,
		Usage: TokenUsage{
			PromptTokens:     resp.InputTextTokenCount,
			CompletionTokens: completion,
			TotalTokens:      resp.InputTextTokenCount + completion,
		},
	}, nil
}

func (a *BedrockAdapter) generateLlama(ctx context.Context, call Call) (*Result, error) {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|>")
	sb.WriteString(fmt.Sprintf("<|start_header_id|>user<|end_header_id|>\n\n%s<|eot_id|>\n", call.Prompt))
	sb.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")

	body, err := json.Marshal(bedrockLlamaRequest{Prompt: sb.String(), MaxGenLen: anthropicMaxTokens})
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	out, err := a.invoke(ctx, call.Model, body)
	if err != nil {
		return nil, err
	}

	var resp bedrockLlamaResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, malformed(Bedrock, "decode response: %v", err)
	}
	if resp.Generation == "" {
		return nil, malformed(Bedrock, "response contained no generation")
	}
	return &Result{
		Content: resp.Generation,
		Usage: TokenUsage{
			PromptTokens:     resp.PromptTokenCount,
			CompletionTokens: resp.GenerationTokenCount,
			TotalTokens:      resp.PromptTokenCount + resp.GenerationTokenCount,
		},
	}, nil
}

// classifyBedrockError maps the runtime's typed exceptions onto the shared
// error-kind taxonomy.
func classifyBedrockError(err error) *AdapterError {
	kind := KindUnknown
	var (
		throttled   *types.ThrottlingException
		quota       *types.ServiceQuotaExceededException
		denied      *types.AccessDeniedException
		invalid     *types.ValidationException
		missing     *types.ResourceNotFoundException
		timeout     *types.ModelTimeoutException
		notReady    *types.ModelNotReadyException
		internal    *types.InternalServerException
		unavailable *types.ServiceUnavailableException
	)
	switch {
	case errors.As(err, &throttled), errors.As(err, &quota):
		kind = KindRateLimit
	case errors.As(err, &denied):
		kind = KindAuthFailure
	case errors.As(err, &invalid):
		kind = KindClientError
	case errors.As(err, &missing):
		kind = KindMalformedResponse
	case errors.As(err, &timeout):
		kind = KindTimeout
	case errors.As(err, &notReady):
		kind = KindTransient
	case errors.As(err, &internal), errors.As(err, &unavailable):
		kind = KindServiceOutage
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindTransient
	}
	return &AdapterError{Provider: Bedrock, Kind: kind, Message: err.Error()}
}
