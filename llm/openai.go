// OpenAI Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication (OpenAI, Azure OpenAI, OpenAI-compatible hosts)
// - Request/response format for OpenAI Chat Completions API
// - Sampling knob mapping and HTTP 400 classification

package llm

import (
	"context"
	"errors"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// OpenAIProvider implements the Provider interface for OpenAI and any
// endpoint that speaks the Chat Completions protocol.
type OpenAIProvider struct {
	client    *openai.Client
	name      string
	model     string
	maxTokens int
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, model string, maxTokens uint32) *OpenAIProvider {
	return &OpenAIProvider{
		client:    openai.NewClient(apiKey),
		name:      "openai",
		model:     model,
		maxTokens: int(maxTokens),
	}
}

// NewDeepSeekProvider creates a provider for DeepSeek's OpenAI-compatible API.
func NewDeepSeekProvider(apiKey, model string, maxTokens uint32) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = deepseekBaseURL

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(config),
		name:      "deepseek",
		model:     model,
		maxTokens: int(maxTokens),
	}
}

// AzureOptions locates an Azure OpenAI deployment.
type AzureOptions struct {
	Endpoint   string
	APIVersion string
	Deployment string
}

// NewAzureProvider creates a provider for an Azure OpenAI deployment.
// Requests for any model are routed to opts.Deployment.
func NewAzureProvider(apiKey, model string, maxTokens uint32, opts AzureOptions) *OpenAIProvider {
	config := openai.DefaultAzureConfig(apiKey, opts.Endpoint)
	if opts.APIVersion != "" {
		config.APIVersion = opts.APIVersion
	}
	if opts.Deployment != "" {
		deployment := opts.Deployment
		config.AzureModelMapperFunc = func(string) string { return deployment }
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(config),
		name:      "azure",
		model:     model,
		maxTokens: int(maxTokens),
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the current model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Complete sends a chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (LLMResponse, error) {
	oaiReq := openai.ChatCompletionRequest{
		Model:            p.model,
		Messages:         convertToOpenAIMessages(req.Messages),
		MaxTokens:        p.maxTokens,
		Temperature:      openAITemperature(req.Sampling.Temperature),
		TopP:             float32(req.Sampling.TopP),
		FrequencyPenalty: float32(req.Sampling.FrequencyPenalty),
	}
	if len(req.Tools) > 0 {
		oaiReq.Tools = convertToOpenAITools(req.Tools)
	}
	if req.Format != nil {
		oaiReq.ResponseFormat = convertToOpenAIFormat(req.Format)
	}

	resp, err := p.client.CreateChatCompletion(ctx, oaiReq)
	if err != nil {
		return LLMResponse{}, classify(p.name, err, isOpenAIBadRequest(err))
	}

	var out LLMResponse
	for _, choice := range resp.Choices {
		if choice.FinishReason != "" {
			out.FinishReasons = append(out.FinishReasons, string(choice.FinishReason))
		}
	}
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		out.Content = msg.Content
		for _, tc := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}
	}

	out.Usage = &TokenUsage{
		PromptTokens:     uint32(resp.Usage.PromptTokens),
		CompletionTokens: uint32(resp.Usage.CompletionTokens),
		TotalTokens:      uint32(resp.Usage.TotalTokens),
	}
	return out, nil
}

// openAITemperature maps a zero temperature to the smallest positive float.
// go-openai omits zero values, which the API would read as its default of 1.
func openAITemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func isOpenAIBadRequest(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusBadRequest
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusBadRequest
	}
	return false
}

// convertToOpenAIMessages handles plain messages, tool calls and tool responses.
func convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}

		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}

		if msg.ToolCallID != "" {
			oaiMsg.ToolCallID = msg.ToolCallID
		}

		result[i] = oaiMsg
	}
	return result
}

// convertToOpenAITools converts tool definitions to OpenAI format.
func convertToOpenAITools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

func convertToOpenAIFormat(format *ResponseFormat) *openai.ChatCompletionResponseFormat {
	out := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatType(format.Type),
	}
	if format.JSONSchema != nil {
		out.JSONSchema = &openai.ChatCompletionResponseFormatJSONSchema{
			Name:        format.JSONSchema.Name,
			Description: format.JSONSchema.Description,
			Schema:      format.JSONSchema.Schema,
			Strict:      format.JSONSchema.Strict,
		}
	}
	return out
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
