package reasoner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/doorap/dori/internal/failover"
	"github.com/doorap/dori/internal/tools"
)

const openaiDefaultModel = openai.GPT4oMini

// OpenAIClient speaks the chat completions API, including compatible
// servers reached through a custom base URL.
type OpenAIClient struct {
	apiKey string
	model  string
	client *openai.Client
}

type OpenAIOption func(*openai.ClientConfig)

func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(cfg *openai.ClientConfig) { cfg.HTTPClient = c }
}

func NewOpenAIClient(baseURL, apiKey, model string, opts ...OpenAIOption) *OpenAIClient {
	if model == "" {
		model = openaiDefaultModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	return &OpenAIClient{apiKey: apiKey, model: model, client: openai.NewClientWithConfig(cfg)}
}

func (o *OpenAIClient) Name() string { return "openai" }

func (o *OpenAIClient) Converse(ctx context.Context, turns []Turn, defs []tools.ToolDefinition) (*Response, error) {
	if o.apiKey == "" {
		return nil, ErrNotConfigured
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(turns)),
	}
	for _, t := range turns {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(t.Role), Content: t.Content})
	}
	for _, d := range defs {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters.JSONSchema(),
			},
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, o.classify(err)
	}
	if len(resp.Choices) == 0 {
		return textResponse(nil), nil
	}

	msg := resp.Choices[0].Message
	var text []string
	if msg.Content != "" {
		text = append(text, msg.Content)
	}
	if len(msg.ToolCalls) > 0 {
		fn := msg.ToolCalls[0].Function
		return toolCallResponse(fn.Name, []byte(fn.Arguments), text), nil
	}
	return textResponse(text), nil
}

// classify maps client library errors onto ProviderError so that the
// failover controller sees status codes the same way for every backend.
func (o *OpenAIClient) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &failover.ProviderError{Backend: o.Name(), StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &failover.ProviderError{Backend: o.Name(), StatusCode: reqErr.HTTPStatusCode, Body: body}
	}
	return fmt.Errorf("openai: %w", err)
}
