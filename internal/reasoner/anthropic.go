package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/doorap/dori/internal/failover"
	"github.com/doorap/dori/internal/tools"
	"github.com/doorap/dori/internal/version"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicMessagesPath   = "/v1/messages"
	anthropicAPIVersion     = "2023-06-01"
	anthropicMaxTokens      = 1024
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type AnthropicOption func(*AnthropicClient)

func WithAnthropicHTTPClient(c *http.Client) AnthropicOption {
	return func(a *AnthropicClient) { a.client = c }
}

func NewAnthropicClient(baseURL, apiKey, model string, opts ...AnthropicOption) *AnthropicClient {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	a := &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *AnthropicClient) Name() string { return "anthropic" }

// -- Anthropic wire types --

type anthRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []anthMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Tools     []anthTool    `json:"tools,omitempty"`
}

type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthResponse struct {
	Content []anthContentBlock `json:"content"`
	Error   *anthError         `json:"error,omitempty"`
}

type anthContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (a *AnthropicClient) Converse(ctx context.Context, turns []Turn, defs []tools.ToolDefinition) (*Response, error) {
	if a.apiKey == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(a.toRequest(turns, defs))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+anthropicMessagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &failover.ProviderError{Backend: a.Name(), StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	var resp anthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("anthropic error [%s]: %s", resp.Error.Type, resp.Error.Message)
	}

	var text []string
	for _, b := range resp.Content {
		switch b.Type {
		case "tool_use":
			return toolCallResponse(b.Name, b.Input, text), nil
		case "text":
			text = append(text, b.Text)
		}
	}
	return textResponse(text), nil
}

func (a *AnthropicClient) toRequest(turns []Turn, defs []tools.ToolDefinition) anthRequest {
	system, rest := splitSystem(turns)
	msgs := make([]anthMessage, 0, len(rest))
	for _, t := range rest {
		msgs = append(msgs, anthMessage{Role: string(t.Role), Content: t.Content})
	}
	req := anthRequest{
		Model:     a.model,
		System:    system,
		Messages:  msgs,
		MaxTokens: anthropicMaxTokens,
	}
	for _, d := range defs {
		req.Tools = append(req.Tools, anthTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters.JSONSchema(),
		})
	}
	return req
}
