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
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel   = "gemini-2.5-flash"
)

// GeminiClient calls the generateContent endpoint of the Gemini API.
type GeminiClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type GeminiOption func(*GeminiClient)

func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(g *GeminiClient) { g.client = c }
}

func NewGeminiClient(baseURL, apiKey, model string, opts ...GeminiOption) *GeminiClient {
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	if model == "" {
		model = geminiDefaultModel
	}
	g := &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *GeminiClient) Name() string { return "gemini" }

// -- Gemini wire types --

type gemRequest struct {
	SystemInstruction *gemContent `json:"systemInstruction,omitempty"`
	Contents          []gemContent `json:"contents"`
	Tools             []gemTool    `json:"tools,omitempty"`
}

type gemContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []gemPart `json:"parts"`
}

type gemPart struct {
	Text         string           `json:"text,omitempty"`
	FunctionCall *gemFunctionCall `json:"functionCall,omitempty"`
}

type gemFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type gemTool struct {
	FunctionDeclarations []gemFunctionDecl `json:"functionDeclarations"`
}

type gemFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type gemResponse struct {
	Candidates []struct {
		Content gemContent `json:"content"`
	} `json:"candidates"`
}

func (g *GeminiClient) Converse(ctx context.Context, turns []Turn, defs []tools.ToolDefinition) (*Response, error) {
	if g.apiKey == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(g.toRequest(turns, defs))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &failover.ProviderError{Backend: g.Name(), StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	var resp gemResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return textResponse(nil), nil
	}

	var text []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.FunctionCall != nil {
			return toolCallResponse(p.FunctionCall.Name, p.FunctionCall.Args, text), nil
		}
		if p.Text != "" {
			text = append(text, p.Text)
		}
	}
	return textResponse(text), nil
}

func (g *GeminiClient) toRequest(turns []Turn, defs []tools.ToolDefinition) gemRequest {
	system, rest := splitSystem(turns)
	req := gemRequest{Contents: make([]gemContent, 0, len(rest))}
	if system != "" {
		req.SystemInstruction = &gemContent{Parts: []gemPart{{Text: system}}}
	}
	for _, t := range rest {
		role := "user"
		if t.Role == RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, gemContent{Role: role, Parts: []gemPart{{Text: t.Content}}})
	}
	if len(defs) > 0 {
		decls := make([]gemFunctionDecl, 0, len(defs))
		for _, d := range defs {
			decls = append(decls, gemFunctionDecl{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters.JSONSchema(),
			})
		}
		req.Tools = []gemTool{{FunctionDeclarations: decls}}
	}
	return req
}
