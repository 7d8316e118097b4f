package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/doorap/dori/internal/failover"
	"github.com/doorap/dori/internal/tools"
)

var testTurns = []Turn{
	{Role: RoleSystem, Content: "You are Dori."},
	{Role: RoleUser, Content: "What is the rent at Elm Street?"},
}

func TestGeminiToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-test:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "AIza-test" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		var req gemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "You are Dori." {
			t.Errorf("system instruction = %+v", req.SystemInstruction)
		}
		if len(req.Contents) != 1 || req.Contents[0].Role != "user" {
			t.Errorf("contents = %+v", req.Contents)
		}
		if len(req.Tools) != 1 || len(req.Tools[0].FunctionDeclarations) != tools.Default().Len() {
			t.Errorf("tools = %+v", req.Tools)
		}
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[
			{"functionCall":{"name":"search_properties","args":{"location":"Elm Street"}}}]}}]}`)
	}))
	defer server.Close()

	c := NewGeminiClient(server.URL, "AIza-test", "gemini-test")
	resp, err := c.Converse(context.Background(), testTurns, tools.Default().List())
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsToolCall() || resp.ToolName != tools.SearchProperties {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Args["location"] != "Elm Street" {
		t.Errorf("args = %v", resp.Args)
	}
	if call := resp.Call(); call.Name != tools.SearchProperties {
		t.Errorf("call = %+v", call)
	}
}

func TestGeminiTextWithoutTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "functionDeclarations") {
			t.Error("no tools should be declared")
		}
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Rent is 1200."}]}}]}`)
	}))
	defer server.Close()

	resp, err := NewGeminiClient(server.URL, "k", "m").Converse(context.Background(), testTurns, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Kind != KindText || resp.Text != "Rent is 1200." {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGeminiMalformedIsEmptyText(t *testing.T) {
	for _, body := range []string{
		`{}`,
		`{"candidates":[]}`,
		`{"candidates":[{"content":{"parts":[{"functionCall":{"name":""}}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"x","args":[1,2]}}]}}]}`,
	} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, body)
		}))
		resp, err := NewGeminiClient(server.URL, "k", "m").Converse(context.Background(), testTurns, nil)
		server.Close()
		if err != nil {
			t.Errorf("%s: %v", body, err)
			continue
		}
		if resp.Kind != KindText || resp.Text != "" {
			t.Errorf("%s: resp = %+v", body, resp)
		}
	}
}

func TestGeminiErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"API key not valid"}}`)
	}))
	defer server.Close()

	_, err := NewGeminiClient(server.URL, "k", "m").Converse(context.Background(), testTurns, nil)
	var pe *failover.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v", err)
	}
	if pe.StatusCode != 400 || !strings.Contains(pe.Body, "API key not valid") {
		t.Errorf("provider error = %+v", pe)
	}
}

func TestNotConfiguredMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	clients := []Client{
		NewGeminiClient(server.URL, "", ""),
		NewOpenAIClient(server.URL, "", ""),
		NewAnthropicClient(server.URL, "", ""),
	}
	for _, c := range clients {
		if _, err := c.Converse(context.Background(), testTurns, nil); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("%s: err = %v", c.Name(), err)
		}
	}
	if hits.Load() != 0 {
		t.Errorf("requests = %d, want 0", hits.Load())
	}
}

func TestAnthropicToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != anthropicMessagesPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		var req anthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.System != "You are Dori." || len(req.Messages) != 1 {
			t.Errorf("req = %+v", req)
		}
		if len(req.Tools) != 4 || req.Tools[0].InputSchema["type"] != "object" {
			t.Errorf("tools = %+v", req.Tools)
		}
		_, _ = io.WriteString(w, `{"content":[
			{"type":"text","text":"Let me check."},
			{"type":"tool_use","id":"tu_1","name":"get_arrears_report","input":{"minAmount":100}}]}`)
	}))
	defer server.Close()

	c := NewAnthropicClient(server.URL, "sk-ant-test", "claude-test")
	resp, err := c.Converse(context.Background(), testTurns, tools.Default().List())
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsToolCall() || resp.ToolName != tools.ArrearsReport {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Args["minAmount"] != float64(100) {
		t.Errorf("args = %v", resp.Args)
	}
}

func TestAnthropicText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"Hello there."}]}`)
	}))
	defer server.Close()

	resp, err := NewAnthropicClient(server.URL, "k", "m").Converse(context.Background(), testTurns, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Kind != KindText || resp.Text != "Hello there." {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenAIToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if list, _ := req["tools"].([]any); len(list) != 4 {
			t.Errorf("tools = %v", req["tools"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,
			"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function",
			"function":{"name":"get_expenses_report","arguments":"{\"landlordName\":\"MacLeod\",\"year\":2024}"}}]},
			"finish_reason":"tool_calls"}]}`)
	}))
	defer server.Close()

	c := NewOpenAIClient(server.URL, "sk-test", "gpt-test")
	resp, err := c.Converse(context.Background(), testTurns, tools.Default().List())
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsToolCall() || resp.ToolName != tools.ExpensesReport {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Args["landlordName"] != "MacLeod" || resp.Args["year"] != float64(2024) {
		t.Errorf("args = %v", resp.Args)
	}
}

func TestOpenAIErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"quota exceeded","type":"rate_limit"}}`)
	}))
	defer server.Close()

	_, err := NewOpenAIClient(server.URL, "sk-test", "").Converse(context.Background(), testTurns, nil)
	if !failover.IsRateLimitError(err) {
		t.Fatalf("err = %v, want rate limit", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v", err)
	}
}

type stubClient struct {
	name  string
	err   error
	text  string
	calls int
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Converse(context.Context, []Turn, []tools.ToolDefinition) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Kind: KindText, Text: s.text}, nil
}

func testFailover() *failover.Controller {
	return failover.NewController(failover.Policy{MaxRetries: 1}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestChainFallsBack(t *testing.T) {
	primary := &stubClient{name: "gemini", err: &failover.ProviderError{StatusCode: 503}}
	secondary := &stubClient{name: "openai", text: "from fallback"}
	chain, err := NewChain(testFailover(), primary, secondary)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := chain.Converse(context.Background(), testTurns, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "from fallback" {
		t.Errorf("text = %q", resp.Text)
	}
	if primary.calls != 2 || secondary.calls != 1 {
		t.Errorf("calls = %d/%d, want 2/1", primary.calls, secondary.calls)
	}
	if chain.Name() != "gemini" {
		t.Errorf("name = %q", chain.Name())
	}
}

func TestChainNotConfiguredStops(t *testing.T) {
	primary := &stubClient{name: "gemini", err: ErrNotConfigured}
	secondary := &stubClient{name: "openai", text: "x"}
	chain, _ := NewChain(testFailover(), primary, secondary)
	_, err := chain.Converse(context.Background(), testTurns, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v", err)
	}
	if secondary.calls != 0 {
		t.Error("fallback should not be tried for configuration errors")
	}
}

func TestNewChainRejectsDuplicates(t *testing.T) {
	if _, err := NewChain(testFailover()); err == nil {
		t.Error("expected error for empty chain")
	}
	if _, err := NewChain(testFailover(), &stubClient{name: "a"}, &stubClient{name: "a"}); err == nil {
		t.Error("expected duplicate error")
	}
}

func TestFromConfig(t *testing.T) {
	cases := []struct {
		kind string
		name string
	}{
		{"", "gemini"},
		{"gemini", "gemini"},
		{"OpenAI", "openai"},
		{"anthropic", "anthropic"},
	}
	for _, tc := range cases {
		c, err := FromConfig(BackendConfig{Kind: tc.kind, APIKey: "k"})
		if err != nil {
			t.Fatalf("%q: %v", tc.kind, err)
		}
		if c.Name() != tc.name {
			t.Errorf("%q: name = %q", tc.kind, c.Name())
		}
	}
	c, err := FromConfig(BackendConfig{Name: "local-llm", Kind: "openai"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "local-llm" {
		t.Errorf("name = %q", c.Name())
	}
	if _, err := FromConfig(BackendConfig{Kind: "bard"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}
