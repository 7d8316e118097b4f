// Package reasoner talks to the hosted language models that decide whether a
// question needs a tool and phrase the final answer.
package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/doorap/dori/internal/tools"
)

// ErrNotConfigured is returned, before any network I/O, when a backend has no
// credential.
var ErrNotConfigured = errors.New("reasoning backend not configured")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Kind string

const (
	KindText     Kind = "text"
	KindToolCall Kind = "tool_call"
)

// Response is either final text or a single tool call request. A response
// that is neither is reported as empty text. Text accompanying a tool call is
// kept in Text.
type Response struct {
	Kind     Kind
	Text     string
	ToolName string
	Args     map[string]any
}

func (r *Response) IsToolCall() bool { return r != nil && r.Kind == KindToolCall }

// Call converts a tool call response for the executor.
func (r *Response) Call() tools.Call {
	return tools.Call{Name: r.ToolName, Args: r.Args}
}

// Client is one reasoning backend. tools may be empty, in which case the
// backend is not offered any function declarations.
type Client interface {
	Name() string
	Converse(ctx context.Context, turns []Turn, defs []tools.ToolDefinition) (*Response, error)
}

func textResponse(parts []string) *Response {
	return &Response{Kind: KindText, Text: strings.TrimSpace(strings.Join(parts, "\n\n"))}
}

// toolCallResponse builds a tool call from a raw JSON argument object. A blank
// name or unparseable arguments degrade to the accompanying text.
func toolCallResponse(name string, rawArgs []byte, text []string) *Response {
	name = strings.TrimSpace(name)
	if name == "" {
		return textResponse(text)
	}
	args := map[string]any{}
	if trimmed := strings.TrimSpace(string(rawArgs)); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return textResponse(text)
		}
	}
	r := textResponse(text)
	r.Kind, r.ToolName, r.Args = KindToolCall, name, args
	return r
}

// splitSystem separates system turns, joined in order, from the dialogue.
func splitSystem(turns []Turn) (string, []Turn) {
	var system []string
	rest := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleSystem {
			system = append(system, t.Content)
			continue
		}
		rest = append(rest, t)
	}
	return strings.Join(system, "\n\n"), rest
}
