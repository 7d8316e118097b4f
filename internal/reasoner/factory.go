package reasoner

import (
	"context"
	"fmt"
	"strings"

	"github.com/doorap/dori/internal/failover"
	"github.com/doorap/dori/internal/tools"
)

const (
	BackendGemini    = "gemini"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

// BackendConfig mirrors config.BackendConfig to avoid circular imports.
type BackendConfig struct {
	Name    string
	Kind    string
	BaseURL string
	APIKey  string
	Model   string
}

// FromConfig creates a Client for one backend entry. Kind selects the wire
// format and defaults to gemini.
func FromConfig(cfg BackendConfig) (Client, error) {
	switch strings.ToLower(cfg.Kind) {
	case BackendGemini, "":
		return named(cfg.Name, NewGeminiClient(cfg.BaseURL, cfg.APIKey, cfg.Model)), nil
	case BackendOpenAI:
		return named(cfg.Name, NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model)), nil
	case BackendAnthropic:
		return named(cfg.Name, NewAnthropicClient(cfg.BaseURL, cfg.APIKey, cfg.Model)), nil
	default:
		return nil, fmt.Errorf("unknown reasoning backend kind %q (supported: %s, %s, %s)",
			cfg.Kind, BackendGemini, BackendOpenAI, BackendAnthropic)
	}
}

type namedClient struct {
	Client
	name string
}

func (n namedClient) Name() string { return n.name }

func named(name string, c Client) Client {
	if name == "" || name == c.Name() {
		return c
	}
	return namedClient{Client: c, name: name}
}

// Chain sends each conversation through a failover controller, starting with
// the primary backend and moving on to fallbacks on transient failures.
type Chain struct {
	clients []Client
	order   []string
	byName  map[string]Client
	ctrl    *failover.Controller
}

func NewChain(ctrl *failover.Controller, clients ...Client) (*Chain, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("reasoner chain needs at least one backend")
	}
	c := &Chain{clients: clients, byName: make(map[string]Client, len(clients)), ctrl: ctrl}
	for _, cl := range clients {
		if _, dup := c.byName[cl.Name()]; dup {
			return nil, fmt.Errorf("duplicate reasoning backend %q", cl.Name())
		}
		c.byName[cl.Name()] = cl
		c.order = append(c.order, cl.Name())
	}
	return c, nil
}

func (c *Chain) Name() string { return c.clients[0].Name() }

func (c *Chain) Converse(ctx context.Context, turns []Turn, defs []tools.ToolDefinition) (*Response, error) {
	var resp *Response
	err := c.ctrl.Execute(ctx, c.order, func(ctx context.Context, backend string) error {
		r, err := c.byName[backend].Converse(ctx, turns, defs)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
