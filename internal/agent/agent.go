// Package agent answers one natural-language question per call. A question
// takes at most two reasoning turns: the first may request a single tool, the
// second phrases the tool's result as an answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/doorap/dori/internal/caller"
	"github.com/doorap/dori/internal/executor"
	"github.com/doorap/dori/internal/reasoner"
	"github.com/doorap/dori/internal/tools"
)

// User-facing replies for the degraded paths.
const (
	NotConfiguredMessage = "I'm not fully initialized yet. My systems are waiting on an API key."
	EmptyFirstTurnReply  = "I couldn't help with that."
	EmptySecondTurnReply = "I found the data but couldn't summarize it."
	troubleFormat        = "Aye, I'm having a wee bit of trouble. (Error: %s)"
)

// TroubleMessage is the reply for any failure during a cycle.
func TroubleMessage(err error) string {
	return fmt.Sprintf(troubleFormat, err.Error())
}

// ToolRunner executes one validated tool call.
type ToolRunner interface {
	Execute(ctx context.Context, call tools.Call) (executor.Result, error)
}

type Agent struct {
	client   reasoner.Client
	registry *tools.Registry
	runner   ToolRunner
	guard    *Guard
	persona  Persona
	rules    *RulesConfig
	metrics  *Metrics
	logger   *slog.Logger
}

type Option func(*Agent)

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

func WithGuard(g *Guard) Option {
	return func(a *Agent) { a.guard = g }
}

func WithPersona(p Persona) Option {
	return func(a *Agent) {
		d := DefaultPersona()
		if p.Name == "" {
			p.Name = d.Name
		}
		if p.Company == "" {
			p.Company = d.Company
		}
		if p.Tone == "" {
			p.Tone = d.Tone
		}
		a.persona = p
	}
}

func WithRules(custom []string) Option {
	return func(a *Agent) { a.rules = NewRulesConfig(custom) }
}

func WithMetrics(m *Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

func New(client reasoner.Client, reg *tools.Registry, runner ToolRunner, opts ...Option) *Agent {
	a := &Agent{
		client:   client,
		registry: reg,
		runner:   runner,
		guard:    NewGuard(),
		persona:  DefaultPersona(),
		rules:    NewRulesConfig(nil),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = NewMetrics(nil)
	}
	return a
}

// Invoke answers userMessage. It always returns a displayable string: failures
// are reported through the fixed replies rather than as errors.
func (a *Agent) Invoke(ctx context.Context, userMessage string, cc CallerContext) (answer string) {
	log := a.logger.With("cycle", uuid.NewString())
	if id := caller.From(ctx); id != "" {
		log = log.With("caller", id)
	}

	outcome := outcomeFailed
	defer func() {
		if r := recover(); r != nil {
			log.Error("agent cycle panicked", "panic", r)
			answer, outcome = TroubleMessage(fmt.Errorf("%v", r)), outcomeFailed
		}
		a.metrics.Cycles.WithLabelValues(outcome).Inc()
	}()

	answer, outcome = a.run(ctx, log, userMessage, cc)
	return answer
}

func (a *Agent) run(ctx context.Context, log *slog.Logger, question string, cc CallerContext) (string, string) {
	system := reasoner.Turn{Role: reasoner.RoleSystem, Content: buildSystemPrompt(a.persona, a.rules, cc)}

	first, err := a.converse(ctx, phaseClassify, []reasoner.Turn{
		system,
		{Role: reasoner.RoleUser, Content: question},
	}, a.registry.List())
	if err != nil {
		return a.failure(log, phaseClassify, err)
	}

	if !first.IsToolCall() {
		if first.Text == "" {
			log.Info("reasoner returned no answer", "phase", phaseClassify)
			return EmptyFirstTurnReply, outcomeEmpty
		}
		return first.Text, outcomeAnswered
	}

	call := first.Call()
	log.Info("executing tool", "tool", call.Name, "args", call.Args)
	result, err := a.runner.Execute(ctx, call)
	if err != nil {
		a.countTool(call.Name, toolStatusError)
		return a.failure(log, "execute", err)
	}
	if result.IsSentinel() {
		a.countTool(call.Name, toolStatusSentinel)
	} else {
		a.countTool(call.Name, toolStatusOK)
	}

	rendered, err := result.Render()
	if err != nil {
		return a.failure(log, "render", err)
	}

	second, err := a.converse(ctx, phaseSummarize, []reasoner.Turn{
		system,
		{Role: reasoner.RoleUser, Content: buildFollowUpPrompt(question, call, a.guard.Wrap(a.guard.Sanitize(rendered)))},
	}, nil)
	if err != nil {
		return a.failure(log, phaseSummarize, err)
	}
	if second.IsToolCall() {
		log.Warn("ignoring tool call in summarize turn", "tool", second.ToolName)
	}
	if second.Text == "" {
		return EmptySecondTurnReply, outcomeEmpty
	}
	return second.Text, outcomeAnswered
}

func (a *Agent) converse(ctx context.Context, phase string, turns []reasoner.Turn, defs []tools.ToolDefinition) (*reasoner.Response, error) {
	start := time.Now()
	resp, err := a.client.Converse(ctx, turns, defs)
	a.metrics.observeTurn(phase, time.Since(start))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &reasoner.Response{Kind: reasoner.KindText}, nil
	}
	return resp, nil
}

func (a *Agent) failure(log *slog.Logger, phase string, err error) (string, string) {
	if errors.Is(err, reasoner.ErrNotConfigured) {
		log.Warn("reasoning backend not configured")
		return NotConfiguredMessage, outcomeNotConfigured
	}
	log.Error("agent cycle failed", "phase", phase, "err", err)
	return TroubleMessage(err), outcomeFailed
}

// countTool keeps label cardinality bounded to the catalog.
func (a *Agent) countTool(name, status string) {
	if !a.registry.Has(name) {
		name = "unknown"
	}
	a.metrics.ToolExecutions.WithLabelValues(name, status).Inc()
}
