package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doorap/dori/internal/store"
	"github.com/doorap/dori/internal/tools"
)

const (
	// DefaultUnscopedLimit caps filtered-lookup results when the reasoner
	// supplied no filter at all.
	DefaultUnscopedLimit = 5
	DefaultScopedLimit   = 50
	// DefaultCertificateWindow is how far ahead a safety certificate counts
	// as expiring.
	DefaultCertificateWindow = 30 * 24 * time.Hour
	// landlordCandidates bounds fuzzy landlord resolution.
	landlordCandidates = 6
)

// Runner executes one tool call. Implemented by Executor and Cached.
type Runner interface {
	Execute(ctx context.Context, call tools.Call) (Result, error)
}

type handler func(ctx context.Context, call tools.Call) (Result, error)

// Executor runs Dori's tools against the CRM store. Every tool is a read.
type Executor struct {
	store    store.Store
	registry *tools.Registry
	logger   *slog.Logger
	now      func() time.Time

	unscopedLimit int
	scopedLimit   int
	certWindow    time.Duration

	handlers map[string]handler
}

type Option func(*Executor)

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func WithLimits(unscoped, scoped int) Option {
	return func(e *Executor) {
		if unscoped > 0 {
			e.unscopedLimit = unscoped
		}
		if scoped > 0 {
			e.scopedLimit = scoped
		}
	}
}

func WithCertificateWindow(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.certWindow = d
		}
	}
}

func New(s store.Store, reg *tools.Registry, opts ...Option) *Executor {
	e := &Executor{
		store:         s,
		registry:      reg,
		logger:        slog.Default(),
		now:           time.Now,
		unscopedLimit: DefaultUnscopedLimit,
		scopedLimit:   DefaultScopedLimit,
		certWindow:    DefaultCertificateWindow,
	}
	for _, o := range opts {
		o(e)
	}
	e.handlers = map[string]handler{
		tools.ArrearsReport:     e.arrearsReport,
		tools.SearchProperties:  e.searchProperties,
		tools.ExpensesReport:    e.expensesReport,
		tools.MaintenanceReport: e.maintenanceReport,
	}
	return e
}

// Execute runs call. Unknown tools and unusable arguments produce sentinel
// results rather than errors; only store failures are returned as errors.
func (e *Executor) Execute(ctx context.Context, call tools.Call) (Result, error) {
	h, ok := e.handlers[call.Name]
	if !ok || !e.registry.Has(call.Name) {
		e.logger.Warn("reasoner requested unknown tool", "tool", call.Name)
		return sentinel(call.Name, SentinelToolNotFound), nil
	}

	valid, err := e.registry.Validate(call)
	if err != nil {
		var ve *tools.ValidationError
		if !errors.As(err, &ve) {
			return Result{}, err
		}
		e.logger.Info("tool arguments rejected", "tool", call.Name, "err", err)
		if ve.Missing {
			return e.missingArgument(ve), nil
		}
		return sentinel(call.Name, fmt.Sprintf("Invalid arguments for %s: %s.", call.Name, ve.Error())), nil
	}

	e.logger.Debug("executing tool", "tool", call.Name, "args", valid.Args)
	res, err := h(ctx, valid)
	if err != nil {
		return Result{}, fmt.Errorf("tool %s: %w", call.Name, err)
	}
	res.Tool = call.Name
	return res, nil
}

// missingArgument is the per-tool no-op used when a required argument is
// absent; the reasoner cannot be made to retry cleanly.
func (e *Executor) missingArgument(ve *tools.ValidationError) Result {
	switch ve.Tool {
	case tools.ExpensesReport:
		return sentinel(ve.Tool, "No landlord name was given. Ask the user which landlord the expenses are for.")
	default:
		return sentinel(ve.Tool, fmt.Sprintf("Missing required argument %q for %s.", ve.Param, ve.Tool))
	}
}

// limit returns the row cap for a lookup. scoped reports whether at least one
// filter actually narrows the query; arguments at their no-op value do not count.
func (e *Executor) limit(scoped bool) int {
	if scoped {
		return e.scopedLimit
	}
	return e.unscopedLimit
}
