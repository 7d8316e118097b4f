package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/doorap/dori/internal/agent"
	"github.com/doorap/dori/internal/config"
	"github.com/doorap/dori/internal/executor"
	"github.com/doorap/dori/internal/failover"
	"github.com/doorap/dori/internal/reasoner"
	"github.com/doorap/dori/internal/scheduler"
	"github.com/doorap/dori/internal/server"
	"github.com/doorap/dori/internal/store"
	"github.com/doorap/dori/internal/tools"
)

// app holds the wired components for one process.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.SQLStore
	redis   *redis.Client
	agent   *agent.Agent
	metrics *prometheus.Registry
}

func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, logOut)
	slog.SetDefault(logger)

	st, err := store.Open(ctx, store.Options{
		Driver:       cfg.Store.Driver,
		DataDir:      cfg.Store.DataDir,
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a := &app{cfg: cfg, logger: logger, store: st, metrics: reg}

	var runner agent.ToolRunner = executor.New(st, tools.Default(),
		executor.WithLogger(logger),
		executor.WithLimits(cfg.Tools.UnscopedLimit, cfg.Tools.ScopedLimit),
		executor.WithCertificateWindow(cfg.Tools.CertificateWindow),
	)
	if cfg.Cache.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		runner = executor.NewCached(runner, a.redis, cfg.Cache.TTL, logger)
	}

	client, err := newReasoner(cfg.Reasoner, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	guard := agent.NewGuard()
	guard.MaxResultBytes = cfg.Tools.MaxResultBytes
	a.agent = agent.New(client, tools.Default(), runner,
		agent.WithLogger(logger),
		agent.WithGuard(guard),
		agent.WithPersona(agent.Persona{
			Name:    cfg.Persona.Name,
			Company: cfg.Persona.Company,
			Tone:    cfg.Persona.Tone,
		}),
		agent.WithRules(cfg.Persona.Rules),
		agent.WithMetrics(agent.NewMetrics(reg)),
	)
	return a, nil
}

func newReasoner(cfg config.ReasonerConfig, logger *slog.Logger) (reasoner.Client, error) {
	var clients []reasoner.Client
	for _, name := range cfg.Chain() {
		b := cfg.Backends[name]
		c, err := reasoner.FromConfig(reasoner.BackendConfig{
			Name:    name,
			Kind:    b.Kind,
			BaseURL: b.BaseURL,
			APIKey:  b.APIKey,
			Model:   b.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("reasoner backend %q: %w", name, err)
		}
		clients = append(clients, c)
	}
	ctrl := failover.NewController(failover.Policy{
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, failover.NewCooldownTracker(failover.CooldownConfig{
		Initial:    cfg.Cooldowns.Initial,
		Max:        cfg.Cooldowns.Max,
		Multiplier: cfg.Cooldowns.Multiplier,
	}), logger)
	return reasoner.NewChain(ctrl, clients...)
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) digestJobs() []scheduler.Job {
	jobs := make([]scheduler.Job, 0, len(a.cfg.Digests))
	for _, d := range a.cfg.Digests {
		jobs = append(jobs, scheduler.Job{
			Name:     d.Name,
			Schedule: d.Schedule,
			Question: d.Question,
			Context:  agent.CallerContext(d.Context),
			Paused:   d.Paused,
		})
	}
	return jobs
}

func (a *app) newScheduler(extra ...scheduler.Notifier) (*scheduler.Scheduler, error) {
	loc, err := a.cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	notifiers := append(scheduler.MultiNotifier{scheduler.LogNotifier{Logger: a.logger}}, extra...)
	return scheduler.New(a.agent, notifiers,
		scheduler.WithLogger(a.logger),
		scheduler.WithLocation(loc),
		scheduler.WithRunTimeout(a.cfg.Scheduler.RunTimeout),
	), nil
}

func (a *app) serve(ctx context.Context) error {
	srv := server.New(a.agent,
		server.WithLogger(a.logger),
		server.WithGatherer(a.metrics),
		server.WithHealthCheck(a.store.Ping),
		server.WithAllowedOrigins(a.cfg.Server.AllowedOrigins),
	)

	sched, err := a.newScheduler(srv.Hub())
	if err != nil {
		return err
	}
	sched.Start(a.digestJobs())
	srv.HandleDigests(sched)
	defer func() {
		if err := sched.Stop(context.Background()); err != nil {
			a.logger.Warn("scheduler stop", "err", err)
		}
	}()

	return srv.ListenAndServe(ctx, a.cfg.Server.Addr)
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
