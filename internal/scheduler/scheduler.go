// Package scheduler runs digest questions on cron schedules and hands the
// answers to a Notifier.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/doorap/dori/internal/agent"
	"github.com/doorap/dori/internal/caller"
)

// Asker answers one question. *agent.Agent satisfies it.
type Asker interface {
	Invoke(ctx context.Context, question string, cc agent.CallerContext) string
}

// Notifier delivers a digest answer.
type Notifier interface {
	Notify(ctx context.Context, digest, answer string) error
}

type Job struct {
	Name     string              `json:"name"`
	Schedule string              `json:"schedule"`
	Question string              `json:"question"`
	Context  agent.CallerContext `json:"context,omitempty"`
	Paused   bool                `json:"paused,omitempty"`
}

var ErrJobNotFound = errors.New("digest not found")

// DefaultRunTimeout bounds a single digest run, both reasoning turns included.
const DefaultRunTimeout = 2 * time.Minute

type runningJob struct {
	job   Job
	entry cron.EntryID
}

type Scheduler struct {
	mu       sync.RWMutex
	jobs     map[string]*runningJob
	cron     *cron.Cron
	parser   cron.Parser
	asker    Asker
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	loc      *time.Location

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithLocation sets the time zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc == nil {
			return
		}
		s.loc = loc
		s.cron = cron.New(cron.WithLocation(loc), cron.WithParser(s.parser))
	}
}

func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(asker Asker, notifier Notifier, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Scheduler{
		jobs:     make(map[string]*runningJob),
		parser:   parser,
		cron:     cron.New(cron.WithParser(parser)),
		asker:    asker,
		notifier: notifier,
		logger:   slog.Default(),
		timeout:  DefaultRunTimeout,
		loc:      time.Local,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate checks a cron expression without scheduling anything.
func (s *Scheduler) Validate(schedule string) error {
	if _, err := s.parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// Start registers jobs and starts the cron loop. Jobs with an invalid
// schedule or a duplicate name are logged and skipped.
func (s *Scheduler) Start(jobs []Job) {
	for _, j := range jobs {
		if err := s.add(j); err != nil {
			s.logger.Warn("scheduler: skipping digest", "digest", j.Name, "err", err)
		}
	}
	s.cron.Start()
}

// Stop halts scheduling and waits for running digests until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	defer s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) add(job Job) error {
	if job.Name == "" {
		return errors.New("digest name is required")
	}
	if err := s.Validate(job.Schedule); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("digest %q already exists", job.Name)
	}
	rj := &runningJob{job: job}
	s.jobs[job.Name] = rj
	if !job.Paused {
		return s.scheduleLocked(rj)
	}
	return nil
}

func (s *Scheduler) scheduleLocked(rj *runningJob) error {
	name := rj.job.Name
	id, err := s.cron.AddFunc(rj.job.Schedule, func() { s.execute(s.ctx, name) })
	if err != nil {
		return fmt.Errorf("scheduling digest %q: %w", name, err)
	}
	rj.entry = id
	return nil
}

func (s *Scheduler) PauseJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	if rj.job.Paused {
		return nil
	}
	s.cron.Remove(rj.entry)
	rj.entry = 0
	rj.job.Paused = true
	return nil
}

func (s *Scheduler) ResumeJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	if !rj.job.Paused {
		return nil
	}
	rj.job.Paused = false
	return s.scheduleLocked(rj)
}

func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, rj := range s.jobs {
		out = append(out, rj.job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NextRun reports when a digest fires next. Paused digests report false.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rj, ok := s.jobs[name]
	if !ok || rj.job.Paused {
		return time.Time{}, false
	}
	e := s.cron.Entry(rj.entry)
	if !e.Valid() {
		return time.Time{}, false
	}
	if e.Next.IsZero() {
		// Not started yet; compute from the schedule.
		return e.Schedule.Next(time.Now().In(s.loc)), true
	}
	return e.Next, true
}

// RunNow asks a digest's question immediately and returns the answer.
func (s *Scheduler) RunNow(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	return s.execute(ctx, name), nil
}

func (s *Scheduler) execute(ctx context.Context, name string) string {
	s.mu.RLock()
	rj, ok := s.jobs[name]
	var job Job
	if ok {
		job = rj.job
	}
	s.mu.RUnlock()
	if !ok {
		return ""
	}

	ctx, cancel := context.WithTimeout(caller.WithCaller(ctx, caller.Qualify("digest", job.Name)), s.timeout)
	defer cancel()

	start := time.Now()
	answer := s.asker.Invoke(ctx, job.Question, job.Context)
	s.logger.Info("scheduler: digest answered", "digest", job.Name, "duration", time.Since(start))

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, job.Name, answer); err != nil {
			s.logger.Error("scheduler: notify failed", "digest", job.Name, "err", err)
		}
	}
	return answer
}

// LogNotifier writes digest answers to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, digest, answer string) error {
	l := n.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("digest", "digest", digest, "answer", answer)
	return nil
}

// MultiNotifier fans out to several notifiers and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, digest, answer string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, digest, answer); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
