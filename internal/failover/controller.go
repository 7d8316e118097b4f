package failover

import (
	"context"
	"log/slog"
	"time"
)

// Policy bounds every network call to a reasoning backend.
type Policy struct {
	// Timeout applies to each attempt separately.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts on the same backend after
	// a transient failure.
	MaxRetries   int
	RetryBackoff time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:      30 * time.Second,
		MaxRetries:   1,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// AttemptFunc performs one call against the named backend.
type AttemptFunc func(ctx context.Context, backend string) error

type Controller struct {
	policy    Policy
	cooldowns *CooldownTracker
	logger    *slog.Logger
	now       func() time.Time
}

func NewController(policy Policy, cooldowns *CooldownTracker, logger *slog.Logger) *Controller {
	if cooldowns == nil {
		cooldowns = NewCooldownTracker(DefaultCooldownConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{policy: policy, cooldowns: cooldowns, logger: logger, now: time.Now}
}

// Execute tries backends in order until one succeeds. Backends in cooldown
// are moved to the end rather than skipped, so a request is never refused
// without at least one attempt. A non-retryable error stops immediately.
func (c *Controller) Execute(ctx context.Context, backends []string, fn AttemptFunc) error {
	order := c.order(backends)
	attempted := make([]string, 0, len(order))
	var lastErr error

	for _, b := range order {
		attempted = append(attempted, b)
		err := c.tryWithRetry(ctx, b, fn)
		if err == nil {
			c.cooldowns.Reset(b)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(err) {
			return err
		}
		d := c.cooldowns.PutInCooldown(b, c.now())
		c.logger.Warn("reasoning backend failed, cooling down", "backend", b, "cooldown", d, "err", err)
	}

	if len(attempted) <= 1 {
		return lastErr
	}
	return &AllExhaustedError{Attempted: attempted, Last: lastErr}
}

func (c *Controller) tryWithRetry(ctx context.Context, backend string, fn AttemptFunc) error {
	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Info("retrying reasoning backend", "backend", backend, "attempt", attempt+1, "err", lastErr)
			if err := sleep(ctx, c.policy.RetryBackoff); err != nil {
				return err
			}
		}
		lastErr = c.attempt(ctx, backend, fn)
		if lastErr == nil || !IsRetryable(lastErr) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Controller) attempt(ctx context.Context, backend string, fn AttemptFunc) error {
	if c.policy.Timeout <= 0 {
		return fn(ctx, backend)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()
	return fn(callCtx, backend)
}

func (c *Controller) order(backends []string) []string {
	now := c.now()
	seen := make(map[string]bool, len(backends))
	var ready, cooling []string
	for _, b := range backends {
		if seen[b] {
			continue
		}
		seen[b] = true
		if c.cooldowns.InCooldown(b, now) {
			cooling = append(cooling, b)
			continue
		}
		ready = append(ready, b)
	}
	return append(ready, cooling...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
