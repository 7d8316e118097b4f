package failover

import (
	"sync"
	"time"
)

type CooldownConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier int
}

func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		Initial:    30 * time.Second,
		Max:        10 * time.Minute,
		Multiplier: 4,
	}
}

type backendStats struct {
	errorCount    int
	cooldownUntil time.Time
}

// CooldownTracker backs off backends that keep failing. Safe for concurrent
// use.
type CooldownTracker struct {
	config CooldownConfig
	mu     sync.Mutex
	stats  map[string]*backendStats
}

func NewCooldownTracker(cfg CooldownConfig) *CooldownTracker {
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &CooldownTracker{config: cfg, stats: make(map[string]*backendStats)}
}

func (ct *CooldownTracker) PutInCooldown(backend string, now time.Time) time.Duration {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	s, ok := ct.stats[backend]
	if !ok {
		s = &backendStats{}
		ct.stats[backend] = s
	}
	s.errorCount++
	d := ct.calculateDuration(s.errorCount)
	s.cooldownUntil = now.Add(d)
	return d
}

func (ct *CooldownTracker) InCooldown(backend string, now time.Time) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	s, ok := ct.stats[backend]
	return ok && now.Before(s.cooldownUntil)
}

func (ct *CooldownTracker) Reset(backend string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.stats, backend)
}

func (ct *CooldownTracker) calculateDuration(errorCount int) time.Duration {
	d := ct.config.Initial
	for i := 1; i < errorCount; i++ {
		d *= time.Duration(ct.config.Multiplier)
		if d > ct.config.Max {
			return ct.config.Max
		}
	}
	return d
}
