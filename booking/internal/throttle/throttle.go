// Package throttle spaces outbound portal requests so the aggregate rate to
// any one portal stays under its configured ceiling. Portals here are fragile
// third-party sites with anti-scraping defenses; the gate is mandatory for
// every remote call an adapter makes.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Config configures the limiter. All knobs are configuration, never
// hard-coded in adapters, so operational tuning needs no code change.
type Config struct {
	// MinInterval is the default minimum spacing between requests to one
	// portal. Default: 300ms.
	MinInterval time.Duration

	// PerPortal overrides MinInterval for specific portal keys.
	PerPortal map[string]time.Duration

	// MaxCourts bounds how many courts a breadth-heavy probe (trainer
	// search) scans per query. Default: 5.
	MaxCourts int

	// TrainerHourStep is the sampling step for trainer probes, in hours.
	// Default: 2 (probe 08:00, 10:00, … instead of every hour).
	TrainerHourStep int
}

func (c *Config) defaults() {
	if c.MinInterval <= 0 {
		c.MinInterval = 300 * time.Millisecond
	}
	if c.MaxCourts <= 0 {
		c.MaxCourts = 5
	}
	if c.TrainerHourStep <= 0 {
		c.TrainerHourStep = 2
	}
}

// Limiter enforces a per-portal minimum inter-request interval.
// Safe for concurrent use; each portal key has its own last-request mark, so
// parallel fan-out across portals is never serialized globally.
type Limiter struct {
	cfg  Config
	mu   sync.Mutex
	last map[string]time.Time

	// Injectable clock for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	cfg.defaults()
	return &Limiter{
		cfg:   cfg,
		last:  make(map[string]time.Time),
		now:   time.Now,
		sleep: realSleep,
	}
}

// SetClock replaces the wall clock and sleeper. Test hook only.
func (l *Limiter) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	l.now = now
	l.sleep = sleep
}

// Interval returns the configured spacing for a portal key.
func (l *Limiter) Interval(portalKey string) time.Duration {
	if d, ok := l.cfg.PerPortal[portalKey]; ok && d > 0 {
		return d
	}
	return l.cfg.MinInterval
}

// MaxCourts returns the breadth cap for court scans.
func (l *Limiter) MaxCourts() int { return l.cfg.MaxCourts }

// TrainerHourStep returns the trainer probe sampling step in hours.
func (l *Limiter) TrainerHourStep() int { return l.cfg.TrainerHourStep }

// Wait blocks until the portal's minimum interval has elapsed since the
// previous Wait for the same key, then records the new request time.
// Returns early with ctx.Err() on cancellation.
func (l *Limiter) Wait(ctx context.Context, portalKey string) error {
	interval := l.Interval(portalKey)

	for {
		l.mu.Lock()
		now := l.now()
		prev, ok := l.last[portalKey]
		if !ok || now.Sub(prev) >= interval {
			l.last[portalKey] = now
			l.mu.Unlock()
			return nil
		}
		wait := interval - now.Sub(prev)
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
