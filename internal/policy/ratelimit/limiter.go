// Package ratelimit paces requests to the crawled site.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/listing-tracker/internal/metrics"
)

// Class identifies the kind of request being paced.
type Class string

// Request classes.
const (
	ClassListing Class = "listing"
	ClassDetail  Class = "detail"
	ClassGeocode Class = "geocode"
	ClassImage   Class = "image"
)

// Delay is a randomized gap drawn uniformly from [Min, Max].
type Delay struct {
	Min time.Duration
	Max time.Duration
}

func (d Delay) draw(rnd func(int64) int64) time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + time.Duration(rnd(int64(d.Max-d.Min)+1))
}

// Config holds pacer configuration.
type Config struct {
	// MaxRPS caps the overall request rate; zero disables the ceiling.
	MaxRPS float64
	Delays map[Class]Delay
}

// Pacer is the single politeness budget shared by every worker: a
// token-bucket ceiling plus a randomized gap between consecutive requests.
type Pacer struct {
	limiter *rate.Limiter
	delays  map[Class]Delay
	rnd     func(int64) int64
	sleep   func(context.Context, time.Duration) error

	mu   sync.Mutex
	next time.Time
	now  func() time.Time
}

// New creates a Pacer.
func New(cfg Config) *Pacer {
	limit := rate.Inf
	if cfg.MaxRPS > 0 {
		limit = rate.Limit(cfg.MaxRPS)
	}
	delays := make(map[Class]Delay, len(cfg.Delays))
	for class, d := range cfg.Delays {
		delays[class] = d
	}
	metrics.Init()
	return &Pacer{
		limiter: rate.NewLimiter(limit, 1),
		delays:  delays,
		rnd:     rand.Int64N,
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Wait blocks until a request of class may be sent. Concurrent callers
// reserve consecutive slots, so the gap holds across workers.
func (p *Pacer) Wait(ctx context.Context, class Class) error {
	start := p.now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if err := p.sleep(ctx, p.reserve(class)); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := p.now().Sub(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(string(class), waited)
	}
	return nil
}

// reserve claims the next free slot for class and returns how long the
// caller must wait for it.
func (p *Pacer) reserve(class Class) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.delays[class].draw(p.rnd))
	return slot.Sub(now)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
