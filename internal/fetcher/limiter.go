package fetcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Limiter gates outbound requests for one endpoint family.
type Limiter interface {
	// Acquire blocks until the caller may issue one request.
	Acquire(ctx context.Context) error
}

// IntervalLimiter grants at most one request per MinInterval. A single
// instance is shared by every worker talking to the same API.
type IntervalLimiter struct {
	lim      *rate.Limiter
	interval time.Duration
	granted  atomic.Int64
}

// NewIntervalLimiter creates a limiter spacing grants by at least minInterval.
// A non-positive interval disables limiting.
func NewIntervalLimiter(minInterval time.Duration) *IntervalLimiter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	// Burst 1: no saved-up tokens, so back-to-back callers are always spaced.
	return &IntervalLimiter{
		lim:      rate.NewLimiter(limit, 1),
		interval: minInterval,
	}
}

// Acquire waits for the next slot. It returns early if ctx is cancelled.
func (l *IntervalLimiter) Acquire(ctx context.Context) error {
	if err := l.lim.Wait(ctx); err != nil {
		return eris.Wrap(err, "limiter: wait")
	}
	l.granted.Add(1)
	return nil
}

// Interval returns the configured minimum spacing.
func (l *IntervalLimiter) Interval() time.Duration {
	return l.interval
}

// Granted returns how many acquisitions have been granted.
func (l *IntervalLimiter) Granted() int64 {
	return l.granted.Load()
}

// CountingLimiter decorates a Limiter and reports every grant along with how
// long the caller waited for it.
type CountingLimiter struct {
	Limiter
	OnAcquire func(wait time.Duration)
}

func (c *CountingLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := c.Limiter.Acquire(ctx); err != nil {
		return err
	}
	if c.OnAcquire != nil {
		c.OnAcquire(time.Since(start))
	}
	return nil
}
