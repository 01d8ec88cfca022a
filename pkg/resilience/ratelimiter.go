package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/brother-wolf/scrapers-lib/pkg/fn"
)

var ErrRateLimited = errors.New("rate limited")

// LimiterOpts configures the token bucket rate limiter.
type LimiterOpts struct {
	// Rate is the number of tokens added per second.
	Rate float64
	// Burst is the maximum number of tokens (bucket capacity).
	Burst int
}

// Every returns opts allowing one call per interval with no burst.
// A zero interval means unlimited.
func Every(interval time.Duration) LimiterOpts {
	if interval <= 0 {
		return LimiterOpts{Rate: float64(rate.Inf), Burst: 1}
	}
	return LimiterOpts{Rate: float64(rate.Every(interval)), Burst: 1}
}

// Limiter is a token bucket shared by every request to one host.
type Limiter struct {
	lim *rate.Limiter
	now func() time.Time
}

// NewLimiter creates a token bucket rate limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Limiter{
		lim: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		now: time.Now,
	}
}

// Allow checks if a request is allowed (non-blocking).
func (l *Limiter) Allow() bool {
	return l.lim.AllowN(l.now(), 1)
}

// Wait blocks until a token is available or ctx is cancelled. When the
// token would arrive after ctx's deadline it fails fast with ErrRateLimited.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.lim.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}

// LimiterStageWait wraps an fn.Stage with rate limiting (blocking, waits for token).
func LimiterStageWait[In, Out any](l *Limiter, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if err := l.Wait(ctx); err != nil {
			return fn.Err[Out](err)
		}
		return stage(ctx, in)
	}
}
