package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/askscio/github-stats-collector/internal/logger"
)

const (
	// DefaultMaxPerHour is the conservative hourly request cap
	// (GitHub allows 5000 for authenticated clients).
	DefaultMaxPerHour = 4500

	// MinBuffer is the low-water mark of server-reported remaining
	// requests below which the limiter waits for the quota reset.
	MinBuffer = 100

	// HeaderRateRemaining is the remaining-requests header.
	HeaderRateRemaining = "X-RateLimit-Remaining"

	// HeaderRateReset is the reset timestamp header (Unix seconds).
	HeaderRateReset = "X-RateLimit-Reset"
)

// RateLimiter enforces an hourly request budget against the GitHub API.
// It combines a local rolling one-hour window counter with the quota the
// server reports in response headers, plus a token bucket that smooths
// issuance so the budget is not burned in one burst.
//
// The check-and-sleep sequence in Wait runs under one mutex, so the
// limiter is safe for concurrent workers: while one caller is waiting out
// the quota, the rest queue behind it instead of re-reading stale state.
type RateLimiter struct {
	mu         sync.Mutex
	maxPerHour int

	requestsMade int
	windowStart  time.Time

	remaining int // server-reported; -1 until first response
	resetTime time.Time

	bucket *rate.Limiter

	now func() time.Time // test seam
}

// NewRateLimiter creates a rate limiter for the given hourly cap.
func NewRateLimiter(maxPerHour int) *RateLimiter {
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxPerHour
	}

	burst := maxPerHour / 100
	if burst < 1 {
		burst = 1
	}

	return &RateLimiter{
		maxPerHour:  maxPerHour,
		windowStart: time.Now(),
		remaining:   -1,
		bucket:      rate.NewLimiter(rate.Limit(float64(maxPerHour)/3600.0), burst),
		now:         time.Now,
	}
}

// Wait blocks until the caller may safely issue the next request.
// It never fails on its own; the only error is a cancelled context.
func (r *RateLimiter) Wait(ctx context.Context) error {
	// Proactive smoothing before touching the shared counters.
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	// Roll the local window over.
	if now.Sub(r.windowStart) >= time.Hour {
		r.requestsMade = 0
		r.windowStart = now
	}

	// The server knows best: if reported quota is low and the reset is
	// ahead of us, wait it out. Headers lag actual usage by one request,
	// which is why the local counter below exists at all.
	if r.remaining >= 0 && r.remaining < MinBuffer && r.resetTime.After(now) {
		wait := r.resetTime.Sub(now) + time.Second
		logger.Warn("Rate limit low (%d remaining). Waiting %s", r.remaining, wait.Round(time.Second))
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		r.requestsMade = 0
		return nil
	}

	// Local cap reached: sleep out the remainder of the hour.
	if r.requestsMade >= r.maxPerHour {
		if elapsed := now.Sub(r.windowStart); elapsed < time.Hour {
			wait := time.Hour - elapsed
			logger.Warn("Local rate limit reached. Waiting %s", wait.Round(time.Second))
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
		r.requestsMade = 0
		r.windowStart = r.now()
	}

	return nil
}

// UpdateFromResponse ingests the live quota headers after a request and
// counts the request against the local window.
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if resp != nil {
		if v := resp.Header.Get(HeaderRateRemaining); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				r.remaining = n
			}
		}
		if v := resp.Header.Get(HeaderRateReset); v != "" {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				r.resetTime = time.Unix(unix, 0)
			}
		}
	}

	r.requestsMade++
}

// Remaining returns the last server-reported remaining quota
// (-1 before the first response).
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}

// ResetTime returns the last server-reported quota reset time.
func (r *RateLimiter) ResetTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetTime
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
