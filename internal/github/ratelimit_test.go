package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// uncapped removes the smoothing bucket so tests only exercise the
// window/quota logic.
func uncapped(r *RateLimiter) *RateLimiter {
	r.bucket = rate.NewLimiter(rate.Inf, 1)
	return r
}

func respWithHeaders(remaining, reset string) *http.Response {
	h := http.Header{}
	if remaining != "" {
		h.Set(HeaderRateRemaining, remaining)
	}
	if reset != "" {
		h.Set(HeaderRateReset, reset)
	}
	return &http.Response{Header: h}
}

func TestRateLimiter_Wait(t *testing.T) {
	t.Run("passes through with quota available", func(t *testing.T) {
		r := uncapped(NewRateLimiter(4500))

		start := time.Now()
		require.NoError(t, r.Wait(context.Background()))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("rolls the local window over after an hour", func(t *testing.T) {
		r := uncapped(NewRateLimiter(10))
		r.windowStart = time.Now().Add(-2 * time.Hour)
		r.requestsMade = 10 // at the cap, but the window is stale

		start := time.Now()
		require.NoError(t, r.Wait(context.Background()))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
		assert.Equal(t, 0, r.requestsMade)
	})

	t.Run("waits for server reset when reported quota is low", func(t *testing.T) {
		r := uncapped(NewRateLimiter(4500))
		r.remaining = MinBuffer - 1
		r.resetTime = time.Now().Add(time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := r.Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("ignores stale reset times", func(t *testing.T) {
		r := uncapped(NewRateLimiter(4500))
		r.remaining = 0
		r.resetTime = time.Now().Add(-time.Minute)

		start := time.Now()
		require.NoError(t, r.Wait(context.Background()))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("sleeps out the hour remainder at the local cap", func(t *testing.T) {
		r := uncapped(NewRateLimiter(5))
		r.requestsMade = 5
		r.windowStart = time.Now().Add(-time.Hour + 20*time.Millisecond)

		start := time.Now()
		require.NoError(t, r.Wait(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
		assert.Equal(t, 0, r.requestsMade)
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		r := uncapped(NewRateLimiter(5))
		r.requestsMade = 5
		r.windowStart = time.Now() // full hour left to wait

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.Error(t, r.Wait(ctx))
	})
}

func TestRateLimiter_UpdateFromResponse(t *testing.T) {
	t.Run("parses quota headers and counts the request", func(t *testing.T) {
		r := NewRateLimiter(4500)
		reset := time.Now().Add(30 * time.Minute).Truncate(time.Second)

		r.UpdateFromResponse(respWithHeaders("1234", strconv.FormatInt(reset.Unix(), 10)))
		r.UpdateFromResponse(respWithHeaders("1233", ""))

		assert.Equal(t, 1233, r.Remaining())
		assert.True(t, r.ResetTime().Equal(reset))
		assert.Equal(t, 2, r.requestsMade)
	})

	t.Run("ignores malformed headers", func(t *testing.T) {
		r := NewRateLimiter(4500)

		r.UpdateFromResponse(respWithHeaders("not-a-number", "also-bad"))

		assert.Equal(t, -1, r.Remaining())
		assert.Equal(t, 1, r.requestsMade)
	})

	t.Run("counts requests without a response", func(t *testing.T) {
		r := NewRateLimiter(4500)

		r.UpdateFromResponse(nil)

		assert.Equal(t, 1, r.requestsMade)
	})
}

func TestRateLimiter_ConcurrentUse(t *testing.T) {
	r := uncapped(NewRateLimiter(4500))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Wait(ctx)
			r.UpdateFromResponse(respWithHeaders("4000", ""))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, r.requestsMade)
	assert.Equal(t, 4000, r.Remaining())
}
