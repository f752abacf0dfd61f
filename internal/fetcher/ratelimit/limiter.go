// Package ratelimit throttles a harvest.Transport with a token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/bibharvest/internal/harvest"
	"github.com/JakeFAU/bibharvest/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// RequestsPerSecond is the sustained rate per host. Zero or less disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Transport waits for a per-host token before delegating each call.
type Transport struct {
	next  harvest.Transport
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Wrap returns next unchanged when limiting is disabled.
func Wrap(next harvest.Transport, cfg Config) harvest.Transport {
	if cfg.RequestsPerSecond <= 0 {
		return next
	}
	return New(next, cfg)
}

// New creates a limiting Transport around next.
func New(next harvest.Transport, cfg Config) *Transport {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Transport{
		next:     next,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Get waits for a slot, then issues a GET.
func (t *Transport) Get(ctx context.Context, url string) (harvest.Response, error) {
	if err := t.Wait(ctx, url); err != nil {
		return harvest.Response{}, err
	}
	return t.next.Get(ctx, url)
}

// PostForm waits for a slot, then issues a form POST.
func (t *Transport) PostForm(ctx context.Context, url string, form map[string]string) (harvest.Response, error) {
	if err := t.Wait(ctx, url); err != nil {
		return harvest.Response{}, err
	}
	return t.next.PostForm(ctx, url, form)
}

// PostJSON waits for a slot, then issues a JSON POST.
func (t *Transport) PostJSON(ctx context.Context, url string, body []byte) (harvest.Response, error) {
	if err := t.Wait(ctx, url); err != nil {
		return harvest.Response{}, err
	}
	return t.next.PostJSON(ctx, url, body)
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (t *Transport) Wait(ctx context.Context, url string) error {
	site := metrics.SanitizeSite(url)
	t.mu.Lock()
	limiter, ok := t.limiters[site]
	if !ok {
		limiter = rate.NewLimiter(t.limit, t.burst)
		t.limiters[site] = limiter
	}
	t.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(site, d)
	}
	return nil
}
