// Package ratelimit provides publish admission control for the bus.
//
// A full queue already rejects events, but a chatty producer can keep the
// queue saturated and starve every other publisher. A limiter caps the rate
// at which events are admitted before they reach the queue.
//
//   - TokenBucket limits all publishers together
//   - Keyed keeps one bucket per key, e.g. per event group
//
// Both are in-memory and built on golang.org/x/time/rate.
//
//	bus, err := eventbus.New(16, 8,
//	    eventbus.WithRateLimiter(ratelimit.NewTokenBucket(500, 50)))
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether an event may be admitted.
//
// All implementations must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether an event can be admitted right now,
	// consuming a token if so. It never blocks.
	Allow(ctx context.Context) bool

	// Wait blocks until an event is allowed or ctx is done.
	Wait(ctx context.Context) error
}

// TokenBucket is a single shared token bucket.
//
// Tokens are added at rps per second and at most burst of them accumulate.
// Each admitted event consumes one token.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a token bucket admitting rps events per second with
// bursts of up to burst events.
func NewTokenBucket(rps float64, burst int) *TokenBucket {
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Allow consumes one token if available.
func (t *TokenBucket) Allow(ctx context.Context) bool {
	return t.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (t *TokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// Delay returns how long a caller would have to wait for the next token
// without consuming it.
func (t *TokenBucket) Delay() time.Duration {
	r := t.limiter.Reserve()
	defer r.Cancel()
	return r.Delay()
}

// SetLimit changes the refill rate.
func (t *TokenBucket) SetLimit(rps float64) {
	t.limiter.SetLimit(rate.Limit(rps))
}

// SetBurst changes the burst size.
func (t *TokenBucket) SetBurst(burst int) {
	t.limiter.SetBurst(burst)
}

// Limit returns the refill rate in events per second.
func (t *TokenBucket) Limit() float64 {
	return float64(t.limiter.Limit())
}

// Burst returns the burst size.
func (t *TokenBucket) Burst() int {
	return t.limiter.Burst()
}

var _ Limiter = (*TokenBucket)(nil)

// Keyed keeps an independent token bucket per key. Buckets are created on
// first use, up to max keys; keys beyond that share one overflow bucket so
// memory stays bounded.
type Keyed[K comparable] struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	max      int
	buckets  map[K]*rate.Limiter
	overflow *rate.Limiter
}

// NewKeyed creates a keyed limiter. max <= 0 means no bound on the number of
// buckets.
func NewKeyed[K comparable](rps float64, burst, max int) *Keyed[K] {
	return &Keyed[K]{
		rps:      rate.Limit(rps),
		burst:    burst,
		max:      max,
		buckets:  make(map[K]*rate.Limiter),
		overflow: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Allow consumes a token from key's bucket if available.
func (k *Keyed[K]) Allow(key K) bool {
	return k.bucket(key).Allow()
}

// Wait blocks until key's bucket has a token or ctx is done.
func (k *Keyed[K]) Wait(ctx context.Context, key K) error {
	return k.bucket(key).Wait(ctx)
}

// Len returns the number of dedicated buckets.
func (k *Keyed[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *Keyed[K]) bucket(key K) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	if l, ok := k.buckets[key]; ok {
		return l
	}
	if k.max > 0 && len(k.buckets) >= k.max {
		return k.overflow
	}
	l := rate.NewLimiter(k.rps, k.burst)
	k.buckets[key] = l
	return l
}
