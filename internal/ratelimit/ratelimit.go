// Package ratelimit provides a keyed token-bucket limiter. AI endpoints
// are limited per client so one chat-happy user cannot starve the model
// budget for everyone else.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// How long an idle key's bucket is kept before eviction.
const staleAfter = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter manages one token bucket per key.
type KeyedLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a keyed limiter allowing rps requests per second with the
// given burst per key.
func New(rps float64, burst int) *KeyedLimiter {
	kl := &KeyedLimiter{
		entries: make(map[string]*entry),
		limit:   rate.Limit(rps),
		burst:   burst,
		done:    make(chan struct{}),
	}

	go kl.evictLoop()
	return kl
}

// Allow reports whether a request for key may proceed right now.
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.limiterFor(key).Allow()
}

// Wait blocks until a request for key is allowed or ctx is done.
func (kl *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return kl.limiterFor(key).Wait(ctx)
}

// Stop shuts down the eviction goroutine.
func (kl *KeyedLimiter) Stop() {
	kl.stopOnce.Do(func() {
		close(kl.done)
	})
}

func (kl *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	e, exists := kl.entries[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(kl.limit, kl.burst)}
		kl.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (kl *KeyedLimiter) evictLoop() {
	ticker := time.NewTicker(staleAfter)
	defer ticker.Stop()

	for {
		select {
		case <-kl.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-staleAfter)
			kl.mu.Lock()
			for key, e := range kl.entries {
				if e.lastSeen.Before(cutoff) {
					delete(kl.entries, key)
				}
			}
			kl.mu.Unlock()
		}
	}
}
