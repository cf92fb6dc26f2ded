package validation

import (
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter per client connection
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	clients     map[string]*clientBucket
	mu          sync.Mutex
	cleanupTick *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

// clientBucket tracks the token bucket of a single client
type clientBucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

// NewRateLimiter creates a limiter that allows maxRequests per window for
// each client, refilled continuously.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		clients:     make(map[string]*clientBucket),
		done:        make(chan struct{}),
	}

	rl.cleanupTick = time.NewTicker(window)
	go rl.cleanup()

	return rl
}

// Allow checks if a request should be allowed for the given client ID
func (rl *RateLimiter) Allow(clientID string) bool {
	now := time.Now()

	rl.mu.Lock()
	bucket, exists := rl.clients[clientID]
	if !exists {
		bucket = &clientBucket{tokens: rl.maxRequests, lastRefill: now}
		rl.clients[clientID] = bucket
	}
	rl.mu.Unlock()

	return bucket.take(now, rl.maxRequests, rl.window)
}

// Forget drops the bucket of a disconnected client.
func (rl *RateLimiter) Forget(clientID string) {
	rl.mu.Lock()
	delete(rl.clients, clientID)
	rl.mu.Unlock()
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (b *clientBucket) take(now time.Time, maxTokens int, window time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSeen = now
	if elapsed := now.Sub(b.lastRefill); elapsed > 0 && b.tokens < maxTokens {
		refill := int(float64(maxTokens) * float64(elapsed) / float64(window))
		if refill > 0 {
			b.tokens = min(b.tokens+refill, maxTokens)
			b.lastRefill = now
		}
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.removeInactiveClients(time.Now())
		case <-rl.done:
			return
		}
	}
}

// removeInactiveClients drops clients idle for more than two windows
func (rl *RateLimiter) removeInactiveClients(now time.Time) {
	cutoff := now.Add(-2 * rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for clientID, bucket := range rl.clients {
		bucket.mu.Lock()
		idle := bucket.lastSeen.Before(cutoff)
		bucket.mu.Unlock()
		if idle {
			delete(rl.clients, clientID)
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
		rl.cleanupTick.Stop()
	})
}
