package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiterEntry tracks a limiter and its last access time.
type rateLimiterEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-key token-bucket rate limiting with LRU
// eviction to bound memory. The core uses it to throttle security-event
// logging on the reuse-detection paths, where an attacker replaying a
// stolen credential could otherwise flood the log.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*list.Element
	lru        *list.List // of *rateLimiterEntry, front = most recent
	rate       rate.Limit
	burst      int
	maxEntries int
	logger     *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a rate limiter tracking at most maxEntries keys;
// 0 means the default of 10000. A background goroutine drops idle keys.
func NewRateLimiter(eventsPerSecond float64, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*list.Element),
		lru:         list.New(),
		rate:        rate.Limit(eventsPerSecond),
		burst:       burst,
		maxEntries:  maxEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether an event for key is within the rate limit.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.limiters[key]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*rateLimiterEntry)
		entry.lastAccess = now
		return entry.limiter.Allow()
	}

	if len(rl.limiters) >= rl.maxEntries {
		rl.evictOldest()
	}

	entry := &rateLimiterEntry{
		key:        key,
		limiter:    rate.NewLimiter(rl.rate, rl.burst),
		lastAccess: now,
	}
	rl.limiters[key] = rl.lru.PushFront(entry)
	return entry.limiter.Allow()
}

// evictOldest removes the least recently used entry. Caller holds mu.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*rateLimiterEntry)
	delete(rl.limiters, entry.key)
	rl.lru.Remove(elem)
	rl.logger.Debug("rate limiter evicted LRU entry", "key", entry.key)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(30 * time.Minute)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup removes entries idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0

	var next *list.Element
	for elem := rl.lru.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*rateLimiterEntry)
		if now.Sub(entry.lastAccess) > maxIdle {
			delete(rl.limiters, entry.key)
			rl.lru.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("rate limiter cleanup", "removed", removed, "remaining", len(rl.limiters))
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Stop terminates the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
