package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type rateLimiter interface {
	Allow(key string) bool
}

// windowRateLimiter admits limit requests per key per window using one token bucket per key.
// Buckets refill at limit/window, so a key idle for a full window is back to its full burst.
type windowRateLimiter struct {
	limit  int
	every  rate.Limit
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]*clientBucket
	swept  time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newWindowRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowRateLimiter{
		limit:  limit,
		every:  rate.Every(window / time.Duration(limit)),
		window: window,
		clock:  clock,
		store:  make(map[string]*clientBucket),
	}
}

func (l *windowRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneIdleLocked(now)
	bucket, ok := l.store[key]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.every, l.limit)}
		l.store[key] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

// pruneIdleLocked drops buckets untouched for a whole window; they would be full again anyway.
func (l *windowRateLimiter) pruneIdleLocked(now time.Time) {
	if now.Sub(l.swept) < l.window {
		return
	}
	l.swept = now
	for key, bucket := range l.store {
		if now.Sub(bucket.lastSeen) >= l.window {
			delete(l.store, key)
		}
	}
}

// clientKey identifies the caller for throttling. RealIP has already rewritten RemoteAddr
// when the router runs behind a proxy.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
