package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxBuckets bounds the number of callers tracked at once.
const maxBuckets = 4096

type bucket struct {
	count int
	until time.Time
}

type limiter struct {
	mu      sync.Mutex
	limit   int
	per     time.Duration
	max     int
	buckets map[string]*bucket
}

// RateLimit allows limit requests per window for each caller. Authenticated
// callers are keyed by identity, anonymous ones by the host of RemoteAddr.
// Forwarded headers are not consulted here; the router decides whether to
// trust them. A non-positive limit disables the check.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return rateLimit(limit, per, maxBuckets)
}

func rateLimit(limit int, per time.Duration, max int) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if max <= 0 {
		max = maxBuckets
	}
	l := &limiter{limit: limit, per: per, max: max, buckets: make(map[string]*bucket)}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIPForRateLimit(r)
			if identity := IdentityFromContext(r.Context()); identity != "" {
				key = "id:" + identity
			}
			if retry, ok := l.allow(key, time.Now()); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow counts one request for key and reports the Retry-After seconds when
// the window is exhausted.
func (l *limiter) allow(key string, now time.Time) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok || now.After(b.until) {
		if !ok {
			l.makeRoom(now)
		}
		b = &bucket{until: now.Add(l.per)}
		l.buckets[key] = b
	}
	if b.count >= l.limit {
		return int(b.until.Sub(now).Seconds()) + 1, false
	}
	b.count++
	return 0, true
}

// makeRoom drops expired windows once the map is full, then the window
// closest to expiry if that was not enough.
func (l *limiter) makeRoom(now time.Time) {
	if len(l.buckets) < l.max {
		return
	}
	for k, b := range l.buckets {
		if now.After(b.until) {
			delete(l.buckets, k)
		}
	}
	for len(l.buckets) >= l.max {
		var oldest string
		var until time.Time
		for k, b := range l.buckets {
			if oldest == "" || b.until.Before(until) {
				oldest, until = k, b.until
			}
		}
		delete(l.buckets, oldest)
	}
}

func clientIPForRateLimit(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
