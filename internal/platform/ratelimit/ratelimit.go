// Package ratelimit provides keyed token-bucket limiting for HTTP handlers.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/threaded-comments/internal/platform/api"
	"github.com/example/threaded-comments/internal/platform/httpserver"
)

// idleAfter is how long an untouched key is kept before it may be pruned.
const idleAfter = 10 * time.Minute

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// New creates a limiter allowing perSecond requests with the given burst per key.
// A non-positive perSecond disables limiting.
func New(perSecond float64, burst int) *Limiter {
	l := &Limiter{entries: make(map[string]*entry), now: time.Now}
	l.SetLimit(perSecond, burst)
	return l
}

// SetLimit changes the rate for every key, including existing buckets.
func (l *Limiter) SetLimit(perSecond float64, burst int) {
	lim := rate.Inf
	if perSecond > 0 {
		lim = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit, l.burst = lim, burst
	for _, e := range l.entries {
		e.lim.SetLimit(lim)
		e.lim.SetBurst(burst)
	}
}

// Allow consumes one token for key.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= 10000 {
			l.prune(now)
		}
		e = &entry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.seen = now
	lim := e.lim
	l.mu.Unlock()
	return lim.AllowN(now, 1)
}

func (l *Limiter) prune(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.seen) > idleAfter {
			delete(l.entries, k)
		}
	}
}

// KeyFunc extracts the bucket key from a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// ByIP keys requests on the first X-Forwarded-For hop or the remote address.
func ByIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware returns an HTTP middleware that rate-limits requests by key.
func (l *Limiter) Middleware(key KeyFunc) func(next http.Handler) http.Handler {
	if key == nil {
		key = ByIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if k := key(r); k != "" && !l.Allow(k) {
				rid := httpserver.RequestIDFromContext(r.Context())
				api.RateLimited(w, api.CodeRateLimited, "Too many requests", rid, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
