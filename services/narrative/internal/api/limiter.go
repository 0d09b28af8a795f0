package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/startupai/narrative/pkg/apierr"
	"github.com/startupai/narrative/pkg/authn"
	"github.com/startupai/narrative/pkg/httpx"
)

// sweepThreshold is the number of tracked keys above which expired windows are
// dropped before counting.
const sweepThreshold = 4096

// windowLimiter allows limit requests per key in each fixed window.
type windowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string]window
	now    func() time.Time
}

type window struct {
	opened time.Time
	count  int
}

// newWindowLimiter returns nil for a non-positive limit; a nil limiter allows
// everything.
func newWindowLimiter(limit int, d time.Duration) *windowLimiter {
	if limit <= 0 {
		return nil
	}
	return &windowLimiter{
		limit:  limit,
		window: d,
		hits:   map[string]window{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	return l.AllowAt(key, l.now())
}

func (l *windowLimiter) AllowAt(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.hits) > sweepThreshold {
		l.sweep(now)
	}
	w, ok := l.hits[key]
	if !ok || now.Sub(w.opened) >= l.window {
		l.hits[key] = window{opened: now, count: 1}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	l.hits[key] = w
	return true
}

func (l *windowLimiter) sweep(now time.Time) {
	for k, w := range l.hits {
		if now.Sub(w.opened) >= l.window {
			delete(l.hits, k)
		}
	}
}

// tracked reports how many keys hold a window.
func (l *windowLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// rateLimitKey prefers the authenticated user, then the client address.
func rateLimitKey(r *http.Request) string {
	if id, ok := authn.IdentityFrom(r.Context()); ok {
		return "user:" + id.UserID
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return "addr:" + strings.TrimSpace(r.RemoteAddr)
	}
	return "addr:" + host
}

func rateLimit(l *windowLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(rateLimitKey(r)) {
				httpx.WriteAPIError(w, r, apierr.New(apierr.CodeRateLimited, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
