package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware keeps one token bucket per client IP.
type RateLimitMiddleware struct {
	mu         sync.Mutex
	clients    map[string]*rateClient
	lastSweep  time.Time
	trustProxy bool
	now        func() time.Time
}

type rateClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware. Forwarding
// headers are only used to identify the client when trustProxy is set.
func NewRateLimitMiddleware(trustProxy bool) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		clients:    make(map[string]*rateClient),
		trustProxy: trustProxy,
		now:        time.Now,
	}
}

// RateLimit allows each client a burst of maxRequests, refilled evenly over
// windowSeconds.
func (m *RateLimitMiddleware) RateLimit(maxRequests int, windowSeconds int) func(http.Handler) http.Handler {
	window := time.Duration(windowSeconds) * time.Second
	every := rate.Every(window / time.Duration(maxRequests))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.allow(getClientIP(r, m.trustProxy), every, maxRequests, window) {
				w.Header().Set("Retry-After", strconv.Itoa(windowSeconds))
				deny(w, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *RateLimitMiddleware) allow(key string, every rate.Limit, burst int, idle time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= idle {
		m.evictIdle(now, idle)
	}

	c, ok := m.clients[key]
	if !ok {
		c = &rateClient{limiter: rate.NewLimiter(every, burst)}
		m.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// evictIdle drops clients unseen for longer than idle. Their buckets have
// refilled by then, so a returning client starts from the same state.
func (m *RateLimitMiddleware) evictIdle(now time.Time, idle time.Duration) {
	for key, c := range m.clients {
		if now.Sub(c.lastSeen) >= idle {
			delete(m.clients, key)
		}
	}
	m.lastSweep = now
}

// getClientIP returns the peer address, or the first forwarded address when
// the server sits behind a trusted proxy.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
			return strings.TrimSpace(strings.Split(ip, ",")[0])
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return strings.TrimSpace(ip)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
