package internal

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-IP token-bucket rate limiting for webhook endpoints
// to prevent DDoS attacks.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	requests int // counter for deterministic cleanup

	cleanupEvery int // cleanup every N requests (default: 100)
	now          func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per IP with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = 100
	}
	return &RateLimiter{
		visitors:     make(map[string]*visitor),
		limit:        rate.Limit(perSecond),
		burst:        burst,
		idleTTL:      3 * time.Minute,
		cleanupEvery: 100,
		now:          time.Now,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	now := rl.now()

	// Deterministic cleanup: Run every N requests
	rl.requests++
	if rl.requests%rl.cleanupEvery == 0 {
		rl.cleanupIdle(now)
		rl.requests = 0
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	limiter := v.limiter
	rl.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// cleanupIdle removes visitors not seen within idleTTL. Caller holds mu.
func (rl *RateLimiter) cleanupIdle(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.visitors, ip)
		}
	}
}

// Cleanup removes idle visitors.
// Can be called periodically (e.g., via a background goroutine) for proactive cleanup.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupIdle(rl.now())
}

// Middleware wraps HTTP handler with rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(GetClientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For header first (set by proxies/load balancers),
// then falls back to RemoteAddr without the port.
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (set by proxies/load balancers)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take first IP in the chain
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
