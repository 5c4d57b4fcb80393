package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/virtualtour/virtualtour/internal/httputil"
)

type visitor struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter is a per-client token bucket keyed by remote address. Buckets refill
// continuously at the configured rate and idle entries are evicted.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     float64
	burst    float64
}

func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	l := &Limiter{
		visitors: make(map[string]*visitor),
		rate:     requestsPerSecond,
		burst:    float64(burst),
	}
	go l.evictLoop(5*time.Minute, 10*time.Minute)
	return l
}

func (l *Limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	v, exists := l.visitors[ip]
	if !exists {
		l.visitors[ip] = &visitor{tokens: l.burst - 1, lastSeen: now}
		return true
	}

	v.tokens += now.Sub(v.lastSeen).Seconds() * l.rate
	v.lastSeen = now
	if v.tokens > l.burst {
		v.tokens = l.burst
	}
	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

func (l *Limiter) evictLoop(every, idle time.Duration) {
	for {
		time.Sleep(every)
		l.mu.Lock()
		for ip, v := range l.visitors {
			if time.Since(v.lastSeen) > idle {
				delete(l.visitors, ip)
			}
		}
		l.mu.Unlock()
	}
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			ip = forwarded
		}
		if !l.allow(ip) {
			w.Header().Set("Retry-After", "10")
			httputil.WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
