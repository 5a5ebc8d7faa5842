package boardauth

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionLimiter throttles how often a single user may open new
// board sessions or create elements over REST, independent of the
// per-IP limiter below — a user editing from several tabs shouldn't be
// starved by someone else behind the same NAT.
type ConnectionLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rateVal  rate.Limit
	burst    int
}

func NewConnectionLimiter(perSecond float64, burst int) *ConnectionLimiter {
	cl := &ConnectionLimiter{
		limiters: make(map[string]*rate.Limiter),
		rateVal:  rate.Limit(perSecond),
		burst:    burst,
	}
	go cl.evictStale()
	return cl
}

func (cl *ConnectionLimiter) Allow(userID string) bool {
	return cl.limiter(userID).Allow()
}

func (cl *ConnectionLimiter) limiter(userID string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	lim, ok := cl.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(cl.rateVal, cl.burst)
		cl.limiters[userID] = lim
	}
	return lim
}

func (cl *ConnectionLimiter) evictStale() {
	for range time.Tick(10 * time.Minute) {
		cl.mu.Lock()
		for id, lim := range cl.limiters {
			if lim.TokensAt(time.Now()) >= float64(cl.burst) {
				delete(cl.limiters, id)
			}
		}
		cl.mu.Unlock()
	}
}

// IPRateLimiter applies per-IP request rate limiting ahead of
// authentication, so an unauthenticated flood can't reach the DB.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
}

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(reqPerSec float64, burst int) *IPRateLimiter {
	rl := &IPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(reqPerSec),
		burst:    burst,
	}
	go func() {
		for range time.Tick(5 * time.Minute) {
			rl.mu.Lock()
			for ip, l := range rl.limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(rl.limiters, ip)
				}
			}
			rl.mu.Unlock()
		}
	}()
	return rl
}

func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	rl.mu.Unlock()
	return l.lim.Allow()
}

// Middleware wraps an http.Handler with per-IP rate limiting.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
