package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused per-client limiter is kept.
const limiterIdleTTL = 10 * time.Minute

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newClientLimiter allows perMinute requests per client with the given burst.
func newClientLimiter(perMinute, burst int, now func() time.Time) *clientLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		clients: make(map[string]*clientBucket),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		now:     now,
	}
}

// reserve takes a token for key. When none is available it returns false
// and the wait until the next token.
func (l *clientLimiter) reserve(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.clients[key]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = bucket
	}
	bucket.lastSeen = now

	res := bucket.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// cleanIdle drops limiters not used within limiterIdleTTL.
func (l *clientLimiter) cleanIdle() {
	cutoff := l.now().Add(-limiterIdleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, bucket := range l.clients {
		if bucket.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// size returns the number of tracked clients.
func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// rateLimitMiddleware throttles credential endpoints per client address.
// It is a pass-through when rate limiting is disabled.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		ok, wait := s.limiter.reserve(clientKey(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller by IP address. RemoteAddr has already
// been rewritten by chi's RealIP middleware when a proxy header is present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
