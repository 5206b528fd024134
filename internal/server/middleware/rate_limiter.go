package middleware

import (
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	bucket    map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
	mu        sync.Mutex
	logger    logrus.FieldLogger
}

// NewRateLimiter allows reqRate requests per second per IP with the given burst.
// A non-positive reqRate disables limiting.
func NewRateLimiter(reqRate float64, burstSize int, logger logrus.FieldLogger) *RateLimiter {
	limit := rate.Limit(reqRate)
	if reqRate <= 0 {
		limit = rate.Inf
	}
	if burstSize < 1 {
		burstSize = 1
	}
	return &RateLimiter{
		bucket:    make(map[string]*rate.Limiter),
		rate:      limit,
		burstSize: burstSize,
		logger:    logger,
	}
}

// LimiterFor returns the limiter for ip, creating it on first use.
func (rl *RateLimiter) LimiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if _, exist := rl.bucket[ip]; !exist {
		rl.bucket[ip] = rate.NewLimiter(rl.rate, rl.burstSize)
	}

	return rl.bucket[ip]
}

// Limit rejects requests over the client's budget with 429.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !rl.LimiterFor(ip).Allow() {
			rl.logger.WithFields(logrus.Fields{
				"ip":         ip,
				"request_id": RequestIDFrom(r.Context()),
			}).Warn("Too many requests")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"error":"Too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
