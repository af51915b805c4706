package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleEviction = 10 * time.Minute

// rateLimiter hands out one token bucket per client IP. Idle buckets are
// evicted once the map grows past a bound so a churn of one-shot clients
// cannot grow memory without limit.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	limit   rate.Limit
	burst   int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string]*clientBucket),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
	}
}

func (r *rateLimiter) allow(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if len(r.clients) > 10_000 {
		for key, bucket := range r.clients {
			if now.Sub(bucket.lastSeen) > limiterIdleEviction {
				delete(r.clients, key)
			}
		}
	}

	bucket, ok := r.clients[client]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[client] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.Allow()
}

// RateLimit rejects clients that exceed perMinute requests with 429. The
// bucket starts full, so a client may burst up to perMinute requests before
// throttling to the sustained rate. A non-positive limit disables the
// middleware.
func RateLimit(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := newRateLimiter(perMinute)
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
