package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"livecast/pkg/cache"
	"livecast/pkg/config"
	"livecast/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Operators that stop calling for this long lose their limiter and start
// over with a full burst.
const clientIdleTTL = 10 * time.Minute

type clientLimiters struct {
	mu       sync.Mutex
	limiters *cache.Cache[*rate.Limiter]
	limit    rate.Limit
	burst    int
}

func (cl *clientLimiters) forClient(ip string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	l, ok := cl.limiters.Get(ip)
	if !ok {
		l = rate.NewLimiter(cl.limit, cl.burst)
	}
	cl.limiters.Set(ip, l)
	return l
}

// clientIP prefers the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware limits control API calls per client IP and
// caps the number of requests in flight.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	rl := cfg.RateLimiting
	if !rl.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	clients := &clientLimiters{
		limiters: cache.New[*rate.Limiter](clientIdleTTL, clientIdleTTL),
		limit:    rate.Limit(rl.RequestsPerSecond),
		burst:    rl.Burst,
	}

	var inFlight chan struct{}
	if rl.MaxConcurrent > 0 {
		inFlight = make(chan struct{}, rl.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if inFlight != nil {
			select {
			case inFlight <- struct{}{}:
				defer func() { <-inFlight }()
			default:
				abortWithError(c, errors.NewServiceUnavailableError("too many concurrent requests"))
				return
			}
		}

		limiter := clients.forClient(clientIP(c.Request))
		if !limiter.Allow() {
			c.Header("Retry-After", retryAfter(limiter.Limit()))
			abortWithError(c, errors.NewRateLimitError())
			return
		}
		c.Next()
	}
}

// retryAfter is the whole seconds until one token refills, at least 1.
func retryAfter(limit rate.Limit) string {
	if limit <= 0 {
		return "1"
	}
	wait := time.Duration(float64(time.Second) / float64(limit))
	return strconv.Itoa(max(1, int(wait.Round(time.Second)/time.Second)))
}
