package http

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestLogMiddleware logs one line per request with the same
// key-value fields the engine logs with.
func RequestLogMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infow("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// ThrottleMiddleware keeps a token bucket per client address so one
// noisy caller cannot starve the operation endpoints for everyone else.
func ThrottleMiddleware(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	buckets := make(map[string]*rate.Limiter)
	return func(c *gin.Context) {
		client, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			client = c.Request.RemoteAddr
		}
		mu.Lock()
		lim, ok := buckets[client]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(rps), burst)
			buckets[client] = lim
		}
		mu.Unlock()
		if !lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
