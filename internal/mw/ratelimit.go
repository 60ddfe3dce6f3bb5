// Package mw holds the gin middleware shared by the API routes.
package mw

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// PerIPRateLimit keeps one token bucket per client IP and rejects requests
// that exceed it with 429.
func PerIPRateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	var (
		mu      sync.Mutex
		buckets = make(map[string]*rate.Limiter)
	)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		mu.Lock()
		b, ok := buckets[ip]
		if !ok {
			b = rate.NewLimiter(limit, burst)
			buckets[ip] = b
		}
		mu.Unlock()

		if !b.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
