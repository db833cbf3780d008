package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alex-user-go/slotfinder/internal/obs"
	"github.com/alex-user-go/slotfinder/internal/search/ratelimit"
)

// RateLimit rejects clients that exceed limiter with 429.
func RateLimit(limiter *ratelimit.Limiter, metrics *obs.Metrics, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := ClientIP(c.Request)
		if !limiter.Allow(ip) {
			metrics.IncRateLimited()
			logger.Warn("rate limit exceeded",
				zap.String("request_id", RequestID(c.Request.Context())),
				zap.String("ip", ip),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// ClientIP extracts the client IP from the request.
// Checks X-Forwarded-For, X-Real-IP, then falls back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
