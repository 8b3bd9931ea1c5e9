// internal/api/middleware.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/ratelimit"
)

// requestIDMiddleware tags every request for log correlation. An inbound
// X-Request-ID is honored so callers can trace across proxies.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// corsMiddleware allows the browser editor to call the API from another
// origin during development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogMiddleware logs one line per request.
func requestLogMiddleware() gin.HandlerFunc {
	log := logger.For("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", c.GetString("request_id")).
			Msg("request")
	}
}

// aiLimitMiddleware guards the model-backed endpoints with a per-client
// token bucket.
func aiLimitMiddleware(limiter *ratelimit.KeyedLimiter, responses *ResponseHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			responses.TooManyRequests(c, "too many AI requests, slow down")
			c.Abort()
			return
		}
		c.Next()
	}
}
