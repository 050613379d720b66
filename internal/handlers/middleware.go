package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"screentime/internal/identity"
)

// Middleware holds dependencies for middleware functions
type Middleware struct {
	issuer  *identity.Issuer
	limiter *RateLimiter
	logger  *zap.Logger
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(issuer *identity.Issuer, limiter *RateLimiter, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{issuer: issuer, limiter: limiter, logger: logger}
}

// RequireDevice rejects requests without a valid bearer device token and
// stores the caller's identity in the context.
func (m *Middleware) RequireDevice() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondWithError(c, m.logger, http.StatusUnauthorized, MsgUnauthorized, "", nil)
			return
		}

		id, err := m.issuer.Parse(token)
		if err != nil {
			respondWithError(c, m.logger, http.StatusUnauthorized, MsgUnauthorized, "rejected device token", err)
			return
		}

		c.Set(identityContextKey, id)
		c.Next()
	}
}

// RateLimit throttles each device independently. It must run after
// RequireDevice.
func (m *Middleware) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := IdentityFromContext(c)
		if !m.limiter.Allow(id.DeviceID) {
			respondWithError(c, m.logger, http.StatusTooManyRequests, MsgTooManyRequests, "", nil)
			return
		}
		c.Next()
	}
}

// Logging logs each request once it has been served.
func Logging(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if id, ok := IdentityFromContext(c); ok {
			fields = append(fields, zap.String("device", id.DeviceID))
		}
		logger.Info("request", fields...)
	}
}

// IdentityFromContext returns the identity stored by RequireDevice.
func IdentityFromContext(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return identity.Identity{}, false
	}
	id, ok := v.(identity.Identity)
	return id, ok
}
