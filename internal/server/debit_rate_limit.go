package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallcanvas/inkwell/internal/observability/logger"
	"go.uber.org/zap"
)

// DebitRateLimit throttles debit attempts per account before any balance
// work happens. A misconfigured or unreachable limiter fails closed with 503
// rather than letting unmetered traffic through.
func (s *Server) DebitRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.debitLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.debitLimiter.AllowDebit(ctx, s.accountID(c))
		if err != nil {
			logger.FromContext(ctx).Warn("debit rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}
