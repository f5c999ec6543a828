package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/oceanix/walletgate/core"
	"github.com/oceanix/walletgate/service"
)

// Context keys set by the auth middleware.
const (
	ctxAssertion   = "assertion"
	ctxUserAddress = "userAddress"
)

// AuthMiddleware validates the bearer access token and checks the revocation
// denylist before any protected handler runs. Token failures are a uniform
// 401; a store outage is a 503 denial, never a bypass.
func AuthMiddleware(svc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		assertion, err := svc.ValidateAccess(c.Request.Context(), strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			if errors.Is(err, core.ErrStoreUnavailable) {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		c.Set(ctxAssertion, assertion)
		c.Set(ctxUserAddress, assertion.Address)
		c.Next()
	}
}

// RiskGuard scores the request against the identity's history and demands a
// fresh challenge/verify cycle when the score crosses the step-up threshold,
// even though the presented token is valid.
func RiskGuard(svc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		assertion := mustAssertion(c)
		if assertion == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		score := svc.Score(c.Request.Context(), core.RequestContext{
			Address:   assertion.Address,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			At:        time.Now(),
		})
		if svc.StepUpRequired(score) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "step_up_required"})
			return
		}
		c.Next()
	}
}

// RequestLogger logs each request through zerolog.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}

func mustAssertion(c *gin.Context) *core.Assertion {
	v, ok := c.Get(ctxAssertion)
	if !ok {
		return nil
	}
	assertion, ok := v.(*core.Assertion)
	if !ok {
		return nil
	}
	return assertion
}
