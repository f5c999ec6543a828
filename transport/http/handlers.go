package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/oceanix/walletgate/core"
	"github.com/oceanix/walletgate/service"
)

// AuthHandlers contains the HTTP handlers for the session protocol.
type AuthHandlers struct {
	svc *service.AuthService
	log zerolog.Logger
}

// NewAuthHandlers creates the handler set.
func NewAuthHandlers(svc *service.AuthService, log zerolog.Logger) *AuthHandlers {
	return &AuthHandlers{
		svc: svc,
		log: log.With().Str("component", "http").Logger(),
	}
}

// ChallengeRequest asks for a new sign-in challenge. The proof-of-work
// fields are required only when the deployment enables the extension.
type ChallengeRequest struct {
	Identity    string `json:"identity" binding:"required"`
	Purpose     string `json:"purpose"`
	PowNonce    string `json:"pow_nonce"`
	PowSolution string `json:"pow_solution"`
}

// VerifyRequest submits a signed challenge.
type VerifyRequest struct {
	Nonce     string `json:"nonce" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Identity  string `json:"identity" binding:"required"`
}

// RefreshRequest rotates a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Challenge handles POST /auth/challenge.
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	if err := h.svc.Allow(ctx, service.ClassChallenge, c.ClientIP(), req.Identity); err != nil {
		h.writeError(c, err)
		return
	}

	if h.svc.PowRequired() {
		if err := h.svc.VerifyPow(ctx, req.Identity, req.PowNonce, req.PowSolution); err != nil {
			if errors.Is(err, core.ErrProofOfWork) {
				nonce, issueErr := h.svc.NewPowChallenge(ctx)
				if issueErr != nil {
					h.writeError(c, issueErr)
					return
				}
				c.JSON(http.StatusPreconditionRequired, gin.H{
					"error":      "proof_of_work_required",
					"pow_nonce":  nonce,
					"difficulty": h.svc.Config().PowDifficulty,
				})
				return
			}
			h.writeError(c, err)
			return
		}
	}

	challenge, err := h.svc.IssueChallenge(ctx, req.Identity, req.Purpose)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nonce":      challenge.Nonce,
		"message":    challenge.Message(),
		"expires_at": challenge.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Verify handles POST /auth/verify.
func (h *AuthHandlers) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	if err := h.svc.Allow(ctx, service.ClassVerify, c.ClientIP(), req.Identity); err != nil {
		h.writeError(c, err)
		return
	}

	address, err := h.svc.Verify(ctx, req.Nonce, req.Signature, req.Identity)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.svc.ObserveRequest(ctx, core.RequestContext{
		Address:   address,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		At:        time.Now(),
	})

	pair, err := h.svc.Issue(ctx, address, "", "")
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeTokens(c, pair)
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	if err := h.svc.Allow(ctx, service.ClassRefresh, c.ClientIP(), ""); err != nil {
		h.writeError(c, err)
		return
	}

	pair, err := h.svc.Refresh(ctx, req.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeTokens(c, pair)
}

// Logout handles POST /auth/logout. The auth middleware has already
// validated the bearer token.
func (h *AuthHandlers) Logout(c *gin.Context) {
	assertion := mustAssertion(c)
	if assertion == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}
	if err := h.svc.Logout(c.Request.Context(), assertion); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Sessions handles GET /auth/sessions.
func (h *AuthHandlers) Sessions(c *gin.Context) {
	assertion := mustAssertion(c)
	if assertion == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}

	sessions, err := h.svc.Sessions(c.Request.Context(), assertion.Address)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, gin.H{
			"assertion_id":   s.ID,
			"issued_at":      s.IssuedAt.UTC().Format(time.RFC3339),
			"access_expiry":  s.AccessExpiry.UTC().Format(time.RFC3339),
			"refresh_expiry": s.RefreshExpiry.UTC().Format(time.RFC3339),
			"scope":          s.Scope,
			"current":        s.ID == assertion.ID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// JWKS handles GET /.well-known/jwks.json. Only the asymmetric scheme has a
// publishable key set.
func (h *AuthHandlers) JWKS(c *gin.Context) {
	keySet, ok := h.svc.JWKS()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no public key set for this token scheme"})
		return
	}
	c.Data(http.StatusOK, "application/json", keySet)
}

// Me returns the authenticated identity.
func (h *AuthHandlers) Me(c *gin.Context) {
	assertion := mustAssertion(c)
	if assertion == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": assertion.Address, "scope": assertion.Scope})
}

// Authorize reports success for any request the middleware let through.
func (h *AuthHandlers) Authorize(c *gin.Context) {
	assertion := mustAssertion(c)
	if assertion == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorized": true, "address": assertion.Address})
}

func (h *AuthHandlers) writeTokens(c *gin.Context, pair *core.TokenPair) {
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(h.svc.Config().AccessTTL.Seconds()),
	})
}

// writeError maps protocol errors onto the wire. All cryptographic and
// challenge failures collapse into one generic 401 so the response never
// reveals which check failed; throttling responses carry retry timing,
// which is safe to surface.
func (h *AuthHandlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrRateLimited):
		c.Header("Retry-After", strconv.Itoa(int(h.svc.RetryAfter().Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
	case errors.Is(err, core.ErrLocked):
		c.Header("Retry-After", strconv.Itoa(int(h.svc.Config().LockoutDuration.Seconds())))
		c.JSON(http.StatusLocked, gin.H{"error": "locked"})
	case errors.Is(err, core.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
	case errors.Is(err, core.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, core.ErrChallengeNotFound),
		errors.Is(err, core.ErrChallengeExpired),
		errors.Is(err, core.ErrChallengeConsumed),
		errors.Is(err, core.ErrBadSignature),
		errors.Is(err, core.ErrIdentityMismatch),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrInvalidAudience),
		errors.Is(err, core.ErrTokenExpired),
		errors.Is(err, core.ErrTokenRevoked),
		errors.Is(err, core.ErrRefreshReused):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
	default:
		h.log.Error().Err(err).Msg("unexpected handler error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
