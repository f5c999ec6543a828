package core

import "errors"

// Closed error taxonomy for the protocol. Callers branch with errors.Is; the
// HTTP layer collapses the cryptographic failures into a single generic 401
// so the wire response never reveals which check failed.
var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExpired  = errors.New("challenge has expired")
	ErrChallengeConsumed = errors.New("challenge already consumed")

	ErrBadSignature     = errors.New("invalid signature")
	ErrIdentityMismatch = errors.New("signature does not match claimed address")
	ErrInvalidAddress   = errors.New("invalid wallet address")

	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token has expired")
	ErrTokenRevoked    = errors.New("token has been revoked")
	ErrRefreshReused   = errors.New("refresh token reused after rotation")
	ErrInvalidAudience = errors.New("token audience mismatch")

	ErrRateLimited = errors.New("rate limit exceeded")
	ErrLocked      = errors.New("identity temporarily locked")

	ErrProofOfWork = errors.New("proof of work required or invalid")

	// ErrStoreUnavailable means the shared store could not answer within its
	// SLA. Every caller treats this as a denial, never a bypass.
	ErrStoreUnavailable = errors.New("store unavailable")
)
