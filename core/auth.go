package core

import (
	"fmt"
	"time"
)

// Challenge represents a single-use authentication challenge bound to a
// claimed wallet address. The rendered message is what the wallet signs;
// it is always recomputed from the stored fields on verification.
type Challenge struct {
	Nonce     string    `json:"nonce"`      // Hex-encoded random nonce, 256 bits
	Address   string    `json:"address"`    // Checksummed wallet address the challenge is bound to
	Purpose   string    `json:"purpose"`    // What the resulting session is for (e.g. "login")
	IssuedAt  time.Time `json:"issued_at"`  // When the challenge was created
	ExpiresAt time.Time `json:"expires_at"` // When the challenge expires unconsumed
}

// Message renders the canonical sign-in message for the challenge. Embedding
// the address, purpose and validity window in the text prevents a signature
// over this message from being replayed in any other protocol context.
func (c *Challenge) Message() string {
	return fmt.Sprintf(
		"walletgate wants you to sign in with your wallet:\n%s\n\nPurpose: %s\nNonce: %s\nIssued At: %s\nExpires At: %s",
		c.Address,
		c.Purpose,
		c.Nonce,
		c.IssuedAt.UTC().Format(time.RFC3339),
		c.ExpiresAt.UTC().Format(time.RFC3339),
	)
}

// Expired reports whether the challenge is past its expiry at the given time.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Assertion is the service's record of a granted session. A new assertion
// (with new IDs) is minted on login and on every refresh rotation.
type Assertion struct {
	ID            string    `json:"id"`             // Unique assertion identifier (access token JTI)
	Address       string    `json:"address"`        // Wallet address the session belongs to
	Scope         string    `json:"scope"`          // Space-separated scopes granted to the session
	Audience      string    `json:"audience"`       // Resource audience the tokens are valid for
	IssuedAt      time.Time `json:"issued_at"`      // When the assertion was created
	AccessExpiry  time.Time `json:"access_expiry"`  // When the access capability expires
	RefreshExpiry time.Time `json:"refresh_expiry"` // When the refresh capability expires
	RefreshID     string    `json:"refresh_id"`     // Refresh token JTI paired with this assertion
}

// TokenPair is the result of login and refresh: a short-lived access token
// and the rotating refresh token, plus the assertion they encode.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Assertion    Assertion `json:"-"`
}

// RequestContext carries the per-request signals the risk evaluator scores.
type RequestContext struct {
	Address   string
	IP        string
	UserAgent string
	At        time.Time
}

// Revocation reasons stored as the value of a denylist entry. The reason lets
// the refresh path tell an ordinary logout apart from a rotated token being
// replayed, which is treated as theft.
const (
	RevokedLogout  = "logout"
	RevokedRotated = "rotated"
	RevokedCascade = "cascade"
)
