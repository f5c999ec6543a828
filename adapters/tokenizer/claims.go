package tokenizer

import "github.com/golang-jwt/jwt/v5"

// Token classes carried in the "use" claim. A verifier rejects a token whose
// class does not match the operation, so an access token can never stand in
// for a refresh token or vice versa.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// AccessClaims combines the registered claims with access-specific ones.
type AccessClaims struct {
	jwt.RegisteredClaims
	Use   string `json:"use"`
	Scope string `json:"scope,omitempty"`
	// RefreshID links the access token to its refresh sibling so revoking
	// the refresh token kills still-live access tokens too.
	RefreshID string `json:"rid"`
}

// RefreshClaims combines the registered claims with refresh-specific ones.
// The JWT ID is the refresh token's own JTI; AssertionID points back at the
// assertion it can rotate.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Use         string `json:"use"`
	Scope       string `json:"scope,omitempty"`
	AssertionID string `json:"aid"`
}
