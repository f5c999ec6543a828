package ports

import "github.com/oceanix/walletgate/core"

// Tokenizer converts between assertions and their wire token forms.
type Tokenizer interface {
	// Access token operations
	AssertionToAccessToken(assertion *core.Assertion) (string, error)
	AccessTokenToAssertion(token string) (*core.Assertion, error)

	// Refresh token operations
	AssertionToRefreshToken(assertion *core.Assertion) (string, error)
	RefreshTokenToAssertion(token string) (*core.Assertion, error)

	// JWKS returns the public key set for token verification by other
	// services. The second result is false under a symmetric scheme, where
	// no key material can be published.
	JWKS() ([]byte, bool)
}
