package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oceanix/walletgate/core"
	"github.com/oceanix/walletgate/ports"
)

// JWTTokenizer implements the Tokenizer port on top of golang-jwt with a
// pluggable signing scheme.
type JWTTokenizer struct {
	signer   Signer
	issuer   string
	audience string

	// now is the verification clock; overridable in tests.
	now func() time.Time
}

// NewJWTTokenizer creates a tokenizer bound to an issuer and audience.
// Tokens minted for a different audience fail verification here, which is
// what stops cross-service token replay.
func NewJWTTokenizer(signer Signer, issuer, audience string) *JWTTokenizer {
	return &JWTTokenizer{
		signer:   signer,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

// AssertionToAccessToken mints the short-lived access token for an assertion.
func (t *JWTTokenizer) AssertionToAccessToken(assertion *core.Assertion) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   assertion.Address,
			ID:        assertion.ID,
			Audience:  jwt.ClaimStrings{assertion.Audience},
			ExpiresAt: jwt.NewNumericDate(assertion.AccessExpiry),
			IssuedAt:  jwt.NewNumericDate(assertion.IssuedAt),
		},
		Use:       UseAccess,
		Scope:     assertion.Scope,
		RefreshID: assertion.RefreshID,
	}
	return t.signer.Sign(claims)
}

// AssertionToRefreshToken mints the rotating refresh token for an assertion.
func (t *JWTTokenizer) AssertionToRefreshToken(assertion *core.Assertion) (string, error) {
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   assertion.Address,
			ID:        assertion.RefreshID,
			Audience:  jwt.ClaimStrings{assertion.Audience},
			ExpiresAt: jwt.NewNumericDate(assertion.RefreshExpiry),
			IssuedAt:  jwt.NewNumericDate(assertion.IssuedAt),
		},
		Use:         UseRefresh,
		Scope:       assertion.Scope,
		AssertionID: assertion.ID,
	}
	return t.signer.Sign(claims)
}

// AccessTokenToAssertion verifies an access token and rebuilds its assertion.
// The refresh expiry is not carried by access tokens and is left zero.
func (t *JWTTokenizer) AccessTokenToAssertion(tokenStr string) (*core.Assertion, error) {
	claims := &AccessClaims{}
	if err := t.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Use != UseAccess {
		return nil, fmt.Errorf("%w: wrong token class", core.ErrInvalidToken)
	}
	return &core.Assertion{
		ID:           claims.ID,
		Address:      claims.Subject,
		Scope:        claims.Scope,
		Audience:     t.audience,
		IssuedAt:     claims.IssuedAt.Time,
		AccessExpiry: claims.ExpiresAt.Time,
		RefreshID:    claims.RefreshID,
	}, nil
}

// RefreshTokenToAssertion verifies a refresh token and rebuilds its
// assertion. The access expiry is not carried by refresh tokens.
func (t *JWTTokenizer) RefreshTokenToAssertion(tokenStr string) (*core.Assertion, error) {
	claims := &RefreshClaims{}
	if err := t.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Use != UseRefresh {
		return nil, fmt.Errorf("%w: wrong token class", core.ErrInvalidToken)
	}
	return &core.Assertion{
		ID:            claims.AssertionID,
		Address:       claims.Subject,
		Scope:         claims.Scope,
		Audience:      t.audience,
		IssuedAt:      claims.IssuedAt.Time,
		RefreshExpiry: claims.ExpiresAt.Time,
		RefreshID:     claims.ID,
	}, nil
}

// JWKS returns the public key set under the asymmetric scheme.
func (t *JWTTokenizer) JWKS() ([]byte, bool) {
	return t.signer.JWKS()
}

func (t *JWTTokenizer) parse(tokenStr string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, t.signer.Keyfunc,
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return core.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return core.ErrInvalidAudience
		default:
			return fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
		}
	}
	if !token.Valid {
		return core.ErrInvalidToken
	}
	return nil
}

var _ ports.Tokenizer = (*JWTTokenizer)(nil)
