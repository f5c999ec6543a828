// Package service implements the challenge/response session protocol:
// challenge issuance and single-use consumption, wallet signature
// verification, token issuance with refresh rotation, revocation, rate
// limiting with lockout, and risk scoring.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/oceanix/walletgate/internal/config"
	"github.com/oceanix/walletgate/ports"
)

// AuthService coordinates the protocol components over the shared store.
// It is safe for concurrent use; all mutable state lives in the store.
type AuthService struct {
	store     ports.Store
	tokenizer ports.Tokenizer
	events    ports.EventPublisher
	cfg       config.Config
	log       zerolog.Logger

	// now is the protocol clock; overridable in tests.
	now func() time.Time
}

// NewAuthService creates the service. The config must already be validated.
func NewAuthService(cfg config.Config, store ports.Store, tokenizer ports.Tokenizer, events ports.EventPublisher, log zerolog.Logger) *AuthService {
	return &AuthService{
		store:     store,
		tokenizer: tokenizer,
		events:    events,
		cfg:       cfg,
		log:       log.With().Str("component", "auth").Logger(),
		now:       time.Now,
	}
}

// Config returns the service configuration for transport-layer policy
// (retry windows, token lifetimes in responses).
func (s *AuthService) Config() config.Config {
	return s.cfg
}

// JWKS exposes the tokenizer's public key set for the well-known endpoint.
func (s *AuthService) JWKS() ([]byte, bool) {
	return s.tokenizer.JWKS()
}

// storeCtx bounds a shared-store operation. A store that cannot answer
// within the SLA causes a denial, never a bypass.
func (s *AuthService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// Store key layout. Everything carries a TTL so the store stays bounded by
// live protocol state.
func challengeKey(nonce string) string     { return "challenge:" + nonce }
func challengeUsedKey(nonce string) string { return "challenge:used:" + nonce }
func revokedKey(jti string) string         { return "revoked:" + jti }
func rotatedKey(jti string) string         { return "rotated:" + jti }
func assertionKey(id string) string        { return "assertion:" + id }
func sessionsKey(address string) string    { return "sessions:" + address }
func failuresKey(address string) string    { return "failures:" + address }
func lockedKey(address string) string      { return "locked:" + address }
func powKey(nonce string) string           { return "pow:" + nonce }
func riskKey(address string) string        { return "risk:" + address }
func riskIPKey(ip string) string           { return "riskip:" + ip }
