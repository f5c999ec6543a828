package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/oceanix/walletgate/core"
	"github.com/oceanix/walletgate/ports"
)

// Issue mints a new assertion for a verified address and returns its token
// pair. The assertion record lives for the refresh TTL and is indexed per
// address for session listing and cascade revocation.
func (s *AuthService) Issue(ctx context.Context, address, scope, audience string) (*core.TokenPair, error) {
	if audience == "" {
		audience = s.cfg.Audience
	}

	now := s.now()
	assertion := core.Assertion{
		ID:            uuid.New().String(),
		Address:       address,
		Scope:         scope,
		Audience:      audience,
		IssuedAt:      now,
		AccessExpiry:  now.Add(s.cfg.AccessTTL),
		RefreshExpiry: now.Add(s.cfg.RefreshTTL),
		RefreshID:     uuid.New().String(),
	}

	accessToken, err := s.tokenizer.AssertionToAccessToken(&assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}
	refreshToken, err := s.tokenizer.AssertionToRefreshToken(&assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	payload, err := json.Marshal(assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to encode assertion: %w", err)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Set(sctx, assertionKey(assertion.ID), string(payload), s.cfg.RefreshTTL); err != nil {
		return nil, fmt.Errorf("failed to store assertion: %w", err)
	}
	if err := s.store.AddToSet(sctx, sessionsKey(address), assertion.ID, s.cfg.RefreshTTL); err != nil {
		return nil, fmt.Errorf("failed to index assertion: %w", err)
	}

	return &core.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Assertion:    assertion,
	}, nil
}

// Refresh rotates a refresh token. Every successful refresh invalidates the
// presented token and mints a fresh pair; the successor pair is cached for
// the grace window so a benign retry of the same rotation gets the same
// answer. A rotated token presented outside the grace window is treated as
// theft: the whole identity's sessions are revoked and an alert published.
//
// The rotation issues the new pair before denylisting the old token, so a
// crash mid-rotation leaves the client with a still-usable token rather
// than none.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*core.TokenPair, error) {
	assertion, err := s.tokenizer.RefreshTokenToAssertion(refreshToken)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	// Benign double-submission: the token was just rotated and its successor
	// pair is still cached.
	if cached, err := s.store.Get(sctx, rotatedKey(assertion.RefreshID)); err == nil {
		var pair core.TokenPair
		if err := json.Unmarshal([]byte(cached), &pair); err != nil {
			return nil, fmt.Errorf("failed to decode rotation record: %w", err)
		}
		return &pair, nil
	} else if !errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("%w: rotation check failed", core.ErrStoreUnavailable)
	}

	reason, err := s.store.Get(sctx, revokedKey(assertion.RefreshID))
	if err == nil {
		if reason == core.RevokedRotated {
			s.handleReuse(ctx, assertion)
			return nil, core.ErrRefreshReused
		}
		return nil, core.ErrTokenRevoked
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("%w: revocation check failed", core.ErrStoreUnavailable)
	}
	if _, err := s.store.Get(sctx, revokedKey(assertion.ID)); err == nil {
		return nil, core.ErrTokenRevoked
	} else if !errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("%w: revocation check failed", core.ErrStoreUnavailable)
	}

	pair, err := s.Issue(ctx, assertion.Address, assertion.Scope, assertion.Audience)
	if err != nil {
		return nil, err
	}

	rotated, err := json.Marshal(pair)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rotation record: %w", err)
	}
	if s.cfg.RefreshGrace > 0 {
		if err := s.store.Set(sctx, rotatedKey(assertion.RefreshID), string(rotated), s.cfg.RefreshGrace); err != nil {
			s.log.Warn().Err(err).Msg("failed to cache rotation record")
		}
	}

	// Denylist the consumed token and its assertion until their natural
	// expiry, never longer. The assertion entry only guards the paired
	// access token, so it lives until the access expiry held by the stored
	// record; refresh tokens do not carry that timestamp.
	now := s.now()
	accessExpiry := assertion.IssuedAt.Add(s.cfg.AccessTTL)
	if payload, err := s.store.Get(sctx, assertionKey(assertion.ID)); err == nil {
		var stored core.Assertion
		if err := json.Unmarshal([]byte(payload), &stored); err == nil {
			accessExpiry = stored.AccessExpiry
		}
	}
	if remaining := assertion.RefreshExpiry.Sub(now); remaining > 0 {
		if err := s.store.Set(sctx, revokedKey(assertion.RefreshID), core.RevokedRotated, remaining); err != nil {
			return nil, fmt.Errorf("failed to denylist rotated token: %w", err)
		}
	}
	if remaining := accessExpiry.Sub(now); remaining > 0 {
		if err := s.store.Set(sctx, revokedKey(assertion.ID), core.RevokedRotated, remaining); err != nil {
			return nil, fmt.Errorf("failed to denylist rotated assertion: %w", err)
		}
	}

	if err := s.store.Delete(sctx, assertionKey(assertion.ID)); err != nil {
		s.log.Warn().Err(err).Msg("failed to drop rotated assertion record")
	}
	if err := s.store.RemoveFromSet(sctx, sessionsKey(assertion.Address), assertion.ID); err != nil {
		s.log.Warn().Err(err).Msg("failed to unindex rotated assertion")
	}

	return pair, nil
}

func (s *AuthService) handleReuse(ctx context.Context, assertion *core.Assertion) {
	s.log.Warn().
		Str("address", assertion.Address).
		Str("refresh_id", assertion.RefreshID).
		Msg("rotated refresh token replayed outside grace window")

	if _, err := s.revokeAll(ctx, assertion.Address, core.RevokedCascade); err != nil {
		s.log.Error().Err(err).Str("address", assertion.Address).Msg("reuse cascade revocation failed")
	}
	if err := s.events.PublishReuseAlert(ctx, assertion.Address, assertion.RefreshID); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish reuse alert")
	}
}

// ValidateAccess verifies an access token and consults the revocation
// denylist for both the assertion and its linked refresh token. The
// signature and expiry checks are pure computation; only the revocation
// check touches the store, and a store failure denies access.
func (s *AuthService) ValidateAccess(ctx context.Context, accessToken string) (*core.Assertion, error) {
	assertion, err := s.tokenizer.AccessTokenToAssertion(accessToken)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	for _, jti := range []string{assertion.ID, assertion.RefreshID} {
		_, err := s.store.Get(sctx, revokedKey(jti))
		if err == nil {
			return nil, core.ErrTokenRevoked
		}
		if !errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: revocation check failed", core.ErrStoreUnavailable)
		}
	}

	return assertion, nil
}

// Logout revokes the assertion behind a validated access token: the
// assertion for its remaining access life and the linked refresh token for
// its remaining natural life.
func (s *AuthService) Logout(ctx context.Context, assertion *core.Assertion) error {
	now := s.now()
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if remaining := assertion.AccessExpiry.Sub(now); remaining > 0 {
		if err := s.store.Set(sctx, revokedKey(assertion.ID), core.RevokedLogout, remaining); err != nil {
			return fmt.Errorf("failed to revoke assertion: %w", err)
		}
	}

	// Access tokens do not carry the refresh expiry; the assertion record
	// holds the minted value, which stays correct even if REFRESH_TTL was
	// reconfigured since issuance. Reconstruct only when the record is gone.
	refreshExpiry := assertion.IssuedAt.Add(s.cfg.RefreshTTL)
	if payload, err := s.store.Get(sctx, assertionKey(assertion.ID)); err == nil {
		var stored core.Assertion
		if err := json.Unmarshal([]byte(payload), &stored); err == nil {
			refreshExpiry = stored.RefreshExpiry
		}
	}
	if remaining := refreshExpiry.Sub(now); remaining > 0 {
		if err := s.store.Set(sctx, revokedKey(assertion.RefreshID), core.RevokedLogout, remaining); err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}
	}

	if err := s.store.Delete(sctx, assertionKey(assertion.ID)); err != nil {
		s.log.Warn().Err(err).Msg("failed to drop assertion record")
	}
	if err := s.store.RemoveFromSet(sctx, sessionsKey(assertion.Address), assertion.ID); err != nil {
		s.log.Warn().Err(err).Msg("failed to unindex assertion")
	}

	if err := s.events.PublishLogout(ctx, assertion.Address, assertion.ID); err != nil {
		// The denylist entry is already written, which is the part that
		// matters; a lost event costs nothing but cross-instance latency.
		s.log.Warn().Err(err).Msg("failed to publish logout event")
	}

	return nil
}

// RevokeAllFor revokes every active assertion of an address. Used for
// incident response and by the reuse cascade.
func (s *AuthService) RevokeAllFor(ctx context.Context, address string) ([]string, error) {
	return s.revokeAll(ctx, address, core.RevokedCascade)
}

func (s *AuthService) revokeAll(ctx context.Context, address, reason string) ([]string, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	ids, err := s.store.SetMembers(sctx, sessionsKey(address))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := s.now()
	var revoked []string
	for _, id := range ids {
		payload, err := s.store.Get(sctx, assertionKey(id))
		if errors.Is(err, ports.ErrNotFound) {
			continue
		}
		if err != nil {
			return revoked, fmt.Errorf("failed to load assertion: %w", err)
		}
		var assertion core.Assertion
		if err := json.Unmarshal([]byte(payload), &assertion); err != nil {
			s.log.Warn().Err(err).Str("assertion_id", id).Msg("failed to decode assertion record")
			continue
		}

		if remaining := assertion.AccessExpiry.Sub(now); remaining > 0 {
			if err := s.store.Set(sctx, revokedKey(assertion.ID), reason, remaining); err != nil {
				return revoked, fmt.Errorf("failed to denylist assertion: %w", err)
			}
		}
		if remaining := assertion.RefreshExpiry.Sub(now); remaining > 0 {
			if err := s.store.Set(sctx, revokedKey(assertion.RefreshID), reason, remaining); err != nil {
				return revoked, fmt.Errorf("failed to denylist refresh token: %w", err)
			}
		}
		if err := s.store.Delete(sctx, assertionKey(id)); err != nil {
			s.log.Warn().Err(err).Msg("failed to drop assertion record")
		}
		if err := s.store.RemoveFromSet(sctx, sessionsKey(address), id); err != nil {
			s.log.Warn().Err(err).Msg("failed to unindex assertion")
		}
		revoked = append(revoked, assertion.ID)
	}

	if len(revoked) > 0 {
		if err := s.events.PublishRevocation(ctx, address, revoked); err != nil {
			s.log.Warn().Err(err).Msg("failed to publish revocation event")
		}
	}
	return revoked, nil
}

// Sessions lists the active assertions of an address.
func (s *AuthService) Sessions(ctx context.Context, address string) ([]core.Assertion, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	ids, err := s.store.SetMembers(sctx, sessionsKey(address))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := s.now()
	assertions := make([]core.Assertion, 0, len(ids))
	for _, id := range ids {
		payload, err := s.store.Get(sctx, assertionKey(id))
		if errors.Is(err, ports.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load assertion: %w", err)
		}
		var assertion core.Assertion
		if err := json.Unmarshal([]byte(payload), &assertion); err != nil {
			continue
		}
		if now.After(assertion.RefreshExpiry) {
			continue
		}
		assertions = append(assertions, assertion)
	}
	return assertions, nil
}
