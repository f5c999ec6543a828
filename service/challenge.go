package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oceanix/walletgate/core"
	"github.com/oceanix/walletgate/internal/eth"
	"github.com/oceanix/walletgate/ports"
)

// nonceBytes is the nonce entropy: 256 bits, double the floor the protocol
// requires.
const nonceBytes = 32

// IssueChallenge creates a single-use challenge bound to the claimed
// address and persists it under its nonce for the challenge TTL.
func (s *AuthService) IssueChallenge(ctx context.Context, address, purpose string) (*core.Challenge, error) {
	if !eth.ValidAddress(address) {
		return nil, core.ErrInvalidAddress
	}
	if purpose == "" {
		purpose = "login"
	}

	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.now()
	challenge := &core.Challenge{
		Nonce:     hex.EncodeToString(buf),
		Address:   eth.Checksum(address),
		Purpose:   purpose,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.ChallengeTTL),
	}

	payload, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to encode challenge: %w", err)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Set(sctx, challengeKey(challenge.Nonce), string(payload), s.cfg.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return challenge, nil
}

// consumeChallenge atomically removes and returns the challenge for nonce.
// Of two concurrent callers, at most one succeeds; the loser gets
// ErrChallengeConsumed. A nonce the store has never seen (or has already
// expired out) maps to ErrChallengeNotFound.
func (s *AuthService) consumeChallenge(ctx context.Context, nonce string) (*core.Challenge, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	payload, err := s.store.GetDel(sctx, challengeKey(nonce))
	if errors.Is(err, ports.ErrNotFound) {
		if _, usedErr := s.store.Get(sctx, challengeUsedKey(nonce)); usedErr == nil {
			return nil, core.ErrChallengeConsumed
		}
		return nil, core.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}

	var challenge core.Challenge
	if err := json.Unmarshal([]byte(payload), &challenge); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}

	if challenge.Expired(s.now()) {
		return nil, core.ErrChallengeExpired
	}

	// Tombstone for the remaining TTL so a replay of this nonce reports
	// AlreadyConsumed instead of NotFound. Best effort; the challenge itself
	// is already gone.
	if remaining := challenge.ExpiresAt.Sub(s.now()); remaining > 0 {
		if err := s.store.Set(sctx, challengeUsedKey(nonce), "1", remaining); err != nil {
			s.log.Warn().Err(err).Msg("failed to write challenge tombstone")
		}
	}

	return &challenge, nil
}
