package service

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oceanix/walletgate/core"
	"github.com/oceanix/walletgate/internal/eth"
)

// Verify consumes the challenge for nonce and proves possession of the
// claimed address's key. The order is load-bearing:
//
//  1. the lockout short-circuits before any cryptography, so a locked
//     identity learns nothing about signature validity;
//  2. the challenge is consumed atomically before the signature is looked
//     at, so a failed consume carries no timing signal about the signature;
//  3. the signed message is recomputed from the stored challenge, never
//     taken from the client;
//  4. the recovered address is compared in constant time.
//
// On success it returns the verified checksummed address.
func (s *AuthService) Verify(ctx context.Context, nonce, signature, address string) (string, error) {
	if !eth.ValidAddress(address) {
		return "", core.ErrInvalidAddress
	}
	addr := eth.Checksum(address)

	if err := s.checkLocked(ctx, addr); err != nil {
		return "", err
	}

	challenge, err := s.consumeChallenge(ctx, nonce)
	if err != nil {
		return "", err
	}

	if challenge.Address != addr {
		s.recordFailure(ctx, addr)
		return "", core.ErrIdentityMismatch
	}

	sig, err := eth.DecodeSignature(signature)
	if err != nil {
		s.recordFailure(ctx, addr)
		return "", err
	}

	ok, err := eth.VerifyAddress(challenge.Message(), sig, common.HexToAddress(addr))
	if err != nil {
		s.recordFailure(ctx, addr)
		return "", err
	}
	if !ok {
		s.recordFailure(ctx, addr)
		return "", core.ErrIdentityMismatch
	}

	s.clearFailures(ctx, addr)
	return addr, nil
}
