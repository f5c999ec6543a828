package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/oceanix/walletgate/core"
	"github.com/oceanix/walletgate/internal/eth"
	"github.com/oceanix/walletgate/ports"
)

// powTTL bounds how long a proof-of-work nonce stays solvable.
const powTTL = 2 * time.Minute

// PowRequired reports whether challenge issuance demands a proof of work.
// The extension throttles mass challenge requests before the rate limiter
// even engages.
func (s *AuthService) PowRequired() bool {
	return s.cfg.PowDifficulty > 0
}

// NewPowChallenge issues a single-use proof-of-work nonce.
func (s *AuthService) NewPowChallenge(ctx context.Context) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate pow nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Set(sctx, powKey(nonce), "1", powTTL); err != nil {
		return "", fmt.Errorf("failed to store pow nonce: %w", err)
	}
	return nonce, nil
}

// VerifyPow checks a client's solution: the keccak256 of
// identity || nonce || solution must carry at least the configured number of
// leading zero bits, and the nonce must be one this service issued and not
// yet spent. Consumption is atomic, so a solution cannot be replayed.
func (s *AuthService) VerifyPow(ctx context.Context, identity, nonce, solution string) error {
	if !s.PowRequired() {
		return nil
	}
	if nonce == "" || solution == "" {
		return core.ErrProofOfWork
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if _, err := s.store.GetDel(sctx, powKey(nonce)); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return core.ErrProofOfWork
		}
		return fmt.Errorf("%w: pow check failed", core.ErrStoreUnavailable)
	}

	digest := eth.Keccak256([]byte(identity), []byte(nonce), []byte(solution))
	if leadingZeroBits(digest) < s.cfg.PowDifficulty {
		return core.ErrProofOfWork
	}
	return nil
}

func leadingZeroBits(digest []byte) int {
	total := 0
	for _, b := range digest {
		if b == 0 {
			total += 8
			continue
		}
		total += bits.LeadingZeros8(b)
		break
	}
	return total
}
