package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/oceanix/walletgate/core"
	"github.com/oceanix/walletgate/ports"
)

// checkLocked rejects all verification for an address while its lockout
// holds, regardless of signature validity. A store failure also rejects:
// lockout checks never fail open.
func (s *AuthService) checkLocked(ctx context.Context, address string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	_, err := s.store.Get(sctx, lockedKey(address))
	if err == nil {
		return core.ErrLocked
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("%w: lockout check failed", core.ErrStoreUnavailable)
	}
	return nil
}

// recordFailure counts a failed verification within the lockout window and
// engages the lockout at the threshold. Counter errors are logged, not
// returned: the verification has already failed.
func (s *AuthService) recordFailure(ctx context.Context, address string) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	n, err := s.store.Incr(sctx, failuresKey(address), s.cfg.LockoutWindow)
	if err != nil {
		s.log.Error().Err(err).Str("address", address).Msg("failed to count verification failure")
		return
	}
	if n >= int64(s.cfg.LockoutThreshold) {
		if err := s.store.Set(sctx, lockedKey(address), "1", s.cfg.LockoutDuration); err != nil {
			s.log.Error().Err(err).Str("address", address).Msg("failed to engage lockout")
			return
		}
		s.log.Warn().
			Str("address", address).
			Int64("failures", n).
			Dur("duration", s.cfg.LockoutDuration).
			Msg("identity locked out")
	}
}

// clearFailures resets the failure counter after a successful verification.
func (s *AuthService) clearFailures(ctx context.Context, address string) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.store.Delete(sctx, failuresKey(address)); err != nil {
		s.log.Warn().Err(err).Str("address", address).Msg("failed to reset failure counter")
	}
}
