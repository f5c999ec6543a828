package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oceanix/walletgate/core"
)

// EndpointClass scopes rate-limit counters. Each class gets its own ceiling
// because each has a different abuse profile: challenge issuance is cheap to
// spam, verification failures indicate credential stuffing, refresh abuse
// indicates token theft.
type EndpointClass string

const (
	ClassChallenge EndpointClass = "challenge"
	ClassVerify    EndpointClass = "verify"
	ClassRefresh   EndpointClass = "refresh"
)

// Allow checks the windowed counters for the endpoint class, keyed by client
// IP and, when known, by claimed address. Exceeding a ceiling rejects the
// request without mutating any protected state; counter failures reject too.
func (s *AuthService) Allow(ctx context.Context, class EndpointClass, ip, address string) error {
	limit := s.classLimit(class)

	keys := make([]string, 0, 2)
	if ip != "" {
		keys = append(keys, fmt.Sprintf("rl:%s:ip:%s", class, ip))
	}
	if address != "" {
		keys = append(keys, fmt.Sprintf("rl:%s:addr:%s", class, strings.ToLower(address)))
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	for _, key := range keys {
		n, err := s.store.Incr(sctx, key, s.cfg.RateWindow)
		if err != nil {
			return fmt.Errorf("%w: rate limit check failed", core.ErrStoreUnavailable)
		}
		if n > int64(limit) {
			return core.ErrRateLimited
		}
	}
	return nil
}

// RetryAfter is the wait hint surfaced with rate-limit rejections.
func (s *AuthService) RetryAfter() time.Duration {
	return s.cfg.RateWindow
}

func (s *AuthService) classLimit(class EndpointClass) int {
	switch class {
	case ClassChallenge:
		return s.cfg.ChallengeLimit
	case ClassVerify:
		return s.cfg.VerifyLimit
	case ClassRefresh:
		return s.cfg.RefreshLimit
	default:
		return s.cfg.VerifyLimit
	}
}
