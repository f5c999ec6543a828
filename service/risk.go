package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oceanix/walletgate/core"
	"github.com/oceanix/walletgate/ports"
)

// riskProfile is the last-seen context of an address, kept for the refresh
// TTL so it tracks the lifetime of the sessions it informs.
type riskProfile struct {
	IP        string `json:"ip"`
	UserAgent string `json:"ua"`
	Hour      int    `json:"hour"`
}

// Risk score weights. The score is additive policy on top of the protocol,
// never a substitute for its checks.
const (
	riskNewIdentity   = 35
	riskNewIP         = 40
	riskNewUserAgent  = 25
	riskOddHour       = 15
	riskBusyIP        = 20
	riskIPWindow      = time.Hour
	riskIPFanoutLimit = 5
)

// ObserveRequest records the context of a successful verification as the
// address's new baseline and tracks identity fan-out per IP.
func (s *AuthService) ObserveRequest(ctx context.Context, rc core.RequestContext) {
	profile := riskProfile{IP: rc.IP, UserAgent: rc.UserAgent, Hour: rc.At.Hour()}
	payload, err := json.Marshal(profile)
	if err != nil {
		return
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Set(sctx, riskKey(rc.Address), string(payload), s.cfg.RefreshTTL); err != nil {
		s.log.Warn().Err(err).Msg("failed to record risk baseline")
	}
	if rc.IP != "" {
		if err := s.store.AddToSet(sctx, riskIPKey(rc.IP), rc.Address, riskIPWindow); err != nil {
			s.log.Warn().Err(err).Msg("failed to record ip fan-out")
		}
	}
}

// Score rates a request context from 0 (baseline) to 100 (maximally
// suspicious) against the address's recorded history. A store failure scores
// 100: risk evaluation fails closed like everything else.
func (s *AuthService) Score(ctx context.Context, rc core.RequestContext) int {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	score := 0

	payload, err := s.store.Get(sctx, riskKey(rc.Address))
	switch {
	case errors.Is(err, ports.ErrNotFound):
		score += riskNewIdentity
	case err != nil:
		return 100
	default:
		var profile riskProfile
		if err := json.Unmarshal([]byte(payload), &profile); err != nil {
			score += riskNewIdentity
			break
		}
		if rc.IP != "" && rc.IP != profile.IP {
			score += riskNewIP
		}
		if rc.UserAgent != "" && rc.UserAgent != profile.UserAgent {
			score += riskNewUserAgent
		}
		if hourDelta(rc.At.Hour(), profile.Hour) >= 6 {
			score += riskOddHour
		}
	}

	if rc.IP != "" {
		identities, err := s.store.SetMembers(sctx, riskIPKey(rc.IP))
		if err != nil {
			return 100
		}
		if len(identities) > riskIPFanoutLimit {
			score += riskBusyIP
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

// StepUpRequired reports whether the score demands a fresh challenge/verify
// cycle for a sensitive operation. Disabled when the threshold is zero.
func (s *AuthService) StepUpRequired(score int) bool {
	return s.cfg.RiskStepUpThreshold > 0 && score >= s.cfg.RiskStepUpThreshold
}

// hourDelta is the circular distance between two hours of day.
func hourDelta(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 12 {
		d = 24 - d
	}
	return d
}
