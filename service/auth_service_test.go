package service

import (
	"context"
	"crypto/ecdsa"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/oceanix/walletgate/adapters/events"
	"github.com/oceanix/walletgate/adapters/store"
	"github.com/oceanix/walletgate/adapters/tokenizer"
	"github.com/oceanix/walletgate/core"
	"github.com/oceanix/walletgate/internal/config"
	"github.com/oceanix/walletgate/internal/eth"
	"github.com/oceanix/walletgate/ports"
)

func testConfig() config.Config {
	return config.Config{
		TokenScheme:         config.SchemeHMAC,
		TokenSecret:         strings.Repeat("s", 32),
		Issuer:              "walletgate",
		Audience:            "walletgate:api",
		ChallengeTTL:        5 * time.Minute,
		AccessTTL:           15 * time.Minute,
		RefreshTTL:          24 * time.Hour,
		RefreshGrace:        time.Minute,
		ChallengeLimit:      100,
		VerifyLimit:         100,
		RefreshLimit:        100,
		RateWindow:          time.Minute,
		LockoutThreshold:    3,
		LockoutWindow:       10 * time.Minute,
		LockoutDuration:     15 * time.Minute,
		StoreTimeout:        time.Second,
		RiskStepUpThreshold: 60,
	}
}

func newTestService(t *testing.T, cfg config.Config) *AuthService {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st := store.NewMemoryStore(ctx)
	tok := tokenizer.NewJWTTokenizer(tokenizer.NewHMACSigner([]byte(cfg.TokenSecret)), cfg.Issuer, cfg.Audience)
	return NewAuthService(cfg, st, tok, events.NopPublisher{}, zerolog.Nop())
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func signChallenge(t *testing.T, challenge *core.Challenge, key *ecdsa.PrivateKey) string {
	t.Helper()
	sig, err := eth.SignText(challenge.Message(), key)
	require.NoError(t, err)
	return sig
}

func TestLoginFlow(t *testing.T) {
	svc := newTestService(t, testConfig())
	ctx := context.Background()
	key, addr := newWallet(t)

	challenge, err := svc.IssueChallenge(ctx, addr, "login")
	require.NoError(t, err)
	require.Equal(t, addr, challenge.Address)
	require.Len(t, challenge.Nonce, 64)
	require.Contains(t, challenge.Message(), addr)
	require.Contains(t, challenge.Message(), challenge.Nonce)

	verified, err := svc.Verify(ctx, challenge.Nonce, signChallenge(t, challenge, key), addr)
	require.NoError(t, err)
	require.Equal(t, addr, verified)

	pair, err := svc.Issue(ctx, verified, "marketplace:read", "")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.True(t, pair.Assertion.AccessExpiry.Before(pair.Assertion.RefreshExpiry))

	assertion, err := svc.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, addr, assertion.Address)
	require.Equal(t, "marketplace:read", assertion.Scope)

	sessions, err := svc.Sessions(ctx, addr)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, pair.Assertion.ID, sessions[0].ID)
}

func TestIssueChallengeRejectsBadAddress(t *testing.T) {
	svc := newTestService(t, testConfig())
	_, err := svc.IssueChallenge(context.Background(), "not-an-address", "login")
	require.ErrorIs(t, err, core.ErrInvalidAddress)
}

func TestChallengeSingleUse(t *testing.T) {
	svc := newTestService(t, testConfig())
	ctx := context.Background()
	key, addr := newWallet(t)

	challenge, err := svc.IssueChallenge(ctx, addr, "login")
	require.NoError(t, err)
	sig := signChallenge(t, challenge, key)

	_, err = svc.Verify(ctx, challenge.Nonce, sig, addr)
	require.NoError(t, err)

	_, err = svc.Verify(ctx, challenge.Nonce, sig, addr)
	require.ErrorIs(t, err, core.ErrChallengeConsumed)
}

func TestChallengeSingleUseConcurrent(t *testing.T) {
	svc := newTestService(t, testConfig())
	ctx := context.Background()
	key, addr := newWallet(t)

	challenge, err := svc.IssueChallenge(ctx, addr, "login")
	require.NoError(t, err)
	sig := signChallenge(t, challenge, key)

	const racers = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Verify(ctx, challenge.Nonce, sig, addr); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	require.Equal(t, 1, count, "exactly one concurrent verify may succeed")
}

func TestChallengeExpiry(t *testing.T) {
	svc := newTestService(t, testConfig())
	ctx := context.Background()
	key, addr := newWallet(t)

	challenge, err := svc.IssueChallenge(ctx, addr, "login")
	require.NoError(t, err)
	sig := signChallenge(t, challenge, key)

	svc.now = func() time.Time { return challenge.ExpiresAt.Add(time.Second) }
	_, err = svc.Verify(ctx, challenge.Nonce, sig, addr)
	require.ErrorIs(t, err, core.ErrChallengeExpired)
}

func TestUnknownNonce(t *testing.T) {
	svc := newTestService(t, testConfig())
	_, addr := newWallet(t)

	_, err := svc.Verify(context.Background(), "deadbeef", "0x00", addr)
	require.ErrorIs(t, err, core.ErrChallengeNotFound)
}

func TestIdentityBinding(t *testing.T) {
	svc := newTestService(t, testConfig())
	ctx := context.Background()
	aliceKey, alice := newWallet(t)
	_, bob := newWallet(t)

	// A challenge bound to alice cannot be redeemed under bob's identity.
	challenge, err := svc.IssueChallenge(ctx, alice, "login")
	require.NoError(t, err)
	_, err = svc.Verify(ctx, challenge.Nonce, signChallenge(t, challenge, aliceKey), bob)
	require.ErrorIs(t, err, core.ErrIdentityMismatch)

	// A challenge bound to bob signed by alice's key fails recovery matching.
	challenge, err = svc.IssueChallenge(ctx, bob, "login")
	require.NoError(t, err)
	_, err = svc.Verify(ctx, challenge.Nonce, signChallenge(t, challenge, aliceKey), bob)
	require.ErrorIs(t, err, core.ErrIdentityMismatch)
}

func TestMalformedSignature(t *testing.T) {
	svc := newTestService(t, testConfig())
	ctx := context.Background()
	_, addr := newWallet(t)

	challenge, err := svc.IssueChallenge(ctx, addr, "login")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, challenge.Nonce, "0xdeadbeef", addr)
	require.ErrorIs(t, err, core.ErrBadSignature)
}

func TestLockout(t *testing.T) {
	cfg := testConfig()
	cfg.LockoutThreshold = 3
	svc := newTestService(t, cfg)
	ctx := context.Background()
	key, addr := newWallet(t)
	intruderKey, _ := newWallet(t)

	for i := 0; i < cfg.LockoutThreshold; i++ {
		challenge, err := svc.IssueChallenge(ctx, addr, "login")
		require.NoError(t, err)
		_, err = svc.Verify(ctx, challenge.Nonce, signChallenge(t, challenge, intruderKey), addr)
		require.ErrorIs(t, err, core.ErrIdentityMismatch)
	}

	// Locked now: even a correct signature is rejected.
	challenge, err := svc.IssueChallenge(ctx, addr, "login")
	require.NoError(t, err)
	_, err = svc.Verify(ctx, challenge.Nonce, signChallenge(t, challenge, key), addr)
	require.ErrorIs(t, err, core.ErrLocked)
}

func TestRefreshRotation(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshGrace = 0
	svc := newTestService(t, cfg)
	ctx := context.Background()
	_, addr := newWallet(t)

	first, err := svc.Issue(ctx, addr, "", "")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.NotEqual(t, first.Assertion.ID, second.Assertion.ID)

	// The rotated-out access token is dead, the successor is live.
	_, err = svc.ValidateAccess(ctx, first.AccessToken)
	require.ErrorIs(t, err, core.ErrTokenRevoked)
	_, err = svc.ValidateAccess(ctx, second.AccessToken)
	require.NoError(t, err)

	// Replaying the consumed refresh token signals theft and revokes the
	// identity's surviving sessions.
	_, err = svc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, core.ErrRefreshReused)
	_, err = svc.ValidateAccess(ctx, second.AccessToken)
	require.ErrorIs(t, err, core.ErrTokenRevoked)
}

func TestRefreshGraceWindow(t *testing.T) {
	svc := newTestService(t, testConfig())
	ctx := context.Background()
	_, addr := newWallet(t)

	first, err := svc.Issue(ctx, addr, "", "")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)

	// A retried rotation inside the grace window gets the same successor
	// pair instead of a reuse alarm.
	retried, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, second.AccessToken, retried.AccessToken)
	require.Equal(t, second.RefreshToken, retried.RefreshToken)
}

func TestLogoutRevokes(t *testing.T) {
	svc := newTestService(t, testConfig())
	ctx := context.Background()
	_, addr := newWallet(t)

	pair, err := svc.Issue(ctx, addr, "", "")
	require.NoError(t, err)

	assertion, err := svc.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, assertion))

	// Revocation wins over a structurally valid, unexpired token.
	_, err = svc.ValidateAccess(ctx, pair.AccessToken)
	require.ErrorIs(t, err, core.ErrTokenRevoked)

	// The paired refresh token is dead too, and not mistaken for reuse.
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, core.ErrTokenRevoked)

	sessions, err := svc.Sessions(ctx, addr)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestRevokeAllFor(t *testing.T) {
	svc := newTestService(t, testConfig())
	ctx := context.Background()
	_, addr := newWallet(t)

	a, err := svc.Issue(ctx, addr, "", "")
	require.NoError(t, err)
	b, err := svc.Issue(ctx, addr, "", "")
	require.NoError(t, err)

	revoked, err := svc.RevokeAllFor(ctx, addr)
	require.NoError(t, err)
	require.Len(t, revoked, 2)

	_, err = svc.ValidateAccess(ctx, a.AccessToken)
	require.ErrorIs(t, err, core.ErrTokenRevoked)
	_, err = svc.ValidateAccess(ctx, b.AccessToken)
	require.ErrorIs(t, err, core.ErrTokenRevoked)
}

func TestExpiredAccessToken(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTTL = time.Nanosecond
	svc := newTestService(t, cfg)
	ctx := context.Background()
	_, addr := newWallet(t)

	pair, err := svc.Issue(ctx, addr, "", "")
	require.NoError(t, err)

	_, err = svc.ValidateAccess(ctx, pair.AccessToken)
	require.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestRateLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.ChallengeLimit = 3
	svc := newTestService(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Allow(ctx, ClassChallenge, "10.0.0.1", ""))
	}
	require.ErrorIs(t, svc.Allow(ctx, ClassChallenge, "10.0.0.1", ""), core.ErrRateLimited)

	// Other IPs and other endpoint classes are unaffected.
	require.NoError(t, svc.Allow(ctx, ClassChallenge, "10.0.0.2", ""))
	require.NoError(t, svc.Allow(ctx, ClassVerify, "10.0.0.1", ""))
}

func TestRateLimiterPerAddress(t *testing.T) {
	cfg := testConfig()
	cfg.VerifyLimit = 2
	svc := newTestService(t, cfg)
	ctx := context.Background()
	_, addr := newWallet(t)

	require.NoError(t, svc.Allow(ctx, ClassVerify, "10.0.0.1", addr))
	require.NoError(t, svc.Allow(ctx, ClassVerify, "10.0.0.2", addr))
	require.ErrorIs(t, svc.Allow(ctx, ClassVerify, "10.0.0.3", addr), core.ErrRateLimited)
}

func TestRiskScore(t *testing.T) {
	svc := newTestService(t, testConfig())
	ctx := context.Background()
	_, addr := newWallet(t)

	baseline := core.RequestContext{
		Address:   addr,
		IP:        "10.0.0.1",
		UserAgent: "wallet-app/1.0",
		At:        time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC),
	}

	// Unknown identity scores above zero but below the step-up threshold.
	score := svc.Score(ctx, baseline)
	require.Greater(t, score, 0)
	require.False(t, svc.StepUpRequired(score))

	svc.ObserveRequest(ctx, baseline)
	require.Equal(t, 0, svc.Score(ctx, baseline))

	// A new IP and user agent from the other side of the day trips step-up.
	moved := baseline
	moved.IP = "203.0.113.9"
	moved.UserAgent = "curl/8.0"
	moved.At = baseline.At.Add(11 * time.Hour)
	score = svc.Score(ctx, moved)
	require.GreaterOrEqual(t, score, 60)
	require.True(t, svc.StepUpRequired(score))
}

func TestProofOfWork(t *testing.T) {
	cfg := testConfig()
	cfg.PowDifficulty = 8
	svc := newTestService(t, cfg)
	ctx := context.Background()
	_, addr := newWallet(t)

	require.True(t, svc.PowRequired())

	nonce, err := svc.NewPowChallenge(ctx)
	require.NoError(t, err)

	solution := solvePow(addr, nonce, cfg.PowDifficulty)
	require.NoError(t, svc.VerifyPow(ctx, addr, nonce, solution))

	// Nonces are single use.
	require.ErrorIs(t, svc.VerifyPow(ctx, addr, nonce, solution), core.ErrProofOfWork)

	nonce, err = svc.NewPowChallenge(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, svc.VerifyPow(ctx, addr, nonce, "wrong"), core.ErrProofOfWork)
}

func solvePow(identity, nonce string, difficulty int) string {
	for i := 0; ; i++ {
		solution := "sol-" + strconv.Itoa(i)
		digest := eth.Keccak256([]byte(identity), []byte(nonce), []byte(solution))
		if leadingZeroBits(digest) >= difficulty {
			return solution
		}
	}
}

// failingStore simulates an unreachable backend so the fail-closed paths can
// be exercised.
type failingStore struct{}

func (failingStore) Set(context.Context, string, string, time.Duration) error {
	return core.ErrStoreUnavailable
}
func (failingStore) Get(context.Context, string) (string, error) {
	return "", core.ErrStoreUnavailable
}
func (failingStore) GetDel(context.Context, string) (string, error) {
	return "", core.ErrStoreUnavailable
}
func (failingStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, core.ErrStoreUnavailable
}
func (failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, core.ErrStoreUnavailable
}
func (failingStore) Delete(context.Context, string) error { return core.ErrStoreUnavailable }
func (failingStore) AddToSet(context.Context, string, string, time.Duration) error {
	return core.ErrStoreUnavailable
}
func (failingStore) SetMembers(context.Context, string) ([]string, error) {
	return nil, core.ErrStoreUnavailable
}
func (failingStore) RemoveFromSet(context.Context, string, string) error {
	return core.ErrStoreUnavailable
}

var _ ports.Store = failingStore{}

func TestStoreFailureFailsClosed(t *testing.T) {
	cfg := testConfig()
	healthy := newTestService(t, cfg)
	ctx := context.Background()
	_, addr := newWallet(t)

	pair, err := healthy.Issue(ctx, addr, "", "")
	require.NoError(t, err)

	tok := tokenizer.NewJWTTokenizer(tokenizer.NewHMACSigner([]byte(cfg.TokenSecret)), cfg.Issuer, cfg.Audience)
	broken := NewAuthService(cfg, failingStore{}, tok, events.NopPublisher{}, zerolog.Nop())

	// A valid, unexpired token is denied when the revocation check cannot run.
	_, err = broken.ValidateAccess(ctx, pair.AccessToken)
	require.ErrorIs(t, err, core.ErrStoreUnavailable)

	// Rate limiting denies rather than waving traffic through.
	require.ErrorIs(t, broken.Allow(ctx, ClassVerify, "10.0.0.1", ""), core.ErrStoreUnavailable)

	// Risk scoring saturates instead of reporting a clean slate.
	require.Equal(t, 100, broken.Score(ctx, core.RequestContext{Address: addr, IP: "10.0.0.1"}))
}

func TestLogoutOutlivesRefreshReconfiguration(t *testing.T) {
	svc := newTestService(t, testConfig())
	ctx := context.Background()
	_, addr := newWallet(t)

	pair, err := svc.Issue(ctx, addr, "", "")
	require.NoError(t, err)

	// Shrinking the configured TTL after issuance must not shorten the
	// revocation of tokens minted under the old value.
	svc.cfg.RefreshTTL = time.Nanosecond

	assertion, err := svc.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, assertion))

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, core.ErrTokenRevoked)
}

// ttlRecordingStore captures the TTL of every Set so tests can check how
// long denylist entries are retained.
type ttlRecordingStore struct {
	ports.Store
	mu   sync.Mutex
	ttls map[string]time.Duration
}

func (r *ttlRecordingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	r.mu.Lock()
	r.ttls[key] = ttl
	r.mu.Unlock()
	return r.Store.Set(ctx, key, value, ttl)
}

func (r *ttlRecordingStore) ttl(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttls[key]
}

func TestRotationDenylistBoundedByNaturalExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshGrace = 0
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rec := &ttlRecordingStore{Store: store.NewMemoryStore(ctx), ttls: map[string]time.Duration{}}
	tok := tokenizer.NewJWTTokenizer(tokenizer.NewHMACSigner([]byte(cfg.TokenSecret)), cfg.Issuer, cfg.Audience)
	svc := NewAuthService(cfg, rec, tok, events.NopPublisher{}, zerolog.Nop())
	_, addr := newWallet(t)

	pair, err := svc.Issue(ctx, addr, "", "")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	// The assertion entry guards only the paired access token; it must not
	// outlive it. The refresh entry is bounded by the refresh expiry.
	idTTL := rec.ttl(revokedKey(pair.Assertion.ID))
	require.Greater(t, idTTL, time.Duration(0))
	require.LessOrEqual(t, idTTL, cfg.AccessTTL)

	ridTTL := rec.ttl(revokedKey(pair.Assertion.RefreshID))
	require.Greater(t, ridTTL, cfg.AccessTTL)
	require.LessOrEqual(t, ridTTL, cfg.RefreshTTL)
}
