// Package config loads the immutable service configuration from the
// environment and validates it once at startup. Every tunable has a named
// field; nothing is read from the environment after boot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Token scheme selection. One scheme per deployment; there is no mixed mode.
const (
	SchemeHMAC  = "hmac"
	SchemeECDSA = "ecdsa"
)

// Config holds every tunable of the service.
type Config struct {
	ListenAddr string

	// RedisURL selects the shared store. Empty selects the in-process
	// backend, which is only correct for single-instance deployments.
	RedisURL string

	TokenScheme string
	// TokenSecret signs tokens under the HMAC scheme. Minimum 32 bytes.
	TokenSecret string
	// TokenKeyPEM is a PEM-encoded P-256 private key for the ECDSA scheme.
	// Empty generates an ephemeral key at boot.
	TokenKeyPEM string
	Issuer      string
	Audience    string

	ChallengeTTL time.Duration
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	// RefreshGrace tolerates benign double-submission of a just-rotated
	// refresh token; outside this window reuse is treated as theft.
	RefreshGrace time.Duration

	// Per-endpoint-class rate ceilings within RateWindow, keyed by client
	// IP and by claimed address.
	ChallengeLimit int
	VerifyLimit    int
	RefreshLimit   int
	RateWindow     time.Duration

	LockoutThreshold int
	LockoutWindow    time.Duration
	LockoutDuration  time.Duration

	// PowDifficulty is the required leading zero bits of the challenge
	// proof-of-work digest. Zero disables the extension.
	PowDifficulty int

	// RiskStepUpThreshold is the risk score above which sensitive routes
	// demand a fresh challenge/verify cycle. Zero disables step-up.
	RiskStepUpThreshold int

	// StoreTimeout bounds each shared-store operation. Timeouts deny the
	// request; revocation and rate-limit checks never fail open.
	StoreTimeout time.Duration
}

// FromEnv builds a Config from the environment, applying defaults for
// anything unset, and validates it.
func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:          envString("LISTEN_ADDR", ":9000"),
		RedisURL:            os.Getenv("REDIS_URL"),
		TokenScheme:         envString("TOKEN_SCHEME", SchemeHMAC),
		TokenSecret:         os.Getenv("TOKEN_SECRET"),
		TokenKeyPEM:         os.Getenv("TOKEN_PRIVATE_KEY"),
		Issuer:              envString("TOKEN_ISSUER", "walletgate"),
		Audience:            envString("TOKEN_AUDIENCE", "walletgate:api"),
		ChallengeTTL:        envDuration("CHALLENGE_TTL", 5*time.Minute),
		AccessTTL:           envDuration("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:          envDuration("REFRESH_TTL", 24*time.Hour),
		RefreshGrace:        envDuration("REFRESH_GRACE", time.Minute),
		ChallengeLimit:      envInt("CHALLENGE_RATE_LIMIT", 10),
		VerifyLimit:         envInt("VERIFY_RATE_LIMIT", 10),
		RefreshLimit:        envInt("REFRESH_RATE_LIMIT", 30),
		RateWindow:          envDuration("RATE_WINDOW", time.Minute),
		LockoutThreshold:    envInt("LOCKOUT_THRESHOLD", 5),
		LockoutWindow:       envDuration("LOCKOUT_WINDOW", 10*time.Minute),
		LockoutDuration:     envDuration("LOCKOUT_DURATION", 15*time.Minute),
		PowDifficulty:       envInt("POW_DIFFICULTY", 0),
		RiskStepUpThreshold: envInt("RISK_STEPUP_THRESHOLD", 0),
		StoreTimeout:        envDuration("STORE_TIMEOUT", 50*time.Millisecond),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants. It is called by FromEnv and
// again by main as a guard for hand-built configs.
func (c Config) Validate() error {
	switch c.TokenScheme {
	case SchemeHMAC:
		if len(c.TokenSecret) < 32 {
			return fmt.Errorf("TOKEN_SECRET must be at least 32 bytes for the %s scheme", SchemeHMAC)
		}
	case SchemeECDSA:
		// Key material is optional; an ephemeral key is generated at boot.
	default:
		return fmt.Errorf("TOKEN_SCHEME must be %q or %q, got %q", SchemeHMAC, SchemeECDSA, c.TokenScheme)
	}

	if c.ChallengeTTL <= 0 || c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("challenge, access and refresh TTLs must be positive")
	}
	if c.AccessTTL > c.RefreshTTL {
		return fmt.Errorf("ACCESS_TTL (%s) must not exceed REFRESH_TTL (%s)", c.AccessTTL, c.RefreshTTL)
	}
	if c.RefreshGrace < 0 || c.RefreshGrace > c.RefreshTTL {
		return fmt.Errorf("REFRESH_GRACE must be between 0 and REFRESH_TTL")
	}
	if c.ChallengeLimit <= 0 || c.VerifyLimit <= 0 || c.RefreshLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("RATE_WINDOW must be positive")
	}
	if c.LockoutThreshold <= 0 || c.LockoutWindow <= 0 || c.LockoutDuration <= 0 {
		return fmt.Errorf("lockout threshold, window and duration must be positive")
	}
	if c.PowDifficulty < 0 || c.PowDifficulty > 64 {
		return fmt.Errorf("POW_DIFFICULTY must be between 0 and 64")
	}
	if c.RiskStepUpThreshold < 0 || c.RiskStepUpThreshold > 100 {
		return fmt.Errorf("RISK_STEPUP_THRESHOLD must be between 0 and 100")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
