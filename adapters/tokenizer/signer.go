package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer abstracts the token signing scheme. The scheme is a deployment-time
// choice: symmetric HMAC keeps verification private to this service,
// asymmetric ECDSA lets any holder of the JWKS verify tokens.
type Signer interface {
	// Sign creates a signed JWT from claims.
	Sign(claims jwt.Claims) (string, error)

	// Keyfunc returns the verification key for jwt.ParseWithClaims and
	// rejects unexpected signing methods.
	Keyfunc(token *jwt.Token) (any, error)

	// JWKS returns the serialized public key set, or false when the scheme
	// has no publishable key material.
	JWKS() ([]byte, bool)
}

// HMACSigner signs with HS256. Tokens are verifiable only by this service.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner creates an HMAC signer from a shared secret.
func NewHMACSigner(secret []byte) *HMACSigner {
	return &HMACSigner{secret: secret}
}

func (s *HMACSigner) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *HMACSigner) Keyfunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return s.secret, nil
}

func (s *HMACSigner) JWKS() ([]byte, bool) {
	return nil, false
}

// ECDSASigner signs with ES256 over P-256 and publishes its public key as a
// JWKS. Because asymmetric tokens stay signature-valid after logout, callers
// must still consult the revocation denylist on every request.
type ECDSASigner struct {
	key   *ecdsa.PrivateKey
	keyID string
	jwks  []byte
}

// NewECDSASigner creates an ECDSA signer from a P-256 key.
func NewECDSASigner(key *ecdsa.PrivateKey, keyID string) (*ECDSASigner, error) {
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("ES256 requires a P-256 key, got %s", key.Curve.Params().Name)
	}
	jwks, err := marshalJWKS(&key.PublicKey, keyID)
	if err != nil {
		return nil, err
	}
	return &ECDSASigner{key: key, keyID: keyID, jwks: jwks}, nil
}

// GenerateECDSASigner creates a signer with an ephemeral P-256 key. Sessions
// do not survive a restart of the issuing service with an ephemeral key.
func GenerateECDSASigner(keyID string) (*ECDSASigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return NewECDSASigner(key, keyID)
}

// ParseECDSAKeyPEM loads a P-256 private key from PEM, accepting both SEC 1
// and PKCS#8 encodings.
func ParseECDSAKeyPEM(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key material")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not ECDSA")
	}
	return key, nil
}

func (s *ECDSASigner) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *ECDSASigner) Keyfunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &s.key.PublicKey, nil
}

func (s *ECDSASigner) JWKS() ([]byte, bool) {
	return s.jwks, true
}

// jwk is a single JSON Web Key for a P-256 public key.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

func marshalJWKS(pub *ecdsa.PublicKey, keyID string) ([]byte, error) {
	// Coordinates are padded to the curve's byte size per RFC 7518.
	size := (pub.Curve.Params().BitSize + 7) / 8
	x := make([]byte, size)
	y := make([]byte, size)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)

	set := struct {
		Keys []jwk `json:"keys"`
	}{
		Keys: []jwk{{
			Kty: "EC",
			Crv: "P-256",
			X:   base64.RawURLEncoding.EncodeToString(x),
			Y:   base64.RawURLEncoding.EncodeToString(y),
			Use: "sig",
			Alg: "ES256",
			Kid: keyID,
		}},
	}
	return json.Marshal(set)
}
