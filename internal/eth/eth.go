// Package eth wraps the go-ethereum primitives the protocol needs: EIP-191
// personal-sign hashing, signer address recovery and proof-of-work digests.
package eth

import (
	"crypto/ecdsa"
	"crypto/subtle"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oceanix/walletgate/core"
)

// SignatureLength is the expected length of an Ethereum signature: R || S || V.
const SignatureLength = 65

// DecodeSignature decodes a 0x-prefixed hex signature and normalizes the
// recovery byte. Wallets emit V as 27/28 (legacy) or 0/1; recovery wants 0/1.
func DecodeSignature(signature string) ([]byte, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrBadSignature, "signature is not valid hex")
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: signature must be %d bytes", core.ErrBadSignature, SignatureLength)
	}
	out := make([]byte, SignatureLength)
	copy(out, sig)
	if out[64] >= 27 {
		out[64] -= 27
	}
	return out, nil
}

// RecoverAddress recovers the address that produced sig over the EIP-191
// personal-sign hash of message.
func RecoverAddress(message string, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", core.ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyAddress reports whether sig over message was produced by the key
// behind expected. The address comparison is constant time.
func VerifyAddress(message string, sig []byte, expected common.Address) (bool, error) {
	recovered, err := RecoverAddress(message, sig)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(recovered.Bytes(), expected.Bytes()) == 1, nil
}

// SignText produces a wallet-style personal-sign signature over message,
// with V in the 27/28 form wallets use. Intended for clients and tests.
func SignText(message string, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// ValidAddress reports whether s is a well-formed hex address.
func ValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// Checksum returns the EIP-55 checksummed form of a hex address.
func Checksum(s string) string {
	return common.HexToAddress(s).Hex()
}

// Keccak256 exposes the digest used by the proof-of-work extension, the same
// one the wallets themselves hash with.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}
