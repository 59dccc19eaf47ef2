// Package crypto provides request signing and verification for the markets
// API, plus encrypted key-file management for oracle and creator keys.
// Callers are identified by their secp256k1 address: a request carries the
// claimed address, a timestamp, and a recoverable signature over the
// request digest; verification recovers the signer and compares.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// HTTP headers carrying request authentication.
const (
	HeaderAddress   = "X-Perc-Address"
	HeaderTimestamp = "X-Perc-Timestamp"
	HeaderSignature = "X-Perc-Signature"
)

// requestDigest hashes the signed portions of a request. The timestamp is
// included so captured signatures expire; newline separators keep field
// boundaries unambiguous.
func requestDigest(timestamp, method, path string, body []byte) []byte {
	msg := strings.Join([]string{timestamp, method, path, string(body)}, "\n")
	return ethcrypto.Keccak256([]byte(msg))
}

// Signer signs API requests with a secp256k1 private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key (with or
// without 0x prefix).
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the signer's hex address (EIP-55 checksummed).
func (s *Signer) Address() string {
	return s.address.Hex()
}

// SignRequest produces the authentication headers for a request at the
// given Unix timestamp.
func (s *Signer) SignRequest(method, path string, body []byte, unixTS int64) (map[string]string, error) {
	ts := strconv.FormatInt(unixTS, 10)

	sig, err := ethcrypto.Sign(requestDigest(ts, method, path, body), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign request: %w", err)
	}

	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: ts,
		HeaderSignature: hex.EncodeToString(sig),
	}, nil
}

// Verifier checks request signatures and recovers caller identities.
type Verifier struct {
	// MaxSkew bounds how far a request timestamp may drift from now.
	MaxSkew time.Duration
}

// NewVerifier creates a Verifier with the given timestamp tolerance.
func NewVerifier(maxSkew time.Duration) *Verifier {
	return &Verifier{MaxSkew: maxSkew}
}

// VerifyRequest recovers the signing address from the request signature,
// checks the timestamp skew, and confirms the recovered address matches
// the claimed one. It returns the verified caller address.
func (v *Verifier) VerifyRequest(claimedAddr, timestamp, method, path string, body []byte, sigHex string, now time.Time) (string, error) {
	unixTS, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "", fmt.Errorf("crypto: invalid timestamp %q", timestamp)
	}

	skew := now.Sub(time.Unix(unixTS, 0))
	if skew < 0 {
		skew = -skew
	}
	if v.MaxSkew > 0 && skew > v.MaxSkew {
		return "", fmt.Errorf("crypto: request timestamp outside allowed skew")
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto: invalid signature encoding: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}

	pub, err := ethcrypto.SigToPub(requestDigest(timestamp, method, path, body), sig)
	if err != nil {
		return "", fmt.Errorf("crypto: recover signer: %w", err)
	}

	recovered := ethcrypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), claimedAddr) {
		return "", fmt.Errorf("crypto: signature does not match claimed address")
	}
	return recovered.Hex(), nil
}

// GenerateKey creates a fresh secp256k1 private key and returns it hex
// encoded together with its address.
func GenerateKey() (privateKeyHex, address string, err error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("crypto: generate key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)),
		ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
}
