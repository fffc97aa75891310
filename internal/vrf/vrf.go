// Package vrf produces verifiable randomness for guest code. The host, not
// the guest, supplies the request id in the alpha string, so a guest cannot
// grind seeds across its own execution.
package vrf

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signer signs alpha strings with a deterministic Ed25519 key. The signature
// is publicly verifiable against PublicKeyHex; the VRF output is the SHA-256
// of the signature.
type Signer struct {
	priv ed25519.PrivateKey
}

// Result carries everything a third party needs to verify the randomness.
type Result struct {
	OutputHex    string `json:"output"`
	SignatureHex string `json:"signature"`
	Alpha        string `json:"alpha"`
}

func NewSigner(seedHex string) (*Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode vrf seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("vrf seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Signer{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Alpha builds the canonical signing input for a request-scoped seed.
func Alpha(requestID uint64, userSeed string) string {
	return fmt.Sprintf("vrf:%d:%s", requestID, userSeed)
}

// Generate signs the alpha for (requestID, userSeed). Ed25519 is
// deterministic, so the same inputs always produce the same result.
func (s *Signer) Generate(requestID uint64, userSeed string) Result {
	alpha := Alpha(requestID, userSeed)
	sig := ed25519.Sign(s.priv, []byte(alpha))
	out := sha256.Sum256(sig)
	return Result{
		OutputHex:    hex.EncodeToString(out[:]),
		SignatureHex: hex.EncodeToString(sig),
		Alpha:        alpha,
	}
}

func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.priv.Public().(ed25519.PublicKey))
}

// Verify checks a VRF result against a public key. Anyone can run this,
// on-chain or off.
func Verify(pubKeyHex string, r Result) bool {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(r.SignatureHex)
	if err != nil {
		return false
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(r.Alpha), sig) {
		return false
	}
	out := sha256.Sum256(sig)
	return hex.EncodeToString(out[:]) == r.OutputHex
}
