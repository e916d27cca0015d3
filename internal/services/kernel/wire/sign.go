package wire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// Signer computes and checks message signatures for one connection key.
// A Signer with an empty key signs nothing and accepts any signature.
type Signer struct {
	key []byte
}

// NewSigner returns a signer for scheme and key. An empty scheme means
// hmac-sha256, the Jupyter default.
func NewSigner(scheme, key string) (Signer, error) {
	switch scheme {
	case "", "hmac-sha256":
	default:
		return Signer{}, fmt.Errorf("signature scheme %q is not supported", scheme)
	}
	return Signer{key: []byte(key)}, nil
}

// Enabled reports whether messages are signed.
func (s Signer) Enabled() bool {
	return len(s.key) > 0
}

// Sign returns the lowercase hex HMAC over parts, or nil when disabled.
func (s Signer) Sign(parts ...[]byte) []byte {
	if !s.Enabled() {
		return nil
	}
	mac := s.mac()
	for _, part := range parts {
		mac.Write(part)
	}
	sum := mac.Sum(nil)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}

// Verify reports whether signature matches parts.
func (s Signer) Verify(signature []byte, parts ...[]byte) bool {
	if !s.Enabled() {
		return true
	}
	return hmac.Equal(signature, s.Sign(parts...))
}

func (s Signer) mac() hash.Hash {
	return hmac.New(sha256.New, s.key)
}
