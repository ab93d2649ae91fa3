package evidence

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const signaturePrefix = "hmac-sha256:"

// Signer produces and verifies HMAC-SHA256 signatures over audit record
// payloads.
type Signer struct {
	key []byte
}

// NewSigner creates a signer from a signing key. The key may be given as a
// 64+ character hex string or as raw bytes of at least 32 characters.
func NewSigner(signingKey string) (*Signer, error) {
	key, err := resolveSigningKey(signingKey)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

func resolveSigningKey(signingKey string) ([]byte, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("signing key is empty")
	}
	if decoded, err := hex.DecodeString(signingKey); err == nil && len(decoded) >= 32 {
		return decoded, nil
	}
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("signing key too short: need at least 32 bytes, got %d", len(signingKey))
	}
	return []byte(signingKey), nil
}

// Sign returns the prefixed hex HMAC of payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	if _, err := mac.Write(payload); err != nil {
		return "", fmt.Errorf("computing hmac: %w", err)
	}
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches payload. Signatures with an
// unexpected prefix never verify.
func (s *Signer) Verify(payload []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	expected, err := s.Sign(payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
