// Package signing authenticates upload batches with an HMAC-SHA256 signature
// keyed by an HKDF-derived secret.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the derived signing key length in bytes.
const KeySize = 32

// info binds derived keys to this use.
const info = "ringtap-upload"

// DeriveKey uses HKDF-SHA256 to derive a 32-byte signing key from a shared
// secret. salt may be nil.
func DeriveKey(secret, salt []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing: empty secret")
	}
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("signing: HKDF: %w", err)
	}
	return key, nil
}

// Signer produces hex HMAC-SHA256 signatures.
type Signer struct {
	key []byte
}

// NewSigner derives a key from secret and returns a Signer using it.
func NewSigner(secret string) (*Signer, error) {
	key, err := DeriveKey([]byte(secret), nil)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

// Sign returns the hex HMAC of batchID, a zero byte, then body.
func (s *Signer) Sign(batchID string, body []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(batchID))
	mac.Write([]byte{0})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the signature of body under batchID.
func (s *Signer) Verify(batchID string, body []byte, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(batchID))
	mac.Write([]byte{0})
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
