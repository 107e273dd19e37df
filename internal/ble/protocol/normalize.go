package protocol

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Normalize turns a notification value into raw frame bytes. Transports
// deliver raw bytes, hex text or base64 text depending on the platform.
//
// Order: []byte is used as-is; a string of even length made only of hex
// digits is hex-decoded; anything else is base64-decoded, and if that fails
// the non-hex characters are stripped and the remainder is hex-decoded. The
// last path can yield truncated bytes; lossy is true when it was taken.
func Normalize(v any) (frame []byte, lossy bool, err error) {
	switch val := v.(type) {
	case []byte:
		return val, false, nil
	case string:
		frame, lossy = NormalizeText(val)
		return frame, lossy, nil
	default:
		return nil, false, fmt.Errorf("protocol: unsupported notification value %T", v)
	}
}

// NormalizeText applies the textual branch of Normalize.
func NormalizeText(s string) (frame []byte, lossy bool) {
	if isHex(s) && len(s)%2 == 0 {
		b, err := hex.DecodeString(s)
		if err == nil {
			return b, false
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, false
	}
	return salvageHex(s), true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// salvageHex keeps only hex digits and decodes them, dropping a trailing
// odd nibble.
func salvageHex(s string) []byte {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if isHexDigit(s[i]) {
			sb.WriteByte(s[i])
		}
	}
	digits := sb.String()
	if len(digits)%2 != 0 {
		digits = digits[:len(digits)-1]
	}
	b, _ := hex.DecodeString(digits)
	return b
}
