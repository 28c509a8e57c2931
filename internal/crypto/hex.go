package crypto

import "encoding/hex"

// AES-GCM parameters used by the browser and Go clients.
const (
	GCMIVBytes  = 12
	GCMTagBytes = 16
)

// ValidHex reports whether s is an even-length hex string decoding to at
// least minBytes bytes, and to exactly exactBytes when exactBytes > 0.
func ValidHex(s string, minBytes, exactBytes int) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	if _, err := hex.DecodeString(s); err != nil {
		return false
	}
	n := len(s) / 2
	if n < minBytes {
		return false
	}
	if exactBytes > 0 && n != exactBytes {
		return false
	}
	return true
}

// ValidIV reports whether s is a hex encoded 12-byte GCM nonce.
func ValidIV(s string) bool {
	return ValidHex(s, GCMIVBytes, GCMIVBytes)
}

// ValidCiphertext reports whether s is hex encoded ciphertext long enough
// to carry a GCM tag.
func ValidCiphertext(s string) bool {
	return ValidHex(s, GCMTagBytes, 0)
}
