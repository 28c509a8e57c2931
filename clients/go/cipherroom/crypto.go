package cipherroom

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	keySize     = 32
	ivSize      = 12
	tagSize     = 16
	roomIDBytes = 8
)

// CryptoError represents an encryption/decryption error.
type CryptoError struct {
	Message string
}

func (e *CryptoError) Error() string {
	return e.Message
}

// ErrCrypto checks if an error is a CryptoError.
func ErrCrypto(err error) bool {
	var ce *CryptoError
	return errors.As(err, &ce)
}

// NewRoom returns a fresh room id (16 hex chars) and room key (64 hex
// chars). The key travels in the URL fragment and never reaches the server.
func NewRoom() (roomID, secret string, err error) {
	id := make([]byte, roomIDBytes)
	if _, err := rand.Read(id); err != nil {
		return "", "", err
	}
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(id), hex.EncodeToString(key), nil
}

// RoomKey is the AES-256-GCM key for one room.
type RoomKey struct {
	aead cipher.AEAD
}

// ParseRoomKey builds the AES-256-GCM cipher from a hex room key. The
// raw key is used as is, matching the browser client.
func ParseRoomKey(keyHex string) (*RoomKey, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, &CryptoError{Message: fmt.Sprintf("invalid room key: %v", err)}
	}
	if len(key) != keySize {
		return nil, &CryptoError{Message: fmt.Sprintf("invalid room key length: %d, expected %d", len(key), keySize)}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &RoomKey{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh IV. Both results are hex.
func (k *RoomKey) Seal(plaintext string) (ciphertextHex, ivHex string, err error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", "", err
	}
	ct := k.aead.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(ct), hex.EncodeToString(iv), nil
}

// Open decrypts a hex ciphertext with its hex IV.
func (k *RoomKey) Open(ciphertextHex, ivHex string) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != ivSize {
		return "", &CryptoError{Message: "invalid iv"}
	}
	ct, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", &CryptoError{Message: "invalid ciphertext encoding"}
	}
	if len(ct) < tagSize {
		return "", &CryptoError{Message: fmt.Sprintf("ciphertext too short: %d bytes, minimum %d", len(ct), tagSize)}
	}

	pt, err := k.aead.Open(nil, iv, ct, nil)
	if err != nil {
		return "", &CryptoError{Message: "decryption failed: wrong key or tampered ciphertext"}
	}
	return string(pt), nil
}
