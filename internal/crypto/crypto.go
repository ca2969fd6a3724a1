// Package crypto derives the sandbox's SQLCipher database key from a master
// key using HKDF-SHA256.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of a derived key in bytes (256 bits).
	KeySize = 32

	// MinMasterKeySize is the shortest master key accepted.
	MinMasterKeySize = 32
)

// DeriveKey derives a KeySize key for purpose from masterKey. The info
// parameter is "carsphere:" + purpose + ":v" + version, so rotating version
// yields an unrelated key.
func DeriveKey(masterKey []byte, purpose string, version int) []byte {
	info := fmt.Sprintf("carsphere:%s:v%d", purpose, version)

	// Salt is nil; the master key is already high-entropy.
	r := hkdf.New(sha256.New, masterKey, nil, []byte(info))

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		// HKDF only fails past 255*HashLen bytes of output.
		panic(fmt.Sprintf("HKDF failed: %v", err))
	}
	return key
}

// DatabaseKey returns the SQLCipher key for the sandbox store, or nil when
// masterKey is empty so the store stays unencrypted.
func DatabaseKey(masterKey []byte) []byte {
	if len(masterKey) == 0 {
		return nil
	}
	return DeriveKey(masterKey, "sandbox-db", 1)
}

// ParseMasterKey decodes a hex master key. An empty string yields nil.
func ParseMasterKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("master key must be hex: %w", err)
	}
	if len(key) < MinMasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", MinMasterKeySize, len(key))
	}
	return key, nil
}
