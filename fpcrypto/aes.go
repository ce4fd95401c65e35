// Package fpcrypto holds the stateless primitives of the Fast Pair protocol.
package fpcrypto

import (
	"crypto/aes"
	"crypto/rand"

	"github.com/pkg/errors"
)

// BlockSize is the AES block and key size used throughout Fast Pair.
const BlockSize = aes.BlockSize

var (
	// ErrBlockSize is returned when a key or block is not exactly 16 bytes.
	ErrBlockSize = errors.New("fpcrypto: key and block must be 16 bytes")

	// ErrAuthentication is returned when a tag or HMAC does not verify.
	ErrAuthentication = errors.New("fpcrypto: authentication failed")
)

// Encrypt encrypts a single block with AES-128 in ECB mode.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != BlockSize || len(plaintext) != BlockSize {
		return nil, ErrBlockSize
	}

	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher")
	}

	out := make([]byte, BlockSize)
	c.Encrypt(out, plaintext)
	return out, nil
}

// Decrypt decrypts a single block with AES-128 in ECB mode.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	if len(key) != BlockSize || len(ciphertext) != BlockSize {
		return nil, ErrBlockSize
	}

	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher")
	}

	out := make([]byte, BlockSize)
	c.Decrypt(out, ciphertext)
	return out, nil
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails if the OS entropy source is gone
		panic(errors.Wrap(err, "crypto/rand"))
	}
	return b
}
