package fpcrypto

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/pkg/errors"
)

const (
	// TagSize is the truncated digest length used to authenticate commands.
	TagSize = 8
	// NonceSize is the length of session and additional-data nonces.
	NonceSize = 8
)

// Sha256 hashes the concatenation of parts.
func Sha256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Tag returns SHA256(key||nonce)[0:8].
func Tag(key, nonce []byte) []byte {
	return Sha256(key, nonce)[:TagSize]
}

// VerifyTag recomputes the tag for key and nonce and compares it against tag
// in constant time.
func VerifyTag(key, nonce, tag []byte) bool {
	if len(tag) != TagSize {
		return false
	}
	return subtle.ConstantTimeCompare(Tag(key, nonce), tag) == 1
}

// EncodeAdditionalData wraps data in an additional-data packet:
// HMAC-SHA256(secret, nonce||ct)[0:8] || nonce || ct, ct = AES-CTR(secret, nonce)(data).
func EncodeAdditionalData(secret, data []byte) ([]byte, error) {
	nonce := RandomBytes(NonceSize)
	ct, err := ctr(secret, nonce, data)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, TagSize+NonceSize+len(ct))
	out = append(out, mac(secret, nonce, ct)...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// DecodeAdditionalData verifies and decrypts a packet built by EncodeAdditionalData.
func DecodeAdditionalData(secret, packet []byte) ([]byte, error) {
	if len(packet) < TagSize+NonceSize {
		return nil, errors.Errorf("additional data too short: %d", len(packet))
	}

	tag := packet[:TagSize]
	nonce := packet[TagSize : TagSize+NonceSize]
	ct := packet[TagSize+NonceSize:]

	if !hmac.Equal(tag, mac(secret, nonce, ct)) {
		return nil, ErrAuthentication
	}

	return ctr(secret, nonce, ct)
}

func mac(secret, nonce, ct []byte) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write(nonce)
	m.Write(ct)
	return m.Sum(nil)[:TagSize]
}

// ctr encrypts in with AES-CTR where block i uses the counter
// i || 0x00*7 || nonce.
func ctr(key, nonce, in []byte) ([]byte, error) {
	if len(key) != BlockSize {
		return nil, ErrBlockSize
	}

	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher")
	}

	out := make([]byte, len(in))
	counter := make([]byte, BlockSize)
	stream := make([]byte, BlockSize)
	copy(counter[BlockSize-NonceSize:], nonce)

	for i := 0; i < len(in); i += BlockSize {
		counter[0] = byte(i / BlockSize)
		c.Encrypt(stream, counter)

		end := i + BlockSize
		if end > len(in) {
			end = len(in)
		}
		for j := i; j < end; j++ {
			out[j] = in[j] ^ stream[j-i]
		}
	}

	return out, nil
}
