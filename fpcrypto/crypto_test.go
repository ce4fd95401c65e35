package fpcrypto

import (
	"bytes"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s2h(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestAesKnownAnswer(t *testing.T) {
	// FIPS-197 appendix C.1
	key := s2h(t, "000102030405060708090a0b0c0d0e0f")
	pt := s2h(t, "00112233445566778899aabbccddeeff")
	ct := s2h(t, "69c4e0d86a7b0430d8cdb78070b4c55a")

	out, err := Encrypt(key, pt)
	require.NoError(t, err)
	assert.Equal(t, ct, out)

	back, err := Decrypt(key, ct)
	require.NoError(t, err)
	assert.Equal(t, pt, back)
}

func TestAesBlockSize(t *testing.T) {
	_, err := Decrypt(make([]byte, 16), make([]byte, 15))
	assert.Equal(t, ErrBlockSize, err)

	_, err = Encrypt(make([]byte, 32), make([]byte, 16))
	assert.Equal(t, ErrBlockSize, err)
}

func TestSharedSecretAgrees(t *testing.T) {
	a, err := GenerateKeys()
	require.NoError(t, err)
	b, err := GenerateKeys()
	require.NoError(t, err)

	s1, err := SharedSecret(a, b.Public())
	require.NoError(t, err)
	s2, err := SharedSecret(b, a.Public())
	require.NoError(t, err)

	assert.Len(t, s1, BlockSize)
	assert.Equal(t, s1, s2)
}

func TestLoadedKeyAgreesWithGenerated(t *testing.T) {
	d, _, _, err := elliptic.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	scalar := make([]byte, PrivateKeySize)
	copy(scalar[PrivateKeySize-len(d):], d)

	provider, err := LoadPrivateKey(scalar)
	require.NoError(t, err)
	seeker, err := GenerateKeys()
	require.NoError(t, err)

	s1, err := SharedSecret(provider, seeker.Public())
	require.NoError(t, err)
	s2, err := SharedSecret(seeker, provider.Public())
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestSharedSecretRejectsBadPoint(t *testing.T) {
	k, err := GenerateKeys()
	require.NoError(t, err)

	_, err = SharedSecret(k, bytes.Repeat([]byte{0x01}, PublicKeySize))
	assert.Error(t, err)

	_, err = SharedSecret(k, k.Public()[:10])
	assert.Error(t, err)
}

func TestVerifyTag(t *testing.T) {
	key := RandomBytes(16)
	nonce := RandomBytes(NonceSize)

	tag := Tag(key, nonce)
	assert.True(t, VerifyTag(key, nonce, tag))

	flipped := append([]byte{}, tag...)
	flipped[0] ^= 0x01
	assert.False(t, VerifyTag(key, nonce, flipped))
	assert.False(t, VerifyTag(key, nonce, tag[:4]))
}

func TestAdditionalData(t *testing.T) {
	secret := RandomBytes(16)
	name := []byte("a personalized name longer than one block")

	pkt, err := EncodeAdditionalData(secret, name)
	require.NoError(t, err)
	assert.Len(t, pkt, TagSize+NonceSize+len(name))

	out, err := DecodeAdditionalData(secret, pkt)
	require.NoError(t, err)
	assert.Equal(t, name, out)

	pkt[len(pkt)-1] ^= 0xff
	_, err = DecodeAdditionalData(secret, pkt)
	assert.Equal(t, ErrAuthentication, err)
}
