package fpcrypto

import (
	"crypto"
	stdecdh "crypto/ecdh"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"

	"github.com/pkg/errors"
	"github.com/wsddn/go-ecdh"
)

const (
	// PublicKeySize is the X||Y encoding carried in a key-based pairing write.
	PublicKeySize = 64
	// PrivateKeySize is the raw scalar length of an anti-spoofing key.
	PrivateKeySize = 32
)

type ECDHKeys struct {
	public  crypto.PublicKey
	private crypto.PrivateKey
}

// GenerateKeys creates an ephemeral P-256 key pair.
func GenerateKeys() (*ECDHKeys, error) {
	var err error
	kp := ECDHKeys{}
	e := ecdh.NewEllipticECDH(elliptic.P256())

	kp.private, kp.public, err = e.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}

	return &kp, nil
}

// LoadPrivateKey builds a key pair from a raw 32-byte P-256 scalar, the
// format anti-spoofing keys are distributed in.
func LoadPrivateKey(b []byte) (*ECDHKeys, error) {
	if len(b) != PrivateKeySize {
		return nil, errors.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(b))
	}

	prv, err := stdecdh.P256().NewPrivateKey(b)
	if err != nil {
		return nil, errors.Wrap(err, "invalid private key")
	}

	pub, ok := UnmarshalPublicKey(prv.PublicKey().Bytes()[1:])
	if !ok {
		return nil, errors.New("derived public key rejected")
	}

	return &ECDHKeys{public: pub, private: prv}, nil
}

// Public returns the X||Y encoding of the public half.
func (k *ECDHKeys) Public() []byte {
	return MarshalPublicKey(k.public)
}

// UnmarshalPublicKey parses a 64 byte X||Y point, rejecting points that are
// not on the curve.
func UnmarshalPublicKey(b []byte) (crypto.PublicKey, bool) {
	if len(b) != PublicKeySize {
		return nil, false
	}

	e := ecdh.NewEllipticECDH(elliptic.P256())

	//add header
	r := append([]byte{0x04}, b...)

	return e.Unmarshal(r)
}

func MarshalPublicKey(k crypto.PublicKey) []byte {
	e := ecdh.NewEllipticECDH(elliptic.P256())

	ba := e.Marshal(k)
	return ba[1:] //remove header
}

// SharedSecret runs P-256 ECDH against the peer's 64 byte public key and
// returns SHA256(X)[0:16].
func SharedSecret(keys *ECDHKeys, remote []byte) ([]byte, error) {
	if keys == nil || keys.private == nil {
		return nil, errors.New("nil keys")
	}

	pub, ok := UnmarshalPublicKey(remote)
	if !ok {
		return nil, errors.New("remote public key is not a valid P-256 point")
	}

	var x []byte
	switch prv := keys.private.(type) {
	case *stdecdh.PrivateKey:
		rk, err := stdecdh.P256().NewPublicKey(append([]byte{0x04}, remote...))
		if err != nil {
			return nil, errors.Wrap(err, "remote public key")
		}
		x, err = prv.ECDH(rk)
		if err != nil {
			return nil, errors.Wrap(err, "ecdh")
		}
	default:
		e := ecdh.NewEllipticECDH(elliptic.P256())
		b, err := e.GenerateSharedSecret(prv, pub)
		if err != nil {
			return nil, errors.Wrap(err, "ecdh")
		}
		// big.Int bytes drop leading zeros
		x = make([]byte, 32)
		copy(x[32-len(b):], b)
	}

	h := sha256.Sum256(x)
	return h[:BlockSize], nil
}
