package provider

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/fpcrypto"
)

type RequestType byte

const (
	KeyBasedPairingRequest RequestType = 0x00
	ActionOverBle          RequestType = 0x10
)

func (t RequestType) String() string {
	switch t {
	case KeyBasedPairingRequest:
		return "key-based pairing"
	case ActionOverBle:
		return "action over ble"
	}
	return fmt.Sprintf("unknown(%#02x)", byte(t))
}

// Key-based pairing flags, bit 0 being the most significant.
const (
	flagRequestDiscoverable      = 0x80
	flagProviderInitiatesBonding = 0x40
	flagRequestDeviceName        = 0x20
	flagRetroactivePair          = 0x10
)

// Action request flags.
const (
	flagDeviceAction             = 0x80
	flagFollowedByAdditionalData = 0x40
)

// Additional data types.
const (
	AdditionalDataPersonalizedName = 0x01
)

const (
	handshakeLen = fpcrypto.BlockSize
	// ciphertext followed by the seeker's public key, with or without the
	// uncompressed point header
	handshakeECDHLen       = handshakeLen + fpcrypto.PublicKeySize
	handshakeECDHHeaderLen = handshakeECDHLen + 1
)

// HandshakeRequest is a decrypted write to the key-based pairing
// characteristic.
type HandshakeRequest struct {
	Type  RequestType
	Flags byte
	// VerificationData is the provider address the seeker expects.
	VerificationData fastpair.Addr

	// SeekerAddress is only present when the provider initiates bonding or
	// the request is a retroactive pair.
	SeekerAddress    fastpair.Addr
	HasSeekerAddress bool

	EventGroup byte
	EventCode  byte

	AdditionalDataType    byte
	HasAdditionalDataType bool
}

func (r *HandshakeRequest) String() string {
	return fmt.Sprintf("%v flags %#02x verification %v", r.Type, r.Flags, r.VerificationData)
}

func (r *HandshakeRequest) kbp(flag byte) bool {
	return r.Type == KeyBasedPairingRequest && r.Flags&flag != 0
}

func (r *HandshakeRequest) RequestDiscoverable() bool {
	return r.kbp(flagRequestDiscoverable)
}

func (r *HandshakeRequest) ProviderInitiatesBonding() bool {
	return r.kbp(flagProviderInitiatesBonding)
}

func (r *HandshakeRequest) RequestDeviceName() bool {
	return r.kbp(flagRequestDeviceName)
}

func (r *HandshakeRequest) RetroactivePair() bool {
	return r.kbp(flagRetroactivePair)
}

func (r *HandshakeRequest) DeviceAction() bool {
	return r.Type == ActionOverBle && r.Flags&flagDeviceAction != 0
}

func (r *HandshakeRequest) FollowedByAdditionalData() bool {
	return r.Type == ActionOverBle && r.Flags&flagFollowedByAdditionalData != 0
}

// DecodeHandshake authenticates and parses a key-based pairing write.
//
// A 16 byte write is tried against every candidate account key; the first
// one whose plaintext carries a provider address wins. A write with the
// seeker's public key appended derives the key through ECDH with the
// anti-spoofing key. The returned secret is the key that decrypted the
// request.
func DecodeHandshake(raw []byte, candidates [][]byte, antiSpoofing *fpcrypto.ECDHKeys, ble, brEdr fastpair.Addr) (*HandshakeRequest, []byte, error) {
	switch len(raw) {
	case handshakeLen:
		for _, k := range candidates {
			pt, err := fpcrypto.Decrypt(k, raw)
			if err != nil {
				continue
			}
			if addressMatches(pt, ble, brEdr) {
				return parseHandshake(pt), append([]byte{}, k...), nil
			}
		}
		return nil, nil, errors.Wrap(fastpair.ErrAuthentication, "no account key matched")

	case handshakeECDHLen, handshakeECDHHeaderLen:
		if antiSpoofing == nil {
			return nil, nil, errors.Wrap(fastpair.ErrFormat, "public key without anti-spoofing key")
		}

		pub := raw[handshakeLen:]
		if len(pub) == fpcrypto.PublicKeySize+1 {
			if pub[0] != 0x04 {
				return nil, nil, errors.Wrap(fastpair.ErrFormat, "compressed public key")
			}
			pub = pub[1:]
		}

		secret, err := fpcrypto.SharedSecret(antiSpoofing, pub)
		if err != nil {
			return nil, nil, errors.Wrap(fastpair.ErrAuthentication, err.Error())
		}

		pt, err := fpcrypto.Decrypt(secret, raw[:handshakeLen])
		if err != nil {
			return nil, nil, errors.Wrap(fastpair.ErrAuthentication, err.Error())
		}
		if !addressMatches(pt, ble, brEdr) {
			return nil, nil, errors.Wrap(fastpair.ErrAuthentication, "address mismatch")
		}
		return parseHandshake(pt), secret, nil
	}

	return nil, nil, errors.Wrapf(fastpair.ErrFormat, "handshake length %d", len(raw))
}

func addressMatches(pt []byte, ble, brEdr fastpair.Addr) bool {
	var v fastpair.Addr
	copy(v[:], pt[2:8])

	if !ble.IsZero() && v == ble {
		return true
	}
	return !brEdr.IsZero() && v == brEdr
}

func parseHandshake(pt []byte) *HandshakeRequest {
	r := &HandshakeRequest{
		Type:  RequestType(pt[0]),
		Flags: pt[1],
	}
	copy(r.VerificationData[:], pt[2:8])

	switch r.Type {
	case KeyBasedPairingRequest:
		if r.ProviderInitiatesBonding() || r.RetroactivePair() {
			copy(r.SeekerAddress[:], pt[8:14])
			r.HasSeekerAddress = true
		}
	case ActionOverBle:
		r.EventGroup = pt[8]
		r.EventCode = pt[9]
		if r.FollowedByAdditionalData() {
			r.AdditionalDataType = pt[10]
			r.HasAdditionalDataType = true
		}
	}

	return r
}
