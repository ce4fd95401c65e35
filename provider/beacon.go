package provider

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/fpcrypto"
)

const beaconVersion = 0x01

// Beacon action data IDs.
const (
	beaconReadState = 0x00
	beaconSetEIK    = 0x01
	beaconClearEIK  = 0x02
	beaconReadEIK   = 0x03
)

const (
	eikSize = 32

	beaconStateProvisioned = 0x01
	beaconStateOwner       = 0x02
)

// beaconState is the ephemeral identity key provisioning. The nonce is
// handed out by a read and is good for one authenticated write.
type beaconState struct {
	nonce []byte
	eik   []byte
}

func readBeaconActions(s *Simulator, dev fastpair.Addr) ([]byte, error) {
	s.beacon.nonce = fpcrypto.RandomBytes(fpcrypto.NonceSize)
	return append([]byte{beaconVersion}, s.beacon.nonce...), nil
}

// writeBeaconActions handles [data id, length, tag(8), payload]. The length
// covers the tag and payload; the tag is SHA256(account key || nonce)[0:8].
func writeBeaconActions(s *Simulator, ctx context.Context, dev fastpair.Addr, value []byte) error {
	if len(value) < 2+fpcrypto.TagSize {
		return errors.Wrapf(fastpair.ErrFormat, "beacon action length %d", len(value))
	}

	id, n := value[0], int(value[1])
	if n != len(value)-2 {
		return errors.Wrapf(fastpair.ErrFormat, "beacon action length field %d", n)
	}
	tag := value[2 : 2+fpcrypto.TagSize]
	payload := value[2+fpcrypto.TagSize:]

	nonce := s.beacon.nonce
	if nonce == nil {
		return errors.Wrap(fastpair.ErrAuthentication, "beacon action without nonce")
	}

	key := s.beaconKey(nonce, tag)
	if key == nil {
		return errors.Wrap(fastpair.ErrAuthentication, "beacon action tag")
	}
	owner := bytes.Equal(key, s.store.OwnerKey())

	var resp []byte
	switch id {
	case beaconReadState:
		var state byte
		if s.beacon.eik != nil {
			state |= beaconStateProvisioned
		}
		if owner {
			state |= beaconStateOwner
		}
		resp = []byte{id, 1, state}

	case beaconSetEIK:
		if !owner {
			return errors.Wrap(fastpair.ErrAuthentication, "set identity key requires the owner key")
		}
		if len(payload) != eikSize {
			return errors.Wrapf(fastpair.ErrFormat, "identity key length %d", len(payload))
		}
		if s.beacon.eik != nil {
			return fastpair.ErrAlreadyProvisioned
		}
		eik, err := decryptBlocks(key, payload)
		if err != nil {
			return err
		}
		s.beacon.eik = eik
		s.logger.Infof("beacon identity key provisioned by %v", dev)
		resp = []byte{id, 0}

	case beaconClearEIK:
		if !owner {
			return errors.Wrap(fastpair.ErrAuthentication, "clear identity key requires the owner key")
		}
		if s.beacon.eik == nil {
			resp = []byte{id, 0}
			break
		}
		if !fpcrypto.VerifyTag(s.beacon.eik, nonce, payload) {
			return errors.Wrap(fastpair.ErrAuthentication, "clear identity key proof")
		}
		s.beacon.eik = nil
		s.logger.Infof("beacon identity key cleared by %v", dev)
		resp = []byte{id, 0}

	case beaconReadEIK:
		if !owner {
			return errors.Wrap(fastpair.ErrAuthentication, "read identity key requires the owner key")
		}
		if s.beacon.eik == nil {
			return errors.Wrap(fastpair.ErrFormat, "identity key not provisioned")
		}
		enc, err := encryptBlocks(key, s.beacon.eik)
		if err != nil {
			return err
		}
		resp = append([]byte{id, byte(len(enc))}, enc...)

	default:
		return errors.Wrapf(fastpair.ErrFormat, "beacon data id %#02x", id)
	}

	s.beacon.nonce = nil
	return s.notify(ctx, dev, fastpair.BeaconActionsUUID, resp, "beacon action response")
}

func (s *Simulator) beaconKey(nonce, tag []byte) []byte {
	for _, k := range s.store.Keys() {
		if fpcrypto.VerifyTag(k, nonce, tag) {
			return k
		}
	}
	// the owner key outlives its ring slot
	if k := s.store.OwnerKey(); k != nil && fpcrypto.VerifyTag(k, nonce, tag) {
		return k
	}
	return nil
}

func encryptBlocks(key, b []byte) ([]byte, error) {
	return blocks(key, b, fpcrypto.Encrypt)
}

func decryptBlocks(key, b []byte) ([]byte, error) {
	return blocks(key, b, fpcrypto.Decrypt)
}

func blocks(key, b []byte, f func(key, block []byte) ([]byte, error)) ([]byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i += fpcrypto.BlockSize {
		c, err := f(key, b[i:i+fpcrypto.BlockSize])
		if err != nil {
			return nil, err
		}
		out = append(out, c...)
	}
	return out, nil
}
