package provider

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/fpcrypto"
)

const (
	responseKeyBasedPairing = 0x01
	responseSaltLen         = 9

	passkeySeeker   = 0x02
	passkeyProvider = 0x03

	accountKeyHeader = 0x04
)

func writeKeyBasedPairing(s *Simulator, ctx context.Context, dev fastpair.Addr, value []byte) error {
	req, secret, err := DecodeHandshake(value, s.store.Keys(), s.config.AntiSpoofingKey, s.config.BLEAddress, s.config.BrEdrAddress)
	if err != nil {
		return err
	}
	if req.Type != KeyBasedPairingRequest && req.Type != ActionOverBle {
		return errors.Wrapf(fastpair.ErrFormat, "request type %v", req.Type)
	}

	s.logger.Infof("handshake from %v: %v", dev, req)

	if req.RequestDiscoverable() {
		if err := s.becomeDiscoverable(ctx); err != nil {
			return err
		}
	}

	s.resetSession(pairingSession{secret: secret, device: dev, request: req})

	resp := append([]byte{responseKeyBasedPairing}, s.config.BrEdrAddress[:]...)
	resp = append(resp, fpcrypto.RandomBytes(responseSaltLen)...)
	enc, err := fpcrypto.Encrypt(secret, resp)
	if err != nil {
		return err
	}
	if err := s.notify(ctx, dev, fastpair.KeyBasedPairingUUID, enc, "handshake response"); err != nil {
		return err
	}

	if req.RequestDeviceName() && s.config.DeviceNameNotify {
		if name := s.store.DeviceName(); name != "" {
			pkt, err := fpcrypto.EncodeAdditionalData(secret, []byte(name))
			if err != nil {
				return err
			}
			if err := s.notify(ctx, dev, fastpair.AdditionalDataUUID, pkt, "device name"); err != nil {
				return err
			}
		}
	}

	if req.Type == KeyBasedPairingRequest && !req.RetroactivePair() && s.config.RemoveAllDevicesDuringPairing {
		keep := req.SeekerAddress
		err := s.worker.enqueue(ctx, task{
			desc: "remove bonded devices",
			fn:   func(ctx context.Context) error { return s.removeBondedPhones(ctx, keep) },
		})
		if err != nil {
			return err
		}
	}

	if req.ProviderInitiatesBonding() {
		s.session.bonding = true
		seeker := req.SeekerAddress
		err := s.worker.enqueue(ctx, task{
			desc: "create bond",
			fn: func(ctx context.Context) error {
				go s.createBond(ctx, seeker)
				return nil
			},
		})
		if err != nil {
			return err
		}
	}

	if req.DeviceAction() {
		s.logger.Infof("device action group %#02x code %#02x", req.EventGroup, req.EventCode)
	}

	return nil
}

// createBond blocks until the adapter's pairing agent has been answered,
// which needs the worker to be free for the passkey exchange.
func (s *Simulator) createBond(ctx context.Context, seeker fastpair.Addr) {
	if err := s.adapter.CreateBond(ctx, seeker); err != nil {
		s.logger.Errorf("create bond with %v: %v", seeker, err)
	}
}

func (s *Simulator) removeBondedPhones(ctx context.Context, keep fastpair.Addr) error {
	devices, err := s.adapter.BondedDevices()
	if err != nil {
		return errors.Wrap(err, "bonded devices")
	}

	for _, d := range devices {
		if !d.Phone || d.Address == keep {
			continue
		}
		s.logger.Infof("removing bond with %v", d.Address)
		if err := s.adapter.RemoveBond(ctx, d.Address); err != nil {
			s.logger.Warnf("remove bond %v: %v", d.Address, err)
		}
	}
	return nil
}

func writePasskey(s *Simulator, ctx context.Context, dev fastpair.Addr, value []byte) error {
	secret := s.session.secret
	if secret == nil {
		return errors.Wrap(fastpair.ErrAuthentication, "passkey without handshake")
	}

	pt, err := fpcrypto.Decrypt(secret, value)
	if err != nil {
		return errors.Wrap(fastpair.ErrFormat, err.Error())
	}
	if pt[0] != passkeySeeker {
		return errors.Wrapf(fastpair.ErrAuthentication, "passkey block type %#02x", pt[0])
	}

	s.session.remotePasskey = passkeyFromBytes(pt[1:4])
	s.session.hasRemote = true
	s.logger.Debugf("seeker passkey %06d", s.session.remotePasskey)

	return s.resolvePasskeys(ctx)
}

func (s *Simulator) onPairingRequest(ctx context.Context, e PairingRequest) error {
	if e.Variant != PairingVariantPasskeyConfirmation {
		s.logger.Infof("ignoring pairing variant %d from %v", e.Variant, e.Device)
		return nil
	}

	s.session.localPasskey = e.Passkey
	s.session.hasLocal = true
	s.session.localDevice = e.Device
	s.session.confirm = e.Confirm
	s.session.bonding = true
	s.logger.Debugf("local passkey %06d", e.Passkey)

	return s.resolvePasskeys(ctx)
}

// resolvePasskeys waits for both halves, whichever order they come in.
// The provider's passkey is always sent back before the decision is made.
func (s *Simulator) resolvePasskeys(ctx context.Context) error {
	p := &s.session
	if !p.hasLocal || !p.hasRemote {
		return nil
	}

	local, remote := p.localPasskey, p.remotePasskey
	dev, confirm := p.localDevice, p.confirm
	p.clearPasskeys()

	block := append([]byte{passkeyProvider}, passkeyBytes(local)...)
	block = append(block, fpcrypto.RandomBytes(fpcrypto.BlockSize-len(block))...)
	enc, err := fpcrypto.Encrypt(p.secret, block)
	if err != nil {
		return err
	}
	if err := s.notify(ctx, p.device, fastpair.PasskeyUUID, enc, "provider passkey"); err != nil {
		return err
	}

	match := local == remote
	s.logger.Infof("passkeys %06d/%06d match: %v", local, remote, match)

	ui := s.config.ConfirmPasskey
	return s.worker.enqueue(ctx, task{
		desc: "confirm passkey",
		fn: func(ctx context.Context) error {
			switch {
			case match && ui != nil:
				ui(dev, local, confirmOnce(confirm))
			case confirm != nil:
				confirm(match)
			}
			return nil
		},
	})
}

func confirmOnce(confirm func(bool)) func(bool) {
	var once sync.Once
	return func(accept bool) {
		once.Do(func() {
			if confirm != nil {
				confirm(accept)
			}
		})
	}
}

func passkeyFromBytes(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func passkeyBytes(p uint32) []byte {
	return []byte{byte(p >> 16), byte(p >> 8), byte(p)}
}

func writeAccountKey(s *Simulator, ctx context.Context, dev fastpair.Addr, value []byte) error {
	secret := s.session.secret
	if secret == nil {
		return errors.Wrap(fastpair.ErrAuthentication, "account key without handshake")
	}

	key, err := fpcrypto.Decrypt(secret, value)
	if err != nil {
		return errors.Wrap(fastpair.ErrFormat, err.Error())
	}
	if key[0] != accountKeyHeader {
		return errors.Wrapf(fastpair.ErrFormat, "account key header %#02x", key[0])
	}

	owner := dev
	if r := s.session.request; r != nil && r.HasSeekerAddress {
		owner = r.SeekerAddress
	}

	if err := s.store.AddSeekerDevice(owner.String(), key); err != nil {
		return errors.Wrap(err, "store account key")
	}
	s.logger.Infof("account key stored for %v, %d keys", owner, s.store.Len())

	s.refreshAdvertising()
	return nil
}

func writeAdditionalData(s *Simulator, ctx context.Context, dev fastpair.Addr, value []byte) error {
	secret := s.session.secret
	if secret == nil {
		return errors.Wrap(fastpair.ErrAuthentication, "additional data without handshake")
	}
	if r := s.session.request; r != nil && r.HasAdditionalDataType && r.AdditionalDataType != AdditionalDataPersonalizedName {
		return errors.Wrapf(fastpair.ErrFormat, "additional data type %#02x", r.AdditionalDataType)
	}

	name, err := fpcrypto.DecodeAdditionalData(secret, value)
	if err != nil {
		return errors.Wrap(fastpair.ErrAuthentication, err.Error())
	}

	if err := s.store.SetDeviceName(string(name)); err != nil {
		return errors.Wrap(err, "store device name")
	}
	s.logger.Infof("device name set to %q", name)
	return nil
}

func (s *Simulator) onBondStateChanged(ctx context.Context, e BondStateChanged) {
	s.logger.Infof("bond state %v: %v", e.Device, e.State)

	switch e.State {
	case BondBonding:
		s.session.bonding = true

	case BondBonded:
		if s.session.bonding && s.session.secret != nil {
			if err := s.store.AddSeekerDevice(e.Device.String(), s.session.secret); err != nil {
				s.logger.Errorf("record seeker %v: %v", e.Device, err)
			}
		}
		s.session.bonding = false
		s.discoverable = false
		s.refreshAdvertising()

	case BondNone:
		if !s.session.bonding {
			return
		}
		s.session.bonding = false
		if err := s.becomeDiscoverable(ctx); err != nil {
			s.logger.Warnf("discoverable after failed bond: %v", err)
		}
	}
}

func (s *Simulator) onDisconnected(e Disconnected) {
	if e.Device != s.session.device {
		return
	}
	s.logger.Infof("%v disconnected, session cleared", e.Device)
	s.resetSession(pairingSession{})
	s.beacon.nonce = nil
}

// becomeDiscoverable waits at most DiscoverableTimeout for the adapter.
func (s *Simulator) becomeDiscoverable(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, s.config.DiscoverableTimeout)
	defer cancel()

	err := s.adapter.SetScanMode(tctx, ScanModeConnectableDiscoverable)
	if tctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(fastpair.ErrTimeout, "become discoverable")
	}
	if err != nil {
		return errors.Wrap(err, "become discoverable")
	}

	s.discoverable = true
	s.scanMode.schedule()
	s.refreshAdvertising()
	return nil
}

func (s *Simulator) onScanModeChanged(e ScanModeChanged) {
	s.logger.Debugf("scan mode %v", e.Mode)

	if e.Mode == ScanModeConnectableDiscoverable {
		s.scanMode.schedule()
		if !s.discoverable {
			s.discoverable = true
			s.refreshAdvertising()
		}
		return
	}

	s.scanMode.cancel()
	if s.discoverable {
		s.discoverable = false
		s.refreshAdvertising()
	}
}

func (s *Simulator) onRevertScanMode(ctx context.Context, e revertScanMode) {
	if !s.scanMode.current(e.generation) {
		return
	}
	s.scanMode.cancel()

	tctx, cancel := context.WithTimeout(ctx, s.config.DiscoverableTimeout)
	defer cancel()
	if err := s.adapter.SetScanMode(tctx, ScanModeConnectable); err != nil {
		s.logger.Warnf("revert scan mode: %v", err)
	}

	s.discoverable = false
	s.refreshAdvertising()
}
