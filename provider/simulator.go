package provider

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/adv"
	"github.com/rigado/fastpair/keystore"
	"github.com/rigado/fastpair/stream"
)

const eventQueueDepth = 16

// Simulator is a Fast Pair provider. Every input is funnelled through one
// loop started by Run; the loop alone owns the pairing session.
type Simulator struct {
	config     Config
	adapter    Adapter
	notifier   Notifier
	store      *keystore.Store
	advertiser *adv.Advertiser
	logger     fastpair.Logger

	events   chan envelope
	stopped  chan struct{}
	stopOnce sync.Once
	worker   *worker
	scanMode *scanModeScheduler

	// owned by the loop
	session      pairingSession
	discoverable bool
	beacon       beaconState
}

type pairingSession struct {
	secret  []byte
	device  fastpair.Addr
	request *HandshakeRequest

	localPasskey  uint32
	hasLocal      bool
	localDevice   fastpair.Addr
	confirm       func(accept bool)
	remotePasskey uint32
	hasRemote     bool

	// bonding is set from the first bonding step until the bond settles
	bonding bool
}

// resetSession rejects a pairing request still waiting for the seeker's
// passkey before replacing the session.
func (s *Simulator) resetSession(next pairingSession) {
	if confirm := s.session.confirm; confirm != nil {
		confirm(false)
	}
	s.session = next
}

func (p *pairingSession) clearPasskeys() {
	p.localPasskey, p.hasLocal, p.confirm = 0, false, nil
	p.remotePasskey, p.hasRemote = 0, false
}

// New builds a simulator. The sink receives every advertising payload
// change and may be nil.
func New(adapter Adapter, notifier Notifier, store *keystore.Store, sink adv.Sink, opts ...Option) (*Simulator, error) {
	if adapter == nil || notifier == nil || store == nil {
		return nil, errors.New("adapter, notifier and store are required")
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	saltAddr := cfg.BLEAddress
	if saltAddr.IsZero() {
		saltAddr = cfg.BrEdrAddress
	}

	s := &Simulator{
		config:   cfg,
		adapter:  adapter,
		notifier: notifier,
		store:    store,
		advertiser: adv.NewAdvertiser(adv.AdvertiserConfig{
			ModelID:           cfg.ModelID,
			SaltPolicy:        cfg.SaltPolicy,
			BLEAddress:        saltAddr.Bytes(),
			Battery:           cfg.Battery,
			SuppressBatteryUI: cfg.SuppressBatteryUI,
			SuppressFilterUI:  cfg.SuppressFilterUI,
		}, sink),
		logger:  fastpair.Component("provider"),
		events:  make(chan envelope, eventQueueDepth),
		stopped: make(chan struct{}),
	}
	s.worker = newWorker(fastpair.Component("worker"))
	s.scanMode = newScanModeScheduler(cfg.ScanModeRevertDelay, func(g uint64) {
		s.deliver(revertScanMode{generation: g})
	})

	return s, nil
}

// Run processes events until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.stopOnce.Do(func() { close(s.stopped) })
	defer s.scanMode.cancel()

	go s.worker.run(ctx)

	s.discoverable = s.adapter.ScanMode() == ScanModeConnectableDiscoverable
	if s.discoverable {
		s.scanMode.schedule()
	}
	s.refreshAdvertising()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-s.events:
			v, err := s.handle(ctx, e.ev)
			if e.done != nil {
				e.done <- result{value: v, err: err}
			}
		}
	}
}

// WriteCharacteristic handles a GATT write. Writes that fail authentication
// or are malformed return nil; the peer must not learn why they failed.
func (s *Simulator) WriteCharacteristic(ctx context.Context, dev fastpair.Addr, characteristic uuid.UUID, value []byte) error {
	_, err := s.post(ctx, GattWrite{Device: dev, Characteristic: characteristic, Value: append([]byte{}, value...)})
	return err
}

func (s *Simulator) ReadCharacteristic(ctx context.Context, dev fastpair.Addr, characteristic uuid.UUID) ([]byte, error) {
	return s.post(ctx, GattRead{Device: dev, Characteristic: characteristic})
}

// OnPairingRequest hands over a pairing request from the adapter. req.Confirm
// is called at most once, from the loop or the worker, and must not block.
func (s *Simulator) OnPairingRequest(ctx context.Context, req PairingRequest) error {
	_, err := s.post(ctx, req)
	return err
}

func (s *Simulator) OnBondStateChanged(ctx context.Context, dev fastpair.Addr, state BondState) error {
	_, err := s.post(ctx, BondStateChanged{Device: dev, State: state})
	return err
}

func (s *Simulator) OnDisconnected(ctx context.Context, dev fastpair.Addr) error {
	_, err := s.post(ctx, Disconnected{Device: dev})
	return err
}

func (s *Simulator) OnScanModeChanged(ctx context.Context, mode ScanMode) error {
	_, err := s.post(ctx, ScanModeChanged{Mode: mode})
	return err
}

// ServeRfcomm runs the message stream on an accepted connection until it
// closes or ctx ends. Frames are handled on the simulator loop.
func (s *Simulator) ServeRfcomm(ctx context.Context, conn io.ReadWriter) error {
	cfg := stream.Config{
		ModelID:         adv.ModelIDBytes(s.config.ModelID),
		FirmwareVersion: s.config.FirmwareVersion,
		RingStopDelay:   s.config.RingStopDelay,
		BufferSizes:     s.config.BufferSizes,
		Battery:         s.config.Battery,
	}
	if !s.config.BLEAddress.IsZero() {
		cfg.BLEAddress = s.config.BLEAddress.Bytes()
	}

	sess := stream.NewSession(cfg, s.store, conn)
	return sess.Serve(ctx, conn, func(f stream.Frame) error {
		_, err := s.post(ctx, RfcommFrame{Session: sess, Frame: f})
		return err
	})
}

func (s *Simulator) post(ctx context.Context, ev Event) ([]byte, error) {
	e := envelope{ev: ev, done: make(chan result, 1)}

	select {
	case s.events <- e:
	case <-s.stopped:
		return nil, errors.New("simulator stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-e.done:
		return r.value, r.err
	case <-s.stopped:
		return nil, errors.New("simulator stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver posts an internal event without waiting for it to be handled.
func (s *Simulator) deliver(ev Event) {
	go func() {
		select {
		case s.events <- envelope{ev: ev}:
		case <-s.stopped:
		}
	}()
}

func (s *Simulator) handle(ctx context.Context, ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case GattWrite:
		return nil, s.onGattWrite(ctx, e)
	case GattRead:
		return s.onGattRead(e)
	case RfcommFrame:
		return nil, e.Session.Handle(e.Frame)
	case PairingRequest:
		return nil, s.onPairingRequest(ctx, e)
	case BondStateChanged:
		s.onBondStateChanged(ctx, e)
	case Disconnected:
		s.onDisconnected(e)
	case ScanModeChanged:
		s.onScanModeChanged(e)
	case notifyFailed:
		s.logger.Errorf("%v failed, dropping buffered passkeys: %v", e.desc, e.err)
		s.session.clearPasskeys()
	case revertScanMode:
		s.onRevertScanMode(ctx, e)
	default:
		return nil, errors.Errorf("unknown event %T", ev)
	}
	return nil, nil
}

type characteristic struct {
	desc  string
	write func(s *Simulator, ctx context.Context, dev fastpair.Addr, value []byte) error
	read  func(s *Simulator, dev fastpair.Addr) ([]byte, error)
}

var characteristics = map[uuid.UUID]characteristic{
	fastpair.ModelIDUUID:           {"model id", nil, readModelID},
	fastpair.KeyBasedPairingUUID:   {"key-based pairing", writeKeyBasedPairing, nil},
	fastpair.PasskeyUUID:           {"passkey", writePasskey, nil},
	fastpair.AccountKeyUUID:        {"account key", writeAccountKey, nil},
	fastpair.AdditionalDataUUID:    {"additional data", writeAdditionalData, nil},
	fastpair.BeaconActionsUUID:     {"beacon actions", writeBeaconActions, readBeaconActions},
	fastpair.FirmwareRevisionUUID:  {"firmware revision", nil, readFirmwareRevision},
	fastpair.TDSControlPointUUID:   {"tds control point", writeTDSControlPoint, nil},
	fastpair.BrEdrHandoverDataUUID: {"br/edr handover data", nil, readBrEdrHandoverData},
	fastpair.BluetoothSigDataUUID:  {"bluetooth sig data", nil, readBluetoothSigData},
}

func (s *Simulator) onGattWrite(ctx context.Context, e GattWrite) error {
	c, ok := characteristics[e.Characteristic]
	if !ok || c.write == nil {
		return errors.Wrapf(fastpair.ErrUnsupported, "write %v", e.Characteristic)
	}

	s.logger.Debugf("%v: %x", c.desc, e.Value)
	err := c.write(s, ctx, e.Device, e.Value)
	if fastpair.IsSilent(err) {
		s.logger.Debugf("%v from %v dropped: %v", c.desc, e.Device, err)
		return nil
	}
	return err
}

func (s *Simulator) onGattRead(e GattRead) ([]byte, error) {
	c, ok := characteristics[e.Characteristic]
	if !ok || c.read == nil {
		return nil, errors.Wrapf(fastpair.ErrUnsupported, "read %v", e.Characteristic)
	}
	return c.read(s, e.Device)
}

// notify queues a notification behind every side effect already queued.
func (s *Simulator) notify(ctx context.Context, dev fastpair.Addr, characteristic uuid.UUID, value []byte, desc string) error {
	return s.worker.enqueue(ctx, task{
		desc: desc,
		fn: func(ctx context.Context) error {
			if err := s.notifier.Notify(dev, characteristic, value); err != nil {
				return errors.Wrap(fastpair.ErrTransport, err.Error())
			}
			return nil
		},
		onError: func(err error) {
			s.deliver(notifyFailed{desc: desc, err: err})
		},
	})
}

func (s *Simulator) refreshAdvertising() {
	if _, err := s.advertiser.Refresh(s.discoverable, s.store.Keys()); err != nil {
		s.logger.Errorf("advertising: %v", err)
	}
}

func readModelID(s *Simulator, dev fastpair.Addr) ([]byte, error) {
	return adv.ModelIDBytes(s.config.ModelID), nil
}

func readFirmwareRevision(s *Simulator, dev fastpair.Addr) ([]byte, error) {
	return []byte(s.config.FirmwareVersion), nil
}
