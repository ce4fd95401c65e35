package provider

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/fpcrypto"
	"github.com/rigado/fastpair/keystore"
	"github.com/rigado/fastpair/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	kind  string
	dev   fastpair.Addr
	char  uuid.UUID
	value []byte
}

// journal records notifications and adapter side effects in one sequence.
type journal struct {
	mu    sync.Mutex
	calls []call
}

func (j *journal) add(c call) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, c)
}

func (j *journal) all() []call {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]call{}, j.calls...)
}

func (j *journal) notifications(char uuid.UUID) [][]byte {
	var out [][]byte
	for _, c := range j.all() {
		if c.kind == "notify" && c.char == char {
			out = append(out, c.value)
		}
	}
	return out
}

type fakeNotifier struct {
	j    *journal
	fail map[uuid.UUID]bool
}

func (n *fakeNotifier) Notify(dev fastpair.Addr, char uuid.UUID, value []byte) error {
	if n.fail[char] {
		return errors.New("gatt closed")
	}
	n.j.add(call{kind: "notify", dev: dev, char: char, value: append([]byte{}, value...)})
	return nil
}

type fakeAdapter struct {
	j *journal

	mu     sync.Mutex
	mode   ScanMode
	block  bool
	bonded []Device
	// pair stands in for a bonding call that returns only once the
	// pairing agent has been answered
	pair func(ctx context.Context, addr fastpair.Addr) error
}

func (a *fakeAdapter) SetScanMode(ctx context.Context, mode ScanMode) error {
	a.mu.Lock()
	block := a.block
	a.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	a.mu.Lock()
	a.mode = mode
	a.mu.Unlock()
	a.j.add(call{kind: "scan mode " + mode.String()})
	return nil
}

func (a *fakeAdapter) ScanMode() ScanMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *fakeAdapter) BondedDevices() ([]Device, error) {
	return a.bonded, nil
}

func (a *fakeAdapter) RemoveBond(ctx context.Context, addr fastpair.Addr) error {
	a.j.add(call{kind: "remove bond", dev: addr})
	return nil
}

func (a *fakeAdapter) CreateBond(ctx context.Context, addr fastpair.Addr) error {
	a.j.add(call{kind: "create bond", dev: addr})

	a.mu.Lock()
	pair := a.pair
	a.mu.Unlock()
	if pair != nil {
		return pair(ctx, addr)
	}
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *fakeSink) Advertise(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, b)
	return nil
}

func (s *fakeSink) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.payloads) == 0 {
		return nil
	}
	return s.payloads[len(s.payloads)-1]
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	sim      *Simulator
	j        *journal
	adapter  *fakeAdapter
	notifier *fakeNotifier
	sink     *fakeSink
	store    *keystore.Store
}

var seekerDev = fastpair.MustParseAddr("70:70:70:70:70:70")

func newHarness(t *testing.T, opts ...Option) *harness {
	store, err := keystore.New(nil, 0)
	require.NoError(t, err)
	require.NoError(t, store.Add(testKey))

	j := &journal{}
	h := &harness{
		t:        t,
		j:        j,
		adapter:  &fakeAdapter{j: j, mode: ScanModeConnectable},
		notifier: &fakeNotifier{j: j, fail: map[uuid.UUID]bool{}},
		sink:     &fakeSink{},
		store:    store,
	}

	opts = append([]Option{
		OptModelID(0x123456),
		OptBLEAddress(testBLE),
		OptBrEdrAddress(testBrEdr),
		OptDiscoverableTimeout(50 * time.Millisecond),
	}, opts...)
	h.sim, err = New(h.adapter, h.notifier, store, h.sink, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.ctx = ctx
	go h.sim.Run(ctx)

	return h
}

func (h *harness) write(char uuid.UUID, value []byte) error {
	return h.sim.WriteCharacteristic(h.ctx, seekerDev, char, value)
}

// flush waits until every side effect queued so far has run.
func (h *harness) flush() {
	done := make(chan struct{})
	require.NoError(h.t, h.sim.worker.enqueue(h.ctx, task{
		desc: "flush",
		fn: func(context.Context) error {
			close(done)
			return nil
		},
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		h.t.Fatal("worker did not drain")
	}
}

// handshake runs a key-based pairing request signed with testKey.
func (h *harness) handshake(flags byte, tail ...byte) {
	raw := encrypt(h.t, testKey, request(KeyBasedPairingRequest, flags, testBLE, tail...))
	require.NoError(h.t, h.write(fastpair.KeyBasedPairingUUID, raw))
	h.flush()
}

func (h *harness) seekerPasskey(p uint32) []byte {
	block := append([]byte{passkeySeeker}, passkeyBytes(p)...)
	block = append(block, make([]byte, 12)...)
	return encrypt(h.t, testKey, block)
}

func TestSimpleHandshake(t *testing.T) {
	h := newHarness(t)
	h.handshake(0x00)

	calls := h.j.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "notify", calls[0].kind)
	assert.Equal(t, fastpair.KeyBasedPairingUUID, calls[0].char)
	assert.Equal(t, seekerDev, calls[0].dev)

	pt, err := fpcrypto.Decrypt(testKey, calls[0].value)
	require.NoError(t, err)
	assert.Equal(t, byte(responseKeyBasedPairing), pt[0])
	assert.Equal(t, testBrEdr[:], pt[1:7])
}

func TestNoResponseWithoutAuthentication(t *testing.T) {
	h := newHarness(t)
	stranger := fastpair.MustParseAddr("00:00:00:00:00:09")

	writes := [][]byte{
		encrypt(t, testKey, request(KeyBasedPairingRequest, flagRequestDiscoverable, stranger)),
		encrypt(t, otherKey, request(KeyBasedPairingRequest, flagRequestDiscoverable, testBLE)),
		make([]byte, 16),
		{0x01, 0x02},
		make([]byte, handshakeECDHLen),
		encrypt(t, testKey, request(RequestType(0x42), 0, testBLE)),
	}
	for _, w := range writes {
		assert.NoError(t, h.write(fastpair.KeyBasedPairingUUID, w))
	}
	h.flush()
	assert.Empty(t, h.j.all())

	// nothing was negotiated, so follow-up writes are dropped too
	assert.NoError(t, h.write(fastpair.PasskeyUUID, h.seekerPasskey(123456)))
	key := encrypt(t, testKey, append([]byte{accountKeyHeader}, make([]byte, 15)...))
	assert.NoError(t, h.write(fastpair.AccountKeyUUID, key))
	h.flush()
	assert.Empty(t, h.j.all())
	assert.Equal(t, 1, h.store.Len())
}

func TestPasskeyRace(t *testing.T) {
	tests := []struct {
		name       string
		local      uint32
		remote     uint32
		localFirst bool
		wantAccept bool
	}{
		{"local first match", 123456, 123456, true, true},
		{"remote first match", 123456, 123456, false, true},
		{"local first mismatch", 123456, 654321, true, false},
		{"remote first mismatch", 123456, 654321, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.handshake(0x00)

			decision := make(chan bool, 2)
			local := func() {
				require.NoError(t, h.sim.OnPairingRequest(h.ctx, PairingRequest{
					Device:  seekerDev,
					Variant: PairingVariantPasskeyConfirmation,
					Passkey: tc.local,
					Confirm: func(accept bool) { decision <- accept },
				}))
			}
			remote := func() {
				require.NoError(t, h.write(fastpair.PasskeyUUID, h.seekerPasskey(tc.remote)))
			}

			if tc.localFirst {
				local()
				h.flush()
				assert.Empty(t, h.j.notifications(fastpair.PasskeyUUID))
				remote()
			} else {
				remote()
				h.flush()
				assert.Empty(t, h.j.notifications(fastpair.PasskeyUUID))
				local()
			}
			h.flush()

			sent := h.j.notifications(fastpair.PasskeyUUID)
			require.Len(t, sent, 1)
			pt, err := fpcrypto.Decrypt(testKey, sent[0])
			require.NoError(t, err)
			assert.Equal(t, byte(passkeyProvider), pt[0])
			assert.Equal(t, tc.local, passkeyFromBytes(pt[1:4]))

			require.Len(t, decision, 1)
			assert.Equal(t, tc.wantAccept, <-decision)

			// both halves were consumed
			remote()
			h.flush()
			assert.Len(t, h.j.notifications(fastpair.PasskeyUUID), 1)
		})
	}
}

func TestPasskeyUIConfirmation(t *testing.T) {
	type prompt struct {
		passkey uint32
		confirm func(bool)
	}
	prompts := make(chan prompt, 1)

	h := newHarness(t, OptPasskeyConfirmer(func(dev fastpair.Addr, passkey uint32, confirm func(bool)) {
		prompts <- prompt{passkey, confirm}
	}))
	h.handshake(0x00)

	decision := make(chan bool, 2)
	require.NoError(t, h.write(fastpair.PasskeyUUID, h.seekerPasskey(424242)))
	require.NoError(t, h.sim.OnPairingRequest(h.ctx, PairingRequest{
		Device:  seekerDev,
		Variant: PairingVariantPasskeyConfirmation,
		Passkey: 424242,
		Confirm: func(accept bool) { decision <- accept },
	}))
	h.flush()

	require.Len(t, prompts, 1)
	p := <-prompts
	assert.Equal(t, uint32(424242), p.passkey)
	assert.Empty(t, decision)

	p.confirm(false)
	p.confirm(true)
	require.Len(t, decision, 1)
	assert.False(t, <-decision)
}

func TestBondingSideEffectOrder(t *testing.T) {
	phone := fastpair.MustParseAddr("50:50:50:50:50:50")
	speaker := fastpair.MustParseAddr("60:60:60:60:60:60")

	h := newHarness(t, OptRemoveAllDevicesDuringPairing())
	h.adapter.bonded = []Device{
		{Address: phone, Phone: true},
		{Address: speaker},
		{Address: testSeeker, Phone: true},
	}

	h.handshake(flagProviderInitiatesBonding, testSeeker[:]...)

	require.Eventually(t, func() bool { return len(h.j.all()) == 3 }, time.Second, 5*time.Millisecond)
	calls := h.j.all()
	assert.Equal(t, "notify", calls[0].kind)
	assert.Equal(t, call{kind: "remove bond", dev: phone}, calls[1])
	assert.Equal(t, call{kind: "create bond", dev: testSeeker}, calls[2])
}

func TestProviderInitiatedBondCompletes(t *testing.T) {
	h := newHarness(t)

	bonded := make(chan error, 1)
	h.adapter.mu.Lock()
	h.adapter.pair = func(ctx context.Context, addr fastpair.Addr) error {
		decision := make(chan bool, 1)
		err := h.sim.OnPairingRequest(ctx, PairingRequest{
			Device:  addr,
			Variant: PairingVariantPasskeyConfirmation,
			Passkey: 123456,
			Confirm: func(accept bool) { decision <- accept },
		})
		if err == nil {
			select {
			case accept := <-decision:
				if !accept {
					err = errors.New("rejected")
				}
			case <-time.After(time.Second):
				err = errors.New("agent timed out")
			}
		}
		bonded <- err
		return err
	}
	h.adapter.mu.Unlock()

	h.handshake(flagProviderInitiatesBonding, testSeeker[:]...)
	require.NoError(t, h.write(fastpair.PasskeyUUID, h.seekerPasskey(123456)))

	select {
	case err := <-bonded:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bonding never finished")
	}
	h.flush()
	assert.Len(t, h.j.notifications(fastpair.PasskeyUUID), 1)
}

func TestNewHandshakeRejectsPendingConfirmation(t *testing.T) {
	h := newHarness(t)
	h.handshake(0x00)

	decision := make(chan bool, 1)
	require.NoError(t, h.sim.OnPairingRequest(h.ctx, PairingRequest{
		Device:  seekerDev,
		Variant: PairingVariantPasskeyConfirmation,
		Passkey: 111111,
		Confirm: func(accept bool) { decision <- accept },
	}))
	assert.Empty(t, decision)

	h.handshake(0x00)
	require.Len(t, decision, 1)
	assert.False(t, <-decision)

	require.NoError(t, h.sim.OnPairingRequest(h.ctx, PairingRequest{
		Device:  seekerDev,
		Variant: PairingVariantPasskeyConfirmation,
		Passkey: 222222,
		Confirm: func(accept bool) { decision <- accept },
	}))
	require.NoError(t, h.sim.OnDisconnected(h.ctx, seekerDev))
	require.Len(t, decision, 1)
	assert.False(t, <-decision)
}

func TestConfirmOnceFromManyGoroutines(t *testing.T) {
	var calls int32
	confirm := confirmOnce(func(bool) { atomic.AddInt32(&calls, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(accept bool) {
			defer wg.Done()
			confirm(accept)
		}(i%2 == 0)
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	confirmOnce(nil)(true)
}

func TestRetroactivePairKeepsBonds(t *testing.T) {
	h := newHarness(t, OptRemoveAllDevicesDuringPairing())
	h.adapter.bonded = []Device{{Address: fastpair.MustParseAddr("50:50:50:50:50:50"), Phone: true}}

	h.handshake(flagRetroactivePair, testSeeker[:]...)

	calls := h.j.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "notify", calls[0].kind)
}

func TestDeviceNameExchange(t *testing.T) {
	h := newHarness(t)
	h.handshake(0x00)

	pkt, err := fpcrypto.EncodeAdditionalData(testKey, []byte("Living room"))
	require.NoError(t, err)
	require.NoError(t, h.write(fastpair.AdditionalDataUUID, pkt))
	assert.Equal(t, "Living room", h.store.DeviceName())

	// tampered packets are dropped
	pkt[len(pkt)-1] ^= 0xff
	require.NoError(t, h.write(fastpair.AdditionalDataUUID, pkt))
	assert.Equal(t, "Living room", h.store.DeviceName())

	h.handshake(flagRequestDeviceName)
	var order []uuid.UUID
	for _, c := range h.j.all() {
		order = append(order, c.char)
	}
	require.Len(t, order, 3)
	assert.Equal(t, []uuid.UUID{fastpair.KeyBasedPairingUUID, fastpair.KeyBasedPairingUUID, fastpair.AdditionalDataUUID}, order)

	names := h.j.notifications(fastpair.AdditionalDataUUID)
	name, err := fpcrypto.DecodeAdditionalData(testKey, names[0])
	require.NoError(t, err)
	assert.Equal(t, "Living room", string(name))
}

func TestAccountKeyWrite(t *testing.T) {
	h := newHarness(t)
	h.handshake(flagProviderInitiatesBonding, testSeeker[:]...)

	newKey := append([]byte{accountKeyHeader}, make([]byte, 15)...)
	newKey[15] = 0x99

	bad := append([]byte{0x05}, newKey[1:]...)
	require.NoError(t, h.write(fastpair.AccountKeyUUID, encrypt(t, testKey, bad)))
	assert.False(t, h.store.Contains(bad))

	require.NoError(t, h.write(fastpair.AccountKeyUUID, encrypt(t, testKey, newKey)))
	assert.True(t, h.store.Contains(newKey))

	key, ok := h.store.KeyFor(testSeeker.String())
	require.True(t, ok)
	assert.Equal(t, newKey, key)
}

func TestBondStateAdvertising(t *testing.T) {
	h := newHarness(t)

	// not discoverable with a stored key: account key filter
	require.Eventually(t, func() bool {
		p := h.sink.last()
		return len(p) > 0 && p[0] == 0x00
	}, time.Second, 5*time.Millisecond)

	h.handshake(flagRequestDiscoverable)
	assert.Equal(t, ScanModeConnectableDiscoverable, h.adapter.ScanMode())
	assert.Equal(t, []byte{0x12, 0x34, 0x56}, h.sink.last())

	require.NoError(t, h.sim.OnBondStateChanged(h.ctx, seekerDev, BondBonding))
	require.NoError(t, h.sim.OnBondStateChanged(h.ctx, seekerDev, BondNone))
	assert.Equal(t, ScanModeConnectableDiscoverable, h.adapter.ScanMode())
	assert.Equal(t, []byte{0x12, 0x34, 0x56}, h.sink.last())

	require.NoError(t, h.sim.OnBondStateChanged(h.ctx, seekerDev, BondBonding))
	require.NoError(t, h.sim.OnBondStateChanged(h.ctx, seekerDev, BondBonded))
	assert.Equal(t, byte(0x00), h.sink.last()[0])

	key, ok := h.store.KeyFor(seekerDev.String())
	require.True(t, ok)
	assert.Equal(t, testKey, key)

	// a reconnect that never bonds records nothing new
	require.NoError(t, h.sim.OnBondStateChanged(h.ctx, testSeeker, BondBonded))
	_, ok = h.store.KeyFor(testSeeker.String())
	assert.False(t, ok)
}

func TestFailedBondReopensDiscoverability(t *testing.T) {
	h := newHarness(t, OptScanModeRevertDelay(20*time.Millisecond))
	h.handshake(0x00)
	require.Equal(t, ScanModeConnectable, h.adapter.ScanMode())

	require.NoError(t, h.sim.OnBondStateChanged(h.ctx, seekerDev, BondBonding))
	require.NoError(t, h.sim.OnBondStateChanged(h.ctx, seekerDev, BondNone))

	modes := func() []string {
		var out []string
		for _, c := range h.j.all() {
			if c.kind != "notify" {
				out = append(out, c.kind)
			}
		}
		return out
	}
	require.NotEmpty(t, modes())
	assert.Equal(t, "scan mode connectable-discoverable", modes()[0])

	// the model ID is only advertised for the discoverable window
	require.Eventually(t, func() bool {
		return len(modes()) == 2 && h.sink.last()[0] == 0x00
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "scan mode connectable", modes()[1])
	assert.Equal(t, ScanModeConnectable, h.adapter.ScanMode())
}

func TestDiscoverableTimeout(t *testing.T) {
	h := newHarness(t)
	h.adapter.mu.Lock()
	h.adapter.block = true
	h.adapter.mu.Unlock()

	raw := encrypt(t, testKey, request(KeyBasedPairingRequest, flagRequestDiscoverable, testBLE))
	err := h.write(fastpair.KeyBasedPairingUUID, raw)
	assert.Equal(t, fastpair.ErrTimeout, errors.Cause(err))

	h.flush()
	assert.Empty(t, h.j.notifications(fastpair.KeyBasedPairingUUID))
}

func TestScanModeReverts(t *testing.T) {
	h := newHarness(t, OptScanModeRevertDelay(20*time.Millisecond))
	h.handshake(flagRequestDiscoverable)

	require.Eventually(t, func() bool {
		return h.adapter.ScanMode() == ScanModeConnectable
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, byte(0x00), h.sink.last()[0])
}

func TestScanModeChangeCancelsRevert(t *testing.T) {
	h := newHarness(t, OptScanModeRevertDelay(30*time.Millisecond))
	h.handshake(flagRequestDiscoverable)
	require.NoError(t, h.sim.OnScanModeChanged(h.ctx, ScanModeConnectable))

	time.Sleep(80 * time.Millisecond)
	for _, c := range h.j.all() {
		assert.NotEqual(t, "scan mode connectable", c.kind)
	}
}

func TestDisconnectClearsSession(t *testing.T) {
	h := newHarness(t)
	h.handshake(0x00)
	require.NoError(t, h.sim.OnDisconnected(h.ctx, seekerDev))

	key := append([]byte{accountKeyHeader}, make([]byte, 15)...)
	require.NoError(t, h.write(fastpair.AccountKeyUUID, encrypt(t, testKey, key)))
	assert.False(t, h.store.Contains(key))
}

func TestNotifyFailureDropsPasskeys(t *testing.T) {
	h := newHarness(t)
	h.notifier.fail[fastpair.PasskeyUUID] = true
	h.handshake(0x00)

	decided := make(chan bool, 1)
	require.NoError(t, h.write(fastpair.PasskeyUUID, h.seekerPasskey(1)))
	require.NoError(t, h.sim.OnPairingRequest(h.ctx, PairingRequest{
		Device:  seekerDev,
		Variant: PairingVariantPasskeyConfirmation,
		Passkey: 1,
		Confirm: func(accept bool) { decided <- accept },
	}))
	h.flush()

	assert.Empty(t, h.j.notifications(fastpair.PasskeyUUID))
	require.Len(t, decided, 1)

	s := &Simulator{logger: h.sim.logger}
	s.session = pairingSession{hasLocal: true, localPasskey: 5, hasRemote: true, remotePasskey: 6}
	_, err := s.handle(h.ctx, notifyFailed{desc: "provider passkey", err: fastpair.ErrTransport})
	require.NoError(t, err)
	assert.False(t, s.session.hasLocal)
	assert.False(t, s.session.hasRemote)
}

func TestCharacteristicReads(t *testing.T) {
	h := newHarness(t, OptFirmwareVersion("2.1.0"))

	b, err := h.sim.ReadCharacteristic(h.ctx, seekerDev, fastpair.FirmwareRevisionUUID)
	require.NoError(t, err)
	assert.Equal(t, []byte("2.1.0"), b)

	b, err = h.sim.ReadCharacteristic(h.ctx, seekerDev, fastpair.ModelIDUUID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34, 0x56}, b)

	_, err = h.sim.ReadCharacteristic(h.ctx, seekerDev, fastpair.KeyBasedPairingUUID)
	assert.Equal(t, fastpair.ErrUnsupported, errors.Cause(err))

	err = h.write(uuid.New(), []byte{1})
	assert.Equal(t, fastpair.ErrUnsupported, errors.Cause(err))
}

type pipeConn struct {
	io.Reader
	io.Writer
}

func TestServeRfcomm(t *testing.T) {
	h := newHarness(t)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)
	go func() { done <- h.sim.ServeRfcomm(h.ctx, pipeConn{inR, outW}) }()

	var nonce []byte
	for i := 0; i < 4; i++ {
		f, err := stream.ReadFrame(outR)
		require.NoError(t, err)
		if f.Code == stream.CodeSessionNonce {
			nonce = f.Payload
		}
	}
	require.Len(t, nonce, fpcrypto.NonceSize)

	req, err := stream.Frame{
		Group:   stream.GroupDeviceConfiguration,
		Code:    stream.CodeBufferSize,
		Payload: append([]byte{0x01, 0x00, 0x40}, fpcrypto.Tag(testKey, nonce)...),
	}.Marshal()
	require.NoError(t, err)
	_, err = inW.Write(req)
	require.NoError(t, err)

	f, err := stream.ReadFrame(outR)
	require.NoError(t, err)
	assert.Equal(t, byte(stream.GroupAcknowledgement), f.Group)
	assert.Equal(t, []byte{stream.GroupDeviceConfiguration, stream.CodeBufferSize, 0x01, 0x00, 0x40}, f.Payload)

	require.NoError(t, inW.Close())
	require.NoError(t, <-done)
}
