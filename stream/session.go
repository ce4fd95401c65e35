package stream

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/adv"
	"github.com/rigado/fastpair/fpcrypto"
)

// DefaultRingStopDelay is how long a ring lasts before the simulated user
// silences it.
const DefaultRingStopDelay = 5 * time.Second

// KeySource supplies the account keys a command tag may be computed with.
type KeySource interface {
	Keys() [][]byte
}

// BufferSize is one codec's dynamic buffer size range, in milliseconds.
type BufferSize struct {
	Codec   byte
	Min     uint16
	Max     uint16
	Default uint16
}

type Config struct {
	ModelID []byte
	// BLEAddress is pushed only when set.
	BLEAddress      []byte
	FirmwareVersion string
	RingStopDelay   time.Duration
	// BufferSizes enables dynamic buffer size capability sync when non-empty.
	BufferSizes []BufferSize
	// Battery is pushed after the session nonce when set.
	Battery []adv.Battery
}

// Dispatch hands an inbound frame to whoever serialises handling.
type Dispatch func(f Frame) error

// Session is one connected message stream.
type Session struct {
	config Config
	keys   KeySource
	logger fastpair.Logger

	wlock sync.Mutex
	w     io.Writer

	lock     sync.Mutex
	nonce    []byte
	ringStop *time.Timer
	closed   bool
}

func NewSession(cfg Config, keys KeySource, w io.Writer) *Session {
	if cfg.RingStopDelay <= 0 {
		cfg.RingStopDelay = DefaultRingStopDelay
	}

	return &Session{
		config: cfg,
		keys:   keys,
		w:      w,
		logger: fastpair.Component("stream"),
	}
}

// Start generates the session nonce and pushes the device information the
// seeker needs before it can issue authenticated commands.
func (s *Session) Start() error {
	nonce := fpcrypto.RandomBytes(fpcrypto.NonceSize)

	s.lock.Lock()
	s.nonce = nonce
	s.lock.Unlock()

	push := []Frame{{Group: GroupDeviceInformation, Code: CodeModelID, Payload: s.config.ModelID}}
	if len(s.config.BLEAddress) != 0 {
		push = append(push, Frame{Group: GroupDeviceInformation, Code: CodeBLEAddress, Payload: s.config.BLEAddress})
	}
	push = append(push,
		Frame{Group: GroupDeviceInformation, Code: CodeFirmwareVersion, Payload: []byte(s.config.FirmwareVersion)},
		Frame{Group: GroupDeviceInformation, Code: CodeSessionNonce, Payload: nonce},
	)

	for _, f := range push {
		if err := s.Send(f); err != nil {
			return err
		}
	}

	if len(s.config.Battery) > 0 {
		return s.PushBattery(s.config.Battery)
	}
	return nil
}

// Serve runs Start and then reads frames from r until it fails or ctx ends.
// Frames go to dispatch, or straight to Handle when dispatch is nil. If r is
// an io.Closer it is closed when ctx ends to unblock the read.
func (s *Session) Serve(ctx context.Context, r io.Reader, dispatch Dispatch) error {
	defer s.Close()

	if dispatch == nil {
		dispatch = s.Handle
	}

	if c, ok := r.(io.Closer); ok {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				c.Close()
			case <-done:
			}
		}()
	}

	if err := s.Start(); err != nil {
		return err
	}

	for {
		f, err := ReadFrame(r)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "read frame")
		}

		s.logger.Debugf("rx %v", f)
		if err := dispatch(f); err != nil {
			if fastpair.IsSilent(err) {
				s.logger.Debugf("dropped %v: %v", f, err)
				continue
			}
			return err
		}
	}
}

// Handle dispatches one inbound frame. Authentication and format failures
// are returned but never answered.
func (s *Session) Handle(f Frame) error {
	v, ok := dispatcher[frameKey{f.Group, f.Code}]
	if !ok || v.handler == nil {
		s.logger.Infof("unhandled frame %v", f)
		return nil
	}

	s.logger.Debugf("%v: %x", v.desc, f.Payload)
	return v.handler(s, f.Payload)
}

// Close stops a pending ring stop. Later sends fail.
func (s *Session) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.closed = true
	if s.ringStop != nil {
		s.ringStop.Stop()
		s.ringStop = nil
	}
}

func (s *Session) Nonce() []byte {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]byte{}, s.nonce...)
}

// PushBattery sends the current battery values.
func (s *Session) PushBattery(values []adv.Battery) error {
	frame, err := adv.BatteryFrame(values, false)
	if err != nil {
		return err
	}
	if frame == nil {
		return nil
	}

	return s.Send(Frame{Group: GroupDeviceInformation, Code: CodeBatteryUpdated, Payload: frame[1:]})
}

func (s *Session) Send(f Frame) error {
	b, err := f.Marshal()
	if err != nil {
		return errors.Wrap(fastpair.ErrFormat, err.Error())
	}

	s.lock.Lock()
	closed := s.closed
	s.lock.Unlock()
	if closed {
		return errors.Wrap(fastpair.ErrTransport, "session closed")
	}

	s.wlock.Lock()
	defer s.wlock.Unlock()

	s.logger.Debugf("tx %v", hex.EncodeToString(b))
	if _, err := s.w.Write(b); err != nil {
		return errors.Wrap(fastpair.ErrTransport, err.Error())
	}
	return nil
}

func onRing(s *Session, payload []byte) error {
	if err := s.Send(ack(GroupDeviceAction, CodeRing)); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ringStop != nil {
		s.ringStop.Stop()
		s.ringStop = nil
	}

	if len(payload) > 0 && payload[0] == ringStop {
		return nil
	}

	s.ringStop = time.AfterFunc(s.config.RingStopDelay, func() {
		err := s.Send(Frame{Group: GroupDeviceAction, Code: CodeRing, Payload: []byte{ringStop}})
		if err != nil {
			s.logger.Warnf("ring stop: %v", err)
		}
	})
	return nil
}

func onBufferSize(s *Session, payload []byte) error {
	if len(payload) != bufferSizeTupleLen+fpcrypto.TagSize {
		return errors.Wrapf(fastpair.ErrFormat, "buffer size length %d", len(payload))
	}

	tuple := payload[:bufferSizeTupleLen]
	tag := payload[bufferSizeTupleLen:]
	nonce := s.Nonce()

	for _, k := range s.keys.Keys() {
		if fpcrypto.VerifyTag(k, nonce, tag) {
			return s.Send(ack(GroupDeviceConfiguration, CodeBufferSize, tuple...))
		}
	}

	return errors.Wrap(fastpair.ErrAuthentication, "buffer size tag")
}

func onCapabilityUpdate(s *Session, payload []byte) error {
	if len(s.config.BufferSizes) == 0 {
		return nil
	}

	b := make([]byte, 0, 7*len(s.config.BufferSizes))
	for _, bs := range s.config.BufferSizes {
		var r [7]byte
		r[0] = bs.Codec
		binary.BigEndian.PutUint16(r[1:], bs.Min)
		binary.BigEndian.PutUint16(r[3:], bs.Max)
		binary.BigEndian.PutUint16(r[5:], bs.Default)
		b = append(b, r[:]...)
	}

	return s.Send(Frame{Group: GroupCapabilitySync, Code: CodeDynamicBufferSize, Payload: b})
}

func onAcknowledgement(s *Session, payload []byte) error {
	if len(payload) < 2 {
		return errors.Wrap(fastpair.ErrFormat, "short acknowledgement")
	}
	s.logger.Debugf("seeker acknowledged %#02x/%#02x", payload[0], payload[1])
	return nil
}
