package adv

import (
	"bytes"
	"crypto/rand"
	"sync"

	"github.com/pkg/errors"
)

// ServiceUUID is the 16-bit Fast Pair service UUID.
const ServiceUUID = 0xFE2C

// SaltPolicy selects the salt used for the account key bloom filter.
type SaltPolicy int

const (
	// SaltFromAddress uses the BLE address, which a reconnecting seeker can
	// recompute; no salt field is advertised.
	SaltFromAddress SaltPolicy = iota
	// SaltRandom picks a fresh random salt per payload and advertises it.
	SaltRandom
)

// Sink publishes Fast Pair service data. A nil payload means the provider
// advertises no service data.
type Sink interface {
	Advertise(serviceData []byte) error
}

// Advertiser chooses between the model ID and account key payloads and
// pushes the result to its sink.
type Advertiser struct {
	lock sync.Mutex

	modelID         []byte
	policy          SaltPolicy
	address         []byte
	battery         []Battery
	suppressBattery bool
	suppressFilter  bool

	sink      Sink
	last      []byte
	published bool
}

type AdvertiserConfig struct {
	ModelID    uint32
	SaltPolicy SaltPolicy
	// BLEAddress is the address-derived salt.
	BLEAddress []byte
	Battery    []Battery

	SuppressBatteryUI bool
	SuppressFilterUI  bool
}

func NewAdvertiser(cfg AdvertiserConfig, sink Sink) *Advertiser {
	return &Advertiser{
		modelID:         ModelIDBytes(cfg.ModelID),
		policy:          cfg.SaltPolicy,
		address:         append([]byte{}, cfg.BLEAddress...),
		battery:         append([]Battery{}, cfg.Battery...),
		suppressBattery: cfg.SuppressBatteryUI,
		suppressFilter:  cfg.SuppressFilterUI,
		sink:            sink,
	}
}

// SetBattery replaces the advertised battery values.
func (a *Advertiser) SetBattery(values []Battery) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.battery = append([]Battery{}, values...)
}

func (a *Advertiser) Battery() []Battery {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]Battery{}, a.battery...)
}

// Payload builds the service data: the model ID when discoverable, the
// account key filter when not discoverable but keys exist, nothing otherwise.
// Battery values are appended to whichever primary payload is chosen.
func (a *Advertiser) Payload(discoverable bool, keys [][]byte) ([]byte, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.payload(discoverable, keys)
}

func (a *Advertiser) payload(discoverable bool, keys [][]byte) ([]byte, error) {
	bat, err := BatteryFrame(a.battery, a.suppressBattery)
	if err != nil {
		return nil, err
	}

	var out []byte
	switch {
	case discoverable:
		out = ModelIDPayload(a.modelID, bat != nil)
	case len(keys) > 0:
		salt := a.address
		random := a.policy == SaltRandom || bat != nil
		if random {
			salt = make([]byte, 1)
			if _, err := rand.Read(salt); err != nil {
				return nil, errors.Wrap(err, "salt")
			}
		}

		frame, err := AccountKeyFrame(keys, salt, bat, a.suppressFilter, random)
		if err != nil {
			return nil, err
		}
		out = append([]byte{accountKeyData}, frame...)
	default:
		return nil, nil
	}

	return append(out, bat...), nil
}

// Refresh rebuilds the payload and publishes it if it changed. Random salts
// make every account key payload differ, which rotates the advertisement.
func (a *Advertiser) Refresh(discoverable bool, keys [][]byte) ([]byte, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	p, err := a.payload(discoverable, keys)
	if err != nil {
		return nil, err
	}

	if p != nil {
		if _, err := NewPacket(Flags(FlagGeneralDiscoverable), ServiceData16(ServiceUUID, p)); err != nil {
			return nil, errors.Wrap(err, "service data")
		}
	}

	if a.published && bytes.Equal(a.last, p) {
		return p, nil
	}

	if a.sink != nil {
		if err := a.sink.Advertise(p); err != nil {
			return nil, errors.Wrap(err, "advertise")
		}
	}
	a.last = p
	a.published = true

	return p, nil
}
