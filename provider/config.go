package provider

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/adv"
	"github.com/rigado/fastpair/fpcrypto"
	"github.com/rigado/fastpair/stream"
)

const (
	DefaultDiscoverableTimeout = 3 * time.Second
	DefaultScanModeRevertDelay = 2 * time.Minute
	// DefaultClassOfDevice is an audio headset.
	DefaultClassOfDevice = 0x240404
	DefaultFirmware      = "1.0.0"
)

// PasskeyConfirmer is asked to confirm matching passkeys when the provider
// has a UI. It must eventually call confirm exactly once.
type PasskeyConfirmer func(dev fastpair.Addr, passkey uint32, confirm func(accept bool))

type Config struct {
	ModelID         uint32
	AntiSpoofingKey *fpcrypto.ECDHKeys

	// BLEAddress is checked first during verification when non-zero.
	BLEAddress    fastpair.Addr
	BrEdrAddress  fastpair.Addr
	ClassOfDevice uint32

	FirmwareVersion string

	DiscoverableTimeout time.Duration
	ScanModeRevertDelay time.Duration
	RingStopDelay       time.Duration

	SaltPolicy        adv.SaltPolicy
	Battery           []adv.Battery
	SuppressBatteryUI bool
	SuppressFilterUI  bool

	RemoveAllDevicesDuringPairing bool
	// DeviceNameNotify enables the encrypted device name notification.
	DeviceNameNotify bool
	// ConfirmPasskey selects UI confirmation; nil accepts iff passkeys match.
	ConfirmPasskey PasskeyConfirmer

	BufferSizes []stream.BufferSize
}

func DefaultConfig() Config {
	return Config{
		ClassOfDevice:       DefaultClassOfDevice,
		FirmwareVersion:     DefaultFirmware,
		DiscoverableTimeout: DefaultDiscoverableTimeout,
		ScanModeRevertDelay: DefaultScanModeRevertDelay,
		RingStopDelay:       stream.DefaultRingStopDelay,
		DeviceNameNotify:    true,
	}
}

// An Option is a configuration function, which configures the simulator.
type Option func(*Config) error

// OptModelID sets the 24-bit model ID.
func OptModelID(id uint32) Option {
	return func(c *Config) error {
		if id >= 1<<24 {
			return errors.Errorf("model id %#x does not fit 24 bits", id)
		}
		c.ModelID = id
		return nil
	}
}

// OptAntiSpoofingKey sets the raw 32-byte anti-spoofing private key.
func OptAntiSpoofingKey(b []byte) Option {
	return func(c *Config) error {
		k, err := fpcrypto.LoadPrivateKey(b)
		if err != nil {
			return errors.Wrap(err, "anti-spoofing key")
		}
		c.AntiSpoofingKey = k
		return nil
	}
}

func OptBLEAddress(a fastpair.Addr) Option {
	return func(c *Config) error {
		c.BLEAddress = a
		return nil
	}
}

func OptBrEdrAddress(a fastpair.Addr) Option {
	return func(c *Config) error {
		c.BrEdrAddress = a
		return nil
	}
}

func OptClassOfDevice(cod uint32) Option {
	return func(c *Config) error {
		c.ClassOfDevice = cod
		return nil
	}
}

func OptFirmwareVersion(v string) Option {
	return func(c *Config) error {
		c.FirmwareVersion = v
		return nil
	}
}

// OptDiscoverableTimeout bounds how long becoming discoverable may take.
func OptDiscoverableTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.DiscoverableTimeout = d
		return nil
	}
}

// OptScanModeRevertDelay sets how long the provider stays discoverable.
func OptScanModeRevertDelay(d time.Duration) Option {
	return func(c *Config) error {
		c.ScanModeRevertDelay = d
		return nil
	}
}

func OptRingStopDelay(d time.Duration) Option {
	return func(c *Config) error {
		c.RingStopDelay = d
		return nil
	}
}

// OptRandomSalt advertises the account key filter with a random salt.
func OptRandomSalt() Option {
	return func(c *Config) error {
		c.SaltPolicy = adv.SaltRandom
		return nil
	}
}

// OptBattery advertises battery values; suppress hides the seeker UI.
func OptBattery(values []adv.Battery, suppress bool) Option {
	return func(c *Config) error {
		if len(values) > 0x0f {
			return errors.Errorf("too many battery values: %d", len(values))
		}
		c.Battery = append([]adv.Battery{}, values...)
		c.SuppressBatteryUI = suppress
		return nil
	}
}

func OptSuppressFilterUI() Option {
	return func(c *Config) error {
		c.SuppressFilterUI = true
		return nil
	}
}

// OptRemoveAllDevicesDuringPairing unbonds other phones on a new pairing.
func OptRemoveAllDevicesDuringPairing() Option {
	return func(c *Config) error {
		c.RemoveAllDevicesDuringPairing = true
		return nil
	}
}

func OptDeviceNameNotify(enable bool) Option {
	return func(c *Config) error {
		c.DeviceNameNotify = enable
		return nil
	}
}

// OptPasskeyConfirmer switches passkey handling to UI confirmation.
func OptPasskeyConfirmer(f PasskeyConfirmer) Option {
	return func(c *Config) error {
		c.ConfirmPasskey = f
		return nil
	}
}

// OptBufferSizes enables dynamic buffer size capability sync.
func OptBufferSizes(sizes []stream.BufferSize) Option {
	return func(c *Config) error {
		c.BufferSizes = append([]stream.BufferSize{}, sizes...)
		return nil
	}
}
