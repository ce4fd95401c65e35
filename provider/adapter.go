package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rigado/fastpair"
)

type ScanMode int

const (
	ScanModeNone ScanMode = iota
	ScanModeConnectable
	ScanModeConnectableDiscoverable
)

func (m ScanMode) String() string {
	switch m {
	case ScanModeNone:
		return "none"
	case ScanModeConnectable:
		return "connectable"
	case ScanModeConnectableDiscoverable:
		return "connectable-discoverable"
	}
	return fmt.Sprintf("ScanMode(%d)", int(m))
}

type BondState int

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

func (b BondState) String() string {
	switch b {
	case BondNone:
		return "none"
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	}
	return fmt.Sprintf("BondState(%d)", int(b))
}

// Device is a bonded remote device as reported by the adapter.
type Device struct {
	Address fastpair.Addr
	// Phone is set for the phone major device class.
	Phone bool
}

// Adapter is the local Bluetooth controller.
type Adapter interface {
	// SetScanMode returns once the mode is in effect or ctx is done.
	SetScanMode(ctx context.Context, mode ScanMode) error
	ScanMode() ScanMode

	BondedDevices() ([]Device, error)
	RemoveBond(ctx context.Context, addr fastpair.Addr) error
	CreateBond(ctx context.Context, addr fastpair.Addr) error
}

// Notifier sends a GATT notification or indication to one connected device.
type Notifier interface {
	Notify(dev fastpair.Addr, characteristic uuid.UUID, value []byte) error
}
