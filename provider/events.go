package provider

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/stream"
)

// Event is everything the simulator loop consumes. The set is closed.
type Event interface {
	event()
}

type GattWrite struct {
	Device         fastpair.Addr
	Characteristic uuid.UUID
	Value          []byte
}

type GattRead struct {
	Device         fastpair.Addr
	Characteristic uuid.UUID
}

// RfcommFrame is a frame received on a message stream session.
type RfcommFrame struct {
	Session *stream.Session
	Frame   stream.Frame
}

type PairingVariant int

const (
	PairingVariantPin PairingVariant = iota
	PairingVariantPasskey
	PairingVariantPasskeyConfirmation
	PairingVariantConsent
)

// PairingRequest is the adapter asking the provider to confirm a bond.
// Confirm reports the decision back to the adapter.
type PairingRequest struct {
	Device  fastpair.Addr
	Variant PairingVariant
	Passkey uint32
	Confirm func(accept bool)
}

type BondStateChanged struct {
	Device fastpair.Addr
	State  BondState
}

type Disconnected struct {
	Device fastpair.Addr
}

type ScanModeChanged struct {
	Mode ScanMode
}

// posted by the worker when a notification could not be sent
type notifyFailed struct {
	desc string
	err  error
}

// posted by the scan mode scheduler
type revertScanMode struct {
	generation uint64
}

func (GattWrite) event()        {}
func (GattRead) event()         {}
func (RfcommFrame) event()      {}
func (PairingRequest) event()   {}
func (BondStateChanged) event() {}
func (Disconnected) event()     {}
func (ScanModeChanged) event()  {}
func (notifyFailed) event()     {}
func (revertScanMode) event()   {}

func (e GattWrite) String() string {
	return fmt.Sprintf("write %v from %v: %x", e.Characteristic, e.Device, e.Value)
}

func (e GattRead) String() string {
	return fmt.Sprintf("read %v from %v", e.Characteristic, e.Device)
}

type result struct {
	value []byte
	err   error
}

type envelope struct {
	ev   Event
	done chan result
}
