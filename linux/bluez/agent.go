package bluez

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/provider"
)

const (
	agentPath       = defaultObjectRoot + "/agent"
	agentCapability = "DisplayYesNo"

	// DefaultConfirmTimeout bounds how long BlueZ is kept waiting for a
	// passkey decision.
	DefaultConfirmTimeout = 30 * time.Second
)

// PairingHandler decides on pairing requests.
type PairingHandler interface {
	OnPairingRequest(ctx context.Context, req provider.PairingRequest) error
}

// Agent is the default BlueZ pairing agent while registered.
type Agent struct {
	bus      *Bus
	delegate *agentDelegate
}

// agentDelegate holds only the Agent1 methods so nothing else is exported
// on the bus.
type agentDelegate struct {
	ctx     context.Context
	handler PairingHandler
	timeout time.Duration
	logger  fastpair.Logger
}

// RegisterAgent exports the agent and makes it the default. Requests are
// posted to h with ctx.
func RegisterAgent(ctx context.Context, b *Bus, h PairingHandler) (*Agent, error) {
	a := &Agent{
		bus:      b,
		delegate: newAgentDelegate(ctx, h, b.logger),
	}

	if err := b.conn.Export(a.delegate, agentPath, agentIface); err != nil {
		return nil, errors.Wrap(err, "failed to export agent")
	}

	mgr := b.conn.Object(service, "/org/bluez")
	if err := mgr.Call(agentManagerIface+".RegisterAgent", 0, agentPath, agentCapability).Err; err != nil {
		return nil, errors.Wrap(err, "failed to register agent")
	}
	if err := mgr.Call(agentManagerIface+".RequestDefaultAgent", 0, agentPath).Err; err != nil {
		return nil, errors.Wrap(err, "failed to become default agent")
	}
	return a, nil
}

func (a *Agent) Unregister() error {
	err := a.bus.conn.Object(service, "/org/bluez").Call(agentManagerIface+".UnregisterAgent", 0, agentPath).Err
	a.bus.conn.Export(nil, agentPath, agentIface)
	return errors.Wrap(err, "unregister agent")
}

func newAgentDelegate(ctx context.Context, h PairingHandler, l fastpair.Logger) *agentDelegate {
	return &agentDelegate{
		ctx:     ctx,
		handler: h,
		timeout: DefaultConfirmTimeout,
		logger:  l.ChildLogger(map[string]interface{}{"object": "agent"}),
	}
}

func (d *agentDelegate) Release() *dbus.Error {
	d.logger.Info("released")
	return nil
}

// RequestConfirmation blocks until the simulator compares passkeys.
func (d *agentDelegate) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	addr, err := addrFromDevicePath(device)
	if err != nil {
		return dbusError(errRejected, err)
	}

	decision := make(chan bool, 1)
	req := provider.PairingRequest{
		Device:  addr,
		Variant: provider.PairingVariantPasskeyConfirmation,
		Passkey: passkey,
		Confirm: func(accept bool) {
			select {
			case decision <- accept:
			default:
			}
		},
	}
	if err := d.handler.OnPairingRequest(d.ctx, req); err != nil {
		return dbusError(errRejected, err)
	}

	t := time.NewTimer(d.timeout)
	defer t.Stop()

	select {
	case ok := <-decision:
		if ok {
			return nil
		}
		return dbus.NewError(errRejected, []interface{}{"passkey mismatch"})
	case <-t.C:
		return dbus.NewError(errRejected, []interface{}{"confirmation timed out"})
	case <-d.ctx.Done():
		return dbusError(errRejected, d.ctx.Err())
	}
}

// RequestAuthorization accepts just-works pairing.
func (d *agentDelegate) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	d.logger.Infof("authorizing %v", device)
	return nil
}

func (d *agentDelegate) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	return nil
}

func (d *agentDelegate) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	return "", dbus.NewError(errRejected, []interface{}{"pin code pairing not supported"})
}

func (d *agentDelegate) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	return 0, dbus.NewError(errRejected, []interface{}{"passkey entry not supported"})
}

func (d *agentDelegate) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	d.logger.Infof("pin code for %v: %v", device, pincode)
	return nil
}

func (d *agentDelegate) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	d.logger.Infof("passkey for %v: %06d", device, passkey)
	return nil
}

func (d *agentDelegate) Cancel() *dbus.Error {
	d.logger.Info("request cancelled")
	return nil
}
