package bluez

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/provider"
)

// major device class "phone" in a class of device
const majorClassPhone = 0x02

// EventHandler receives adapter broadcasts.
type EventHandler interface {
	OnBondStateChanged(ctx context.Context, dev fastpair.Addr, state provider.BondState) error
	OnDisconnected(ctx context.Context, dev fastpair.Addr) error
	OnScanModeChanged(ctx context.Context, mode provider.ScanMode) error
}

// Adapter drives Adapter1 and Device1.
type Adapter struct {
	bus *Bus
}

func NewAdapter(b *Bus) *Adapter {
	return &Adapter{bus: b}
}

// Address is the adapter's public BR/EDR address.
func (a *Adapter) Address() (fastpair.Addr, error) {
	v, err := a.bus.adapterObject().GetProperty(adapterIface + ".Address")
	if err != nil {
		return fastpair.Addr{}, errors.Wrap(err, "adapter address")
	}
	s, ok := v.Value().(string)
	if !ok {
		return fastpair.Addr{}, errors.New("adapter address is not a string")
	}
	return fastpair.ParseAddr(s)
}

func (a *Adapter) SetScanMode(ctx context.Context, mode provider.ScanMode) error {
	obj := a.bus.adapterObject()
	set := func(prop string, v interface{}) error {
		err := obj.CallWithContext(ctx, propertiesIface+".Set", 0, adapterIface, prop, dbus.MakeVariant(v)).Err
		return errors.Wrapf(err, "set %v", prop)
	}

	if mode == provider.ScanModeConnectableDiscoverable {
		// the simulator reverts discoverability itself
		if err := set("DiscoverableTimeout", uint32(0)); err != nil {
			return err
		}
		if err := set("Pairable", true); err != nil {
			return err
		}
	}
	return set("Discoverable", mode == provider.ScanModeConnectableDiscoverable)
}

func (a *Adapter) ScanMode() provider.ScanMode {
	obj := a.bus.adapterObject()

	powered, err := obj.GetProperty(adapterIface + ".Powered")
	if err != nil || powered.Value() != true {
		return provider.ScanModeNone
	}
	discoverable, err := obj.GetProperty(adapterIface + ".Discoverable")
	if err == nil && discoverable.Value() == true {
		return provider.ScanModeConnectableDiscoverable
	}
	return provider.ScanModeConnectable
}

func (a *Adapter) BondedDevices() ([]provider.Device, error) {
	objects, err := a.bus.managedObjects()
	if err != nil {
		return nil, err
	}
	return bondedDevices(a.bus.adapter, objects), nil
}

func bondedDevices(adapter dbus.ObjectPath, objects managedObjects) []provider.Device {
	var out []provider.Device
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if v, ok := props["Adapter"]; !ok || v.Value() != adapter {
			continue
		}
		if !boolProp(props, "Bonded") && !boolProp(props, "Paired") {
			continue
		}

		addr, err := addrFromDevicePath(path)
		if err != nil {
			continue
		}
		class, _ := props["Class"].Value().(uint32)
		out = append(out, provider.Device{Address: addr, Phone: isPhone(class)})
	}
	return out
}

func (a *Adapter) RemoveBond(ctx context.Context, addr fastpair.Addr) error {
	err := a.bus.adapterObject().CallWithContext(ctx, adapterIface+".RemoveDevice", 0, devicePath(a.bus.adapter, addr)).Err
	return errors.Wrapf(err, "remove %v", addr)
}

func (a *Adapter) CreateBond(ctx context.Context, addr fastpair.Addr) error {
	obj := a.bus.conn.Object(service, devicePath(a.bus.adapter, addr))
	return errors.Wrapf(obj.CallWithContext(ctx, deviceIface+".Pair", 0).Err, "pair %v", addr)
}

// Watch forwards adapter and device property changes to h until ctx ends.
func (a *Adapter) Watch(ctx context.Context, h EventHandler) error {
	rule := "type='signal',interface='" + propertiesIface + "',member='PropertiesChanged',path_namespace='" + string(a.bus.adapter) + "'"
	if err := a.bus.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return errors.Wrap(err, "failed to add match rule")
	}

	signals := make(chan *dbus.Signal, 16)
	a.bus.conn.Signal(signals)
	defer a.bus.conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return errors.New("signal channel closed")
			}
			if err := a.dispatch(ctx, sig, h); err != nil {
				a.bus.logger.Warnf("%v: %v", sig.Path, err)
			}
		}
	}
}

func (a *Adapter) dispatch(ctx context.Context, sig *dbus.Signal, h EventHandler) error {
	if sig.Name != propertiesIface+".PropertiesChanged" || len(sig.Body) < 2 {
		return nil
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return nil
	}
	changes, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return nil
	}

	switch iface {
	case adapterIface:
		if v, ok := changes["Discoverable"]; ok {
			mode := provider.ScanModeConnectable
			if v.Value() == true {
				mode = provider.ScanModeConnectableDiscoverable
			}
			return h.OnScanModeChanged(ctx, mode)
		}

	case deviceIface:
		addr, err := addrFromDevicePath(sig.Path)
		if err != nil {
			return err
		}
		for _, prop := range []string{"Bonded", "Paired"} {
			if v, ok := changes[prop]; ok {
				state := provider.BondNone
				if v.Value() == true {
					state = provider.BondBonded
				}
				if err := h.OnBondStateChanged(ctx, addr, state); err != nil {
					return err
				}
				break
			}
		}
		if v, ok := changes["Connected"]; ok && v.Value() == false {
			return h.OnDisconnected(ctx, addr)
		}
	}
	return nil
}

func isPhone(class uint32) bool {
	return (class>>8)&0x1f == majorClassPhone
}

func boolProp(props map[string]dbus.Variant, name string) bool {
	v, ok := props[name]
	return ok && v.Value() == true
}
