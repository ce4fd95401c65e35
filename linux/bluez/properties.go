package bluez

import (
	"sync"

	"github.com/godbus/dbus/v5"
)

// properties serves org.freedesktop.DBus.Properties for one interface of an
// exported object. Every property is read-only to the bus.
type properties struct {
	iface string

	lock   sync.RWMutex
	values map[string]dbus.Variant
}

func newProperties(iface string, values map[string]dbus.Variant) *properties {
	return &properties{iface: iface, values: values}
}

func (p *properties) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	if iface != p.iface {
		return dbus.Variant{}, dbus.NewError(errUnknownIface, []interface{}{iface})
	}

	p.lock.RLock()
	defer p.lock.RUnlock()

	v, ok := p.values[name]
	if !ok {
		return dbus.Variant{}, dbus.NewError(errUnknownProp, []interface{}{name})
	}
	return v, nil
}

func (p *properties) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != p.iface {
		return nil, dbus.NewError(errUnknownIface, []interface{}{iface})
	}
	return p.snapshot(), nil
}

func (p *properties) Set(iface, name string, value dbus.Variant) *dbus.Error {
	return dbus.NewError(errPropReadOnly, []interface{}{name})
}

func (p *properties) snapshot() map[string]dbus.Variant {
	p.lock.RLock()
	defer p.lock.RUnlock()

	out := make(map[string]dbus.Variant, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// update sets name locally; callers emit PropertiesChanged themselves.
func (p *properties) update(name string, value interface{}) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.values[name] = dbus.MakeVariant(value)
}

func (p *properties) remove(name string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.values, name)
}
