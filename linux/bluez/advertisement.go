package bluez

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
)

const advPath = defaultObjectRoot + "/advertisement0"

const advIntrospect = `
<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
"http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
	<interface name="org.bluez.LEAdvertisement1">
		<method name="Release"/>
		<property name="Type" type="s" access="read"/>
		<property name="ServiceUUIDs" type="as" access="read"/>
		<property name="ServiceData" type="a{sv}" access="read"/>
		<property name="Includes" type="as" access="read"/>
	</interface>
	<interface name="org.freedesktop.DBus.Properties">
		<method name="Get">
			<arg name="interface_name" type="s" direction="in"/>
			<arg name="property_name" type="s" direction="in"/>
			<arg name="value" type="v" direction="out"/>
		</method>
		<method name="GetAll">
			<arg name="interface_name" type="s" direction="in"/>
			<arg name="properties" type="a{sv}" direction="out"/>
		</method>
	</interface>
</node>`

// Advertisement publishes the Fast Pair service data through
// LEAdvertisingManager1. It satisfies adv.Sink.
type Advertisement struct {
	bus   *Bus
	props *properties

	// held across register calls; BlueZ reads props from another goroutine
	lock       sync.Mutex
	registered bool
}

type advRelease struct {
	logger fastpair.Logger
}

func (r advRelease) Release() *dbus.Error {
	r.logger.Info("advertisement released")
	return nil
}

// NewAdvertisement exports an advertisement object. Nothing is advertised
// until the first call to Advertise.
func NewAdvertisement(b *Bus) (*Advertisement, error) {
	a := &Advertisement{
		bus:   b,
		props: newProperties(advIface, advProperties(nil)),
	}

	exports := []struct {
		v     interface{}
		iface string
	}{
		{advRelease{logger: b.logger}, advIface},
		{a.props, propertiesIface},
		{introspect.Introspectable(advIntrospect), introspectIface},
	}
	for _, e := range exports {
		if err := b.conn.Export(e.v, advPath, e.iface); err != nil {
			return nil, errors.Wrapf(err, "failed to export %v", e.iface)
		}
	}
	return a, nil
}

func advProperties(serviceData []byte) map[string]dbus.Variant {
	p := map[string]dbus.Variant{
		"Type":         dbus.MakeVariant("peripheral"),
		"ServiceUUIDs": dbus.MakeVariant([]string{fastpair.ServiceUUID.String()}),
		"Includes":     dbus.MakeVariant([]string{"tx-power"}),
	}
	if serviceData != nil {
		p["ServiceData"] = dbus.MakeVariant(map[string]dbus.Variant{
			fastpair.ServiceUUID.String(): dbus.MakeVariant(serviceData),
		})
	}
	return p
}

// Advertise replaces the advertised service data. BlueZ only reads
// advertisement properties at registration, so the object is registered
// again. nil withdraws the advertisement.
func (a *Advertisement) Advertise(serviceData []byte) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.registered {
		if err := a.unregister(); err != nil {
			return err
		}
	}
	if serviceData == nil {
		a.props.remove("ServiceData")
		return nil
	}

	a.props.update("ServiceData", map[string]dbus.Variant{
		fastpair.ServiceUUID.String(): dbus.MakeVariant(append([]byte{}, serviceData...)),
	})

	err := a.bus.adapterObject().Call(advManagerIface+".RegisterAdvertisement", 0, advPath, map[string]dbus.Variant{}).Err
	if err != nil {
		return errors.Wrap(err, "failed to register advertisement")
	}
	a.registered = true
	return nil
}

func (a *Advertisement) Close() error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if !a.registered {
		return nil
	}
	return a.unregister()
}

func (a *Advertisement) unregister() error {
	a.registered = false
	err := a.bus.adapterObject().Call(advManagerIface+".UnregisterAdvertisement", 0, advPath).Err
	return errors.Wrap(err, "failed to unregister advertisement")
}
