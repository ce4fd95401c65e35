// Package bluez binds the simulator to BlueZ over the system D-Bus.
package bluez

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
)

const (
	service = "org.bluez"

	adapterIface       = service + ".Adapter1"
	deviceIface        = service + ".Device1"
	agentManagerIface  = service + ".AgentManager1"
	agentIface         = service + ".Agent1"
	advManagerIface    = service + ".LEAdvertisingManager1"
	advIface           = service + ".LEAdvertisement1"
	gattManagerIface   = service + ".GattManager1"
	gattServiceIface   = service + ".GattService1"
	gattCharIface      = service + ".GattCharacteristic1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"
	introspectIface    = "org.freedesktop.DBus.Introspectable"

	errRejected       = service + ".Error.Rejected"
	errFailed         = service + ".Error.Failed"
	errNotSupported   = service + ".Error.NotSupported"
	errUnknownIface   = "org.freedesktop.DBus.Error.UnknownInterface"
	errUnknownProp    = "org.freedesktop.DBus.Error.UnknownProperty"
	errPropReadOnly   = "org.freedesktop.DBus.Error.PropertyReadOnly"
	rootPath          = dbus.ObjectPath("/")
	defaultObjectRoot = dbus.ObjectPath("/com/rigado/fastpair")
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Bus is a system bus connection scoped to one adapter.
type Bus struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	logger  fastpair.Logger
}

// Connect opens the system bus for the adapter named like "hci0".
func Connect(adapter string) (*Bus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to system bus")
	}

	b := &Bus{
		conn:    conn,
		adapter: dbus.ObjectPath("/org/bluez/" + adapter),
		logger:  fastpair.Component("bluez").ChildLogger(map[string]interface{}{"adapter": adapter}),
	}

	if _, err := b.adapterObject().GetProperty(adapterIface + ".Address"); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "adapter %v not available", adapter)
	}
	return b, nil
}

func (b *Bus) Close() error {
	return b.conn.Close()
}

func (b *Bus) adapterObject() dbus.BusObject {
	return b.conn.Object(service, b.adapter)
}

func (b *Bus) managedObjects() (managedObjects, error) {
	var objects managedObjects
	err := b.conn.Object(service, rootPath).Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get managed objects")
	}
	return objects, nil
}

// devicePath is where BlueZ keeps the device object for addr.
func devicePath(adapter dbus.ObjectPath, addr fastpair.Addr) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapter, strings.Replace(addr.String(), ":", "_", -1)))
}

// addrFromDevicePath parses the address out of ".../dev_AA_BB_CC_DD_EE_FF".
func addrFromDevicePath(p dbus.ObjectPath) (fastpair.Addr, error) {
	s := string(p)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return fastpair.Addr{}, errors.Errorf("not a device path: %v", p)
	}
	return fastpair.ParseAddr(strings.Replace(s[i+len("/dev_"):], "_", ":", -1))
}

func dbusError(name string, err error) *dbus.Error {
	return dbus.NewError(name, []interface{}{err.Error()})
}
