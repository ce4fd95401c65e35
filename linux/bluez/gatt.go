package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
)

const appPath = defaultObjectRoot + "/app"

const appIntrospect = `
<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
"http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
	<interface name="org.freedesktop.DBus.ObjectManager">
		<method name="GetManagedObjects">
			<arg name="objects" type="a{oa{sa{sv}}}" direction="out"/>
		</method>
	</interface>
</node>`

// Characteristics is where GATT reads and writes end up.
type Characteristics interface {
	WriteCharacteristic(ctx context.Context, dev fastpair.Addr, characteristic uuid.UUID, value []byte) error
	ReadCharacteristic(ctx context.Context, dev fastpair.Addr, characteristic uuid.UUID) ([]byte, error)
}

type charSpec struct {
	uuid  uuid.UUID
	flags []string
}

type serviceSpec struct {
	uuid  uuid.UUID
	chars []charSpec
}

var (
	flagsRead        = []string{"read"}
	flagsWriteNotify = []string{"write", "notify"}
)

var services = []serviceSpec{
	{fastpair.ServiceUUID, []charSpec{
		{fastpair.ModelIDUUID, flagsRead},
		{fastpair.KeyBasedPairingUUID, flagsWriteNotify},
		{fastpair.PasskeyUUID, flagsWriteNotify},
		{fastpair.AccountKeyUUID, []string{"write"}},
		{fastpair.AdditionalDataUUID, flagsWriteNotify},
		{fastpair.BeaconActionsUUID, []string{"read", "write", "notify"}},
	}},
	{fastpair.TransportDiscoveryServiceUUID, []charSpec{
		{fastpair.TDSControlPointUUID, []string{"write", "indicate"}},
		{fastpair.BrEdrHandoverDataUUID, flagsRead},
		{fastpair.BluetoothSigDataUUID, flagsRead},
	}},
	{fastpair.DeviceInformationServiceUUID, []charSpec{
		{fastpair.FirmwareRevisionUUID, flagsRead},
	}},
}

// Application is the GATT database registered with GattManager1. It is
// also the simulator's Notifier.
type Application struct {
	bus     *Bus
	ctx     context.Context
	handler Characteristics
	logger  fastpair.Logger

	serviceProps map[dbus.ObjectPath]*properties
	chars        map[uuid.UUID]*characteristic
}

type characteristic struct {
	app   *Application
	path  dbus.ObjectPath
	uuid  uuid.UUID
	props *properties
}

type objectManager struct {
	app *Application
}

func (m objectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	return m.app.managedObjects(), nil
}

func newApplication(l fastpair.Logger) *Application {
	a := &Application{
		logger:       l.ChildLogger(map[string]interface{}{"object": "gatt"}),
		serviceProps: map[dbus.ObjectPath]*properties{},
		chars:        map[uuid.UUID]*characteristic{},
	}

	for i, svc := range services {
		sp := dbus.ObjectPath(fmt.Sprintf("%s/service%d", appPath, i))
		a.serviceProps[sp] = newProperties(gattServiceIface, map[string]dbus.Variant{
			"UUID":    dbus.MakeVariant(svc.uuid.String()),
			"Primary": dbus.MakeVariant(true),
		})

		for j, cs := range svc.chars {
			cp := dbus.ObjectPath(fmt.Sprintf("%s/char%d", sp, j))
			a.chars[cs.uuid] = &characteristic{
				app:  a,
				path: cp,
				uuid: cs.uuid,
				props: newProperties(gattCharIface, map[string]dbus.Variant{
					"UUID":      dbus.MakeVariant(cs.uuid.String()),
					"Service":   dbus.MakeVariant(sp),
					"Flags":     dbus.MakeVariant(cs.flags),
					"Notifying": dbus.MakeVariant(false),
				}),
			}
		}
	}
	return a
}

// NewApplication builds the GATT database. It can send notifications as soon
// as it is registered.
func NewApplication(b *Bus) *Application {
	a := newApplication(b.logger)
	a.bus = b
	return a
}

// Register exports the GATT database and registers it on the adapter.
// Reads and writes go to h with ctx.
func (a *Application) Register(ctx context.Context, h Characteristics) error {
	a.ctx = ctx
	a.handler = h

	conn := a.bus.conn
	export := func(v interface{}, path dbus.ObjectPath, iface string) error {
		return errors.Wrapf(conn.Export(v, path, iface), "failed to export %v %v", path, iface)
	}

	if err := export(objectManager{a}, appPath, objectManagerIface); err != nil {
		return err
	}
	if err := export(introspect.Introspectable(appIntrospect), appPath, introspectIface); err != nil {
		return err
	}
	for path, p := range a.serviceProps {
		if err := export(p, path, propertiesIface); err != nil {
			return err
		}
	}
	for _, c := range a.chars {
		if err := export(c, c.path, gattCharIface); err != nil {
			return err
		}
		if err := export(c.props, c.path, propertiesIface); err != nil {
			return err
		}
	}

	err := a.bus.adapterObject().Call(gattManagerIface+".RegisterApplication", 0, appPath, map[string]dbus.Variant{}).Err
	return errors.Wrap(err, "failed to register application")
}

func (a *Application) Unregister() error {
	err := a.bus.adapterObject().Call(gattManagerIface+".UnregisterApplication", 0, appPath).Err
	return errors.Wrap(err, "unregister application")
}

func (a *Application) managedObjects() managedObjects {
	objects := managedObjects{}
	for path, p := range a.serviceProps {
		objects[path] = map[string]map[string]dbus.Variant{gattServiceIface: p.snapshot()}
	}
	for _, c := range a.chars {
		objects[c.path] = map[string]map[string]dbus.Variant{gattCharIface: c.props.snapshot()}
	}
	return objects
}

// Notify sends value to the subscribed seeker. BlueZ cannot address a
// single peer, so dev is only logged.
func (a *Application) Notify(dev fastpair.Addr, characteristic uuid.UUID, value []byte) error {
	c, ok := a.chars[characteristic]
	if !ok {
		return errors.Wrapf(fastpair.ErrUnsupported, "characteristic %v", characteristic)
	}
	if !c.notifying() {
		return errors.Wrapf(fastpair.ErrTransport, "%v has no subscriber", characteristic)
	}

	v := append([]byte{}, value...)
	c.props.update("Value", v)

	a.logger.Debugf("notify %v %v: %x", dev, characteristic, v)
	if a.bus == nil {
		return nil
	}
	err := a.bus.conn.Emit(c.path, propertiesIface+".PropertiesChanged",
		gattCharIface, map[string]dbus.Variant{"Value": dbus.MakeVariant(v)}, []string{})
	if err != nil {
		return errors.Wrap(fastpair.ErrTransport, err.Error())
	}
	return nil
}

func (c *characteristic) notifying() bool {
	v, _ := c.props.Get(gattCharIface, "Notifying")
	return v.Value() == true
}

func (c *characteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	dev := deviceOption(options)

	b, err := c.app.handler.ReadCharacteristic(c.app.ctx, dev, c.uuid)
	if err != nil {
		return nil, gattError(err)
	}

	if v, ok := options["offset"]; ok {
		if off, ok := v.Value().(uint16); ok {
			if int(off) > len(b) {
				return nil, dbus.NewError(service+".Error.InvalidOffset", []interface{}{off})
			}
			b = b[off:]
		}
	}
	return b, nil
}

func (c *characteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	dev := deviceOption(options)
	if err := c.app.handler.WriteCharacteristic(c.app.ctx, dev, c.uuid, value); err != nil {
		return gattError(err)
	}
	return nil
}

func (c *characteristic) StartNotify() *dbus.Error {
	c.props.update("Notifying", true)
	return nil
}

func (c *characteristic) StopNotify() *dbus.Error {
	c.props.update("Notifying", false)
	return nil
}

func deviceOption(options map[string]dbus.Variant) fastpair.Addr {
	v, ok := options["device"]
	if !ok {
		return fastpair.Addr{}
	}
	p, ok := v.Value().(dbus.ObjectPath)
	if !ok {
		return fastpair.Addr{}
	}
	addr, _ := addrFromDevicePath(p)
	return addr
}

func gattError(err error) *dbus.Error {
	if errors.Cause(err) == fastpair.ErrUnsupported {
		return dbusError(errNotSupported, err)
	}
	return dbusError(errFailed, err)
}
