//go:build linux

package bluez

import (
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"phony/internal/dbusx"
)

// Bus is the part of *dbus.Conn the adapter calls through.
type Bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Export(v interface{}, path dbus.ObjectPath, iface string) error
}

// Subscriber installs signal subscriptions; *dbusx.Router implements it.
type Subscriber interface {
	Subscribe(m dbusx.Match, h func(*dbus.Signal)) (cancel func(), err error)
}

// BlueZ5 is the Adapter backed by the org.bluez service.
type BlueZ5 struct {
	bus     Bus
	signals Subscriber
	pattern string
	log     *logrus.Entry

	started bool
	info    Info
	devices *tracker
	agent   *agent

	onConnected    []func(Device)
	onDisconnected []func(Device)

	// released in reverse order by Stop
	cleanup []func()
}

var _ Adapter = (*BlueZ5)(nil)

// NewBlueZ5 returns an adapter that will bind to the controller matching
// pattern (address or hciN suffix; empty picks the first one) on Start.
func NewBlueZ5(bus Bus, signals Subscriber, pattern string, log *logrus.Entry) *BlueZ5 {
	return &BlueZ5{bus: bus, signals: signals, pattern: pattern, log: log}
}

func (a *BlueZ5) Start(name, pin string) error {
	if a.started {
		return nil
	}
	objs, err := a.managedObjects()
	if err != nil {
		return err
	}
	path, props, ok := findAdapter(objs, a.pattern)
	if !ok {
		if a.pattern == "" {
			return errors.New("bluez: no adapter present")
		}
		return errors.Errorf("bluez: no adapter matches %q", a.pattern)
	}
	a.info = infoFromProps(path, props)
	a.devices = newTracker(path)
	a.log = a.log.WithField("adapter", a.info.HCI)

	if err := a.subscribe(path); err != nil {
		a.release()
		return err
	}
	if name != "" {
		if err := a.setAdapter("Alias", name); err != nil {
			a.release()
			return err
		}
		a.info.Alias = name
	}
	if err := a.setAdapter("Powered", true); err != nil {
		a.release()
		return err
	}
	a.info.Powered = true
	if err := a.registerAgent(pin); err != nil {
		a.release()
		return err
	}
	a.started = true
	a.log.WithField("info", a.info.String()).Info("adapter started")

	// Re-read after subscribing so a connection landing in between is
	// reported by exactly one of the two paths.
	objs, err = a.managedObjects()
	if err != nil {
		a.log.WithError(err).Warn("reconcile devices")
		return nil
	}
	for p, ifaces := range objs {
		if props, ok := ifaces[deviceIface]; ok {
			if d, tr := a.devices.added(p, props, true); tr == becameConnected {
				a.notify(d, tr)
			}
		}
	}
	return nil
}

func (a *BlueZ5) subscribe(adapter dbus.ObjectPath) error {
	cancel, err := a.signals.Subscribe(dbusx.Match{
		Sender:        bluezService,
		PathNamespace: adapter,
		Interface:     dbusx.PropertiesInterface,
		Member:        "PropertiesChanged",
		Arg0:          deviceIface,
	}, a.propertiesChanged)
	if err != nil {
		return err
	}
	a.cleanup = append(a.cleanup, cancel)

	for _, member := range []string{"InterfacesAdded", "InterfacesRemoved"} {
		cancel, err := a.signals.Subscribe(dbusx.Match{
			Sender:    bluezService,
			Interface: dbusx.ObjectManagerInterface,
			Member:    member,
		}, a.objectsChanged)
		if err != nil {
			return err
		}
		a.cleanup = append(a.cleanup, cancel)
	}
	return nil
}

func (a *BlueZ5) registerAgent(pin string) error {
	a.agent = newAgent(pin, a.log.WithField("agent", string(AgentPath)))
	if err := a.bus.Export(a.agent, AgentPath, agentIface); err != nil {
		return errors.Wrap(err, "bluez: export agent")
	}
	if err := a.bus.Export(introspect.NewIntrospectable(&agentIntrospection), AgentPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return errors.Wrap(err, "bluez: export agent introspection")
	}
	a.cleanup = append(a.cleanup, func() {
		_ = a.bus.Export(nil, AgentPath, agentIface)
		_ = a.bus.Export(nil, AgentPath, "org.freedesktop.DBus.Introspectable")
	})

	mgr := a.bus.Object(bluezService, "/org/bluez")
	if call := mgr.Call(agentManagerIface+".RegisterAgent", 0, AgentPath, AgentCapability); call.Err != nil {
		return errors.Wrap(call.Err, "bluez: register agent")
	}
	a.cleanup = append(a.cleanup, func() {
		if err := mgr.Call(agentManagerIface+".UnregisterAgent", 0, AgentPath).Err; err != nil {
			a.log.WithError(err).Debug("unregister agent")
		}
	})
	if call := mgr.Call(agentManagerIface+".RequestDefaultAgent", 0, AgentPath); call.Err != nil {
		return errors.Wrap(call.Err, "bluez: request default agent")
	}
	return nil
}

func (a *BlueZ5) Stop() {
	if !a.started {
		return
	}
	if a.info.Pairable {
		if err := a.DisablePairability(); err != nil {
			a.log.WithError(err).Warn("disable pairability")
		}
	}
	a.DisconnectAllDevices()
	a.release()
	a.started = false
	a.log.Info("adapter stopped")
}

func (a *BlueZ5) release() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

func (a *BlueZ5) EnablePairability(timeout time.Duration) error {
	secs := uint32(timeout / time.Second)
	for _, p := range []struct {
		name  string
		value interface{}
	}{
		{"PairableTimeout", secs},
		{"DiscoverableTimeout", secs},
		{"Pairable", true},
		{"Discoverable", true},
	} {
		if err := a.setAdapter(p.name, p.value); err != nil {
			return err
		}
	}
	a.info.Pairable, a.info.Discoverable = true, true
	a.log.WithField("timeout", timeout).Info("pairability enabled")
	return nil
}

func (a *BlueZ5) DisablePairability() error {
	if err := a.setAdapter("Pairable", false); err != nil {
		return err
	}
	if err := a.setAdapter("PairableTimeout", uint32(0)); err != nil {
		return err
	}
	// BlueZ restarts the discoverable countdown when the timeout is written.
	secs := uint32(SecondaryDiscoverableTimeout / time.Second)
	if err := a.setAdapter("DiscoverableTimeout", secs); err != nil {
		return err
	}
	a.info.Pairable = false
	a.log.Info("pairability disabled")
	return nil
}

func (a *BlueZ5) DisconnectAllDevices() {
	if a.devices == nil {
		return
	}
	for _, d := range a.devices.connected() {
		a.disconnect(d)
	}
}

func (a *BlueZ5) ReleaseDevice(d Device) {
	if a.devices == nil {
		return
	}
	if cur, ok := a.devices.devices[d.Path]; ok && cur.Connected {
		a.disconnect(cur)
	}
}

func (a *BlueZ5) disconnect(d Device) {
	if err := a.bus.Object(bluezService, d.Path).Call(deviceIface+".Disconnect", 0).Err; err != nil {
		a.log.WithError(err).WithField("device", d.String()).Warn("disconnect failed")
		return
	}
	a.log.WithField("device", d.String()).Info("disconnected")
}

// CancelPendingOperations has nothing to abandon: every adapter call above
// is a synchronous round trip on the loop goroutine.
func (a *BlueZ5) CancelPendingOperations() {}

func (a *BlueZ5) OnDeviceConnected(fn func(Device)) { a.onConnected = append(a.onConnected, fn) }
func (a *BlueZ5) OnDeviceDisconnected(fn func(Device)) { a.onDisconnected = append(a.onDisconnected, fn) }

func (a *BlueZ5) Info() Info { return a.info }

func (a *BlueZ5) String() string { return a.info.String() }

func (a *BlueZ5) propertiesChanged(sig *dbus.Signal) {
	var (
		iface       string
		changed     map[string]dbus.Variant
		invalidated []string
	)
	if err := dbus.Store(sig.Body, &iface, &changed, &invalidated); err != nil {
		a.log.WithError(err).Debug("malformed PropertiesChanged")
		return
	}
	d, tr := a.devices.changed(sig.Path, changed)
	a.notify(d, tr)
}

func (a *BlueZ5) objectsChanged(sig *dbus.Signal) {
	switch sig.Name {
	case dbusx.ObjectManagerInterface + ".InterfacesAdded":
		var (
			path   dbus.ObjectPath
			ifaces map[string]map[string]dbus.Variant
		)
		if err := dbus.Store(sig.Body, &path, &ifaces); err != nil {
			a.log.WithError(err).Debug("malformed InterfacesAdded")
			return
		}
		if props, ok := ifaces[deviceIface]; ok {
			d, tr := a.devices.added(path, props, false)
			a.notify(d, tr)
		}
	case dbusx.ObjectManagerInterface + ".InterfacesRemoved":
		var (
			path   dbus.ObjectPath
			ifaces []string
		)
		if err := dbus.Store(sig.Body, &path, &ifaces); err != nil {
			a.log.WithError(err).Debug("malformed InterfacesRemoved")
			return
		}
		for _, i := range ifaces {
			if i == deviceIface {
				d, tr := a.devices.removed(path)
				a.notify(d, tr)
			}
		}
	}
}

func (a *BlueZ5) notify(d Device, tr transition) {
	switch tr {
	case becameConnected:
		a.log.WithField("device", d.String()).Info("device connected")
		for _, fn := range a.onConnected {
			fn(d)
		}
	case becameDisconnected:
		a.log.WithField("device", d.String()).Info("device disconnected")
		for _, fn := range a.onDisconnected {
			fn(d)
		}
	}
}

func (a *BlueZ5) setAdapter(prop string, value interface{}) error {
	obj := a.bus.Object(bluezService, a.info.Path)
	call := obj.Call(dbusx.PropertiesInterface+".Set", 0, adapterIface, prop, dbus.MakeVariant(value))
	return errors.Wrapf(call.Err, "bluez: set %s", prop)
}

func (a *BlueZ5) managedObjects() (dbusx.ManagedObjects, error) {
	var objs dbusx.ManagedObjects
	call := a.bus.Object(bluezService, "/").Call(dbusx.ObjectManagerInterface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, errors.Wrap(call.Err, "bluez: GetManagedObjects")
	}
	if err := call.Store(&objs); err != nil {
		return nil, errors.Wrap(err, "bluez: decode GetManagedObjects")
	}
	return objs, nil
}

func infoFromProps(path dbus.ObjectPath, p dbusx.Props) Info {
	return Info{
		Path:         path,
		HCI:          HCIFromPath(path),
		Address:      p.String("Address"),
		Name:         p.String("Name"),
		Alias:        p.String("Alias"),
		Class:        p.Uint32("Class"),
		Powered:      p.Bool("Powered"),
		Discoverable: p.Bool("Discoverable"),
		Pairable:     p.Bool("Pairable"),
	}
}
