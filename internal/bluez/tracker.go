package bluez

import (
	"strings"

	dbus "github.com/godbus/dbus/v5"

	"phony/internal/dbusx"
)

type transition int

const (
	noChange transition = iota
	becameConnected
	becameDisconnected
)

// tracker caches the devices below one adapter so that Connected deltas
// are reported once per physical change, however many signals BlueZ sends.
type tracker struct {
	adapter dbus.ObjectPath
	devices map[dbus.ObjectPath]Device
}

func newTracker(adapter dbus.ObjectPath) *tracker {
	return &tracker{adapter: adapter, devices: make(map[dbus.ObjectPath]Device)}
}

func (t *tracker) owns(path dbus.ObjectPath) bool {
	return strings.HasPrefix(string(path), string(t.adapter)+"/")
}

// added records a Device1 object from InterfacesAdded or a managed-objects
// snapshot. With requirePaired, a connected but unpaired device does not
// count as connected (startup reconciliation).
func (t *tracker) added(path dbus.ObjectPath, props dbusx.Props, requirePaired bool) (Device, transition) {
	if !t.owns(path) {
		return Device{}, noChange
	}
	prev, known := t.devices[path]
	d := deviceFromProps(path, props)
	connected := d.Connected && (!requirePaired || d.Paired)
	d.Connected = connected
	t.devices[path] = d
	if connected && (!known || !prev.Connected) {
		return d, becameConnected
	}
	return d, noChange
}

// changed applies a PropertiesChanged delta.
func (t *tracker) changed(path dbus.ObjectPath, props dbusx.Props) (Device, transition) {
	if !t.owns(path) {
		return Device{}, noChange
	}
	d, known := t.devices[path]
	if !known {
		d = Device{Path: path, Address: AddressFromPath(path)}
	}
	if props.Has("Name") {
		d.Name = props.String("Name")
	} else if props.Has("Alias") && d.Name == "" {
		d.Name = props.String("Alias")
	}
	if props.Has("Address") {
		d.Address = props.String("Address")
	}
	if props.Has("Paired") {
		d.Paired = props.Bool("Paired")
	}
	was := d.Connected
	if props.Has("Connected") {
		d.Connected = props.Bool("Connected")
	}
	t.devices[path] = d
	switch {
	case d.Connected && !was:
		return d, becameConnected
	case !d.Connected && was:
		return d, becameDisconnected
	}
	return d, noChange
}

// removed forgets a device; a connected device disappearing counts as a
// disconnect.
func (t *tracker) removed(path dbus.ObjectPath) (Device, transition) {
	d, known := t.devices[path]
	if !known {
		return Device{}, noChange
	}
	delete(t.devices, path)
	if d.Connected {
		d.Connected = false
		return d, becameDisconnected
	}
	return d, noChange
}

func (t *tracker) connected() []Device {
	var out []Device
	for _, d := range t.devices {
		if d.Connected {
			out = append(out, d)
		}
	}
	return out
}

func deviceFromProps(path dbus.ObjectPath, props dbusx.Props) Device {
	d := Device{
		Path:      path,
		Address:   props.String("Address"),
		Name:      props.String("Name"),
		Paired:    props.Bool("Paired"),
		Connected: props.Bool("Connected"),
	}
	if d.Name == "" {
		d.Name = props.String("Alias")
	}
	if d.Address == "" {
		d.Address = AddressFromPath(path)
	}
	return d
}

// AddressFromPath extracts the MAC from .../dev_XX_XX_XX_XX_XX_XX.
func AddressFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	mac := s[idx+5:]
	if i := strings.Index(mac, "/"); i >= 0 {
		mac = mac[:i]
	}
	return strings.ToUpper(strings.ReplaceAll(mac, "_", ":"))
}

// HCIFromPath returns the last path element of an adapter path (hci0).
func HCIFromPath(p dbus.ObjectPath) string {
	s := string(p)
	return s[strings.LastIndex(s, "/")+1:]
}

// findAdapter picks the adapter whose address or HCI name matches pattern,
// or the first adapter (lowest path) when pattern is empty.
func findAdapter(objs dbusx.ManagedObjects, pattern string) (dbus.ObjectPath, dbusx.Props, bool) {
	pattern = strings.ToUpper(pattern)
	var (
		best      dbus.ObjectPath
		bestProps dbusx.Props
	)
	for path, ifaces := range objs {
		props, ok := ifaces[adapterIface]
		if !ok {
			continue
		}
		p := dbusx.Props(props)
		if pattern != "" {
			addr := strings.ToUpper(p.String("Address"))
			if pattern != addr && !strings.HasSuffix(strings.ToUpper(string(path)), pattern) {
				continue
			}
		}
		if best == "" || path < best {
			best, bestProps = path, p
		}
	}
	return best, bestProps, best != ""
}
