// Package bluez drives the local Bluetooth radio through BlueZ 5 over D-Bus:
// adapter power and visibility, a PIN-gated pairing agent, and connect /
// disconnect notifications for remote devices.
//
// Threading: an Adapter is owned by the event loop. Its methods and the
// listeners it invokes run on the loop goroutine; none of them lock.
package bluez

import (
	"fmt"
	"strings"
	"time"

	dbus "github.com/godbus/dbus/v5"
)

const (
	bluezService      = "org.bluez"
	adapterIface      = "org.bluez.Adapter1"
	deviceIface       = "org.bluez.Device1"
	agentManagerIface = "org.bluez.AgentManager1"
	agentIface        = "org.bluez.Agent1"

	// AgentPath is where the pairing agent is exported.
	AgentPath = dbus.ObjectPath("/phony/agent/bluez")
	// AgentCapability makes BlueZ ask for PINs and passkeys instead of
	// silently using Just Works.
	AgentCapability = "KeyboardDisplay"

	// SecondaryDiscoverableTimeout keeps the adapter discoverable for a
	// while after pairability is disabled so a pairing already in progress
	// can finish.
	SecondaryDiscoverableTimeout = 180 * time.Second
)

// Device is a remote device as last reported by BlueZ. Address is the
// identity key; Path is the Device1 object path.
type Device struct {
	Path      dbus.ObjectPath
	Address   string
	Name      string
	Paired    bool
	Connected bool
}

func (d Device) String() string {
	if d.Name == "" {
		return d.Address
	}
	return d.Address + " " + d.Name
}

// Same reports whether d and o are the same physical device.
func (d Device) Same(o Device) bool {
	return d.Address != "" && strings.EqualFold(d.Address, o.Address)
}

// Info describes the local adapter.
type Info struct {
	Path         dbus.ObjectPath
	HCI          string
	Address      string
	Name         string
	Alias        string
	Class        uint32
	Powered      bool
	Discoverable bool
	Pairable     bool
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s %q class=0x%06x powered=%t discoverable=%t pairable=%t",
		i.HCI, i.Address, i.Alias, i.Class, i.Powered, i.Discoverable, i.Pairable)
}

// Adapter is the capability the headset session needs from a Bluetooth
// stack.
type Adapter interface {
	// Start powers the adapter, sets its alias to name (when non-empty),
	// registers a pairing agent answering with pin, and subscribes to
	// device signals below this adapter.
	// Contract:
	//   - Idempotent: a second call after success does nothing.
	//   - Devices already paired and connected when Start runs are reported
	//     through OnDeviceConnected before Start returns.
	//   - D-Bus failures are returned, not retried.
	Start(name, pin string) error

	// Stop disables pairability, disconnects devices, unregisters the agent
	// and drops subscriptions. Errors are logged. Idempotent.
	Stop()

	// EnablePairability makes the adapter discoverable and pairable for
	// timeout (0 = no limit).
	EnablePairability(timeout time.Duration) error

	// DisablePairability turns pairing off and leaves the adapter
	// discoverable for SecondaryDiscoverableTimeout.
	DisablePairability() error

	// DisconnectAllDevices disconnects every connected child device.
	// Best effort: errors are logged, never returned.
	DisconnectAllDevices()

	// CancelPendingOperations abandons anything in flight. Never fails.
	CancelPendingOperations()

	// ReleaseDevice disconnects d if it is still connected. Best effort.
	ReleaseDevice(d Device)

	// OnDeviceConnected and OnDeviceDisconnected register listeners. Each
	// physical transition of a device's Connected property is reported
	// exactly once.
	OnDeviceConnected(fn func(Device))
	OnDeviceDisconnected(fn func(Device))

	// Info returns the last known adapter properties.
	Info() Info
}
