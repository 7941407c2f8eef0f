package bluez

import (
	"strconv"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/sirupsen/logrus"
)

var agentIntrospection = introspect.Node{
	Name: string(AgentPath),
	Interfaces: []introspect.Interface{
		introspect.IntrospectData,
		{
			Name: agentIface,
			Methods: []introspect.Method{
				{Name: "Release"},
				{Name: "RequestPinCode", Args: []introspect.Arg{
					{Name: "device", Type: "o", Direction: "in"},
					{Name: "pincode", Type: "s", Direction: "out"},
				}},
				{Name: "DisplayPinCode", Args: []introspect.Arg{
					{Name: "device", Type: "o", Direction: "in"},
					{Name: "pincode", Type: "s", Direction: "in"},
				}},
				{Name: "RequestPasskey", Args: []introspect.Arg{
					{Name: "device", Type: "o", Direction: "in"},
					{Name: "passkey", Type: "u", Direction: "out"},
				}},
				{Name: "DisplayPasskey", Args: []introspect.Arg{
					{Name: "device", Type: "o", Direction: "in"},
					{Name: "passkey", Type: "u", Direction: "in"},
					{Name: "entered", Type: "q", Direction: "in"},
				}},
				{Name: "RequestConfirmation", Args: []introspect.Arg{
					{Name: "device", Type: "o", Direction: "in"},
					{Name: "passkey", Type: "u", Direction: "in"},
				}},
				{Name: "RequestAuthorization", Args: []introspect.Arg{
					{Name: "device", Type: "o", Direction: "in"},
				}},
				{Name: "AuthorizeService", Args: []introspect.Arg{
					{Name: "device", Type: "o", Direction: "in"},
					{Name: "uuid", Type: "s", Direction: "in"},
				}},
				{Name: "Cancel"},
			},
		},
	},
}

// agent answers BlueZ pairing requests with a fixed PIN. godbus calls it on
// its own goroutine; it only reads immutable fields.
type agent struct {
	pin string
	log *logrus.Entry
}

func newAgent(pin string, log *logrus.Entry) *agent {
	return &agent{pin: pin, log: log}
}

func (a *agent) rejected(msg string) *dbus.Error {
	return dbus.NewError("org.bluez.Error.Rejected", []interface{}{msg})
}

func (a *agent) Release() *dbus.Error {
	a.log.Debug("agent released")
	return nil
}

func (a *agent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	a.log.WithField("device", AddressFromPath(device)).Info("pin code requested")
	if a.pin == "" {
		return "", a.rejected("no pin configured")
	}
	return a.pin, nil
}

func (a *agent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	a.log.WithField("device", AddressFromPath(device)).Info("display pin code")
	return nil
}

// RequestPasskey answers with the PIN read as a number. Legacy pairing
// sometimes asks for a passkey even when a PIN was configured.
func (a *agent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	a.log.WithField("device", AddressFromPath(device)).Info("passkey requested")
	n, err := strconv.ParseUint(a.pin, 10, 32)
	if err != nil || n > 999999 {
		return 0, a.rejected("pin is not a passkey")
	}
	return uint32(n), nil
}

func (a *agent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	a.log.WithFields(logrus.Fields{"device": AddressFromPath(device), "entered": entered}).Info("display passkey")
	return nil
}

func (a *agent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	a.log.WithField("device", AddressFromPath(device)).Info("confirming passkey")
	return nil
}

func (a *agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	a.log.WithField("device", AddressFromPath(device)).Info("authorizing device")
	return nil
}

func (a *agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	a.log.WithFields(logrus.Fields{"device": AddressFromPath(device), "uuid": uuid}).Debug("authorizing service")
	return nil
}

func (a *agent) Cancel() *dbus.Error {
	a.log.Info("pairing request cancelled")
	return nil
}
