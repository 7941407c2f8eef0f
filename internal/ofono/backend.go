// Package ofono implements the hfp capability on top of the oFono
// telephony daemon: modem attachment for connected devices and per-modem
// call gateways.
package ofono

import (
	"strings"

	dbus "github.com/godbus/dbus/v5"

	"phony/internal/bluez"
	"phony/internal/dbusx"
)

const (
	Service               = "org.ofono"
	managerIface          = "org.ofono.Manager"
	modemIface            = "org.ofono.Modem"
	handsfreeIface        = "org.ofono.Handsfree"
	voiceCallManagerIface = "org.ofono.VoiceCallManager"
	voiceCallIface        = "org.ofono.VoiceCall"

	// FeatureVoiceRecognition is listed in Handsfree.Features when the
	// phone accepts voice dialling.
	FeatureVoiceRecognition = "voice-recognition"

	modemTypeHFP = "hfp"
)

// Modem is an oFono modem object with its last known properties.
type Modem struct {
	Path  dbus.ObjectPath
	Props dbusx.Props
}

func (m Modem) Online() bool { return m.Props.Bool("Online") }
func (m Modem) Type() string { return m.Props.String("Type") }
func (m Modem) Name() string { return m.Props.String("Name") }
func (m Modem) String() string { return string(m.Path) }

// ServesDevice reports whether m is the hands-free modem oFono created for
// dev on the adapter named hci. Modem paths look like
// /hfp/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func (m Modem) ServesDevice(hci string, dev bluez.Device) bool {
	if m.Type() != modemTypeHFP || dev.Address == "" {
		return false
	}
	p := strings.ToUpper(strings.ReplaceAll(string(m.Path), "_", ":"))
	if !strings.HasSuffix(p, strings.ToUpper(dev.Address)) {
		return false
	}
	return hci == "" || strings.Contains(string(m.Path), "/"+hci+"/")
}

// Call is a voice call object with its properties.
type Call struct {
	Path  dbus.ObjectPath
	Props dbusx.Props
}

// CallWatch receives VoiceCallManager and VoiceCall signals for one modem.
type CallWatch struct {
	Added   func(c Call)
	Removed func(path dbus.ObjectPath)
	Changed func(path dbus.ObjectPath, name string, value dbus.Variant)
}

// Backend is the oFono surface the profile and gateways use. Watch
// callbacks run on the event loop; the returned cancel funcs are
// idempotent.
type Backend interface {
	Modems() ([]Modem, error)
	ModemProperties(modem dbus.ObjectPath) (dbusx.Props, error)
	Features(modem dbus.ObjectPath) ([]string, error)
	SetVoiceRecognition(modem dbus.ObjectPath, on bool) error
	Dial(modem dbus.ObjectPath, number string) error
	HangupAll(modem dbus.ObjectPath) error
	Calls(modem dbus.ObjectPath) ([]Call, error)
	Answer(call dbus.ObjectPath) error
	Hangup(call dbus.ObjectPath) error

	WatchModemAdded(fn func(Modem)) (cancel func(), err error)
	WatchModemProperty(modem dbus.ObjectPath, fn func(name string, value dbus.Variant)) (cancel func(), err error)
	WatchCalls(modem dbus.ObjectPath, w CallWatch) (cancel func(), err error)
}
