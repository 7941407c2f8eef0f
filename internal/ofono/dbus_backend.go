package ofono

import (
	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"phony/internal/dbusx"
)

// Bus is the part of *dbus.Conn the backend calls through.
type Bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// Subscriber installs signal subscriptions; *dbusx.Router implements it.
type Subscriber interface {
	Subscribe(m dbusx.Match, h func(*dbus.Signal)) (cancel func(), err error)
}

// DBusBackend talks to org.ofono on the system bus.
type DBusBackend struct {
	bus     Bus
	signals Subscriber
	log     *logrus.Entry
}

var _ Backend = (*DBusBackend)(nil)

func NewDBusBackend(bus Bus, signals Subscriber, log *logrus.Entry) *DBusBackend {
	return &DBusBackend{bus: bus, signals: signals, log: log}
}

type objectProps struct {
	Path  dbus.ObjectPath
	Props map[string]dbus.Variant
}

func (b *DBusBackend) call(path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call {
	return b.bus.Object(Service, path).Call(method, 0, args...)
}

func (b *DBusBackend) Modems() ([]Modem, error) {
	var list []objectProps
	if err := b.call("/", managerIface+".GetModems").Store(&list); err != nil {
		return nil, errors.Wrap(err, "ofono: GetModems")
	}
	out := make([]Modem, 0, len(list))
	for _, m := range list {
		out = append(out, Modem{Path: m.Path, Props: m.Props})
	}
	return out, nil
}

func (b *DBusBackend) ModemProperties(modem dbus.ObjectPath) (dbusx.Props, error) {
	var props map[string]dbus.Variant
	if err := b.call(modem, modemIface+".GetProperties").Store(&props); err != nil {
		return nil, errors.Wrapf(err, "ofono: %s GetProperties", modem)
	}
	return props, nil
}

func (b *DBusBackend) Features(modem dbus.ObjectPath) ([]string, error) {
	var props map[string]dbus.Variant
	if err := b.call(modem, handsfreeIface+".GetProperties").Store(&props); err != nil {
		return nil, errors.Wrapf(err, "ofono: %s Handsfree.GetProperties", modem)
	}
	return dbusx.Props(props).Strings("Features"), nil
}

func (b *DBusBackend) SetVoiceRecognition(modem dbus.ObjectPath, on bool) error {
	err := b.call(modem, handsfreeIface+".SetProperty", "VoiceRecognition", dbus.MakeVariant(on)).Err
	return errors.Wrapf(err, "ofono: %s VoiceRecognition=%t", modem, on)
}

func (b *DBusBackend) Dial(modem dbus.ObjectPath, number string) error {
	var path dbus.ObjectPath
	if err := b.call(modem, voiceCallManagerIface+".Dial", number, "default").Store(&path); err != nil {
		return errors.Wrapf(err, "ofono: dial %s", number)
	}
	b.log.WithField("call", path).Debug("dialled")
	return nil
}

func (b *DBusBackend) HangupAll(modem dbus.ObjectPath) error {
	return errors.Wrapf(b.call(modem, voiceCallManagerIface+".HangupAll").Err, "ofono: %s HangupAll", modem)
}

func (b *DBusBackend) Calls(modem dbus.ObjectPath) ([]Call, error) {
	var list []objectProps
	if err := b.call(modem, voiceCallManagerIface+".GetCalls").Store(&list); err != nil {
		return nil, errors.Wrapf(err, "ofono: %s GetCalls", modem)
	}
	out := make([]Call, 0, len(list))
	for _, c := range list {
		out = append(out, Call{Path: c.Path, Props: c.Props})
	}
	return out, nil
}

func (b *DBusBackend) Answer(call dbus.ObjectPath) error {
	return errors.Wrapf(b.call(call, voiceCallIface+".Answer").Err, "ofono: answer %s", call)
}

func (b *DBusBackend) Hangup(call dbus.ObjectPath) error {
	return errors.Wrapf(b.call(call, voiceCallIface+".Hangup").Err, "ofono: hangup %s", call)
}

func (b *DBusBackend) WatchModemAdded(fn func(Modem)) (func(), error) {
	return b.signals.Subscribe(dbusx.Match{
		Sender:    Service,
		Interface: managerIface,
		Member:    "ModemAdded",
	}, func(sig *dbus.Signal) {
		var m objectProps
		if err := dbus.Store(sig.Body, &m.Path, &m.Props); err != nil {
			b.log.WithError(err).Debug("malformed ModemAdded")
			return
		}
		fn(Modem{Path: m.Path, Props: m.Props})
	})
}

func (b *DBusBackend) WatchModemProperty(modem dbus.ObjectPath, fn func(string, dbus.Variant)) (func(), error) {
	return b.signals.Subscribe(dbusx.Match{
		Sender:    Service,
		Path:      modem,
		Interface: modemIface,
		Member:    "PropertyChanged",
	}, func(sig *dbus.Signal) {
		name, value, ok := b.propertyChanged(sig)
		if ok {
			fn(name, value)
		}
	})
}

func (b *DBusBackend) WatchCalls(modem dbus.ObjectPath, w CallWatch) (func(), error) {
	var cancels []func()
	cancelAll := func() {
		for i := len(cancels) - 1; i >= 0; i-- {
			cancels[i]()
		}
	}
	add := func(m dbusx.Match, h func(*dbus.Signal)) error {
		cancel, err := b.signals.Subscribe(m, h)
		if err != nil {
			cancelAll()
			return err
		}
		cancels = append(cancels, cancel)
		return nil
	}

	if err := add(dbusx.Match{Sender: Service, Path: modem, Interface: voiceCallManagerIface, Member: "CallAdded"},
		func(sig *dbus.Signal) {
			var c objectProps
			if err := dbus.Store(sig.Body, &c.Path, &c.Props); err != nil {
				b.log.WithError(err).Debug("malformed CallAdded")
				return
			}
			w.Added(Call{Path: c.Path, Props: c.Props})
		}); err != nil {
		return nil, err
	}
	if err := add(dbusx.Match{Sender: Service, Path: modem, Interface: voiceCallManagerIface, Member: "CallRemoved"},
		func(sig *dbus.Signal) {
			var path dbus.ObjectPath
			if err := dbus.Store(sig.Body, &path); err != nil {
				b.log.WithError(err).Debug("malformed CallRemoved")
				return
			}
			w.Removed(path)
		}); err != nil {
		return nil, err
	}
	if err := add(dbusx.Match{Sender: Service, PathNamespace: modem, Interface: voiceCallIface, Member: "PropertyChanged"},
		func(sig *dbus.Signal) {
			if name, value, ok := b.propertyChanged(sig); ok {
				w.Changed(sig.Path, name, value)
			}
		}); err != nil {
		return nil, err
	}
	return cancelAll, nil
}

func (b *DBusBackend) propertyChanged(sig *dbus.Signal) (string, dbus.Variant, bool) {
	var (
		name  string
		value dbus.Variant
	)
	if err := dbus.Store(sig.Body, &name, &value); err != nil {
		b.log.WithError(err).Debug("malformed PropertyChanged")
		return "", dbus.Variant{}, false
	}
	return name, value, true
}
