package ofono

import (
	"fmt"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"phony/internal/dbusx"
)

type propWatch struct {
	modem dbus.ObjectPath
	fn    func(string, dbus.Variant)
}

// fakeBackend records commands and lets tests raise signals by hand.
type fakeBackend struct {
	modems    []Modem
	props     map[dbus.ObjectPath]dbusx.Props
	features  []string
	calls     []Call
	modemsErr error
	hangupErr error

	ops []string

	added     map[int]func(Modem)
	allAdded  []func(Modem)
	propWatch map[int]propWatch
	callWatch map[int]CallWatch
	nextWatch int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		props:     make(map[dbus.ObjectPath]dbusx.Props),
		added:     make(map[int]func(Modem)),
		propWatch: make(map[int]propWatch),
		callWatch: make(map[int]CallWatch),
	}
}

func (f *fakeBackend) Modems() ([]Modem, error) {
	if f.modemsErr != nil {
		return nil, f.modemsErr
	}
	return append([]Modem(nil), f.modems...), nil
}

func (f *fakeBackend) ModemProperties(m dbus.ObjectPath) (dbusx.Props, error) {
	for _, mm := range f.modems {
		if mm.Path == m {
			return mm.Props, nil
		}
	}
	return f.props[m], nil
}

func (f *fakeBackend) Features(dbus.ObjectPath) ([]string, error) { return f.features, nil }

func (f *fakeBackend) SetVoiceRecognition(_ dbus.ObjectPath, on bool) error {
	f.ops = append(f.ops, fmt.Sprintf("vr:%t", on))
	return nil
}

func (f *fakeBackend) Dial(_ dbus.ObjectPath, number string) error {
	f.ops = append(f.ops, "dial:"+number)
	return nil
}

func (f *fakeBackend) HangupAll(dbus.ObjectPath) error {
	f.ops = append(f.ops, "hangup-all")
	return f.hangupErr
}

func (f *fakeBackend) Calls(dbus.ObjectPath) ([]Call, error) { return f.calls, nil }

func (f *fakeBackend) Answer(c dbus.ObjectPath) error {
	f.ops = append(f.ops, "answer:"+string(c))
	return nil
}

func (f *fakeBackend) Hangup(c dbus.ObjectPath) error {
	f.ops = append(f.ops, "hangup:"+string(c))
	return nil
}

func (f *fakeBackend) watchID() int {
	f.nextWatch++
	return f.nextWatch
}

func (f *fakeBackend) WatchModemAdded(fn func(Modem)) (func(), error) {
	id := f.watchID()
	f.added[id] = fn
	f.allAdded = append(f.allAdded, fn)
	return func() { delete(f.added, id) }, nil
}

func (f *fakeBackend) WatchModemProperty(m dbus.ObjectPath, fn func(string, dbus.Variant)) (func(), error) {
	id := f.watchID()
	f.propWatch[id] = propWatch{modem: m, fn: fn}
	return func() { delete(f.propWatch, id) }, nil
}

func (f *fakeBackend) WatchCalls(_ dbus.ObjectPath, w CallWatch) (func(), error) {
	id := f.watchID()
	f.callWatch[id] = w
	return func() { delete(f.callWatch, id) }, nil
}

func (f *fakeBackend) watchers() int {
	return len(f.added) + len(f.propWatch) + len(f.callWatch)
}

func (f *fakeBackend) appear(m Modem) {
	f.modems = append(f.modems, m)
	for _, fn := range f.added {
		fn(m)
	}
}

func (f *fakeBackend) setOnline(path dbus.ObjectPath, online bool) {
	for i := range f.modems {
		if f.modems[i].Path == path {
			f.modems[i].Props["Online"] = dbus.MakeVariant(online)
		}
	}
	for _, w := range f.propWatch {
		if w.modem == path {
			w.fn("Online", dbus.MakeVariant(online))
		}
	}
}

func (f *fakeBackend) callAdded(path dbus.ObjectPath, state string) {
	for _, w := range f.callWatch {
		w.Added(Call{Path: path, Props: dbusx.Props{"State": dbus.MakeVariant(state)}})
	}
}

func (f *fakeBackend) callState(path dbus.ObjectPath, state string) {
	for _, w := range f.callWatch {
		w.Changed(path, "State", dbus.MakeVariant(state))
	}
}

func (f *fakeBackend) callRemoved(path dbus.ObjectPath) {
	for _, w := range f.callWatch {
		w.Removed(path)
	}
}

// fakeScheduler holds timers until the test fires them.
type fakeScheduler struct {
	pending []func()
	stopped int
}

func (s *fakeScheduler) AfterFunc(_ time.Duration, fn func()) func() {
	s.pending = append(s.pending, fn)
	return func() { s.stopped++ }
}

func (s *fakeScheduler) fire() {
	fns := s.pending
	s.pending = nil
	for _, fn := range fns {
		fn()
	}
}

func hfpModem(path string, online bool) Modem {
	return Modem{Path: dbus.ObjectPath(path), Props: dbusx.Props{
		"Type":   dbus.MakeVariant("hfp"),
		"Online": dbus.MakeVariant(online),
	}}
}

func nullLog() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return l.WithField("component", "ofono")
}
