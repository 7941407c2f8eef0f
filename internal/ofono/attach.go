package ofono

import (
	"fmt"

	dbus "github.com/godbus/dbus/v5"

	"phony/internal/bluez"
	"phony/internal/hfp"
)

type phase int

const (
	phaseIdle phase = iota
	phaseAwaitingAppearance
	phaseAwaitingOnline
	phaseAttached
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseAwaitingAppearance:
		return "awaiting-modem-appearance"
	case phaseAwaitingOnline:
		return "awaiting-modem-online"
	case phaseAttached:
		return "attached"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// attachment is the state of one attach attempt.
type attachment struct {
	phase  phase
	hci    string
	device bluez.Device
	modem  dbus.ObjectPath
}

type event interface{ isEvent() }

type (
	// modemsListed carries an enumeration of all modems.
	modemsListed struct{ modems []Modem }
	// modemAdded carries a ModemAdded signal.
	modemAdded struct{ modem Modem }
	// modemOnline reports the Online property of the awaited modem.
	modemOnline struct {
		path   dbus.ObjectPath
		online bool
	}
	timedOut  struct{}
	cancelled struct{}
)

func (modemsListed) isEvent() {}
func (modemAdded) isEvent() {}
func (modemOnline) isEvent() {}
func (timedOut) isEvent() {}
func (cancelled) isEvent() {}

type effectKind int

const (
	watchAppearance effectKind = iota
	watchOnline
	unwatch
	rescan
	recheckOnline
	armTimer
	cancelTimer
	deliver
	fail
)

type effect struct {
	kind  effectKind
	modem dbus.ObjectPath
	err   error
}

// transition is the whole attach protocol. It never performs I/O; the
// driver executes the effects in order.
func transition(s attachment, ev event) (attachment, []effect, bool) {
	switch ev := ev.(type) {
	case cancelled:
		if s.phase == phaseIdle {
			return s, nil, true
		}
		return attachment{}, []effect{{kind: unwatch}, {kind: cancelTimer}}, true

	case timedOut:
		if s.phase != phaseAwaitingAppearance && s.phase != phaseAwaitingOnline {
			return s, nil, false
		}
		return attachment{}, []effect{{kind: unwatch}, {kind: fail, err: hfp.ErrAttachTimeout}}, true

	case modemsListed:
		switch s.phase {
		case phaseIdle, phaseAwaitingAppearance:
			for _, m := range ev.modems {
				if m.ServesDevice(s.hci, s.device) {
					return found(s, m)
				}
			}
			if s.phase == phaseAwaitingAppearance {
				return s, nil, true
			}
			s.phase = phaseAwaitingAppearance
			return s, []effect{{kind: watchAppearance}, {kind: armTimer}, {kind: rescan}}, true
		case phaseAwaitingOnline:
			// a late rescan raced the appearance signal
			return s, nil, true
		}

	case modemAdded:
		if s.phase != phaseAwaitingAppearance {
			return s, nil, s.phase == phaseAwaitingOnline || s.phase == phaseAttached
		}
		if !ev.modem.ServesDevice(s.hci, s.device) {
			return s, nil, true
		}
		return found(s, ev.modem)

	case modemOnline:
		if s.phase != phaseAwaitingOnline || ev.path != s.modem {
			return s, nil, false
		}
		if !ev.online {
			return s, nil, true
		}
		s.phase = phaseAttached
		return s, []effect{{kind: unwatch}, {kind: cancelTimer}, {kind: deliver, modem: s.modem}}, true
	}
	return s, nil, false
}

func found(s attachment, m Modem) (attachment, []effect, bool) {
	wasWaiting := s.phase == phaseAwaitingAppearance
	s.modem = m.Path
	if m.Online() {
		s.phase = phaseAttached
		return s, []effect{{kind: unwatch}, {kind: cancelTimer}, {kind: deliver, modem: m.Path}}, true
	}
	s.phase = phaseAwaitingOnline
	effects := []effect{{kind: unwatch}, {kind: watchOnline, modem: m.Path}}
	if !wasWaiting {
		effects = append(effects, effect{kind: armTimer})
	}
	return s, append(effects, effect{kind: recheckOnline, modem: m.Path}), true
}
