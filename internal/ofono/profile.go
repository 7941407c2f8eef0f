package ofono

import (
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"phony/internal/bluez"
	"phony/internal/hfp"
	"phony/internal/logging"
)

// Scheduler runs fn on the event loop after d; *loop.Loop implements it.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (stop func())
}

// Profile attaches connected devices to their oFono hands-free modems.
// It must only be used from the event loop.
type Profile struct {
	backend Backend
	sched   Scheduler
	timeout time.Duration
	log     *logrus.Entry

	started bool
	state   attachment
	// gen increases whenever an attempt is discarded; callbacks captured
	// under an older generation are dropped.
	gen       uint64
	ready     func(hfp.Gateway)
	fail      func(error)
	watches   []func()
	stopTimer func()
}

var _ hfp.Profile = (*Profile)(nil)

// NewProfile returns a profile whose attachments fail with
// hfp.ErrAttachTimeout after timeout (0 waits forever).
func NewProfile(backend Backend, sched Scheduler, timeout time.Duration, log *logrus.Entry) *Profile {
	return &Profile{backend: backend, sched: sched, timeout: timeout, log: log}
}

func (p *Profile) Start() error {
	if p.started {
		return nil
	}
	if _, err := p.backend.Modems(); err != nil {
		return errors.Wrap(err, "ofono: telephony service unavailable")
	}
	p.started = true
	p.log.Info("profile started")
	return nil
}

func (p *Profile) Stop() {
	if !p.started {
		return
	}
	p.CancelPendingOperations()
	p.started = false
	p.log.Info("profile stopped")
}

func (p *Profile) Attach(hci string, dev bluez.Device, ready func(hfp.Gateway), fail func(error)) error {
	p.CancelPendingOperations()
	if !p.started {
		return errors.New("ofono: profile not started")
	}
	p.state = attachment{hci: hci, device: dev}
	p.ready, p.fail = ready, fail
	gen := p.gen

	return logging.Trace(p.log.WithField("device", dev.String()), "attach", func() error {
		modems, err := p.backend.Modems()
		if err != nil {
			p.discard()
			return err
		}
		p.apply(gen, modemsListed{modems: modems})
		return nil
	})
}

func (p *Profile) CancelPendingOperations() {
	p.apply(p.gen, cancelled{})
	p.discard()
}

// discard forgets the current attempt without calling back.
func (p *Profile) discard() {
	p.unwatch()
	p.cancelTimer()
	p.state = attachment{}
	p.ready, p.fail = nil, nil
	p.gen++
}

func (p *Profile) apply(gen uint64, ev event) {
	if gen != p.gen {
		p.log.WithField("event", eventName(ev)).Debug("dropping stale attach event")
		return
	}
	prev := p.state.phase
	next, effects, ok := transition(p.state, ev)
	if !ok {
		p.log.WithFields(logrus.Fields{"phase": prev, "event": eventName(ev)}).Error("unexpected attach event")
	}
	p.state = next
	if next.phase != prev {
		p.log.WithFields(logrus.Fields{"from": prev, "to": next.phase, "modem": next.modem}).Debug("attach transition")
	}
	for _, e := range effects {
		if gen != p.gen {
			return
		}
		p.run(gen, e)
	}
}

func (p *Profile) run(gen uint64, e effect) {
	switch e.kind {
	case watchAppearance:
		cancel, err := p.backend.WatchModemAdded(func(m Modem) {
			p.apply(gen, modemAdded{modem: m})
		})
		if err != nil {
			p.failNow(err)
			return
		}
		p.watches = append(p.watches, cancel)

	case watchOnline:
		modem := e.modem
		cancel, err := p.backend.WatchModemProperty(modem, func(name string, v dbus.Variant) {
			if name != "Online" {
				return
			}
			online, _ := v.Value().(bool)
			p.apply(gen, modemOnline{path: modem, online: online})
		})
		if err != nil {
			p.failNow(err)
			return
		}
		p.watches = append(p.watches, cancel)

	case unwatch:
		p.unwatch()

	case rescan:
		modems, err := p.backend.Modems()
		if err != nil {
			p.failNow(err)
			return
		}
		p.apply(gen, modemsListed{modems: modems})

	case recheckOnline:
		props, err := p.backend.ModemProperties(e.modem)
		if err != nil {
			p.failNow(err)
			return
		}
		p.apply(gen, modemOnline{path: e.modem, online: props.Bool("Online")})

	case armTimer:
		if p.timeout > 0 && p.sched != nil {
			p.cancelTimer()
			p.stopTimer = p.sched.AfterFunc(p.timeout, func() { p.apply(gen, timedOut{}) })
		}

	case cancelTimer:
		p.cancelTimer()

	case deliver:
		gw, err := NewGateway(p.backend, e.modem, p.log.WithField("modem", string(e.modem)))
		if err != nil {
			p.failNow(err)
			return
		}
		ready := p.ready
		p.ready, p.fail = nil, nil
		// a timer callback already queued for this attempt must not fire
		p.gen++
		p.log.WithField("modem", string(e.modem)).Info("modem attached")
		if ready != nil {
			ready(gw)
		}

	case fail:
		p.failNow(e.err)
	}
}

func (p *Profile) failNow(err error) {
	fail := p.fail
	p.discard()
	p.log.WithError(err).Warn("attach failed")
	if fail != nil {
		fail(err)
	}
}

func (p *Profile) unwatch() {
	for i := len(p.watches) - 1; i >= 0; i-- {
		p.watches[i]()
	}
	p.watches = nil
}

func (p *Profile) cancelTimer() {
	if p.stopTimer != nil {
		p.stopTimer()
		p.stopTimer = nil
	}
}

func eventName(ev event) string {
	switch ev.(type) {
	case modemsListed:
		return "modems-listed"
	case modemAdded:
		return "modem-added"
	case modemOnline:
		return "modem-online"
	case timedOut:
		return "timed-out"
	case cancelled:
		return "cancelled"
	}
	return "unknown"
}
