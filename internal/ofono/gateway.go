package ofono

import (
	"slices"

	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"phony/internal/hfp"
	"phony/internal/logging"
)

// Gateway is the call-control endpoint of one attached oFono modem.
type Gateway struct {
	backend Backend
	modem   dbus.ObjectPath
	log     *logrus.Entry

	features []string
	calls    map[dbus.ObjectPath]*hfp.CallRecord
	// insertion order, oldest first
	order     []dbus.ObjectPath
	listeners []func(hfp.CallEvent)
	unwatch   func()
	disposed  bool
}

var _ hfp.Gateway = (*Gateway)(nil)

// NewGateway reads the modem's hands-free features once, subscribes to its
// call signals and loads the calls already in progress.
func NewGateway(backend Backend, modem dbus.ObjectPath, log *logrus.Entry) (*Gateway, error) {
	g := &Gateway{
		backend: backend,
		modem:   modem,
		log:     log,
		calls:   make(map[dbus.ObjectPath]*hfp.CallRecord),
	}
	features, err := backend.Features(modem)
	if err != nil {
		return nil, err
	}
	g.features = features

	g.unwatch, err = backend.WatchCalls(modem, CallWatch{
		Added:   g.callAdded,
		Removed: g.callRemoved,
		Changed: g.callChanged,
	})
	if err != nil {
		return nil, err
	}
	existing, err := backend.Calls(modem)
	if err != nil {
		g.unwatch()
		return nil, err
	}
	for _, c := range existing {
		g.callAdded(c)
	}
	g.log.WithFields(logrus.Fields{"features": g.features, "calls": len(g.order)}).Info("gateway ready")
	return g, nil
}

func (g *Gateway) String() string { return string(g.modem) }

func (g *Gateway) ProvidesVoiceRecognition() bool {
	return slices.Contains(g.features, FeatureVoiceRecognition)
}

func (g *Gateway) OnEvent(fn func(hfp.CallEvent)) { g.listeners = append(g.listeners, fn) }

func (g *Gateway) Calls() []hfp.CallRecord {
	out := make([]hfp.CallRecord, 0, len(g.order))
	for _, p := range g.order {
		out = append(out, *g.calls[p])
	}
	return out
}

func (g *Gateway) Dial(number string) error {
	if number == "" {
		return errors.New("ofono: empty number")
	}
	return logging.Trace(g.log, "dial", func() error {
		return g.backend.Dial(g.modem, number)
	})
}

func (g *Gateway) Answer(call dbus.ObjectPath) error {
	rec, err := g.pick(call, isIncoming)
	if err != nil {
		return err
	}
	return logging.Trace(g.log.WithField("call", rec.Path), "answer", func() error {
		return g.backend.Answer(rec.Path)
	})
}

// Hangup ends the call and forgets it immediately; the CallRemoved that
// follows is ignored.
func (g *Gateway) Hangup(call dbus.ObjectPath) error {
	rec, err := g.pick(call, anyCall)
	if err != nil {
		return err
	}
	err = logging.Trace(g.log.WithField("call", rec.Path), "hangup", func() error {
		return g.backend.Hangup(rec.Path)
	})
	if err != nil {
		return err
	}
	g.remove(rec.Path)
	return nil
}

// DeflectToVoicemail rejects an incoming call; the network forwards a
// rejected call to voicemail.
func (g *Gateway) DeflectToVoicemail(call dbus.ObjectPath) error {
	rec, err := g.pick(call, isIncoming)
	if err != nil {
		return err
	}
	return logging.Trace(g.log.WithField("call", rec.Path), "deflect", func() error {
		return g.backend.Hangup(rec.Path)
	})
}

func (g *Gateway) BeginVoiceDial() error { return g.voiceRecognition(true) }
func (g *Gateway) EndVoiceDial() error { return g.voiceRecognition(false) }

func (g *Gateway) voiceRecognition(on bool) error {
	if !g.ProvidesVoiceRecognition() {
		return hfp.ErrVoiceRecognitionUnsupported
	}
	return logging.Trace(g.log.WithField("on", on), "voice-recognition", func() error {
		return g.backend.SetVoiceRecognition(g.modem, on)
	})
}

// Dispose hangs up all calls, reports them ended and drops the
// subscriptions. Safe to call twice.
func (g *Gateway) Dispose() {
	if g.disposed {
		return
	}
	g.disposed = true
	if g.unwatch != nil {
		g.unwatch()
	}
	if err := g.backend.HangupAll(g.modem); err != nil {
		g.log.WithError(err).Debug("hangup all on dispose")
	}
	for len(g.order) > 0 {
		g.remove(g.order[0])
	}
	g.log.Info("gateway disposed")
}

func isIncoming(r *hfp.CallRecord) bool { return r.State == hfp.CallIncoming }
func anyCall(*hfp.CallRecord) bool { return true }

func (g *Gateway) pick(call dbus.ObjectPath, match func(*hfp.CallRecord) bool) (*hfp.CallRecord, error) {
	if call != "" {
		rec, ok := g.calls[call]
		if !ok || !match(rec) {
			return nil, errors.Wrapf(hfp.ErrNoMatchingCall, "call %s", call)
		}
		return rec, nil
	}
	for _, p := range g.order {
		if rec := g.calls[p]; match(rec) {
			return rec, nil
		}
	}
	return nil, hfp.ErrNoMatchingCall
}

func (g *Gateway) callAdded(c Call) {
	if _, known := g.calls[c.Path]; known {
		return
	}
	state := c.Props.String("State")
	logging.Event(g.log, "call-added", logrus.Fields{"call": c.Path, "state": state})
	rec := &hfp.CallRecord{Path: c.Path, Number: c.Props.String("LineIdentification")}
	switch state {
	case "disconnected":
		return
	case "incoming", "waiting":
		rec.State = hfp.CallIncoming
	default:
		// dialing, alerting, active, held
		rec.State = hfp.CallActive
	}
	g.calls[c.Path] = rec
	g.order = append(g.order, c.Path)
	if rec.State == hfp.CallIncoming {
		g.emit(hfp.EventIncoming, *rec)
	} else {
		g.emit(hfp.EventBegan, *rec)
	}
}

func (g *Gateway) callChanged(path dbus.ObjectPath, name string, value dbus.Variant) {
	rec, ok := g.calls[path]
	if !ok {
		return
	}
	switch name {
	case "LineIdentification":
		rec.Number, _ = value.Value().(string)
	case "State":
		state, _ := value.Value().(string)
		logging.Event(g.log, "call-state", logrus.Fields{"call": path, "state": state})
		// disconnected calls are dropped on CallRemoved
		if state == "active" && rec.State == hfp.CallIncoming {
			rec.State = hfp.CallActive
			g.emit(hfp.EventRingingEnded, *rec)
			g.emit(hfp.EventBegan, *rec)
		}
	}
}

func (g *Gateway) callRemoved(path dbus.ObjectPath) {
	logging.Event(g.log, "call-removed", logrus.Fields{"call": path})
	g.remove(path)
}

// remove drops a record and reports it ended. Unknown paths are ignored,
// so each record is removed once.
func (g *Gateway) remove(path dbus.ObjectPath) {
	rec, ok := g.calls[path]
	if !ok {
		return
	}
	delete(g.calls, path)
	for i, p := range g.order {
		if p == path {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	wasIncoming := rec.State == hfp.CallIncoming
	rec.State = hfp.CallEnded
	if wasIncoming {
		g.emit(hfp.EventRingingEnded, *rec)
	}
	g.emit(hfp.EventEnded, *rec)
}

func (g *Gateway) emit(kind hfp.EventKind, rec hfp.CallRecord) {
	ev := hfp.CallEvent{Kind: kind, Call: rec}
	for _, fn := range g.listeners {
		fn(ev)
	}
}
