// Package headset binds one phone at a time to the handset: it owns the
// Bluetooth adapter, attaches the connected phone to its hands-free gateway
// and keeps the microphone and speaker muted whenever no call is up.
package headset

import (
	"fmt"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"phony/internal/audio"
	"phony/internal/bluez"
	"phony/internal/hfp"
	"phony/internal/logging"
)

type State int

const (
	Idle State = iota
	Connecting
	InSession
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case InSession:
		return "in-session"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Radio switches the Bluetooth radio on at start.
type Radio interface {
	Unblock() error
}

// Session must only be used from the event loop.
type Session struct {
	adapter bluez.Adapter
	profile hfp.Profile
	audio   audio.Device
	radio   Radio
	log     *logrus.Entry

	started bool
	state   State
	device  *bluez.Device
	gateway hfp.Gateway

	onIncoming        []func(hfp.CallRecord)
	onBegan           []func(hfp.CallRecord)
	onEnded           []func(hfp.CallRecord)
	onDeviceConnected []func(bluez.Device)
}

// New wires the session to the adapter's device notifications. radio may
// be nil.
func New(adapter bluez.Adapter, profile hfp.Profile, dev audio.Device, radio Radio, log *logrus.Entry) *Session {
	s := &Session{adapter: adapter, profile: profile, audio: dev, radio: radio, log: log}
	adapter.OnDeviceConnected(s.DeviceConnected)
	adapter.OnDeviceDisconnected(s.DeviceDisconnected)
	return s
}

func (s *Session) State() State { return s.state }

// Start enables the radio, mutes the handset, then starts the profile and
// the adapter. A second call after success does nothing.
func (s *Session) Start(name, pin string) error {
	if s.started {
		return nil
	}
	return logging.Trace(s.log, "start", func() error {
		s.enableRadio()

		if err := s.audio.Start(); err != nil {
			return errors.Wrap(err, "headset: audio")
		}
		s.epilogue()

		if err := s.profile.Start(); err != nil {
			return errors.Wrap(err, "headset: profile")
		}
		if err := s.adapter.Start(name, pin); err != nil {
			s.profile.Stop()
			return errors.Wrap(err, "headset: adapter")
		}
		s.started = true
		return nil
	})
}

func (s *Session) Stop() {
	if !s.started {
		return
	}
	logging.Trace(s.log, "stop", func() error {
		s.adapter.Stop()
		s.profile.Stop()
		s.Reset()
		s.started = false
		return nil
	})
}

func (s *Session) enableRadio() {
	if s.radio == nil {
		return
	}
	if err := s.radio.Unblock(); err != nil {
		s.log.WithError(err).Debug("unable to unblock bluetooth radio")
	}
}

func (s *Session) EnablePairability(timeout time.Duration) error {
	return s.adapter.EnablePairability(timeout)
}

func (s *Session) DisablePairability() error {
	return s.adapter.DisablePairability()
}

func (s *Session) OnIncomingCall(fn func(hfp.CallRecord)) { s.onIncoming = append(s.onIncoming, fn) }
func (s *Session) OnCallBegan(fn func(hfp.CallRecord)) { s.onBegan = append(s.onBegan, fn) }
func (s *Session) OnCallEnded(fn func(hfp.CallRecord)) { s.onEnded = append(s.onEnded, fn) }

// OnDeviceConnected listeners run when a phone becomes usable, i.e. when
// the session enters InSession.
func (s *Session) OnDeviceConnected(fn func(bluez.Device)) {
	s.onDeviceConnected = append(s.onDeviceConnected, fn)
}

// DeviceConnected binds d. Only one device is served; a different one
// replaces the current binding. Failures reset the session and are logged.
func (s *Session) DeviceConnected(d bluez.Device) {
	log := s.log.WithField("device", d.String())
	logging.Event(log, "device-connected", logrus.Fields{"state": s.state})

	if s.device != nil {
		if s.device.Same(d) {
			log.Debug("device already bound")
			return
		}
		log.WithField("previous", s.device.String()).Info("one device connection allowed, dropping previous")
		s.Reset()
	}

	bound := d
	s.device = &bound
	s.state = Connecting

	hci := s.adapter.Info().HCI
	if err := s.profile.Attach(hci, d, s.gatewayAttached, s.attachFailed); err != nil {
		log.WithError(err).Error("attaching to audio gateway failed")
		s.Reset()
	}
}

// DeviceDisconnected resets the session when d is the bound device.
func (s *Session) DeviceDisconnected(d bluez.Device) {
	logging.Event(s.log, "device-disconnected", logrus.Fields{"device": d.String()})
	if s.device != nil && s.device.Same(d) {
		s.Reset()
	}
}

func (s *Session) gatewayAttached(gw hfp.Gateway) {
	logging.Event(s.log, "gateway-attached", logrus.Fields{"gateway": gw.String()})
	if s.device == nil {
		s.log.Error("gateway attached with no bound device")
		gw.Dispose()
		return
	}
	s.gateway = gw
	if !gw.ProvidesVoiceRecognition() {
		s.log.WithField("gateway", gw.String()).Error("device does not provide voice dialing, disconnecting")
		s.Reset()
		return
	}
	gw.OnEvent(func(ev hfp.CallEvent) { s.callEvent(gw, ev) })
	s.state = InSession
	s.log.WithFields(logrus.Fields{"device": s.device.String(), "gateway": gw.String()}).Info("session established")

	for _, fn := range s.onDeviceConnected {
		fn(*s.device)
	}
}

func (s *Session) attachFailed(err error) {
	s.log.WithError(err).Error("audio gateway attachment failed")
	s.Reset()
}

// callEvent also receives the events a gateway emits while it is being
// disposed, so listeners see every call end.
func (s *Session) callEvent(gw hfp.Gateway, ev hfp.CallEvent) {
	logging.Event(s.log, "call", logrus.Fields{"kind": ev.Kind, "call": ev.Call.Path, "number": ev.Call.Number})
	switch ev.Kind {
	case hfp.EventIncoming:
		fire(s.onIncoming, ev.Call)
	case hfp.EventBegan:
		fire(s.onBegan, ev.Call)
	case hfp.EventEnded:
		if len(gw.Calls()) == 0 {
			s.epilogue()
		}
		fire(s.onEnded, ev.Call)
	}
}

func fire(listeners []func(hfp.CallRecord), call hfp.CallRecord) {
	for _, fn := range listeners {
		fn(call)
	}
}

// InitiateCall hands the microphone to the phone's voice assistant.
func (s *Session) InitiateCall() error {
	return s.withCall("initiate-call", func(gw hfp.Gateway) error {
		return gw.BeginVoiceDial()
	})
}

func (s *Session) Dial(number string) error {
	return s.withCall("dial", func(gw hfp.Gateway) error {
		return gw.Dial(number)
	})
}

// AnswerCall answers call, or the oldest ringing call when call is empty.
func (s *Session) AnswerCall(call dbus.ObjectPath) error {
	return s.withCall("answer-call", func(gw hfp.Gateway) error {
		return gw.Answer(call)
	})
}

// withCall unmutes the handset before fn talks to the phone and mutes it
// again if fn fails. Without a gateway the handset is muted and
// hfp.ErrNoGateway returned.
func (s *Session) withCall(op string, fn func(hfp.Gateway) error) error {
	return logging.Trace(s.log, op, func() error {
		if s.gateway == nil {
			s.epilogue()
			return hfp.ErrNoGateway
		}
		s.prologue()
		if err := fn(s.gateway); err != nil {
			s.epilogue()
			return err
		}
		return nil
	})
}

func (s *Session) CancelCallInitiation() error {
	return logging.Trace(s.log, "cancel-call-initiation", func() error {
		if s.gateway == nil {
			return hfp.ErrNoGateway
		}
		if err := s.gateway.EndVoiceDial(); err != nil {
			return err
		}
		s.epilogue()
		return nil
	})
}

// HangupCall hangs up call (or the oldest call). The handset is muted
// afterwards whatever the outcome.
func (s *Session) HangupCall(call dbus.ObjectPath) error {
	return logging.Trace(s.log, "hangup-call", func() error {
		defer s.epilogue()
		if s.gateway == nil {
			return hfp.ErrNoGateway
		}
		return s.gateway.Hangup(call)
	})
}

func (s *Session) DeflectCallToVoicemail(call dbus.ObjectPath) error {
	return logging.Trace(s.log, "deflect-call", func() error {
		if s.gateway == nil {
			return hfp.ErrNoGateway
		}
		return s.gateway.DeflectToVoicemail(call)
	})
}

func (s *Session) MuteMicrophone() error { return s.audio.MuteMicrophone() }
func (s *Session) UnmuteMicrophone() error { return s.audio.UnmuteMicrophone() }
func (s *Session) MuteSpeaker() error { return s.audio.MuteSpeaker() }
func (s *Session) UnmuteSpeaker() error { return s.audio.UnmuteSpeaker() }

func (s *Session) SetMicrophonePlaybackVolume(percent int) error {
	return s.audio.SetMicrophonePlaybackVolume(percent)
}

func (s *Session) SetMicrophoneCaptureVolume(percent int) error {
	return s.audio.SetMicrophoneCaptureVolume(percent)
}

func (s *Session) SetVolume(percent int) error {
	return s.audio.SetSpeakerVolume(percent)
}

// Reset drops the bound device and gateway and returns to Idle. It never
// fails; problems along the way are logged.
func (s *Session) Reset() {
	if s.state == Idle && s.device == nil && s.gateway == nil {
		return
	}
	logging.Trace(s.log, "reset", func() error {
		s.epilogue()
		s.adapter.CancelPendingOperations()
		s.profile.CancelPendingOperations()

		if gw := s.gateway; gw != nil {
			s.gateway = nil
			gw.Dispose()
		}
		if d := s.device; d != nil {
			s.device = nil
			s.adapter.ReleaseDevice(*d)
		}
		s.state = Idle
		return nil
	})
}

// Status is a snapshot for diagnostics.
func (s *Session) Status() map[string]string {
	status := map[string]string{
		"Adapter":   s.adapter.Info().String(),
		"State":     s.state.String(),
		"AudioCard": s.audio.String(),
	}
	if s.device != nil {
		status["Device"] = s.device.String()
	}
	if s.gateway != nil {
		status["AudioGateway"] = s.gateway.String()
	}
	return status
}

func (s *Session) prologue() {
	if err := s.audio.UnmuteSpeaker(); err != nil {
		s.log.WithError(err).Warn("unmute speaker")
	}
	if err := s.audio.UnmuteMicrophone(); err != nil {
		s.log.WithError(err).Warn("unmute microphone")
	}
}

func (s *Session) epilogue() {
	if err := s.audio.MuteSpeaker(); err != nil {
		s.log.WithError(err).Warn("mute speaker")
	}
	if err := s.audio.MuteMicrophone(); err != nil {
		s.log.WithError(err).Warn("mute microphone")
	}
}
