//go:build linux

// Package app assembles the daemon: buses, event loop, adapter, telephony
// profile, headset session, ringer, hand-crank panel and control service.
package app

import (
	"context"

	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"phony/internal/audio"
	"phony/internal/bluez"
	"phony/internal/config"
	"phony/internal/control"
	"phony/internal/dbusx"
	"phony/internal/headset"
	"phony/internal/hfp"
	"phony/internal/hmi"
	"phony/internal/logging"
	"phony/internal/loop"
	"phony/internal/ofono"
	"phony/internal/radio"
	"phony/internal/ringer"
)

type App struct {
	cfg  config.Config
	root *logrus.Logger
	log  *logrus.Entry

	cleanup stack
}

func New(cfg config.Config, root *logrus.Logger) *App {
	return &App{cfg: cfg, root: root, log: logging.Component(root, "app")}
}

func (a *App) component(name string) *logrus.Entry {
	return logging.Component(a.root, name)
}

// Run acquires every component in order, serves until ctx is done, then
// releases everything innermost first.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup.release()

	lp := loop.New(a.component("loop"))
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = lp.Run(loopCtx)
	}()
	a.cleanup.push(func() {
		stopLoop()
		<-loopDone
	})

	system, err := dbus.SystemBus()
	if err != nil {
		return errors.Wrap(err, "app: connect system bus")
	}
	a.cleanup.push(func() { system.Close() })

	router := dbusx.NewRouter(system, lp.Post, a.component("dbus"))
	a.cleanup.push(router.Close)

	adapter := bluez.NewBlueZ5(system, router, a.cfg.Interface, a.component("bluez"))
	backend := ofono.NewDBusBackend(system, router, a.component("ofono"))
	profile := ofono.NewProfile(backend, lp, a.cfg.AttachWait(), a.component("hfp"))
	mixer := audio.NewAmixer(a.cfg.AudioCardIndex, a.component("audio"))
	session := headset.New(adapter, profile, mixer, radio.New(radio.DefaultDevice, a.component("radio")), a.component("headset"))

	outputs, closeOutputs, err := a.ringerOutputs()
	if err != nil {
		return err
	}
	a.cleanup.push(closeOutputs)
	bell := ringer.New(outputs, a.component("ringer"))
	a.cleanup.push(bell.StopRinging)

	panel := hmi.NewController(panelSession{session}, bell, a.component("hmi"))
	bindPanel(session, panel)

	if err := lp.Call(ctx, func() error { return a.startSession(session) }); err != nil {
		return errors.Wrap(err, "app: start headset")
	}
	a.cleanup.push(func() {
		// the loop is still running here; it is stopped further down the stack
		if err := lp.Call(context.Background(), func() error {
			session.Stop()
			return nil
		}); err != nil {
			a.log.WithError(err).Warn("stopping headset")
		}
	})

	a.publishControl(session, bell, panel, lp)

	a.log.WithField("name", a.cfg.Name).Info("ready")
	<-ctx.Done()
	a.log.Info("exiting, cleaning up")
	return nil
}

func (a *App) startSession(s *headset.Session) error {
	if err := s.Start(a.cfg.Name, a.cfg.Pin); err != nil {
		return err
	}
	if err := s.EnablePairability(a.cfg.Visibility()); err != nil {
		return err
	}
	volumes := []struct {
		name string
		set  func(int) error
		v    int
	}{
		{"mic_playback_volume", s.SetMicrophonePlaybackVolume, a.cfg.MicPlaybackVolume},
		{"mic_capture_volume", s.SetMicrophoneCaptureVolume, a.cfg.MicCaptureVolume},
		{"volume", s.SetVolume, a.cfg.Volume},
	}
	for _, vol := range volumes {
		if err := vol.set(vol.v); err != nil {
			a.log.WithError(err).WithField("setting", vol.name).Warn("volume not applied")
		}
	}
	return nil
}

// ringerOutputs opens the relay board, or logs the bell lines when no
// port is configured.
func (a *App) ringerOutputs() (ringer.Outputs, func(), error) {
	if a.cfg.RingerPort == "" {
		a.log.Info("no ringer port configured, bell is simulated")
		return ringer.LoggedOutputs{Log: a.component("ringer")}, func() {}, nil
	}
	relay, err := ringer.OpenSerialRelay(a.cfg.RingerPort, a.cfg.RingerBaud, a.component("ringer"))
	if err != nil {
		return nil, nil, err
	}
	return relay, func() {
		if err := relay.Close(); err != nil {
			a.log.WithError(err).Warn("closing relay board")
		}
	}, nil
}

// publishControl is best effort: a headless system may have no session bus.
func (a *App) publishControl(s *headset.Session, bell *ringer.Ringer, panel *hmi.Controller, lp *loop.Loop) {
	bus, err := dbus.SessionBus()
	if err != nil {
		a.log.WithError(err).Warn("no session bus, control service disabled")
		return
	}
	svc := control.New(s, bell, panel, lp, a.component("control"))
	release, err := control.Publish(bus, a.cfg.BusName, svc)
	if err != nil {
		a.log.WithError(err).Warn("control service disabled")
		return
	}
	a.cleanup.push(release)
}

// bindPanel feeds session call events into the panel.
func bindPanel(s *headset.Session, panel *hmi.Controller) {
	s.OnIncomingCall(func(c hfp.CallRecord) { panel.IncomingCall(string(c.Path)) })
	s.OnCallBegan(func(hfp.CallRecord) { panel.Handle(hmi.CallBegan) })
	s.OnCallEnded(func(hfp.CallRecord) { panel.Handle(hmi.CallEnded) })
	s.OnDeviceConnected(func(bluez.Device) { panel.DeviceConnected() })
}
