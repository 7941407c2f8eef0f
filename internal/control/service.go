// Package control publishes the daemon's control surface on the session
// bus: call commands for scripts and debugging, the ringer, and the
// hook-switch and crank inputs of the hand-crank panel.
package control

import (
	"context"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"phony/internal/logging"
)

const (
	DefaultName = "org.littlecraft.Phony"
	ObjectPath  = dbus.ObjectPath("/org/littlecraft/Phony")
	Interface   = "org.littlecraft.Phony"

	callTimeout = 10 * time.Second
)

// Phone is the headset session as seen from the control surface.
type Phone interface {
	InitiateCall() error
	Dial(number string) error
	AnswerCall(call dbus.ObjectPath) error
	HangupCall(call dbus.ObjectPath) error
	MuteMicrophone() error
	UnmuteMicrophone() error
	SetMicrophoneCaptureVolume(percent int) error
	SetVolume(percent int) error
	Reset()
	Status() map[string]string
}

type Bell interface {
	StartRinging() error
	StopRinging()
	ShortRing() error
}

// Panel receives the hardware inputs a GPIO reader would produce.
type Panel interface {
	OffHook()
	OnHook()
	CrankTurned()
}

// Dispatcher runs fn on the event loop and waits for it; *loop.Loop
// implements it.
type Dispatcher interface {
	Call(ctx context.Context, fn func() error) error
}

// Service is the exported object. Every method is run on the event loop.
type Service struct {
	phone Phone
	bell  Bell
	panel Panel
	loop  Dispatcher
	log   *logrus.Entry
}

func New(phone Phone, bell Bell, panel Panel, loop Dispatcher, log *logrus.Entry) *Service {
	return &Service{phone: phone, bell: bell, panel: panel, loop: loop, log: log}
}

func (s *Service) BeginVoiceDial() *dbus.Error {
	return s.do("BeginVoiceDial", s.phone.InitiateCall)
}

func (s *Service) Dial(number string) *dbus.Error {
	return s.do("Dial", func() error { return s.phone.Dial(number) })
}

func (s *Service) Answer() *dbus.Error {
	return s.do("Answer", func() error { return s.phone.AnswerCall("") })
}

func (s *Service) HangUp() *dbus.Error {
	return s.do("HangUp", func() error { return s.phone.HangupCall("") })
}

func (s *Service) Mute() *dbus.Error { return s.do("Mute", s.phone.MuteMicrophone) }
func (s *Service) Unmute() *dbus.Error { return s.do("Unmute", s.phone.UnmuteMicrophone) }

func (s *Service) SetMicrophoneVolume(percent int32) *dbus.Error {
	return s.do("SetMicrophoneVolume", func() error { return s.phone.SetMicrophoneCaptureVolume(int(percent)) })
}

func (s *Service) SetSpeakerVolume(percent int32) *dbus.Error {
	return s.do("SetSpeakerVolume", func() error { return s.phone.SetVolume(int(percent)) })
}

func (s *Service) Reset() *dbus.Error {
	return s.do("Reset", func() error { s.phone.Reset(); return nil })
}

func (s *Service) GetStatus() (map[string]string, *dbus.Error) {
	var status map[string]string
	err := s.do("GetStatus", func() error {
		status = s.phone.Status()
		return nil
	})
	return status, err
}

func (s *Service) StartRinging() *dbus.Error { return s.do("StartRinging", s.bell.StartRinging) }
func (s *Service) ShortRing() *dbus.Error { return s.do("ShortRing", s.bell.ShortRing) }

func (s *Service) StopRinging() *dbus.Error {
	return s.do("StopRinging", func() error { s.bell.StopRinging(); return nil })
}

func (s *Service) SimulateOffHook() *dbus.Error {
	return s.do("SimulateOffHook", func() error { s.panel.OffHook(); return nil })
}

func (s *Service) SimulateOnHook() *dbus.Error {
	return s.do("SimulateOnHook", func() error { s.panel.OnHook(); return nil })
}

func (s *Service) SimulateCrankTurned() *dbus.Error {
	return s.do("SimulateCrankTurned", func() error { s.panel.CrankTurned(); return nil })
}

func (s *Service) do(method string, fn func() error) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	err := logging.Trace(s.log, method, func() error {
		return s.loop.Call(ctx, fn)
	})
	if err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// Bus is the part of *dbus.Conn needed to publish the service.
type Bus interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
}

// Publish exports svc at ObjectPath and claims name. The returned release
// undoes both.
func Publish(bus Bus, name string, svc *Service) (release func(), err error) {
	if name == "" {
		name = DefaultName
	}
	node := introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: Interface, Methods: introspect.Methods(svc)},
		},
	}
	if err := bus.Export(svc, ObjectPath, Interface); err != nil {
		return nil, errors.Wrap(err, "control: export")
	}
	unexport := func() {
		_ = bus.Export(nil, ObjectPath, Interface)
		_ = bus.Export(nil, ObjectPath, "org.freedesktop.DBus.Introspectable")
	}
	if err := bus.Export(introspect.NewIntrospectable(&node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		unexport()
		return nil, errors.Wrap(err, "control: export introspection")
	}

	reply, err := bus.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		unexport()
		return nil, errors.Wrapf(err, "control: request name %s", name)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		unexport()
		return nil, errors.Errorf("control: name %s already taken", name)
	}
	svc.log.WithFields(logrus.Fields{"name": name, "path": ObjectPath}).Info("control service published")

	return func() {
		if _, err := bus.ReleaseName(name); err != nil {
			svc.log.WithError(err).Warn("control: release name")
		}
		unexport()
	}, nil
}
