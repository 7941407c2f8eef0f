package control

import (
	"context"
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phony/internal/hfp"
)

type fakePhone struct {
	ops []string
	err error
}

func (p *fakePhone) add(op string) error { p.ops = append(p.ops, op); return p.err }

func (p *fakePhone) InitiateCall() error { return p.add("initiate") }
func (p *fakePhone) Dial(n string) error { return p.add("dial:" + n) }
func (p *fakePhone) AnswerCall(c dbus.ObjectPath) error { return p.add("answer:" + string(c)) }
func (p *fakePhone) HangupCall(c dbus.ObjectPath) error { return p.add("hangup:" + string(c)) }
func (p *fakePhone) MuteMicrophone() error { return p.add("mute") }
func (p *fakePhone) UnmuteMicrophone() error { return p.add("unmute") }
func (p *fakePhone) SetMicrophoneCaptureVolume(v int) error { return p.add("mic-volume") }
func (p *fakePhone) SetVolume(v int) error { return p.add("volume") }
func (p *fakePhone) Reset() { p.add("reset") }
func (p *fakePhone) Status() map[string]string { return map[string]string{"State": "idle"} }

type fakeBell struct{ ops []string }

func (b *fakeBell) StartRinging() error { b.ops = append(b.ops, "start"); return nil }
func (b *fakeBell) StopRinging() { b.ops = append(b.ops, "stop") }
func (b *fakeBell) ShortRing() error { b.ops = append(b.ops, "short"); return nil }

type fakePanel struct{ ops []string }

func (p *fakePanel) OffHook() { p.ops = append(p.ops, "off") }
func (p *fakePanel) OnHook() { p.ops = append(p.ops, "on") }
func (p *fakePanel) CrankTurned() { p.ops = append(p.ops, "crank") }

// inline runs work on the caller's goroutine and counts dispatches.
type inline struct {
	calls int
	err   error
}

func (d *inline) Call(_ context.Context, fn func() error) error {
	d.calls++
	if d.err != nil {
		return d.err
	}
	return fn()
}

func newService() (*Service, *fakePhone, *fakeBell, *fakePanel, *inline) {
	log, _ := test.NewNullLogger()
	phone, bell, panel, loop := &fakePhone{}, &fakeBell{}, &fakePanel{}, &inline{}
	return New(phone, bell, panel, loop, log.WithField("component", "control")), phone, bell, panel, loop
}

func TestMethodsDispatchOnLoop(t *testing.T) {
	s, phone, bell, panel, loop := newService()

	assert.Nil(t, s.BeginVoiceDial())
	assert.Nil(t, s.Dial("5551234"))
	assert.Nil(t, s.Answer())
	assert.Nil(t, s.HangUp())
	assert.Nil(t, s.Mute())
	assert.Nil(t, s.Unmute())
	assert.Nil(t, s.SetMicrophoneVolume(80))
	assert.Nil(t, s.SetSpeakerVolume(50))
	assert.Nil(t, s.Reset())
	assert.Equal(t, []string{
		"initiate", "dial:5551234", "answer:", "hangup:", "mute", "unmute", "mic-volume", "volume", "reset",
	}, phone.ops)

	assert.Nil(t, s.StartRinging())
	assert.Nil(t, s.StopRinging())
	assert.Nil(t, s.ShortRing())
	assert.Equal(t, []string{"start", "stop", "short"}, bell.ops)

	assert.Nil(t, s.SimulateOffHook())
	assert.Nil(t, s.SimulateCrankTurned())
	assert.Nil(t, s.SimulateOnHook())
	assert.Equal(t, []string{"off", "crank", "on"}, panel.ops)

	status, derr := s.GetStatus()
	assert.Nil(t, derr)
	assert.Equal(t, "idle", status["State"])
	assert.Equal(t, 16, loop.calls)
}

func TestErrorsBecomeDBusErrors(t *testing.T) {
	s, phone, _, _, loop := newService()
	phone.err = hfp.ErrNoGateway

	derr := s.Dial("1")
	require.NotNil(t, derr)
	assert.Equal(t, "org.freedesktop.DBus.Error.Failed", derr.Name)
	assert.Contains(t, derr.Error(), "no audio gateway")

	loop.err = errors.New("loop: stopped")
	_, derr = s.GetStatus()
	assert.NotNil(t, derr)
}

type fakeBus struct {
	exported map[string]interface{}
	reply    dbus.RequestNameReply
	released []string
}

func (b *fakeBus) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	if v == nil {
		delete(b.exported, iface)
		return nil
	}
	b.exported[iface] = v
	return nil
}

func (b *fakeBus) RequestName(name string, _ dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	return b.reply, nil
}

func (b *fakeBus) ReleaseName(name string) (dbus.ReleaseNameReply, error) {
	b.released = append(b.released, name)
	return dbus.ReleaseNameReplyReleased, nil
}

func TestPublish(t *testing.T) {
	s, _, _, _, _ := newService()
	bus := &fakeBus{exported: map[string]interface{}{}, reply: dbus.RequestNameReplyPrimaryOwner}

	release, err := Publish(bus, "", s)
	require.NoError(t, err)
	assert.Contains(t, bus.exported, Interface)
	assert.Contains(t, bus.exported, "org.freedesktop.DBus.Introspectable")

	release()
	assert.Equal(t, []string{DefaultName}, bus.released)
	assert.Empty(t, bus.exported)
}

func TestPublishNameTaken(t *testing.T) {
	s, _, _, _, _ := newService()
	bus := &fakeBus{exported: map[string]interface{}{}, reply: dbus.RequestNameReplyExists}

	_, err := Publish(bus, "org.example.Taken", s)
	assert.Error(t, err)
	assert.Empty(t, bus.exported, "exports are withdrawn on failure")
}
