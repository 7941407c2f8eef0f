package hmi

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    State
		ev      Event
		to      State
		actions []Action
	}{
		{Idle, IncomingCall, Ringing, []Action{StartRinging}},
		{Ringing, CallEnded, Idle, []Action{StopRinging}},
		{Ringing, OffHook, InCall, []Action{StopRinging, AnswerCall}},
		{Ringing, CallBegan, InCall, []Action{StopRinging}},
		{Ringing, OnHook, Idle, []Action{StopRinging}},
		{Idle, OffHook, WaitingForCrank, nil},
		{InitiatingCall, CallBegan, InCall, nil},
		{InitiatingCall, OnHook, Idle, []Action{CancelInitiation, HangupCall}},
		{InCall, OnHook, Idle, []Action{HangupCall}},
		{InCall, IncomingCall, InCall, []Action{DeflectCall}},
		{WaitingForCrank, IncomingCall, WaitingForCrank, []Action{DeflectCall}},
		{InCall, CallEnded, InCall, nil},
		{InCall, OffHook, InCall, nil},
		{Idle, CrankTurned, Idle, nil},
		{Idle, OnHook, Idle, nil},
	}
	for _, c := range cases {
		next, actions := Transition(Panel{State: c.from}, c.ev)
		assert.Equal(t, c.to, next.State, "%s --%s-->", c.from, c.ev)
		assert.Equal(t, c.actions, actions, "%s --%s-->", c.from, c.ev)
	}
}

func TestCrankStartsCall(t *testing.T) {
	p := Panel{State: WaitingForCrank}
	var actions []Action
	for i := 0; i < CrankPulsesToCall-1; i++ {
		p, actions = Transition(p, CrankTurned)
		assert.Equal(t, WaitingForCrank, p.State)
		assert.Empty(t, actions)
	}
	p, actions = Transition(p, CrankTurned)
	assert.Equal(t, InitiatingCall, p.State)
	assert.Equal(t, []Action{InitiateCall}, actions)
	assert.Zero(t, p.Cranks)

	// putting the receiver down resets the count
	p, _ = Transition(Panel{State: WaitingForCrank, Cranks: 5}, OnHook)
	assert.Zero(t, p.Cranks)
}

type recorder struct {
	calls []string
	fail  error
}

func (r *recorder) InitiateCall() error { return r.rec("initiate") }
func (r *recorder) CancelCallInitiation() error { return r.rec("cancel") }
func (r *recorder) AnswerCall() error { return r.rec("answer") }
func (r *recorder) HangupCall() error { return r.rec("hangup") }
func (r *recorder) DeflectCallToVoicemail(call string) error { return r.rec("deflect:" + call) }
func (r *recorder) StartRinging() error { return r.rec("ring") }
func (r *recorder) StopRinging() { _ = r.rec("silence") }
func (r *recorder) ShortRing() error { return r.rec("short-ring") }

func (r *recorder) rec(name string) error {
	r.calls = append(r.calls, name)
	return r.fail
}

func TestControllerIncomingAnswered(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := &recorder{}
	c := NewController(r, r, log.WithField("component", "hmi"))

	c.Handle(IncomingCall)
	c.OffHook()
	c.Handle(IncomingCall)
	c.OnHook()
	assert.Equal(t, []string{"ring", "silence", "answer", "deflect:", "hangup"}, r.calls)
	assert.Equal(t, Idle, c.State())
}

func TestControllerDeflectsTheWaitingCall(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := &recorder{}
	c := NewController(r, r, log.WithField("component", "hmi"))

	c.IncomingCall("/hfp/call1")
	c.OffHook()
	c.IncomingCall("/hfp/call2")
	assert.Equal(t, []string{"ring", "silence", "answer", "deflect:/hfp/call2"}, r.calls)

	// a later event carries no call
	c.Handle(IncomingCall)
	assert.Equal(t, "deflect:", r.calls[len(r.calls)-1])
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "deflect_call", DeflectCall.String())
	assert.Equal(t, "Action(42)", Action(42).String())
	assert.Equal(t, "Action(-1)", Action(-1).String())
}

func TestControllerOutgoing(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := &recorder{fail: errors.New("no gateway")}
	c := NewController(r, r, log.WithField("component", "hmi"))

	c.OffHook()
	for i := 0; i < CrankPulsesToCall; i++ {
		c.CrankTurned()
	}
	assert.Equal(t, InitiatingCall, c.State())
	assert.Equal(t, []string{"initiate"}, r.calls)
	assert.NotNil(t, hook.LastEntry(), "failed action is logged")

	c.OnHook()
	assert.Equal(t, []string{"initiate", "cancel", "hangup"}, r.calls)

	c.DeviceConnected()
	assert.Equal(t, "short-ring", r.calls[len(r.calls)-1])
}
