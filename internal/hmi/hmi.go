// Package hmi is the hand-crank telephone front panel: hook switch, crank
// and bell mapped onto headset session commands.
//
// Placing a call: lift the receiver, turn the crank, then speak to the
// phone's voice assistant. Receiving a call: the bell rings until the
// receiver is lifted or the caller gives up.
package hmi

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// CrankPulsesToCall is how many magneto pulses start a call.
const CrankPulsesToCall = 8

type State int

const (
	Idle State = iota
	Ringing
	WaitingForCrank
	InitiatingCall
	InCall
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ringing:
		return "ringing"
	case WaitingForCrank:
		return "waiting_for_crank"
	case InitiatingCall:
		return "initiating_call"
	case InCall:
		return "in_call"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Event int

const (
	IncomingCall Event = iota
	CallBegan
	CallEnded
	OffHook
	OnHook
	CrankTurned
)

func (e Event) String() string {
	switch e {
	case IncomingCall:
		return "incoming_call"
	case CallBegan:
		return "call_began"
	case CallEnded:
		return "call_ended"
	case OffHook:
		return "off_hook"
	case OnHook:
		return "on_hook"
	case CrankTurned:
		return "crank_turned"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

type Action int

const (
	StartRinging Action = iota
	StopRinging
	AnswerCall
	HangupCall
	InitiateCall
	CancelInitiation
	DeflectCall
)

func (a Action) String() string {
	switch a {
	case StartRinging:
		return "start_ringing"
	case StopRinging:
		return "stop_ringing"
	case AnswerCall:
		return "answer_call"
	case HangupCall:
		return "hangup_call"
	case InitiateCall:
		return "initiate_call"
	case CancelInitiation:
		return "cancel_initiation"
	case DeflectCall:
		return "deflect_call"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Panel is the front-panel state; the zero value is on hook and idle.
type Panel struct {
	State  State
	Cranks int
}

// Transition applies ev to p. Events a state does not handle leave it
// unchanged.
func Transition(p Panel, ev Event) (Panel, []Action) {
	switch ev {
	case OnHook:
		var actions []Action
		switch p.State {
		case Ringing:
			actions = []Action{StopRinging}
		case InCall:
			actions = []Action{HangupCall}
		case InitiatingCall:
			actions = []Action{CancelInitiation, HangupCall}
		}
		return Panel{State: Idle}, actions

	case IncomingCall:
		if p.State == Idle {
			return Panel{State: Ringing}, []Action{StartRinging}
		}
		return p, []Action{DeflectCall}

	case CallEnded:
		if p.State == Ringing {
			return Panel{State: Idle}, []Action{StopRinging}
		}

	case OffHook:
		switch p.State {
		case Ringing:
			return Panel{State: InCall}, []Action{StopRinging, AnswerCall}
		case Idle:
			return Panel{State: WaitingForCrank}, nil
		}

	case CallBegan:
		switch p.State {
		case Ringing:
			// answered on the phone itself
			return Panel{State: InCall}, []Action{StopRinging}
		case InitiatingCall:
			return Panel{State: InCall}, nil
		}

	case CrankTurned:
		if p.State == WaitingForCrank {
			p.Cranks++
			if p.Cranks >= CrankPulsesToCall {
				return Panel{State: InitiatingCall}, []Action{InitiateCall}
			}
		}
	}
	return p, nil
}

// Session is what the panel asks of the headset.
type Session interface {
	InitiateCall() error
	CancelCallInitiation() error
	AnswerCall() error
	HangupCall() error
	DeflectCallToVoicemail(call string) error
}

// Bell is the ringer.
type Bell interface {
	StartRinging() error
	StopRinging()
	ShortRing() error
}

// Controller runs the panel against a session and bell. It must only be
// used from the event loop.
type Controller struct {
	session Session
	bell    Bell
	log     *logrus.Entry
	panel   Panel

	// call behind the IncomingCall event being handled
	incoming string
}

func NewController(session Session, bell Bell, log *logrus.Entry) *Controller {
	return &Controller{session: session, bell: bell, log: log}
}

func (c *Controller) State() State { return c.panel.State }

// IncomingCall handles an IncomingCall event for call, so that a busy
// panel deflects that call rather than another one.
func (c *Controller) IncomingCall(call string) {
	c.incoming = call
	defer func() { c.incoming = "" }()
	c.Handle(IncomingCall)
}

func (c *Controller) Handle(ev Event) {
	prev := c.panel.State
	next, actions := Transition(c.panel, ev)
	c.panel = next
	if next.State != prev {
		c.log.WithFields(logrus.Fields{"from": prev, "event": ev, "to": next.State}).Debug("panel")
	}
	for _, a := range actions {
		if err := c.do(a); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{"action": a, "state": next.State}).Error("panel action failed")
		}
	}
}

func (c *Controller) do(a Action) error {
	switch a {
	case StartRinging:
		return c.bell.StartRinging()
	case StopRinging:
		c.bell.StopRinging()
		return nil
	case AnswerCall:
		return c.session.AnswerCall()
	case HangupCall:
		return c.session.HangupCall()
	case InitiateCall:
		return c.session.InitiateCall()
	case CancelInitiation:
		return c.session.CancelCallInitiation()
	case DeflectCall:
		c.log.WithFields(logrus.Fields{"state": c.panel.State, "call": c.incoming}).Info("busy, deflecting call to voicemail")
		return c.session.DeflectCallToVoicemail(c.incoming)
	}
	return nil
}

func (c *Controller) OffHook() { c.Handle(OffHook) }
func (c *Controller) OnHook() { c.Handle(OnHook) }
func (c *Controller) CrankTurned() { c.Handle(CrankTurned) }

// DeviceConnected acknowledges a newly bound phone with a short ring.
func (c *Controller) DeviceConnected() {
	if err := c.bell.ShortRing(); err != nil {
		c.log.WithError(err).Debug("short ring skipped")
	}
}
