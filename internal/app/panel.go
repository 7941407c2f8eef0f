package app

import (
	dbus "github.com/godbus/dbus/v5"
)

// callControl is the part of the headset session the panel drives.
type callControl interface {
	InitiateCall() error
	CancelCallInitiation() error
	AnswerCall(call dbus.ObjectPath) error
	HangupCall(call dbus.ObjectPath) error
	DeflectCallToVoicemail(call dbus.ObjectPath) error
}

// panelSession lets the panel act on whichever call is oldest, except
// deflection which names the call it came from.
type panelSession struct {
	s callControl
}

func (p panelSession) InitiateCall() error { return p.s.InitiateCall() }
func (p panelSession) CancelCallInitiation() error { return p.s.CancelCallInitiation() }
func (p panelSession) AnswerCall() error { return p.s.AnswerCall("") }
func (p panelSession) HangupCall() error { return p.s.HangupCall("") }
func (p panelSession) DeflectCallToVoicemail(call string) error {
	return p.s.DeflectCallToVoicemail(dbus.ObjectPath(call))
}
