// Package hfp defines the capability a telephony backend offers once a
// Bluetooth device is bound: a Profile that attaches devices to their
// modems, and the Gateway it yields for call control.
package hfp

import (
	"fmt"

	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"phony/internal/bluez"
)

var (
	ErrNoGateway                   = errors.New("hfp: no audio gateway attached")
	ErrNoMatchingCall              = errors.New("hfp: no matching call")
	ErrVoiceRecognitionUnsupported = errors.New("hfp: gateway does not provide voice recognition")
	ErrAttachTimeout               = errors.New("hfp: timed out waiting for modem")
)

type CallState int

const (
	CallIncoming CallState = iota
	CallActive
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallIncoming:
		return "incoming"
	case CallActive:
		return "active"
	case CallEnded:
		return "ended"
	}
	return fmt.Sprintf("CallState(%d)", int(s))
}

// CallRecord is a call as last classified by its gateway.
type CallRecord struct {
	Path   dbus.ObjectPath
	State  CallState
	Number string
}

type EventKind int

const (
	// EventIncoming starts ringing.
	EventIncoming EventKind = iota
	// EventRingingEnded always precedes EventBegan for an answered call.
	EventRingingEnded
	EventBegan
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventIncoming:
		return "incoming"
	case EventRingingEnded:
		return "ringing-ended"
	case EventBegan:
		return "began"
	case EventEnded:
		return "ended"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

type CallEvent struct {
	Kind EventKind
	Call CallRecord
}

// Gateway controls calls on one attached modem. An empty call path targets
// the oldest matching call.
type Gateway interface {
	ProvidesVoiceRecognition() bool
	Dial(number string) error
	Answer(call dbus.ObjectPath) error
	Hangup(call dbus.ObjectPath) error
	DeflectToVoicemail(call dbus.ObjectPath) error
	BeginVoiceDial() error
	EndVoiceDial() error
	// Calls lists live calls, oldest first.
	Calls() []CallRecord
	// OnEvent registers a call-lifecycle listener.
	OnEvent(fn func(CallEvent))
	// Dispose hangs up everything and drops subscriptions. Never fails.
	Dispose()
	String() string
}

// Profile binds connected devices to gateways.
type Profile interface {
	Start() error
	Stop()
	// Attach starts binding dev on the adapter named adapterHCI. Exactly
	// one of ready or fail is called later on the loop goroutine, or ready
	// is called before Attach returns when the modem is already online. A
	// new Attach supersedes the pending one, which then reports nothing.
	Attach(adapterHCI string, dev bluez.Device, ready func(Gateway), fail func(error)) error
	// CancelPendingOperations drops any in-flight attachment. Idempotent.
	CancelPendingOperations()
}
