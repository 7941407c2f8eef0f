package ofono

import (
	"testing"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phony/internal/bluez"
	"phony/internal/hfp"
)

const phonePath = "/hfp/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"

var phone = bluez.Device{Path: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", Address: "AA:BB:CC:DD:EE:FF"}

func kinds(effects []effect) []effectKind {
	var out []effectKind
	for _, e := range effects {
		out = append(out, e.kind)
	}
	return out
}

func TestServesDevice(t *testing.T) {
	assert.True(t, hfpModem(phonePath, true).ServesDevice("hci0", phone))
	assert.True(t, hfpModem(phonePath, true).ServesDevice("", phone))
	assert.False(t, hfpModem(phonePath, true).ServesDevice("hci1", phone))
	assert.False(t, hfpModem("/hfp/org/bluez/hci0/dev_11_22_33_44_55_66", true).ServesDevice("hci0", phone))

	m := hfpModem(phonePath, true)
	m.Props["Type"] = dbus.MakeVariant("hardware")
	assert.False(t, m.ServesDevice("hci0", phone), "non-hfp modem")
	assert.False(t, hfpModem(phonePath, true).ServesDevice("hci0", bluez.Device{}))
}

func TestTransitionModemAlreadyOnline(t *testing.T) {
	s := attachment{hci: "hci0", device: phone}
	next, effects, ok := transition(s, modemsListed{modems: []Modem{hfpModem(phonePath, true)}})
	require.True(t, ok)
	assert.Equal(t, phaseAttached, next.phase)
	assert.Equal(t, []effectKind{unwatch, cancelTimer, deliver}, kinds(effects))
	assert.EqualValues(t, phonePath, effects[2].modem)
}

func TestTransitionModemOffline(t *testing.T) {
	s := attachment{hci: "hci0", device: phone}
	next, effects, ok := transition(s, modemsListed{modems: []Modem{hfpModem(phonePath, false)}})
	require.True(t, ok)
	assert.Equal(t, phaseAwaitingOnline, next.phase)
	assert.Equal(t, []effectKind{unwatch, watchOnline, armTimer, recheckOnline}, kinds(effects))

	same, effects, ok := transition(next, modemOnline{path: phonePath, online: false})
	assert.True(t, ok)
	assert.Equal(t, phaseAwaitingOnline, same.phase)
	assert.Empty(t, effects)

	done, effects, ok := transition(next, modemOnline{path: phonePath, online: true})
	assert.True(t, ok)
	assert.Equal(t, phaseAttached, done.phase)
	assert.Equal(t, []effectKind{unwatch, cancelTimer, deliver}, kinds(effects))
}

func TestTransitionModemMissing(t *testing.T) {
	s := attachment{hci: "hci0", device: phone}
	waiting, effects, ok := transition(s, modemsListed{})
	require.True(t, ok)
	assert.Equal(t, phaseAwaitingAppearance, waiting.phase)
	assert.Equal(t, []effectKind{watchAppearance, armTimer, rescan}, kinds(effects))

	// another phone's modem does not end the wait
	same, effects, ok := transition(waiting, modemAdded{modem: hfpModem("/hfp/org/bluez/hci0/dev_11_22_33_44_55_66", true)})
	assert.True(t, ok)
	assert.Equal(t, phaseAwaitingAppearance, same.phase)
	assert.Empty(t, effects)

	next, effects, ok := transition(waiting, modemAdded{modem: hfpModem(phonePath, false)})
	assert.True(t, ok)
	assert.Equal(t, phaseAwaitingOnline, next.phase)
	assert.Equal(t, []effectKind{unwatch, watchOnline, recheckOnline}, kinds(effects), "timer already armed")
}

func TestTransitionTimeoutAndCancel(t *testing.T) {
	waiting := attachment{phase: phaseAwaitingAppearance, device: phone}
	idle, effects, ok := transition(waiting, timedOut{})
	assert.True(t, ok)
	assert.Equal(t, phaseIdle, idle.phase)
	require.Equal(t, []effectKind{unwatch, fail}, kinds(effects))
	assert.Equal(t, hfp.ErrAttachTimeout, effects[1].err)

	idle, effects, ok = transition(waiting, cancelled{})
	assert.True(t, ok)
	assert.Equal(t, phaseIdle, idle.phase)
	assert.Equal(t, []effectKind{unwatch, cancelTimer}, kinds(effects))

	_, effects, ok = transition(attachment{}, cancelled{})
	assert.True(t, ok)
	assert.Empty(t, effects)

	_, _, ok = transition(attachment{}, timedOut{})
	assert.False(t, ok)
	_, _, ok = transition(waiting, modemOnline{path: phonePath, online: true})
	assert.False(t, ok)
}

type attachResult struct {
	gateways []hfp.Gateway
	errs     []error
}

func (r *attachResult) ready(g hfp.Gateway) { r.gateways = append(r.gateways, g) }
func (r *attachResult) fail(err error) { r.errs = append(r.errs, err) }

func startedProfile(t *testing.T, be *fakeBackend, sched *fakeScheduler) *Profile {
	p := NewProfile(be, sched, 30*time.Second, nullLog())
	require.NoError(t, p.Start())
	return p
}

func TestAttachModemAlreadyOnline(t *testing.T) {
	be := newFakeBackend()
	be.modems = []Modem{hfpModem(phonePath, true)}
	be.features = []string{FeatureVoiceRecognition}
	p := startedProfile(t, be, &fakeScheduler{})

	var r attachResult
	require.NoError(t, p.Attach("hci0", phone, r.ready, r.fail))
	require.Len(t, r.gateways, 1, "ready before Attach returns")
	assert.True(t, r.gateways[0].ProvidesVoiceRecognition())
	assert.Equal(t, phonePath, r.gateways[0].String())
	assert.Empty(t, r.errs)
}

func TestAttachWaitsForAppearanceThenOnline(t *testing.T) {
	be := newFakeBackend()
	sched := &fakeScheduler{}
	p := startedProfile(t, be, sched)

	var r attachResult
	require.NoError(t, p.Attach("hci0", phone, r.ready, r.fail))
	assert.Empty(t, r.gateways)
	assert.Len(t, sched.pending, 1)

	be.appear(hfpModem(phonePath, false))
	assert.Empty(t, r.gateways, "modem is still offline")
	assert.Equal(t, phaseAwaitingOnline, p.state.phase)

	be.setOnline(phonePath, false)
	assert.Empty(t, r.gateways)

	be.setOnline(phonePath, true)
	require.Len(t, r.gateways, 1)
	assert.Empty(t, r.errs)
	assert.Equal(t, 1, sched.stopped)
	assert.Equal(t, 1, be.watchers(), "only the gateway's call watch remains")

	// the timer callback may already have been queued
	sched.fire()
	assert.Empty(t, r.errs)
}

func TestAttachTimesOut(t *testing.T) {
	be := newFakeBackend()
	sched := &fakeScheduler{}
	p := startedProfile(t, be, sched)

	var r attachResult
	require.NoError(t, p.Attach("hci0", phone, r.ready, r.fail))
	sched.fire()
	require.Len(t, r.errs, 1)
	assert.Equal(t, hfp.ErrAttachTimeout, r.errs[0])
	assert.Zero(t, be.watchers())

	be.appear(hfpModem(phonePath, true))
	assert.Empty(t, r.gateways)
}

func TestAttachWithoutTimeoutWaitsForever(t *testing.T) {
	be := newFakeBackend()
	sched := &fakeScheduler{}
	p := NewProfile(be, sched, 0, nullLog())
	require.NoError(t, p.Start())

	var r attachResult
	require.NoError(t, p.Attach("hci0", phone, r.ready, r.fail))
	assert.Empty(t, sched.pending)
}

func TestNewAttachSupersedesPending(t *testing.T) {
	be := newFakeBackend()
	p := startedProfile(t, be, &fakeScheduler{})

	var first, second attachResult
	require.NoError(t, p.Attach("hci0", phone, first.ready, first.fail))
	other := bluez.Device{Address: "11:22:33:44:55:66"}
	require.NoError(t, p.Attach("hci0", other, second.ready, second.fail))
	require.Len(t, be.allAdded, 2)

	// a signal captured under the first attempt arrives late
	be.allAdded[0](hfpModem(phonePath, true))
	assert.Empty(t, first.gateways)
	assert.Empty(t, first.errs)

	be.appear(hfpModem("/hfp/org/bluez/hci0/dev_11_22_33_44_55_66", true))
	assert.Len(t, second.gateways, 1)
	assert.Empty(t, first.gateways)
}

func TestCancelPendingOperations(t *testing.T) {
	be := newFakeBackend()
	sched := &fakeScheduler{}
	p := startedProfile(t, be, sched)

	var r attachResult
	require.NoError(t, p.Attach("hci0", phone, r.ready, r.fail))
	require.NotZero(t, be.watchers())

	p.CancelPendingOperations()
	p.CancelPendingOperations()
	assert.Zero(t, be.watchers())
	assert.Equal(t, phaseIdle, p.state.phase)

	sched.fire()
	be.allAdded[0](hfpModem(phonePath, true))
	assert.Empty(t, r.gateways)
	assert.Empty(t, r.errs)
}

func TestAttachErrors(t *testing.T) {
	be := newFakeBackend()
	p := NewProfile(be, &fakeScheduler{}, time.Second, nullLog())

	var r attachResult
	assert.Error(t, p.Attach("hci0", phone, r.ready, r.fail), "not started")

	require.NoError(t, p.Start())
	be.modemsErr = errors.New("org.freedesktop.DBus.Error.ServiceUnknown")
	assert.Error(t, p.Attach("hci0", phone, r.ready, r.fail))
	assert.Empty(t, r.gateways)
	assert.Empty(t, r.errs)
	assert.Zero(t, be.watchers())

	q := NewProfile(be, nil, 0, nullLog())
	assert.Error(t, q.Start())
}
