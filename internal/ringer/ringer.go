// Package ringer drives the bell of the handset through an H-bridge: the
// bell strikes once per polarity flip while the bridge is enabled.
package ringer

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrAlreadyRinging = errors.New("ringer: already ringing")

// Outputs are the three H-bridge lines.
type Outputs interface {
	RingerEnable(on bool) error
	Ringer1(on bool) error
	Ringer2(on bool) error
}

// Ringer oscillates on its own goroutine. StartRinging, StopRinging and
// ShortRing may be called from any goroutine.
type Ringer struct {
	out Outputs
	log *logrus.Entry

	Frequency         float64
	RingDuration      time.Duration
	PauseDuration     time.Duration
	ShortRingDuration time.Duration

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	polarity bool
}

// New returns a ringer with a 20 Hz bell, ringing 2 s on and 2 s off. The
// bridge is de-energized straight away.
func New(out Outputs, log *logrus.Entry) *Ringer {
	r := &Ringer{
		out:               out,
		log:               log,
		Frequency:         20,
		RingDuration:      2 * time.Second,
		PauseDuration:     2 * time.Second,
		ShortRingDuration: 250 * time.Millisecond,
	}
	r.deenergize()
	return r
}

// Ringing reports whether an oscillator goroutine is running.
func (r *Ringer) Ringing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busyLocked()
}

func (r *Ringer) busyLocked() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// StartRinging rings until StopRinging.
func (r *Ringer) StartRinging() error {
	return r.start(true, r.RingDuration)
}

// ShortRing strikes the bell briefly, e.g. to acknowledge a new device.
func (r *Ringer) ShortRing() error {
	return r.start(false, r.ShortRingDuration)
}

func (r *Ringer) start(repeat bool, burst time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busyLocked() {
		return ErrAlreadyRinging
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.run(r.stop, r.done, repeat, burst)
	r.log.WithField("continuous", repeat).Debug("ringing")
	return nil
}

// StopRinging stops the oscillator and waits for it to exit. The bridge is
// de-energized when it returns, whether or not it was ringing.
func (r *Ringer) StopRinging() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		select {
		case <-r.stop:
		default:
			close(r.stop)
		}
		<-r.done
		r.stop, r.done = nil, nil
	}
	r.deenergize()
}

func (r *Ringer) run(stop <-chan struct{}, done chan<- struct{}, repeat bool, burst time.Duration) {
	defer close(done)
	defer r.deenergize()

	period := time.Duration(float64(time.Second) / r.Frequency)
	tick := time.NewTicker(period)
	defer tick.Stop()

	r.set("enable", r.out.RingerEnable, true)
	for {
		end := time.Now().Add(burst)
		for time.Now().Before(end) {
			r.ding()
			select {
			case <-stop:
				return
			case <-tick.C:
			}
		}
		if !repeat {
			return
		}
		pause := time.NewTimer(r.PauseDuration)
		select {
		case <-stop:
			pause.Stop()
			return
		case <-pause.C:
		}
	}
}

func (r *Ringer) ding() {
	r.set("ringer1", r.out.Ringer1, r.polarity)
	r.polarity = !r.polarity
	r.set("ringer2", r.out.Ringer2, r.polarity)
}

func (r *Ringer) deenergize() {
	r.set("enable", r.out.RingerEnable, false)
	r.set("ringer1", r.out.Ringer1, false)
	r.set("ringer2", r.out.Ringer2, false)
}

func (r *Ringer) set(line string, fn func(bool) error, on bool) {
	if err := fn(on); err != nil {
		r.log.WithError(err).WithField("line", line).Warn("ringer output failed")
	}
}
