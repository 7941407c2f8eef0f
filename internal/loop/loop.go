// Package loop is the daemon's single dispatch goroutine. D-Bus signals,
// timers, control-service calls and hardware inputs are all posted here so
// that the session state is only ever touched from one goroutine.
package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrStopped is returned when work is submitted after Run has returned.
var ErrStopped = errors.New("loop: stopped")

type Loop struct {
	tasks chan func()
	done  chan struct{}
	log   *logrus.Entry
}

func New(log *logrus.Entry) *Loop {
	return &Loop{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run executes posted functions in order until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

// A panic inside a task is an internal contract violation: logged, and the
// loop keeps going.
func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", fmt.Sprint(r)).Error("task panicked")
		}
	}()
	fn()
}

// Post queues fn. It reports false once the loop has stopped. Post must not
// be called from the loop goroutine while the queue is full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for its result. It must not be used
// from the loop goroutine itself.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !l.Post(func() { errc <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// AfterFunc posts fn to the loop after d. The returned func stops the timer;
// a callback already queued still runs, so callers guard with their own
// generation checks.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (stop func()) {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return func() { t.Stop() }
}
