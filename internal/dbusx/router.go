// Package dbusx routes D-Bus signals from one godbus connection to
// subscribers, delivering each handler call through a caller-supplied post
// function (the event loop).
package dbusx

import (
	"strings"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	PropertiesInterface    = "org.freedesktop.DBus.Properties"
	ObjectManagerInterface = "org.freedesktop.DBus.ObjectManager"
)

// ManagedObjects is the reply shape of ObjectManager.GetManagedObjects.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// SignalConn is the part of *dbus.Conn the router needs.
type SignalConn interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

// Match describes which signals a subscriber wants. Empty fields match
// anything. Sender only narrows the bus-side rule: signals carry the
// sender's unique name, so it is not compared locally.
type Match struct {
	Sender        string
	Path          dbus.ObjectPath
	PathNamespace dbus.ObjectPath
	Interface     string
	Member        string
	Arg0          string
}

func (m Match) options() []dbus.MatchOption {
	var opts []dbus.MatchOption
	if m.Sender != "" {
		opts = append(opts, dbus.WithMatchSender(m.Sender))
	}
	if m.Path != "" {
		opts = append(opts, dbus.WithMatchObjectPath(m.Path))
	}
	if m.PathNamespace != "" {
		opts = append(opts, dbus.WithMatchPathNamespace(m.PathNamespace))
	}
	if m.Interface != "" {
		opts = append(opts, dbus.WithMatchInterface(m.Interface))
	}
	if m.Member != "" {
		opts = append(opts, dbus.WithMatchMember(m.Member))
	}
	if m.Arg0 != "" {
		opts = append(opts, dbus.WithMatchArg(0, m.Arg0))
	}
	return opts
}

// Matches reports whether sig satisfies every non-empty field of m.
func (m Match) Matches(sig *dbus.Signal) bool {
	if sig == nil {
		return false
	}
	if m.Path != "" && sig.Path != m.Path {
		return false
	}
	if m.PathNamespace != "" && !InNamespace(sig.Path, m.PathNamespace) {
		return false
	}
	iface, member := splitName(sig.Name)
	if m.Interface != "" && iface != m.Interface {
		return false
	}
	if m.Member != "" && member != m.Member {
		return false
	}
	if m.Arg0 != "" {
		if len(sig.Body) == 0 {
			return false
		}
		if s, ok := sig.Body[0].(string); !ok || s != m.Arg0 {
			return false
		}
	}
	return true
}

// InNamespace reports whether p equals ns or lies below it.
func InNamespace(p, ns dbus.ObjectPath) bool {
	if ns == "/" {
		return true
	}
	return p == ns || strings.HasPrefix(string(p), string(ns)+"/")
}

func splitName(name string) (iface, member string) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

type subscription struct {
	match   Match
	handler func(*dbus.Signal)
	active  atomic.Bool
}

// Router fans signals out to subscribers. Handlers run wherever post runs
// them; a handler whose subscription was cancelled before delivery is
// skipped.
type Router struct {
	conn SignalConn
	post func(func()) bool
	log  *logrus.Entry

	mu   sync.Mutex
	subs map[uint64]*subscription
	next uint64

	ch      chan *dbus.Signal
	stop    chan struct{}
	stopped sync.Once
}

func NewRouter(conn SignalConn, post func(func()) bool, log *logrus.Entry) *Router {
	r := &Router{
		conn: conn,
		post: post,
		log:  log,
		subs: make(map[uint64]*subscription),
		ch:   make(chan *dbus.Signal, 64),
		stop: make(chan struct{}),
	}
	conn.Signal(r.ch)
	go r.dispatch()
	return r
}

// Subscribe installs the bus match rule and registers h. The returned
// cancel func is idempotent.
func (r *Router) Subscribe(m Match, h func(*dbus.Signal)) (cancel func(), err error) {
	if err := r.conn.AddMatchSignal(m.options()...); err != nil {
		return nil, errors.Wrapf(err, "dbusx: add match %s.%s", m.Interface, m.Member)
	}
	sub := &subscription{match: m, handler: h}
	sub.active.Store(true)

	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = sub
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			if err := r.conn.RemoveMatchSignal(m.options()...); err != nil {
				r.log.WithError(err).Debug("remove match failed")
			}
		})
	}, nil
}

// Close stops dispatching. Outstanding subscriptions become inert.
func (r *Router) Close() {
	r.stopped.Do(func() {
		r.conn.RemoveSignal(r.ch)
		close(r.stop)
	})
}

func (r *Router) dispatch() {
	for {
		select {
		case <-r.stop:
			return
		case sig, ok := <-r.ch:
			if !ok {
				return
			}
			r.deliver(sig)
		}
	}
}

func (r *Router) deliver(sig *dbus.Signal) {
	r.mu.Lock()
	var hit []*subscription
	for _, sub := range r.subs {
		if sub.match.Matches(sig) {
			hit = append(hit, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range hit {
		sub := sub
		if !r.post(func() {
			if sub.active.Load() {
				sub.handler(sig)
			}
		}) {
			return
		}
	}
}
