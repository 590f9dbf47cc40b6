package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Behavior is the per-key state machine run by an Actor.
type Behavior interface {
	// Activate is called once on the actor goroutine before any task.
	Activate(ctx context.Context) error

	// OnAlarm is called on the actor goroutine when the alarm elapses.
	OnAlarm(ctx context.Context)

	// Idle reports whether the actor may be passivated.
	Idle() bool
}

type task struct {
	ctx context.Context
	fn  func(ctx context.Context)
}

// Actor is the execution context of one key. Its alarm methods must only be
// called from the actor goroutine, i.e. from Behavior callbacks or functions
// passed to System.Do.
type Actor struct {
	key      string
	clock    clockwork.Clock
	baseCtx  context.Context
	behavior Behavior

	mu      sync.Mutex
	queue   []task
	stopped bool
	wake    chan struct{}
	quit    chan struct{}
	exited  chan struct{}

	// Actor goroutine only.
	alarm    clockwork.Timer
	alarmAt  time.Time
	alarmGen uint64
}

func newActor(key string, clock clockwork.Clock, baseCtx context.Context) *Actor {
	return &Actor{
		key:     key,
		clock:   clock,
		baseCtx: baseCtx,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// Key returns the key this actor owns.
func (a *Actor) Key() string { return a.key }

// Now returns the current time of the host clock.
func (a *Actor) Now() time.Time { return a.clock.Now() }

// SetAlarm arms the alarm to fire at at, replacing any pending alarm.
// An at in the past fires as soon as possible.
func (a *Actor) SetAlarm(at time.Time) {
	a.stopAlarm()
	a.alarmGen++
	gen := a.alarmGen
	d := at.Sub(a.clock.Now())
	if d < 0 {
		d = 0
	}
	a.alarmAt = at
	a.alarm = a.clock.AfterFunc(d, func() {
		a.enqueue(task{ctx: a.baseCtx, fn: func(ctx context.Context) { a.fire(ctx, gen) }})
	})
}

// Alarm returns the pending alarm time, if any.
func (a *Actor) Alarm() (time.Time, bool) {
	if a.alarm == nil {
		return time.Time{}, false
	}
	return a.alarmAt, true
}

// DeleteAlarm cancels the pending alarm. A fire already queued is dropped.
func (a *Actor) DeleteAlarm() {
	a.stopAlarm()
	a.alarmGen++
}

func (a *Actor) stopAlarm() {
	if a.alarm != nil {
		a.alarm.Stop()
		a.alarm = nil
		a.alarmAt = time.Time{}
	}
}

func (a *Actor) fire(ctx context.Context, gen uint64) {
	if gen != a.alarmGen || a.alarm == nil {
		slog.Debug("host: dropped stale alarm", "key", a.key)
		return
	}
	a.alarm = nil
	a.alarmAt = time.Time{}
	a.behavior.OnAlarm(ctx)
}

// enqueue appends t to the mailbox. It returns false once the actor stopped.
func (a *Actor) enqueue(t task) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.queue = append(a.queue, t)
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

func (a *Actor) next() (task, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return task{}, false
	}
	t := a.queue[0]
	a.queue[0] = task{}
	a.queue = a.queue[1:]
	return t, true
}

// stop marks the actor stopped and signals its goroutine to exit.
func (a *Actor) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	close(a.quit)
}

// run is the actor goroutine. passivate is consulted when the idle timer
// elapses; it returns true if the actor was removed from its system.
func (a *Actor) run(idleTimeout time.Duration, passivate func(*Actor) bool) {
	defer close(a.exited)
	defer a.stopAlarm()

	if err := a.behavior.Activate(a.baseCtx); err != nil {
		slog.Error("host: activate failed", "key", a.key, "err", err)
	}

	var idleC <-chan time.Time
	var idle clockwork.Timer
	if idleTimeout > 0 {
		idle = a.clock.NewTimer(idleTimeout)
		defer idle.Stop()
		idleC = idle.Chan()
	}
	lastActive := a.clock.Now()

	for {
		if t, ok := a.next(); ok {
			a.exec(t)
			lastActive = a.clock.Now()
			continue
		}

		select {
		case <-a.quit:
			return
		case <-a.wake:
		case <-idleC:
			if remaining := idleTimeout - a.clock.Since(lastActive); remaining > 0 {
				idle.Reset(remaining)
				continue
			}
			if passivate(a) {
				slog.Debug("host: actor passivated", "key", a.key)
				return
			}
			idle.Reset(idleTimeout)
		}
	}
}

// exec runs one task. A panicking alarm handler is logged instead of taking
// down the key's goroutine.
func (a *Actor) exec(t task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("host: task panicked", "key", a.key, "panic", fmt.Sprint(r))
		}
	}()
	t.fn(t.ctx)
}

// passivatable reports whether the actor can be dropped. Caller holds a.mu and
// runs on the actor goroutine.
func (a *Actor) passivatable() bool {
	return len(a.queue) == 0 && a.alarm == nil && a.behavior.Idle()
}
