package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrStopped is returned by Do once the system has shut down.
var ErrStopped = errors.New("host: stopped")

// DefaultIdleTimeout is how long an idle actor lingers before passivation.
const DefaultIdleTimeout = time.Minute

// Factory builds the Behavior for a newly spawned actor.
type Factory[B Behavior] func(a *Actor) B

// Options configures a System.
type Options struct {
	// Clock drives alarms and idle timers. Defaults to the real clock.
	Clock clockwork.Clock
	// IdleTimeout before an idle actor is passivated. Zero disables
	// passivation.
	IdleTimeout time.Duration
}

// System owns the actors of one Behavior type, keyed by string.
type System[B Behavior] struct {
	factory     Factory[B]
	clock       clockwork.Clock
	idleTimeout time.Duration
	ctx         context.Context
	cancel      context.CancelFunc

	mu     sync.Mutex
	actors map[string]*Actor
	closed bool
	wg     sync.WaitGroup
}

// NewSystem creates a System that builds behaviors with factory.
func NewSystem[B Behavior](factory Factory[B], opts Options) *System[B] {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &System[B]{
		factory:     factory,
		clock:       opts.Clock,
		idleTimeout: opts.IdleTimeout,
		ctx:         ctx,
		cancel:      cancel,
		actors:      make(map[string]*Actor),
	}
}

// Clock returns the system clock.
func (s *System[B]) Clock() clockwork.Clock { return s.clock }

// Do runs fn on the actor owning key, spawning it if needed, and returns
// fn's error. Calls for the same key never overlap. If ctx is done before
// fn starts, fn is skipped and ctx.Err() is returned. Once fn has started,
// Do waits for it and returns its result even if ctx ends meanwhile.
func (s *System[B]) Do(ctx context.Context, key string, fn func(ctx context.Context, b B) error) error {
	done := make(chan error, 1)
	var state atomic.Int32
	for {
		a, err := s.lookup(key)
		if err != nil {
			return err
		}
		b := a.behavior.(B)
		t := task{ctx: ctx, fn: func(ctx context.Context) {
			var err error
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("host: %q: panic: %v", key, r)
					slog.Error("host: task panicked", "key", key, "panic", fmt.Sprint(r))
				}
				done <- err
			}()
			if err = ctx.Err(); err != nil {
				return
			}
			if !state.CompareAndSwap(taskQueued, taskRunning) {
				err = ctx.Err()
				return
			}
			err = fn(ctx, b)
		}}
		if a.enqueue(t) {
			return wait(ctx, a, &state, done)
		}
		// Passivated between lookup and enqueue; the next lookup respawns.
	}
}

// Task states shared by Do's closure and wait. Exactly one of them moves a
// task out of taskQueued.
const (
	taskQueued int32 = iota
	taskRunning
	taskAbandoned
)

func wait(ctx context.Context, a *Actor, state *atomic.Int32, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(taskQueued, taskAbandoned) {
			return ctx.Err()
		}
		// fn is running or finished; its result stands.
		select {
		case err := <-done:
			return err
		case <-a.exited:
			return drain(done)
		}
	case <-a.exited:
		return drain(done)
	}
}

func drain(done <-chan error) error {
	select {
	case err := <-done:
		return err
	default:
		return ErrStopped
	}
}

// lookup returns the live actor for key, spawning one if absent.
func (s *System[B]) lookup(key string) (*Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStopped
	}
	if a, ok := s.actors[key]; ok {
		return a, nil
	}

	a := newActor(key, s.clock, s.ctx)
	a.behavior = s.factory(a)
	s.actors[key] = a
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a.run(s.idleTimeout, s.passivate)
	}()
	slog.Debug("host: actor spawned", "key", key)
	return a, nil
}

// passivate removes a from the system if it is idle. Called on a's goroutine.
func (s *System[B]) passivate(a *Actor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.passivatable() {
		return false
	}
	a.stopped = true
	if s.actors[a.key] == a {
		delete(s.actors, a.key)
	}
	return true
}

// Count returns the number of active actors.
func (s *System[B]) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actors)
}

// Shutdown stops every actor and waits for their goroutines, or for ctx.
// Pending alarms are cancelled, not fired; queued tasks fail with ErrStopped.
func (s *System[B]) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for key, a := range s.actors {
		a.stop()
		delete(s.actors, key)
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
