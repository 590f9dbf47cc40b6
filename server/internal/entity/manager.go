package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fileshare/fileshare/pkg/types"
	"github.com/fileshare/fileshare/server/internal/host"
	"github.com/fileshare/fileshare/server/internal/metrics"
	"github.com/fileshare/fileshare/server/internal/store"
)

// DefaultTTL is the lifetime given to a stored or renewed entity.
const DefaultTTL = 300 * time.Second

// Status is the liveness of an entity together with its owner tag.
type Status struct {
	types.Liveness
	Owner string
}

// Options configures a Manager.
type Options struct {
	TTL         time.Duration
	IdleTimeout time.Duration
	Clock       clockwork.Clock
}

// Manager routes every operation to the actor owning the composite key.
type Manager struct {
	store   store.Backend
	metrics *metrics.Set
	system  *host.System[*Entity]
	ttl     atomic.Int64
}

// NewManager returns a Manager over st. A nil m records into a private
// registry.
func NewManager(st store.Backend, m *metrics.Set, opts Options) *Manager {
	if m == nil {
		m = metrics.NewSet(metrics.NewRegistry())
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	mgr := &Manager{store: st, metrics: m}
	mgr.ttl.Store(int64(opts.TTL))
	mgr.system = host.NewSystem(func(a *host.Actor) *Entity {
		return newEntity(a.Key(), a, st, mgr.TTL, m)
	}, host.Options{Clock: opts.Clock, IdleTimeout: opts.IdleTimeout})
	return mgr
}

// TTL returns the lifetime applied by the next store or renew.
func (m *Manager) TTL() time.Duration { return time.Duration(m.ttl.Load()) }

// SetTTL changes the lifetime for future stores and renews. Existing expiries
// are left alone.
func (m *Manager) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if old := m.ttl.Swap(int64(ttl)); old != int64(ttl) {
		slog.Info("entity: ttl changed", "old", time.Duration(old), "new", ttl)
	}
}

// Now returns the current time of the host clock.
func (m *Manager) Now() time.Time { return m.system.Clock().Now() }

// ActiveActors returns how many actors are in memory.
func (m *Manager) ActiveActors() int { return m.system.Count() }

func (m *Manager) do(ctx context.Context, key string, fn func(ctx context.Context, e *Entity) error) error {
	if key == "" {
		return fmt.Errorf("empty key: %w", types.ErrNotFound)
	}
	return m.system.Do(ctx, key, fn)
}

// Store populates key with content and returns its expiry.
func (m *Manager) Store(ctx context.Context, key string, content []byte, owner string) (time.Time, error) {
	var at time.Time
	err := m.do(ctx, key, func(ctx context.Context, e *Entity) (err error) {
		at, err = e.Store(ctx, content, owner)
		return err
	})
	return at, err
}

// Fetch returns the content stored under key.
func (m *Manager) Fetch(ctx context.Context, key string) ([]byte, error) {
	var content []byte
	err := m.do(ctx, key, func(ctx context.Context, e *Entity) (err error) {
		content, err = e.Fetch(ctx)
		return err
	})
	return content, err
}

// Renew extends the lifetime of key and returns the new expiry.
func (m *Manager) Renew(ctx context.Context, key string) (time.Time, error) {
	var at time.Time
	err := m.do(ctx, key, func(ctx context.Context, e *Entity) (err error) {
		at, err = e.Renew(ctx)
		return err
	})
	return at, err
}

// Delete purges key and disconnects its observers.
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.do(ctx, key, func(ctx context.Context, e *Entity) error {
		return e.Delete(ctx)
	})
}

// Probe reports whether key has a pending expiry timer.
func (m *Manager) Probe(ctx context.Context, key string) (types.Liveness, error) {
	var l types.Liveness
	err := m.do(ctx, key, func(ctx context.Context, e *Entity) (err error) {
		l, err = e.Probe(ctx)
		return err
	})
	return l, err
}

// Observable reports whether key has a live expiry that observers can
// subscribe to, re-arming its timer if none is pending.
func (m *Manager) Observable(ctx context.Context, key string) (types.Liveness, error) {
	var l types.Liveness
	err := m.do(ctx, key, func(ctx context.Context, e *Entity) (err error) {
		l, err = e.Observable(ctx)
		return err
	})
	return l, err
}

// Status is Probe plus the owner tag.
func (m *Manager) Status(ctx context.Context, key string) (Status, error) {
	var st Status
	err := m.do(ctx, key, func(ctx context.Context, e *Entity) (err error) {
		st, err = e.Status(ctx)
		return err
	})
	return st, err
}

// Subscribe attaches o to key. It fails with types.ErrRejected when the
// entity is not live.
func (m *Manager) Subscribe(ctx context.Context, key string, o Observer) error {
	return m.do(ctx, key, func(ctx context.Context, e *Entity) error {
		return e.Subscribe(ctx, o)
	})
}

// Unsubscribe detaches observer id from key.
func (m *Manager) Unsubscribe(ctx context.Context, key, id string) error {
	return m.do(ctx, key, func(_ context.Context, e *Entity) error {
		e.Unsubscribe(id)
		return nil
	})
}

// OnMessage handles an inbound message from observer id on key.
func (m *Manager) OnMessage(ctx context.Context, key, id string) error {
	return m.do(ctx, key, func(ctx context.Context, e *Entity) error {
		return e.OnMessage(ctx, id)
	})
}

// Recover activates the actor of every persisted entity so their timers are
// armed again after a restart, and purges entities persisted without an
// expiry. It returns how many keys were visited.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	n, orphans := 0, 0
	for _, key := range keys {
		// Keys only lists entities with a field, so a missing expiry means a
		// write that never completed.
		err := m.do(ctx, key, func(ctx context.Context, e *Entity) error {
			purged, err := e.purgeOrphan(ctx)
			if purged {
				orphans++
			}
			return err
		})
		if err != nil {
			slog.Warn("entity: recover failed", "key", key, "err", err)
			continue
		}
		n++
	}
	if n > 0 {
		slog.Info("entity: recovered persisted entities", "count", n, "orphans_purged", orphans)
	}
	return n, nil
}

// Shutdown stops every actor.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.system.Shutdown(ctx)
}
