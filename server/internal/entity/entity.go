package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fileshare/fileshare/pkg/types"
	"github.com/fileshare/fileshare/server/internal/metrics"
	"github.com/fileshare/fileshare/server/internal/store"
)

// purgeRetryDelay is how long an expiry waits before retrying a purge that
// failed on the store.
const purgeRetryDelay = 5 * time.Second

// Entity is the actor behavior for one composite key. All methods run on the
// owning actor's goroutine.
type Entity struct {
	key     string
	alarm   Alarm
	store   store.Backend
	sched   *Scheduler
	channel *Channel
	ttl     func() time.Duration
	metrics *metrics.Set
}

func newEntity(key string, alarm Alarm, st store.Backend, ttl func() time.Duration, m *metrics.Set) *Entity {
	return &Entity{
		key:     key,
		alarm:   alarm,
		store:   st,
		sched:   NewScheduler(alarm),
		channel: NewChannel(key, alarm.Now, m.NotificationsDropped.Inc),
		ttl:     ttl,
		metrics: m,
	}
}

// Activate re-arms the expiry timer of an entity persisted before this actor
// existed, or expires it on the spot if its time already passed.
func (e *Entity) Activate(ctx context.Context) error {
	expireAt, err := e.store.GetExpiry(ctx, e.key)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if expireAt.After(e.alarm.Now()) {
		e.sched.EnsureScheduled(expireAt)
		slog.Debug("entity: restored expiry", "key", e.key, "expire_at", expireAt)
		return nil
	}
	return e.expire(ctx)
}

// purgeOrphan removes a persisted entity that has fields but no expiry,
// which no timer would ever purge. It reports whether it purged.
func (e *Entity) purgeOrphan(ctx context.Context) (bool, error) {
	_, err := e.store.GetExpiry(ctx, e.key)
	if !errors.Is(err, types.ErrNotFound) {
		return false, err
	}
	_, contentErr := e.store.Get(ctx, e.key)
	_, ownerErr := e.store.GetOwner(ctx, e.key)
	if errors.Is(contentErr, types.ErrNotFound) && errors.Is(ownerErr, types.ErrNotFound) {
		// Already empty, e.g. expired by Activate.
		return false, nil
	}
	slog.Warn("entity: purging fields stored without an expiry", "key", e.key)
	return true, e.store.Purge(ctx, e.key)
}

// OnAlarm purges the entity when its timer fires.
func (e *Entity) OnAlarm(ctx context.Context) {
	if err := e.expire(ctx); err != nil {
		slog.Error("entity: purge on expiry failed, will retry",
			"key", e.key, "err", err, "retry_in", purgeRetryDelay)
		e.alarm.SetAlarm(e.alarm.Now().Add(purgeRetryDelay))
	}
}

// Idle reports whether the actor may be passivated.
func (e *Entity) Idle() bool {
	return e.channel.Len() == 0
}

// expire closes every observer and purges the store. Expiring an empty
// entity is a no-op, so a duplicate fire has no effect.
func (e *Entity) expire(ctx context.Context) error {
	if _, err := e.store.GetExpiry(ctx, e.key); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	closed := e.channel.CloseAll(types.CloseExpired, types.CloseReasonExpired)
	if err := e.store.Purge(ctx, e.key); err != nil {
		return err
	}
	e.sched.Cancel()
	e.metrics.Expired.Inc()
	slog.Info("entity: expired", "key", e.key, "observers_closed", closed)
	return nil
}

// live returns the entity's expiry if it has one in the future. An expiry
// that has passed without its alarm being delivered yet is expired here.
func (e *Entity) live(ctx context.Context) (time.Time, bool, error) {
	expireAt, err := e.store.GetExpiry(ctx, e.key)
	if errors.Is(err, types.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if !expireAt.After(e.alarm.Now()) {
		return time.Time{}, false, e.expire(ctx)
	}
	return expireAt, true, nil
}

// Store populates an empty entity with content and arms its expiry. An empty
// owner defaults to the composite key.
func (e *Entity) Store(ctx context.Context, content []byte, owner string) (time.Time, error) {
	if _, live, err := e.live(ctx); err != nil {
		return time.Time{}, err
	} else if live {
		return time.Time{}, fmt.Errorf("store %q: %w", e.key, types.ErrOccupied)
	}
	if owner == "" {
		owner = e.key
	}
	expireAt := e.alarm.Now().Add(e.ttl())

	if err := e.store.Populate(ctx, e.key, content, owner, expireAt); err != nil {
		return time.Time{}, err
	}
	e.sched.EnsureScheduled(expireAt)
	e.metrics.Stored.Inc()
	slog.Info("entity: stored", "key", e.key, "size", len(content), "expire_at", expireAt)
	return expireAt, nil
}

// Fetch returns the stored content, or types.ErrNotFound.
func (e *Entity) Fetch(ctx context.Context) ([]byte, error) {
	if _, live, err := e.live(ctx); err != nil {
		return nil, err
	} else if !live {
		e.metrics.FetchMisses.Inc()
		return nil, fmt.Errorf("fetch %q: %w", e.key, types.ErrNotFound)
	}
	content, err := e.store.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			e.metrics.FetchMisses.Inc()
		}
		return nil, err
	}
	e.metrics.Fetched.Inc()
	return content, nil
}

// Renew extends the lifetime to now + TTL, never shortening it, moves the
// timer, and tells every observer.
func (e *Entity) Renew(ctx context.Context) (time.Time, error) {
	old, live, err := e.live(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !live {
		return time.Time{}, fmt.Errorf("renew %q: %w", e.key, types.ErrNotFound)
	}

	expireAt := e.alarm.Now().Add(e.ttl())
	if expireAt.Before(old) {
		expireAt = old
	}
	if err := e.store.SetExpiry(ctx, e.key, expireAt); err != nil {
		return time.Time{}, err
	}
	e.sched.Reschedule(expireAt)
	sent := e.channel.Broadcast(expireAt)
	e.metrics.Renewed.Inc()
	slog.Info("entity: renewed", "key", e.key, "expire_at", expireAt, "observers", sent)
	return expireAt, nil
}

// Delete closes every observer, purges the store, and cancels the timer.
// Deleting an empty entity succeeds.
func (e *Entity) Delete(ctx context.Context) error {
	closed := e.channel.CloseAll(types.CloseExpired, types.CloseReasonDeleted)
	if err := e.store.Purge(ctx, e.key); err != nil {
		return err
	}
	e.sched.Cancel()
	e.metrics.Deleted.Inc()
	slog.Info("entity: deleted", "key", e.key, "observers_closed", closed)
	return nil
}

// Probe reports whether an expiry timer is pending. It reads no storage.
func (e *Entity) Probe(ctx context.Context) (types.Liveness, error) {
	at, ok := e.sched.Pending()
	if !ok {
		return types.Inactive, nil
	}
	if !at.After(e.alarm.Now()) {
		// Due but not yet delivered.
		if err := e.expire(ctx); err != nil {
			return types.Liveness{}, err
		}
		return types.Inactive, nil
	}
	return types.Liveness{Active: true, ExpireAt: at}, nil
}

// Status combines Probe with the stored owner tag.
func (e *Entity) Status(ctx context.Context) (Status, error) {
	l, err := e.Probe(ctx)
	if err != nil || !l.Active {
		return Status{Liveness: l}, err
	}
	owner, err := e.store.GetOwner(ctx, e.key)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return Status{}, err
	}
	return Status{Liveness: l, Owner: owner}, nil
}

// Observable reports whether the entity has a live expiry in storage, so a
// subscribe would be accepted. Unlike Probe it does not trust the timer: a
// live entity with no pending timer gets one again.
func (e *Entity) Observable(ctx context.Context) (types.Liveness, error) {
	expireAt, live, err := e.live(ctx)
	if err != nil || !live {
		return types.Inactive, err
	}
	e.rearm(expireAt)
	return types.Liveness{Active: true, ExpireAt: expireAt}, nil
}

func (e *Entity) rearm(expireAt time.Time) {
	if _, ok := e.sched.Pending(); !ok {
		e.sched.Reschedule(expireAt)
		slog.Debug("entity: re-armed timer of live entity", "key", e.key, "expire_at", expireAt)
	}
}

// Subscribe attaches o if the entity has a live expiry. A live entity with
// no pending timer gets one again.
func (e *Entity) Subscribe(ctx context.Context, o Observer) error {
	expireAt, live, err := e.live(ctx)
	if err != nil {
		return err
	}
	if !live {
		return fmt.Errorf("subscribe %q: %w", e.key, types.ErrRejected)
	}
	e.rearm(expireAt)
	if err := e.channel.Subscribe(o, expireAt); err != nil {
		return err
	}
	e.metrics.Subscriptions.Inc()
	slog.Debug("entity: observer subscribed", "key", e.key, "observer", o.ID())
	return nil
}

// Unsubscribe detaches observer id after its transport closed.
func (e *Entity) Unsubscribe(id string) {
	if e.channel.Remove(id) {
		slog.Debug("entity: observer left", "key", e.key, "observer", id)
	}
}

// OnMessage echoes the current expiry back to observer id.
func (e *Entity) OnMessage(ctx context.Context, id string) error {
	expireAt, live, err := e.live(ctx)
	if err != nil || !live {
		return err
	}
	e.channel.OnMessage(id, expireAt)
	return nil
}
