package alloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fileshare/fileshare/pkg/types"
	"github.com/fileshare/fileshare/server/internal/metrics"
)

// Defaults for Options.
const (
	DefaultMaxAttempts    = 64
	DefaultBackoff        = 5 * time.Millisecond
	DefaultReservationTTL = 30 * time.Second
)

// ErrEmptyNamespace is returned by Claim for a namespace that cannot be
// routed.
var ErrEmptyNamespace = errors.New("alloc: empty namespace")

// Prober answers whether a composite key currently holds a live entity.
// *entity.Manager and *rpc.Client implement it.
type Prober interface {
	Probe(ctx context.Context, key string) (types.Liveness, error)
}

// Reserver atomically marks a key as claimed for ttl. It reports false when
// the key was already marked. store.Backend implements it.
type Reserver interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Options tunes an Allocator.
type Options struct {
	// MaxAttempts bounds the claim loop. Zero retries until ctx ends.
	MaxAttempts int
	// Backoff is the constant wait between attempts.
	Backoff time.Duration
	// ReservationTTL is how long a claimed key stays reserved for its store.
	ReservationTTL time.Duration
	// IntN returns a uniform int in [0, n). Defaults to math/rand.
	IntN func(n int) int
	// Metrics, if set, records claims and collisions.
	Metrics *metrics.Set
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    DefaultMaxAttempts,
		Backoff:        DefaultBackoff,
		ReservationTTL: DefaultReservationTTL,
	}
}

// Allocator issues slot ids that are not live at the time of the claim.
type Allocator struct {
	prober   Prober
	reserver Reserver
	intN     func(n int) int
	metrics  *metrics.Set

	mu             sync.RWMutex
	maxAttempts    int
	backoff        time.Duration
	reservationTTL time.Duration
}

// New returns an Allocator that probes through p and reserves through r.
func New(p Prober, r Reserver, opts Options) *Allocator {
	if opts.IntN == nil {
		opts.IntN = rand.Intn
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSet(metrics.NewRegistry())
	}
	a := &Allocator{
		prober:   p,
		reserver: r,
		intN:     opts.IntN,
		metrics:  opts.Metrics,
	}
	a.SetLimits(opts.MaxAttempts, opts.Backoff, opts.ReservationTTL)
	return a
}

// SetLimits changes the retry bounds for subsequent claims. Non-positive
// backoff and reservation TTL fall back to the defaults; a negative
// maxAttempts is treated as zero.
func (a *Allocator) SetLimits(maxAttempts int, backoff, reservationTTL time.Duration) {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	if reservationTTL <= 0 {
		reservationTTL = DefaultReservationTTL
	}
	a.mu.Lock()
	a.maxAttempts, a.backoff, a.reservationTTL = maxAttempts, backoff, reservationTTL
	a.mu.Unlock()
}

func (a *Allocator) limits() (int, time.Duration, time.Duration) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.maxAttempts, a.backoff, a.reservationTTL
}

// Allocate draws a random slot id for namespace. It performs no I/O and
// gives no uniqueness guarantee.
func (a *Allocator) Allocate(namespace string) types.Key {
	slot := types.SlotMin + a.intN(types.SlotMax-types.SlotMin+1)
	return types.Key{Namespace: namespace, SlotID: strconv.Itoa(slot)}
}

// IsClaimable reports whether key has no pending expiry.
func (a *Allocator) IsClaimable(ctx context.Context, key string) (bool, error) {
	l, err := a.prober.Probe(ctx, key)
	if err != nil {
		return false, err
	}
	if !l.Claimable() {
		slog.Debug("alloc: slot collision", "key", key, "remaining_seconds", l.Remaining(time.Now()))
	}
	return l.Claimable(), nil
}

// Claim returns a key in namespace that was not live when probed and is now
// reserved for the caller's store.
func (a *Allocator) Claim(ctx context.Context, namespace string) (types.Key, error) {
	if namespace == "" {
		return types.Key{}, ErrEmptyNamespace
	}
	maxAttempts, backoff, reservationTTL := a.limits()

	b := retry.NewConstant(backoff)
	if maxAttempts > 0 {
		b = retry.WithMaxRetries(uint64(maxAttempts-1), b)
	}

	var claimed types.Key
	attempts := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		k := a.Allocate(namespace)
		ok, err := a.try(ctx, k.String(), reservationTTL)
		if err != nil {
			return err
		}
		if !ok {
			a.metrics.Collisions.Inc()
			return retry.RetryableError(fmt.Errorf("slot %s: %w", k, types.ErrCollision))
		}
		claimed = k
		return nil
	})
	switch {
	case err == nil:
		a.metrics.Claims.Inc()
		if attempts > 1 {
			slog.Info("alloc: claimed after collisions", "key", claimed.String(), "attempts", attempts)
		}
		return claimed, nil
	case errors.Is(err, types.ErrCollision):
		a.metrics.ClaimsExhausted.Inc()
		slog.Warn("alloc: claim exhausted", "namespace", namespace, "attempts", attempts)
		return types.Key{}, fmt.Errorf("namespace %q after %d attempts: %w",
			namespace, attempts, types.ErrAllocationExhausted)
	default:
		return types.Key{}, err
	}
}

// try probes key and, if it is free, reserves it.
func (a *Allocator) try(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := a.IsClaimable(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	reserved, err := a.reserver.Reserve(ctx, key, ttl)
	if err != nil {
		return false, err
	}
	if !reserved {
		slog.Debug("alloc: slot already reserved", "key", key)
	}
	return reserved, nil
}
