package types

import (
	"math"
	"time"
)

// Liveness is the result of probing an entity: whether an expiry alarm is
// pending and, if so, when it fires.
type Liveness struct {
	Active   bool
	ExpireAt time.Time
}

// Inactive is the probe result for an empty or already purged entity.
var Inactive = Liveness{}

// Remaining returns the whole seconds left before expiry, rounded up, or -1
// when the entity is not active. The -1 sentinel is part of the wire format.
func (l Liveness) Remaining(now time.Time) int64 {
	if !l.Active {
		return -1
	}
	d := l.ExpireAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

// Claimable reports whether the probed key may be populated by a new store.
func (l Liveness) Claimable() bool {
	return !l.Active
}
