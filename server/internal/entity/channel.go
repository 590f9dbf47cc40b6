package entity

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fileshare/fileshare/pkg/types"
)

// Observer is a live connection subscribed to one entity. Send must not block;
// a returned error means the observer is gone.
type Observer interface {
	ID() string
	Send(msg []byte) error
	Close(code int, reason string) error
}

// Channel is the set of observers of one entity.
type Channel struct {
	key       string
	now       func() time.Time
	observers map[string]Observer
	onDrop    func()
}

// NewChannel creates an empty Channel for key. onDrop, if set, is called for
// every observer pruned after a failed send.
func NewChannel(key string, now func() time.Time, onDrop func()) *Channel {
	return &Channel{
		key:       key,
		now:       now,
		observers: make(map[string]Observer),
		onDrop:    onDrop,
	}
}

// Len returns the number of attached observers.
func (c *Channel) Len() int { return len(c.observers) }

// Subscribe attaches o and pushes expireAt to it. A zero expireAt means the
// entity has nothing to observe and the subscription is rejected.
func (c *Channel) Subscribe(o Observer, expireAt time.Time) error {
	if expireAt.IsZero() {
		return types.ErrRejected
	}
	c.observers[o.ID()] = o
	c.send(o, c.encode(expireAt))
	return nil
}

// OnMessage answers any inbound message from observer id with expireAt.
func (c *Channel) OnMessage(id string, expireAt time.Time) {
	o, ok := c.observers[id]
	if !ok {
		return
	}
	c.send(o, c.encode(expireAt))
}

// Broadcast pushes expireAt to every attached observer and returns how many
// sends succeeded.
func (c *Channel) Broadcast(expireAt time.Time) int {
	if len(c.observers) == 0 {
		return 0
	}
	msg := c.encode(expireAt)
	sent := 0
	for _, o := range c.observers {
		if c.send(o, msg) {
			sent++
		}
	}
	return sent
}

// CloseAll disconnects every observer with code and reason and returns how
// many were attached.
func (c *Channel) CloseAll(code int, reason string) int {
	n := len(c.observers)
	for id, o := range c.observers {
		_ = o.Close(code, reason)
		delete(c.observers, id)
	}
	return n
}

// Remove detaches observer id without closing it.
func (c *Channel) Remove(id string) bool {
	if _, ok := c.observers[id]; !ok {
		return false
	}
	delete(c.observers, id)
	return true
}

func (c *Channel) encode(expireAt time.Time) []byte {
	msg, _ := json.Marshal(types.NewExpiryMessage(c.key, expireAt, c.now()))
	return msg
}

// send delivers msg best-effort, pruning o if the send fails.
func (c *Channel) send(o Observer, msg []byte) bool {
	if err := o.Send(msg); err != nil {
		slog.Debug("entity: dropping observer", "key", c.key, "observer", o.ID(), "err", err)
		delete(c.observers, o.ID())
		_ = o.Close(types.CloseSlowConsumer, "send failed")
		if c.onDrop != nil {
			c.onDrop()
		}
		return false
	}
	return true
}
