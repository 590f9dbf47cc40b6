package types

import "time"

// EventExpiry is the only event pushed to observers.
const EventExpiry = "expiry"

// CloseExpired is the WebSocket close code sent to observers when their
// entity is purged by expiry or delete.
const CloseExpired = 1000

// Close reasons sent with CloseExpired.
const (
	CloseReasonExpired = "entity expired"
	CloseReasonDeleted = "entity deleted"
)

// CloseSlowConsumer is sent to an observer dropped because a push to it
// failed (its outgoing queue was full or the connection broke).
const CloseSlowConsumer = 1013

// Message is the JSON envelope pushed to observers.
type Message struct {
	Event string     `json:"event"`
	Data  ExpiryData `json:"data"`
}

// ExpiryData carries an entity's current expiry.
type ExpiryData struct {
	Key              string    `json:"key"`
	ExpireAt         time.Time `json:"expire_at"`
	ExpireAtUnix     float64   `json:"expire_at_unix"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// NewExpiryMessage builds the observer message for key expiring at expireAt,
// as seen at now.
func NewExpiryMessage(key string, expireAt, now time.Time) Message {
	return Message{
		Event: EventExpiry,
		Data: ExpiryData{
			Key:              key,
			ExpireAt:         expireAt.UTC(),
			ExpireAtUnix:     float64(expireAt.UnixMilli()) / 1000,
			RemainingSeconds: Liveness{Active: true, ExpireAt: expireAt}.Remaining(now),
		},
	}
}
