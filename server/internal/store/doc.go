// Package store holds the durable per-entity slots behind every actor: the
// stored content, its absolute expiry, and an optional owner tag.
//
// Backend is the storage contract. Two implementations exist:
//
//   - Memory: a thread-safe map, the default. State survives actor
//     passivation but not a process restart.
//   - Redis: one hash per entity plus SET NX claim markers. State survives
//     restarts; each hash also carries a Redis expiry at expire_at + grace so
//     nothing outlives the TTL window if the server dies.
//
// A Backend never schedules timers or notifies observers. Those are the
// entity actor's job.
package store
