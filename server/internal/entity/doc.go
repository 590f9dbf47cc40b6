// Package entity implements the per-key entity actor and its two helpers.
//
// An Entity moves through three states:
//
//	Empty --store--> Live --renew--> Live
//	Live --delete--> Empty
//	Live --alarm---> Expired (observers closed, store purged) == Empty
//
// Scheduler wraps the host's single alarm: EnsureScheduled arms it only when
// none is pending; Reschedule replaces it. Channel holds the observers of one
// entity and pushes expiry updates to them best-effort.
//
// Manager is the routing facade used by the transports: each method runs on
// the actor owning the given composite key.
package entity
