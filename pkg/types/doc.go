// Package types defines shared Go types used by both the client and server.
// These are the canonical representations of entity keys, liveness results,
// and the WebSocket expiry message, separate from any transport encoding.
package types
