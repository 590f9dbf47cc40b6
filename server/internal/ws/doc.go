// Package ws is the WebSocket transport for entity observers.
//
// Hub.ServeHTTP is mounted at /websocket/{key}. A request without an Upgrade
// header gets 400, a key with no live entity gets 404, otherwise the
// connection is upgraded and subscribed to the entity. The entity then pushes
// its current expiry immediately, after every renew, and in reply to any text
// frame the client sends:
//
//	{
//	  "event": "expiry",
//	  "data":  {"key": "...", "expire_at": "...", "expire_at_unix": 1.7e9, "remaining_seconds": 300}
//	}
//
// When the entity expires or is deleted the server closes the connection with
// code 1000. A client too slow to drain its buffer is closed with 1013.
// Hub.Run closes every connection with 1001 when its context ends.
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws
