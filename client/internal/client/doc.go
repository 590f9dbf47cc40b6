// Package client talks to fileshare-server over HTTP and WebSocket.
//
// Client.Upload, Download, Status, Renew and Delete map 1:1 to the server's
// HTTP routes. Requests that fail with a network error or a 502/503/504 are
// retried with jittered exponential backoff (sethvargo/go-retry); any other
// 4xx/5xx is returned at once as an *APIError, which matches
// types.ErrNotFound for 404 and types.ErrOccupied for 409 under errors.Is.
//
// Client.Watch subscribes to an entity's expiry over /websocket/{key} and
// calls a handler for every pushed message until the server closes the
// stream (expiry or delete) or ctx is cancelled.
package client
