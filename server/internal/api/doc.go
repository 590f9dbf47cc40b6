// Package api implements the HTTP API of fileshare-server.
//
// New(entities, claimer, opts) returns an http.Handler that serves:
//
//	POST   /upload/{namespace}  claim a slot and store the request body; X-Owner-Tag is optional
//	GET    /download/{key}      the stored bytes; 404 if empty or expired
//	GET    /status/{key}        liveness, remaining seconds and owner tag
//	POST   /renew/{key}         extend the lifetime to now + TTL
//	DELETE /delete/{key}        purge and disconnect observers
//	GET    /healthz             process liveness
//
// Keys are composite "{namespace}:::{slot_id}" strings. JSON endpoints
// respond with Content-Type: application/json, wrong methods get 405, and
// bodies above the configured maximum get 413. Every response carries an
// X-Request-ID header, generated when the request has none.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
