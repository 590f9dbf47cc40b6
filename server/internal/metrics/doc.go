// Package metrics keeps fileshare's process counters and serves them in the
// Prometheus text exposition format.
//
// Registry holds counters and gauge callbacks and renders them as
// client_model metric families through expfmt. Set is the fixed collection
// of counters the server updates.
package metrics
