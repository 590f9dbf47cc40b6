// Package rpc exposes the entity operations over gRPC as the service
// fileshare.v1.EntityService.
//
// The service descriptor is written by hand over protobuf well-known types, so
// no generated code is needed:
//
//	Claim(StringValue namespace)  -> StringValue slot_id
//	Store(BytesValue content)     -> Timestamp expire_at   metadata: x-entity-key, x-owner-tag
//	Fetch(StringValue key)        -> BytesValue
//	Probe(StringValue key)        -> Int64Value remaining seconds, -1 when not active
//	Renew(StringValue key)        -> Timestamp expire_at
//	Delete(StringValue key)       -> Empty
//
// Client speaks the same service and satisfies alloc.Prober, so a separate
// caller-facing tier can run the claim protocol against a remote entity host.
package rpc
