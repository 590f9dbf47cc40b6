// Package config loads the fileshare-server configuration from a YAML file.
//
// Sections and defaults:
//
//	server:    http_port 8787, grpc_port 50051, log_level info
//	storage:   backend memory|redis, ttl 300s, max_payload_bytes 16MiB,
//	           redis {address localhost:6379, password_env, db 0, grace 1m}
//	allocator: max_attempts 64 (0 = unbounded), retry_backoff 5ms, reservation_ttl 30s
//	actors:    idle_timeout 1m
//
// Load(path) applies defaults before unmarshalling, then validates. Secrets
// are never read from the file: password_env names the environment variable
// holding the Redis password.
//
// Watch(ctx, path, onChange) reloads the file on every write. TTL, log level,
// payload limit and allocator bounds can be applied live; RestartRequired
// reports the settings that cannot.
package config
