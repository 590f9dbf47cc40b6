package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fileshare/fileshare/pkg/types"
)

// Hash fields of one entity.
const (
	fieldContent  = "content"
	fieldExpireAt = "expire_at"
	fieldOwner    = "owner"
)

const defaultPrefix = "fileshare"

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	// Address of the Redis server (host:port).
	Address string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config
	// Grace is added to expire_at when setting the Redis key expiry.
	Grace time.Duration
	// Prefix namespaces every Redis key. Defaults to "fileshare".
	Prefix string
}

// DefaultRedisOptions returns options for a local, password-less server.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Address: "localhost:6379",
		Grace:   time.Minute,
		Prefix:  defaultPrefix,
	}
}

// Redis is a Backend storing each entity as a Redis hash.
type Redis struct {
	client  *redis.Client
	options RedisOptions
	isOwner bool
}

// NewRedis opens a new Redis client from options. The returned backend owns
// the client and closes it on Close.
func NewRedis(options RedisOptions) *Redis {
	client := redis.NewClient(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB,
	})
	r := NewRedisFromClient(client, options)
	r.isOwner = true
	return r
}

// NewRedisFromClient wraps an existing client. Close leaves the client open.
func NewRedisFromClient(client *redis.Client, options RedisOptions) *Redis {
	if options.Prefix == "" {
		options.Prefix = defaultPrefix
	}
	return &Redis{client: client, options: options}
}

// Ping tests connectivity (PONG expected).
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return storageErr("ping", "", err)
	}
	return nil
}

func (r *Redis) entityKey(key string) string {
	return r.options.Prefix + ":entity:" + key
}

func (r *Redis) claimKey(key string) string {
	return r.options.Prefix + ":claim:" + key
}

// keyNotFound reports whether err signifies a missing key or field.
func keyNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

func storageErr(op, key string, err error) error {
	return fmt.Errorf("redis %s %q: %w: %w", op, key, types.ErrStorage, err)
}

// Put stores content in the entity hash.
func (r *Redis) Put(ctx context.Context, key string, content []byte) error {
	if err := r.client.HSet(ctx, r.entityKey(key), fieldContent, content).Err(); err != nil {
		return storageErr("hset", key, err)
	}
	return nil
}

// Get returns the stored content.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.HGet(ctx, r.entityKey(key), fieldContent).Bytes()
	if keyNotFound(err) {
		return nil, fmt.Errorf("content %q: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("hget", key, err)
	}
	return b, nil
}

// SetExpiry records expire_at and moves the hash's Redis expiry to at + grace.
func (r *Redis) SetExpiry(ctx context.Context, key string, at time.Time) error {
	ek := r.entityKey(key)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, ek, fieldExpireAt, strconv.FormatInt(at.UnixNano(), 10))
		p.PExpireAt(ctx, ek, at.Add(r.options.Grace))
		return nil
	})
	if err != nil {
		return storageErr("set expiry", key, err)
	}
	return nil
}

// Populate writes every field and the key expiry in one MULTI/EXEC.
func (r *Redis) Populate(ctx context.Context, key string, content []byte, owner string, at time.Time) error {
	ek := r.entityKey(key)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, ek,
			fieldContent, content,
			fieldOwner, owner,
			fieldExpireAt, strconv.FormatInt(at.UnixNano(), 10),
		)
		p.PExpireAt(ctx, ek, at.Add(r.options.Grace))
		return nil
	})
	if err != nil {
		return storageErr("populate", key, err)
	}
	return nil
}

// GetExpiry returns the stored expire_at.
func (r *Redis) GetExpiry(ctx context.Context, key string) (time.Time, error) {
	s, err := r.client.HGet(ctx, r.entityKey(key), fieldExpireAt).Result()
	if keyNotFound(err) {
		return time.Time{}, fmt.Errorf("expiry %q: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, storageErr("hget", key, err)
	}
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, storageErr("parse expiry", key, err)
	}
	return time.Unix(0, ns), nil
}

// SetOwner records the owner tag.
func (r *Redis) SetOwner(ctx context.Context, key, tag string) error {
	if err := r.client.HSet(ctx, r.entityKey(key), fieldOwner, tag).Err(); err != nil {
		return storageErr("hset", key, err)
	}
	return nil
}

// GetOwner returns the owner tag.
func (r *Redis) GetOwner(ctx context.Context, key string) (string, error) {
	s, err := r.client.HGet(ctx, r.entityKey(key), fieldOwner).Result()
	if keyNotFound(err) {
		return "", fmt.Errorf("owner %q: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return "", storageErr("hget", key, err)
	}
	return s, nil
}

// Purge deletes the entity hash.
func (r *Redis) Purge(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.entityKey(key)).Err(); err != nil {
		return storageErr("del", key, err)
	}
	return nil
}

// Reserve sets the claim marker with SET NX PX.
func (r *Redis) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.claimKey(key), "1", ttl).Result()
	if err != nil {
		return false, storageErr("setnx", key, err)
	}
	return ok, nil
}

// Keys scans every entity hash under the prefix.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	prefix := r.entityKey("")
	var out []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, storageErr("scan", prefix, err)
	}
	return out, nil
}

// Close closes the client if this backend opened it.
func (r *Redis) Close() error {
	if !r.isOwner || r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
