package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fileshare/fileshare/pkg/types"
)

// Entry is one entity's stored fields. A zero Entry is an empty entity.
type Entry struct {
	Content    []byte
	HasContent bool
	ExpireAt   time.Time // zero when absent
	Owner      string
	HasOwner   bool
}

func (e *Entry) empty() bool {
	return !e.HasContent && e.ExpireAt.IsZero() && !e.HasOwner
}

// Memory is a thread-safe in-memory Backend.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]*Entry
	reserved map[string]time.Time
	now      func() time.Time // injectable for deterministic tests
}

// NewMemory creates an empty Memory backend. now drives reservation expiry;
// nil means time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		data:     make(map[string]*Entry),
		reserved: make(map[string]time.Time),
		now:      now,
	}
}

// entry returns the entry for key, creating it. Caller holds the write lock.
func (m *Memory) entry(key string) *Entry {
	e, ok := m.data[key]
	if !ok {
		e = &Entry{}
		m.data[key] = e
	}
	return e
}

// Put stores a private copy of content under key.
func (m *Memory) Put(_ context.Context, key string, content []byte) error {
	buf := make([]byte, len(content))
	copy(buf, content)

	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(key)
	e.Content = buf
	e.HasContent = true
	return nil
}

// Get returns a copy of the content stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || !e.HasContent {
		return nil, fmt.Errorf("content %q: %w", key, types.ErrNotFound)
	}
	out := make([]byte, len(e.Content))
	copy(out, e.Content)
	return out, nil
}

// Populate sets every field of key under one lock.
func (m *Memory) Populate(_ context.Context, key string, content []byte, owner string, at time.Time) error {
	buf := make([]byte, len(content))
	copy(buf, content)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &Entry{
		Content:    buf,
		HasContent: true,
		ExpireAt:   at,
		Owner:      owner,
		HasOwner:   true,
	}
	return nil
}

// SetExpiry records the absolute expiry of key.
func (m *Memory) SetExpiry(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(key).ExpireAt = at
	return nil
}

// GetExpiry returns the absolute expiry of key.
func (m *Memory) GetExpiry(_ context.Context, key string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || e.ExpireAt.IsZero() {
		return time.Time{}, fmt.Errorf("expiry %q: %w", key, types.ErrNotFound)
	}
	return e.ExpireAt, nil
}

// SetOwner records the owner tag of key.
func (m *Memory) SetOwner(_ context.Context, key, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(key)
	e.Owner = tag
	e.HasOwner = true
	return nil
}

// GetOwner returns the owner tag of key.
func (m *Memory) GetOwner(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || !e.HasOwner {
		return "", fmt.Errorf("owner %q: %w", key, types.ErrNotFound)
	}
	return e.Owner, nil
}

// Purge removes every field of key.
func (m *Memory) Purge(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Reserve places a claim marker on key unless an unexpired one exists.
func (m *Memory) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if until, ok := m.reserved[key]; ok && now.Before(until) {
		return false, nil
	}
	m.reserved[key] = now.Add(ttl)
	m.sweepReservations(now)
	return true, nil
}

// sweepReservations drops expired claim markers. Caller holds the write lock.
func (m *Memory) sweepReservations(now time.Time) {
	for k, until := range m.reserved {
		if !now.Before(until) {
			delete(m.reserved, k)
		}
	}
}

// Keys returns every key holding at least one field.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for k, e := range m.data {
		if !e.empty() {
			out = append(out, k)
		}
	}
	return out, nil
}

// Count returns the number of entities currently held.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
