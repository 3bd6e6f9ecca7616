package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/loomgo/config"
)

// Memory is an ephemeral, thread-safe, in-memory Store. It is the default
// backing for named stores opened through the engine and doubles as the
// reference implementation for the collaborator contract. It also implements
// Notifier so local consumers can observe changes the same way they would on
// a networked store.
type Memory struct {
	name string

	mu       sync.RWMutex
	records  map[string]Record
	nextKey  int64
	watchers map[int64]func(Change)
	watchSeq int64
}

// NewMemory creates an empty in-memory store.
func NewMemory(name string) *Memory {
	return &Memory{
		name:     name,
		records:  make(map[string]Record),
		watchers: make(map[int64]func(Change)),
	}
}

// OpaqueConfigValue marks the store as opaque to configuration resolution.
func (m *Memory) OpaqueConfigValue() {}

var _ Store = (*Memory)(nil)
var _ Notifier = (*Memory)(nil)

// Source describes the store's origin.
func (m *Memory) Source() Origin {
	return Origin{Name: m.name, URL: "memory:" + m.name}
}

// Get returns the record under a string key, or every record matching a
// query. A missing key returns ErrNotFound; an empty query matches all.
func (m *Memory) Get(ctx context.Context, keyOrQuery any) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch q := keyOrQuery.(type) {
	case string:
		rec, ok := m.records[q]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, q)
		}
		return config.CloneRecord(rec), nil
	case Record:
		var out []Record
		for _, rec := range m.records {
			if matches(rec, q) {
				out = append(out, config.CloneRecord(rec))
			}
		}
		return out, nil
	case nil:
		var out []Record
		for _, rec := range m.records {
			out = append(out, config.CloneRecord(rec))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("store %q: unsupported lookup %T", m.name, keyOrQuery)
	}
}

// Set persists a copy of rec and returns its key. A "key" field on the
// record takes priority over an assigned key.
func (m *Memory) Set(ctx context.Context, rec Record) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("store %q: cannot persist nil record", m.name)
	}

	m.mu.Lock()
	key, _ := rec[KeyField].(string)
	if key == "" {
		m.nextKey++
		key = fmt.Sprintf("%s-%d", m.name, m.nextKey)
	}
	stored := config.CloneRecord(rec)
	stored[KeyField] = key
	m.records[key] = stored
	m.mu.Unlock()

	m.publish(Change{Op: "set", Key: key, Record: config.CloneRecord(stored)})
	return key, nil
}

// Del removes and returns the record under key.
func (m *Memory) Del(ctx context.Context, key string) (Record, error) {
	m.mu.Lock()
	rec, ok := m.records[key]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	delete(m.records, key)
	m.mu.Unlock()

	m.publish(Change{Op: "del", Key: key, Record: config.CloneRecord(rec)})
	return rec, nil
}

// Count counts records matching query; a nil query counts everything.
func (m *Memory) Count(ctx context.Context, query any) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := query.(Record)
	if query != nil && !ok {
		return 0, fmt.Errorf("store %q: unsupported query %T", m.name, query)
	}
	if q == nil {
		return len(m.records), nil
	}
	n := 0
	for _, rec := range m.records {
		if matches(rec, q) {
			n++
		}
	}
	return n, nil
}

// Clear drops every record.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.records = make(map[string]Record)
	m.mu.Unlock()

	m.publish(Change{Op: "clear"})
	return nil
}

// Notify registers a change callback and returns its unregister function.
func (m *Memory) Notify(fn func(Change)) func() {
	m.mu.Lock()
	m.watchSeq++
	id := m.watchSeq
	m.watchers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

func (m *Memory) publish(ch Change) {
	m.mu.RLock()
	fns := make([]func(Change), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(ch)
	}
}
