package store

import (
	"context"
	"errors"

	"github.com/vk/loomgo/config"
)

// Record is one persisted record. A record carrying a KeyField entry keeps
// that key on Set; otherwise the store assigns one.
type Record = map[string]any

// KeyField is the record field holding the record's priority key.
const KeyField = "key"

// Origin describes where a store's data lives.
type Origin struct {
	Name string
	URL  string
}

// Change is an asynchronous change notification pushed by a store.
type Change struct {
	Op     string // "set", "del" or "clear"
	Key    string
	Record Record
}

// ErrNotFound is returned when a keyed lookup or delete misses.
var ErrNotFound = errors.New("store: record not found")

// Store is the persistence collaborator consumed by the runtime. The runtime
// makes no storage or sync guarantees of its own; they are the
// implementation's business.
//
// Get takes a key (string) or a query (Record matched as a subset) and
// returns a single record or a slice of records respectively. Set persists a
// record and returns its key. Del removes and returns a record. Count counts
// records matching a query; a nil query counts everything.
type Store interface {
	config.Opaque

	Get(ctx context.Context, keyOrQuery any) (any, error)
	Set(ctx context.Context, rec Record) (string, error)
	Del(ctx context.Context, key string) (Record, error)
	Count(ctx context.Context, query any) (int, error)
	Source() Origin
	Clear(ctx context.Context) error
}

// Notifier is implemented by stores that push asynchronous change
// notifications. Notify registers a callback and returns its unregister
// function.
type Notifier interface {
	Notify(fn func(Change)) (cancel func())
}

// matches reports whether rec carries every field of the query with an equal
// value.
func matches(rec Record, query Record) bool {
	for k, want := range query {
		got, ok := rec[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
