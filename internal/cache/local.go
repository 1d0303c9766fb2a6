package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultCapacity bounds the number of entries held by a LocalBackend.
const DefaultCapacity = 10_000

// LocalBackend keeps entries in process memory. Entry lifetimes are measured
// from Set; reads never extend them.
type LocalBackend struct {
	items *ttlcache.Cache[string, Entry]
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend starts a bounded in-memory backend. Close stops its
// expiry goroutine.
func NewLocalBackend(capacity uint64, ttl time.Duration) *LocalBackend {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	items := ttlcache.New(
		ttlcache.WithTTL[string, Entry](ttl),
		ttlcache.WithCapacity[string, Entry](capacity),
		ttlcache.WithDisableTouchOnHit[string, Entry](),
	)
	go items.Start()
	return &LocalBackend{items: items}
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	item := b.items.Get(key)
	if item == nil {
		return Entry{}, false, nil
	}
	return item.Value(), true, nil
}

func (b *LocalBackend) Set(_ context.Context, key string, e Entry, ttl time.Duration) error {
	b.items.Set(key, e, ttl)
	return nil
}

func (b *LocalBackend) Delete(_ context.Context, key string) error {
	b.items.Delete(key)
	return nil
}

func (b *LocalBackend) Flush(context.Context) error {
	b.items.DeleteAll()
	return nil
}

func (b *LocalBackend) Len(context.Context) (int, error) {
	return b.items.Len(), nil
}

func (b *LocalBackend) Close() error {
	b.items.Stop()
	return nil
}
