package cache

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryBackend keeps entries in process.
type MemoryBackend struct {
	items *ttlcache.Cache[string, []byte]
}

// NewMemoryBackend starts the expired-item cleaner; call Close to stop it.
func NewMemoryBackend(capacity uint64) *MemoryBackend {
	opts := []ttlcache.Option[string, []byte]{
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []byte](capacity))
	}
	b := &MemoryBackend{items: ttlcache.New(opts...)}
	go b.items.Start()
	return b
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := b.items.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.items.Set(key, value, ttl)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.items.Delete(key)
	return nil
}

func (b *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, k := range b.items.Keys() {
		if strings.HasPrefix(k, prefix) {
			b.items.Delete(k)
			n++
		}
	}
	return n, nil
}

func (b *MemoryBackend) Len() int {
	return b.items.Len()
}

func (b *MemoryBackend) Close() error {
	b.items.Stop()
	return nil
}
