package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryBackend is an in-process LRU with a per-entry TTL.
type MemoryBackend struct {
	mu        sync.Mutex
	lru       *expirable.LRU[string, Answer]
	evictions atomic.Uint64
	purging   atomic.Bool
}

func NewMemoryBackend(maxEntries int, ttl time.Duration) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	b := &MemoryBackend{}
	b.lru = expirable.NewLRU[string, Answer](maxEntries, func(string, Answer) {
		if !b.purging.Load() {
			b.evictions.Add(1)
		}
	}, ttl)
	return b
}

func (b *MemoryBackend) Get(_ context.Context, key string) (Answer, bool, error) {
	a, ok := b.lru.Get(key)
	return a, ok, nil
}

func (b *MemoryBackend) SetIfAbsent(_ context.Context, key string, a Answer) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.lru.Peek(key); ok {
		return false, nil
	}
	b.lru.Add(key, a)
	return true, nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.lru.Remove(key)
	return nil
}

func (b *MemoryBackend) Purge(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purging.Store(true)
	b.lru.Purge()
	b.purging.Store(false)
	return nil
}

func (b *MemoryBackend) Len(context.Context) (int, error) {
	return b.lru.Len(), nil
}

func (b *MemoryBackend) Evictions() uint64 { return b.evictions.Load() }

func (b *MemoryBackend) Name() string { return "memory" }
