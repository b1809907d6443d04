package ucp

import (
	"container/list"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// ErrCacheMiss is returned by ProfileCache.Get when no usable entry exists.
var ErrCacheMiss = errors.New("cache miss")

// ProfileCache stores discovered merchant profiles keyed by the exact merchant
// URL the caller passed to Discover.
type ProfileCache interface {
	Get(ctx context.Context, merchantURL string) (*MerchantProfile, error)
	Set(ctx context.Context, merchantURL string, profile *MerchantProfile) error
	Delete(ctx context.Context, merchantURL string) error
}

// MemoryCache is an in-process LRU. maxEntries <= 0 disables the size bound and
// ttl <= 0 keeps entries until evicted.
type MemoryCache struct {
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

type memoryEntry struct {
	key       string
	profile   *MerchantProfile
	expiresAt time.Time
}

func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (m *MemoryCache) Get(_ context.Context, merchantURL string) (*MerchantProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[merchantURL]
	if !ok {
		return nil, ErrCacheMiss
	}
	entry := elem.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.removeElement(elem)
		return nil, ErrCacheMiss
	}
	m.order.MoveToFront(elem)
	return entry.profile, nil
}

func (m *MemoryCache) Set(_ context.Context, merchantURL string, profile *MerchantProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if m.ttl > 0 {
		expiresAt = m.now().Add(m.ttl)
	}

	if elem, ok := m.entries[merchantURL]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.profile = profile
		entry.expiresAt = expiresAt
		m.order.MoveToFront(elem)
		return nil
	}

	m.entries[merchantURL] = m.order.PushFront(&memoryEntry{
		key:       merchantURL,
		profile:   profile,
		expiresAt: expiresAt,
	})
	if m.maxEntries > 0 {
		for m.order.Len() > m.maxEntries {
			m.removeElement(m.order.Back())
		}
	}
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, merchantURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[merchantURL]; ok {
		m.removeElement(elem)
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryCache) removeElement(elem *list.Element) {
	entry := m.order.Remove(elem).(*memoryEntry)
	delete(m.entries, entry.key)
}

// TieredCache reads through a fast local cache to a shared one and writes to both.
type TieredCache struct {
	local  ProfileCache
	shared ProfileCache
}

func NewTieredCache(local, shared ProfileCache) *TieredCache {
	return &TieredCache{local: local, shared: shared}
}

func (t *TieredCache) Get(ctx context.Context, merchantURL string) (*MerchantProfile, error) {
	profile, err := t.local.Get(ctx, merchantURL)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return nil, err
	}
	profile, err = t.shared.Get(ctx, merchantURL)
	if err != nil {
		return nil, err
	}
	if err := t.local.Set(ctx, merchantURL, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (t *TieredCache) Set(ctx context.Context, merchantURL string, profile *MerchantProfile) error {
	if err := t.local.Set(ctx, merchantURL, profile); err != nil {
		return err
	}
	return t.shared.Set(ctx, merchantURL, profile)
}

func (t *TieredCache) Delete(ctx context.Context, merchantURL string) error {
	if err := t.local.Delete(ctx, merchantURL); err != nil {
		return err
	}
	return t.shared.Delete(ctx, merchantURL)
}

// Close closes whichever tiers hold resources.
func (t *TieredCache) Close() error {
	var errs error
	for _, tier := range []ProfileCache{t.local, t.shared} {
		if closer, ok := tier.(io.Closer); ok {
			errs = multierr.Append(errs, closer.Close())
		}
	}
	return errs
}
