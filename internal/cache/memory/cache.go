// Package memory provides a process-local metadata cache for single-node
// deployments that run without Redis.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/prn-tf/blobvault/internal/repository"
)

// DefaultMaxEntries bounds the cache when no explicit limit is given.
const DefaultMaxEntries = 100_000

// Cache is a least-recently-used cache with per-entry TTLs.
// Expired entries are dropped when they are read or reach the cold end
// of the list.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front is most recently used
	maxEntries int
	now        func() time.Time
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewCache creates a cache holding at most maxEntries items.
// A non-positive maxEntries selects DefaultMaxEntries.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Len returns the number of stored entries, including expired ones not yet dropped.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Get returns a copy of the value stored under key.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	e := el.Value.(*entry)
	if e.expired(c.now()) {
		c.removeLocked(el)
		return nil, repository.ErrCacheMiss
	}

	c.order.MoveToFront(el)
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value. A non-positive ttl never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{key: key, value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}

	if el, ok := c.entries[key]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.order.PushFront(e)
	for c.order.Len() > c.maxEntries {
		c.removeLocked(c.order.Back())
	}
	return nil
}

// Delete drops key. Deleting a missing key is not an error.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	return nil
}

func (c *Cache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
}

var _ repository.Cache = (*Cache)(nil)
