package chatlogd

import (
	"container/list"
	"fmt"
	"sync"
)

// UserHandleCache bounds the number of open UserIndexStore handles, evicting
// (flush-then-close) the least-recently-used entry once the cap is reached,
// so a channel with many distinct chatters never accumulates an unbounded
// number of open file descriptors.
type UserHandleCache struct {
	paths PathMap
	cap   int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type userHandleEntry struct {
	key   string
	store *UserIndexStore
}

// NewUserHandleCache returns a cache that keeps at most capacity open
// handles. A non-positive capacity is treated as unbounded.
func NewUserHandleCache(paths PathMap, capacity int) *UserHandleCache {
	return &UserHandleCache{
		paths:   paths,
		cap:     capacity,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func userHandleKey(channel string, year, month int, userID string) string {
	return fmt.Sprintf("%s/%d/%d/%s", channel, year, month, userID)
}

// Get returns the UserIndexStore for (channel, year, month, userID),
// opening it lazily on first use and marking it most-recently-used.
func (c *UserHandleCache) Get(channel string, year, month int, userID string) (*UserIndexStore, error) {
	key := userHandleKey(channel, year, month, userID)

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		c.mu.Unlock()
		return el.Value.(*userHandleEntry).store, nil
	}
	c.mu.Unlock()

	store, err := openUserIndexStore(c.paths, channel, year, month, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have opened the same handle while we were not
	// holding the lock; prefer the existing one and discard ours.
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		store.Close()
		return el.Value.(*userHandleEntry).store, nil
	}

	el := c.order.PushFront(&userHandleEntry{key: key, store: store})
	c.entries[key] = el

	if c.cap > 0 {
		for c.order.Len() > c.cap {
			c.evictOldestLocked()
		}
	}

	return store, nil
}

func (c *UserHandleCache) evictOldestLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*userHandleEntry)
	c.order.Remove(back)
	delete(c.entries, entry.key)
	entry.store.Close()
}

// EvictMonth closes and removes every cached handle for (channel, year,
// month), used by the Reindexer before it rebuilds that month's indexes so
// no stale descriptor straddles the rebuilt files.
func (c *UserHandleCache) EvictMonth(channel string, year, month int) {
	prefix := fmt.Sprintf("%s/%d/%d/", channel, year, month)

	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for el := c.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*userHandleEntry)
		if len(entry.key) >= len(prefix) && entry.key[:len(prefix)] == prefix {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		entry := el.Value.(*userHandleEntry)
		c.order.Remove(el)
		delete(c.entries, entry.key)
		entry.store.Close()
	}
}

// Close flushes and closes every cached handle.
func (c *UserHandleCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for el := c.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*userHandleEntry)
		if err := entry.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	return firstErr
}
