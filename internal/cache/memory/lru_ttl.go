// Package memory provides the in-process day-plan cache.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// LRUTTL is a threadsafe LRU byte cache with per-entry TTL. It backs the
// day-plan cache when no persistent root is configured.
type LRUTTL struct {
	mu         sync.Mutex
	ll         *list.List
	items      map[string]*list.Element
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

func NewLRUTTL(maxEntries int, ttl time.Duration) *LRUTTL {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LRUTTL{
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (c *LRUTTL) Get(_ context.Context, key string) ([]byte, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	ent := ele.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.removeElement(ele)
		return nil, false, nil
	}
	c.ll.MoveToFront(ele)
	return append([]byte(nil), ent.value...), true, nil
}

func (c *LRUTTL) Set(_ context.Context, key string, value []byte) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if ele, ok := c.items[key]; ok {
		ent := ele.Value.(*entry)
		ent.value = append([]byte(nil), value...)
		ent.expiresAt = c.now().Add(c.ttl)
		c.ll.MoveToFront(ele)
		return nil
	}

	ele := c.ll.PushFront(&entry{
		key:       key,
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(c.ttl),
	})
	c.items[key] = ele
	for c.ll.Len() > c.maxEntries {
		c.removeElement(c.ll.Back())
	}
	return nil
}

func (c *LRUTTL) Delete(_ context.Context, key string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.removeElement(ele)
	}
	return nil
}

func (c *LRUTTL) removeElement(ele *list.Element) {
	if ele == nil {
		return
	}
	c.ll.Remove(ele)
	delete(c.items, ele.Value.(*entry).key)
}
