package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// localCache is the in-process fallback tier: a bounded map that evicts the
// least recently inserted entry once full. Entries expire lazily on read.
type localCache struct {
	mu    sync.Mutex
	max   int
	order *list.List
	items map[string]*list.Element
	now   func() time.Time
}

type localEntry struct {
	key     string
	value   []byte
	expires time.Time
}

func newLocalCache(maxEntries int) *localCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &localCache{
		max:   maxEntries,
		order: list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

func (lc *localCache) get(key string) ([]byte, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	el, ok := lc.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*localEntry)
	if !e.expires.IsZero() && !lc.now().Before(e.expires) {
		lc.removeElement(el)
		return nil, false
	}
	return e.value, true
}

// set re-inserts an existing key at the back, so an overwrite counts as a
// fresh insertion for eviction.
func (lc *localCache) set(key string, value []byte, ttl time.Duration) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if el, ok := lc.items[key]; ok {
		lc.removeElement(el)
	}

	e := &localEntry{key: key, value: value}
	if ttl > 0 {
		e.expires = lc.now().Add(ttl)
	}
	lc.items[key] = lc.order.PushBack(e)

	for lc.order.Len() > lc.max {
		lc.removeElement(lc.order.Front())
	}
}

func (lc *localCache) delete(key string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if el, ok := lc.items[key]; ok {
		lc.removeElement(el)
	}
}

func (lc *localCache) deletePrefix(prefix string) int {
	return lc.deleteMatching(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

func (lc *localCache) len() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.order.Len()
}

func (lc *localCache) removeElement(el *list.Element) {
	lc.order.Remove(el)
	delete(lc.items, el.Value.(*localEntry).key)
}

func (lc *localCache) deleteMatching(match func(key string) bool) int {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	n := 0
	for key, el := range lc.items {
		if match(key) {
			lc.removeElement(el)
			n++
		}
	}
	return n
}
