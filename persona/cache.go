package persona

import "time"

const DefaultCacheCapacity = 50

type promptCacheEntry struct {
	text         string
	lastAccessed time.Time
}

// promptCache is a capacity-bounded personaID -> prompt text cache. Insertion
// beyond capacity evicts the entry with the oldest access time. It carries no
// lock of its own; the owning Service serializes access.
type promptCache struct {
	capacity int
	entries  map[string]*promptCacheEntry
	now      func() time.Time
}

func newPromptCache(capacity int, now func() time.Time) *promptCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &promptCache{
		capacity: capacity,
		entries:  make(map[string]*promptCacheEntry, capacity),
		now:      now,
	}
}

func (c *promptCache) get(id string) (string, bool) {
	entry, ok := c.entries[id]
	if !ok {
		return "", false
	}
	entry.lastAccessed = c.now()
	return entry.text, true
}

func (c *promptCache) put(id, text string) {
	if entry, ok := c.entries[id]; ok {
		entry.text = text
		entry.lastAccessed = c.now()
		return
	}
	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[id] = &promptCacheEntry{text: text, lastAccessed: c.now()}
}

func (c *promptCache) evictOldest() {
	oldestID := ""
	var oldestAt time.Time
	for id, entry := range c.entries {
		if oldestID == "" || entry.lastAccessed.Before(oldestAt) {
			oldestID = id
			oldestAt = entry.lastAccessed
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
	}
}

func (c *promptCache) len() int {
	return len(c.entries)
}
