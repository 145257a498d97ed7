package guard

import (
	"sync"
	"time"
)

const (
	messageCacheMaxEntries = 5000
	messageCacheTTL        = 24 * time.Hour
)

// messageIDCache is a bounded first-seen map. On overflow it prunes
// expired entries first; if nothing expired it evicts the oldest
// entries to stay under the cap.
type messageIDCache struct {
	mu        sync.Mutex
	firstSeen map[string]time.Time
}

func newMessageIDCache() *messageIDCache {
	return &messageIDCache{
		firstSeen: make(map[string]time.Time),
	}
}

// remember returns true the first time an id is seen within the TTL.
func (c *messageIDCache) remember(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if seen, ok := c.firstSeen[id]; ok && now.Sub(seen) < messageCacheTTL {
		return false
	}

	if len(c.firstSeen) >= messageCacheMaxEntries {
		c.prune(now)
	}

	c.firstSeen[id] = now
	return true
}

func (c *messageIDCache) prune(now time.Time) {
	for id, seen := range c.firstSeen {
		if now.Sub(seen) >= messageCacheTTL {
			delete(c.firstSeen, id)
		}
	}
	// Still full: evict oldest until one slot is free.
	for len(c.firstSeen) >= messageCacheMaxEntries {
		var oldestID string
		var oldest time.Time
		for id, seen := range c.firstSeen {
			if oldestID == "" || seen.Before(oldest) {
				oldestID, oldest = id, seen
			}
		}
		delete(c.firstSeen, oldestID)
	}
}

func (c *messageIDCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.firstSeen)
}
