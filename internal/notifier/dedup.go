package notifier

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	kit "meetbot/internal/transport"
)

// dedupKey is the notification's explicit key or, failing that, a hash of
// channel and text. Notifications without a channel are never deduplicated.
func dedupKey(n kit.Notification) string {
	if k := strings.TrimSpace(n.DedupKey); k != "" {
		return k
	}
	if n.ChannelID == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.ChannelID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(n.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupCache holds suppress-until marks keyed by dedup key.
type dedupCache struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedupCache() *dedupCache { return &dedupCache{until: map[string]time.Time{}} }

func (c *dedupCache) suppressed(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.until[key]
	return ok && now.Before(until)
}

// remember records a mark learned from the persistent store.
func (c *dedupCache) remember(key string, until time.Time) {
	c.mu.Lock()
	c.until[key] = until
	c.mu.Unlock()
}

// admit marks key until now+window and reports true, unless key is already
// suppressed at now. At most limit marks are kept; the soonest to expire go first.
func (c *dedupCache) admit(key string, now time.Time, window time.Duration, limit int) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until, ok := c.until[key]; ok && now.Before(until) {
		return until, false
	}
	until := now.Add(window)
	c.until[key] = until

	for k, u := range c.until {
		if !now.Before(u) {
			delete(c.until, k)
		}
	}
	for limit > 0 && len(c.until) > limit {
		var oldest string
		for k, u := range c.until {
			if oldest == "" || u.Before(c.until[oldest]) {
				oldest = k
			}
		}
		delete(c.until, oldest)
	}
	return until, true
}

func (c *dedupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.until)
}
