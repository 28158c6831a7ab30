package claim

import (
	"sync"
	"time"
)

// Cooldowns remembers the last successful claim per site and resource so
// a worker can skip sites that would refuse a repeat claim.
type Cooldowns struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewCooldowns returns an empty tracker.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{last: make(map[string]time.Time), now: time.Now}
}

func cooldownKey(site, resource string) string {
	return site + "|" + resource
}

// Ready reports whether site may be claimed again through resource.
func (c *Cooldowns) Ready(site, resource string, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[cooldownKey(site, resource)]
	return !ok || c.now().Sub(t) >= cooldown
}

// Claimed stamps a successful claim.
func (c *Cooldowns) Claimed(site, resource string) {
	c.mu.Lock()
	c.last[cooldownKey(site, resource)] = c.now()
	c.mu.Unlock()
}
