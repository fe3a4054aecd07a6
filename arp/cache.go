package arp

import (
	"time"

	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/internal"
)

type cacheEntry struct {
	mac      usrnet.Mac
	insertAt time.Time
}

// Cache maintains an expiring set of IPv4-to-hardware-address mappings
// learned from ARP replies. Entries older than Expiration are lazily purged:
// a full rescan only happens once the oldest known insertion time has aged
// past Expiration, not on every lookup.
type Cache struct {
	clock      internal.Clock
	expiration time.Duration
	entries    map[usrnet.Ipv4]cacheEntry
	oldest     time.Time
}

// NewCache constructs a Cache whose entries expire after expiration.
func NewCache(expiration time.Duration, clock internal.Clock) *Cache {
	if clock == nil {
		clock = internal.NewRealClock()
	}
	return &Cache{
		clock:      clock,
		expiration: expiration,
		entries:    make(map[usrnet.Ipv4]cacheEntry),
		oldest:     clock.Now(),
	}
}

// Lookup returns the hardware address cached for addr, if any and unexpired.
func (c *Cache) Lookup(addr usrnet.Ipv4) (mac usrnet.Mac, ok bool) {
	c.expire()
	e, ok := c.entries[addr]
	return e.mac, ok
}

// Insert creates or refreshes the mapping from addr to mac.
func (c *Cache) Insert(addr usrnet.Ipv4, mac usrnet.Mac) {
	c.expire()
	now := c.clock.Now()
	if len(c.entries) == 0 {
		c.oldest = now
	}
	c.entries[addr] = cacheEntry{mac: mac, insertAt: now}
}

// Len reports the number of unexpired entries currently cached.
func (c *Cache) Len() int {
	c.expire()
	return len(c.entries)
}

func (c *Cache) expire() {
	now := c.clock.Now()
	if now.Before(c.oldest.Add(c.expiration)) {
		return
	}
	oldest := now
	for addr, e := range c.entries {
		if now.Sub(e.insertAt) > c.expiration {
			delete(c.entries, addr)
			continue
		}
		if e.insertAt.Before(oldest) {
			oldest = e.insertAt
		}
	}
	c.oldest = oldest
}
