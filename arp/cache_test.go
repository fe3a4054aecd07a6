package arp

import (
	"testing"
	"time"

	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/internal"
)

func TestCacheLookupMiss(t *testing.T) {
	c := NewCache(time.Minute, internal.NewFakeClock())
	if _, ok := c.Lookup(usrnet.Ipv4{192, 168, 1, 1}); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestCacheInsertThenLookup(t *testing.T) {
	c := NewCache(time.Minute, internal.NewFakeClock())
	addr := usrnet.Ipv4{192, 168, 1, 1}
	mac := usrnet.Mac{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	c.Insert(addr, mac)

	got, ok := c.Lookup(addr)
	if !ok {
		t.Fatal("expected hit after insert")
	}
	if got != mac {
		t.Fatalf("got %s, want %s", got, mac)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestCacheRefreshKeepsSingleEntry(t *testing.T) {
	c := NewCache(time.Minute, internal.NewFakeClock())
	addr := usrnet.Ipv4{10, 0, 0, 1}
	c.Insert(addr, usrnet.Mac{1, 2, 3, 4, 5, 6})
	c.Insert(addr, usrnet.Mac{6, 5, 4, 3, 2, 1})

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after refresh", c.Len())
	}
	got, ok := c.Lookup(addr)
	if !ok || got != (usrnet.Mac{6, 5, 4, 3, 2, 1}) {
		t.Fatalf("Lookup() = %s, %v, want refreshed mac", got, ok)
	}
}

func TestCacheExpiresEntries(t *testing.T) {
	clock := internal.NewFakeClock()
	c := NewCache(time.Minute, clock)
	addr := usrnet.Ipv4{172, 16, 0, 1}
	c.Insert(addr, usrnet.Mac{1, 1, 1, 1, 1, 1})

	clock.Advance(2 * time.Minute)

	if _, ok := c.Lookup(addr); ok {
		t.Fatal("expected entry to have expired")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after expiry", c.Len())
	}
}

func TestCacheExpiresOnlyStaleEntries(t *testing.T) {
	clock := internal.NewFakeClock()
	c := NewCache(time.Minute, clock)
	old := usrnet.Ipv4{10, 0, 0, 1}
	c.Insert(old, usrnet.Mac{1, 1, 1, 1, 1, 1})

	clock.Advance(45 * time.Second)
	fresh := usrnet.Ipv4{10, 0, 0, 2}
	c.Insert(fresh, usrnet.Mac{2, 2, 2, 2, 2, 2})

	clock.Advance(30 * time.Second) // old is now 75s stale, fresh is 30s stale.

	if _, ok := c.Lookup(old); ok {
		t.Fatal("expected old entry to have expired")
	}
	if _, ok := c.Lookup(fresh); !ok {
		t.Fatal("expected fresh entry to still be cached")
	}
}
