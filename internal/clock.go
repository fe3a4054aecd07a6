package internal

import "github.com/jonboulle/clockwork"

// Clock abstracts time so that ARP expiration and TCP retransmission timing
// can be driven deterministically in tests via clockwork.NewFakeClock.
type Clock = clockwork.Clock

// NewRealClock returns a Clock backed by the system clock.
func NewRealClock() Clock { return clockwork.NewRealClock() }

// NewFakeClock returns a Clock whose time only advances when explicitly
// told to, for deterministic tests.
func NewFakeClock() clockwork.FakeClock { return clockwork.NewFakeClock() }
