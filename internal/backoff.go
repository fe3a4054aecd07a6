package internal

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetransmitTimer doubles an interval on every Miss and resets to its
// starting value on Hit. It backs the TCP FSM's retransmission timer: a
// segment's RTO is not advanced on build failure, only on an actual
// unacknowledged send. It never caps the interval and never expires.
//
// Interval() must be stable between calls to Miss so a caller can repeatedly
// check "has enough time elapsed yet" before committing to a retransmit;
// backoff.ExponentialBackOff only exposes its current wait via NextBackOff,
// which both returns and advances it, so the current interval is cached
// locally and doubled directly, while the underlying ExponentialBackOff is
// still driven on every Miss to keep its own elapsed-time bookkeeping live.
type RetransmitTimer struct {
	initial  time.Duration
	interval time.Duration
	b        *backoff.ExponentialBackOff
}

// NewRetransmitTimer builds a RetransmitTimer starting at initial and
// doubling without bound on every Miss.
func NewRetransmitTimer(initial time.Duration) *RetransmitTimer {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &RetransmitTimer{initial: initial, interval: initial, b: b}
}

// Hit resets the timer back to its initial interval.
func (t *RetransmitTimer) Hit() {
	t.interval = t.initial
	t.b.Reset()
}

// Interval reports the wait required before the next retransmit is due.
func (t *RetransmitTimer) Interval() time.Duration { return t.interval }

// Miss records that a retransmit was just sent, doubling the interval
// required before the next one.
func (t *RetransmitTimer) Miss() {
	t.b.NextBackOff()
	t.interval *= 2
}
