package tcp

import (
	"time"

	"github.com/cbxgyh/usrnet/internal"
)

const openingRetransmitInitial = time.Second

// newOpeningTimer builds the retransmit timer used by SYN_SENT and SYN_RECV
// while establishing a connection, starting at one second and doubling
// without bound on every retransmit, per RFC9293's retransmission guidance.
func newOpeningTimer() *internal.RetransmitTimer {
	return internal.NewRetransmitTimer(openingRetransmitInitial)
}
