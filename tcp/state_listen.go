package tcp

import (
	"github.com/cbxgyh/usrnet"
)

// listenState is the LISTEN state: it spawns a synRecvState child for every
// acceptable inbound SYN (bounded by SynBacklog) and promotes each to
// establishedState as its handshake completes (bounded by EstBacklog).
// Completed connections wait in estQueue until Accept is called.
type listenState struct {
	baseState
	ctx      *socketContext
	synQueue []*synRecvState
	estQueue []*establishedState
}

func (*listenState) kind() State { return StateListen }

func (l *listenState) accept() (*establishedState, bool) {
	if len(l.estQueue) == 0 {
		return nil, false
	}
	est := l.estQueue[0]
	l.estQueue = l.estQueue[1:]
	return est, true
}

// sendDequeue has nothing of its own to send, but forwards to every pending
// child so their SYN+ACK retransmits still go out. Results from children are
// not surfaced to the caller: LISTEN itself never produces a segment.
func (l *listenState) sendDequeue(f txFunc) (state, int, error) {
	for _, sr := range l.synQueue {
		sr.sendDequeue(f)
	}
	for _, est := range l.estQueue {
		est.sendDequeue(f)
	}
	return nil, 0, usrnet.ErrExhausted
}

func (l *listenState) recvEnqueue(src, dst usrnet.SocketAddr, seg Segment) (state, error) {
	if dst != l.ctx.localAddr() {
		return nil, usrnet.ErrIgnored
	}

	if l.forwardToSynQueue(src, dst, seg) {
		return nil, nil
	}
	if l.forwardToEstQueue(src, dst, seg) {
		return nil, nil
	}

	// Neither an in-progress nor completed child wanted it: see if it can
	// start a new handshake. Per the preserved open question on unmatched
	// SYNs, anything other than a bare SYN is silently ignored rather than
	// answered with a RST.
	if !seg.Flags.HasAll(FlagSYN) || seg.Flags.HasAny(FlagACK|FlagRST) {
		return nil, usrnet.ErrIgnored
	}
	if len(l.synQueue) == cap(l.synQueue) {
		return nil, usrnet.ErrExhausted
	}

	sr := &synRecvState{
		ctx:          l.ctx,
		connectingTo: src,
		seqNum:       nextISN(),
		ackNum:       uint32(seg.SEQ) + 1,
		timer:        newOpeningTimer(),
	}
	l.synQueue = append(l.synQueue, sr)
	return nil, nil
}

// forwardToSynQueue hands seg to the SYN_RECV child that accepts it, if any,
// promoting it to estQueue on completion or dropping it on any other
// transition. Reports whether some child claimed the segment.
func (l *listenState) forwardToSynQueue(src, dst usrnet.SocketAddr, seg Segment) bool {
	for i, sr := range l.synQueue {
		if !sr.accepts(src, dst) {
			continue
		}
		next, err := sr.recvEnqueue(src, dst, seg)
		switch {
		case next == nil:
			// Stayed in SYN_RECV (or the segment was rejected); nothing to do.
		case next.kind() == StateEstablished:
			l.synQueue = append(l.synQueue[:i], l.synQueue[i+1:]...)
			if len(l.estQueue) == cap(l.estQueue) {
				l.ctx.log.Warn("tcp: LISTEN established queue full, dropping connection", connLogAttrs(src)...)
				break
			}
			l.estQueue = append(l.estQueue, next.(*establishedState))
		default:
			// Transitioned to CLOSED (e.g. RST); drop the child.
			l.synQueue = append(l.synQueue[:i], l.synQueue[i+1:]...)
		}
		_ = err
		return true
	}
	return false
}

// forwardToEstQueue hands seg to the ESTABLISHED child that accepts it, if
// any, dropping it on any further state transition (this FSM does not
// process ingress once ESTABLISHED, so a transition here can only mean the
// child is being torn down). Reports whether some child claimed the segment.
func (l *listenState) forwardToEstQueue(src, dst usrnet.SocketAddr, seg Segment) bool {
	for i, est := range l.estQueue {
		if !est.accepts(src, dst) {
			continue
		}
		next, _ := est.recvEnqueue(src, dst, seg)
		if next != nil {
			l.estQueue = append(l.estQueue[:i], l.estQueue[i+1:]...)
		}
		return true
	}
	return false
}
