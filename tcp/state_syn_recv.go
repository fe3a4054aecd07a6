package tcp

import (
	"time"

	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/internal"
)

// synRecvState is the SYN_RECV state: a listener's half-open child,
// produced after it accepted an inbound SYN, waiting for the peer's ACK.
type synRecvState struct {
	baseState
	ctx          *socketContext
	connectingTo usrnet.SocketAddr
	sentAt       time.Time
	seqNum       uint32
	ackNum       uint32
	timer        *internal.RetransmitTimer
}

func (*synRecvState) kind() State { return StateSynRcvd }

func (s *synRecvState) accepts(src, dst usrnet.SocketAddr) bool {
	return src == s.connectingTo && dst == s.ctx.localAddr()
}

func (s *synRecvState) sendDequeue(f txFunc) (state, int, error) {
	now := s.ctx.clock.Now()
	if !s.sentAt.IsZero() && now.Sub(s.sentAt) < s.timer.Interval() {
		return nil, 0, usrnet.ErrExhausted
	}

	seg := Segment{
		SEQ:   Value(s.seqNum),
		ACK:   Value(s.ackNum),
		Flags: synack,
		WND:   Size(initialWindow),
	}
	out := OutSegment{
		Src: s.ctx.localAddr(),
		Dst: s.connectingTo,
		Seg: seg,
		MSS: s.ctx.mss(),
	}

	n, err := f(out)
	if err != nil {
		return nil, 0, err
	}
	s.sentAt = now
	s.timer.Miss()
	return nil, n, nil
}

func (s *synRecvState) recvEnqueue(src, dst usrnet.SocketAddr, seg Segment) (state, error) {
	if !s.accepts(src, dst) || uint32(seg.ACK) != s.seqNum+1 {
		return nil, usrnet.ErrIgnored
	}
	if seg.Flags.HasAll(FlagRST) {
		return closedState{ctx: s.ctx}, nil
	}
	if seg.Flags.HasAll(FlagACK) {
		return s.toEstablished(uint32(seg.SEQ)), nil
	}
	return nil, usrnet.ErrIgnored
}

func (s *synRecvState) toEstablished(remoteSeq uint32) *establishedState {
	return &establishedState{
		ctx:         s.ctx,
		connectedTo: s.connectingTo,
		seqNum:      s.seqNum + 1,
		ackNum:      remoteSeq + 1,
	}
}
