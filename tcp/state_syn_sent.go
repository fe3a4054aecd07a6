package tcp

import (
	"log/slog"
	"time"

	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/internal"
)

func connLogAttrs(addr usrnet.SocketAddr) []slog.Attr {
	return []slog.Attr{internal.SlogAddr4("ip", (*[4]byte)(&addr.Addr)), slog.Uint64("port", uint64(addr.Port))}
}

// synSentState is the SYN_SENT state: the result of an active open, waiting
// for the peer's SYN+ACK.
type synSentState struct {
	baseState
	ctx          *socketContext
	connectingTo usrnet.SocketAddr
	sentSynAt    time.Time
	seqNum       uint32
	timer        *internal.RetransmitTimer
}

func (*synSentState) kind() State { return StateSynSent }

func (s *synSentState) sendDequeue(f txFunc) (state, int, error) {
	now := s.ctx.clock.Now()
	if !s.sentSynAt.IsZero() && now.Sub(s.sentSynAt) < s.timer.Interval() {
		return nil, 0, usrnet.ErrExhausted
	}

	seg := Segment{
		SEQ:   Value(s.seqNum),
		Flags: FlagSYN,
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
		// Build failure (e.g. destination MAC unresolved): don't advance
		// sentSynAt or the retransmit timer, so the next tick retries at
		// the same cadence rather than falling further behind.
		s.ctx.log.Debug("tcp: SYN_SENT send failed", append(connLogAttrs(s.connectingTo), slog.String("err", err.Error()))...)
		return nil, 0, err
	}
	s.sentSynAt = now
	s.timer.Miss()
	s.ctx.log.Debug("tcp: SYN_SENT sent SYN", connLogAttrs(s.connectingTo)...)
	return nil, n, nil
}

func (s *synSentState) recvEnqueue(src, dst usrnet.SocketAddr, seg Segment) (state, error) {
	if dst != s.ctx.localAddr() || src != s.connectingTo {
		return nil, usrnet.ErrIgnored
	}
	// NOTE: RFC9293 also covers a simultaneous-open case where the incoming
	// segment carries SYN but not ACK; this FSM treats that as not for us,
	// matching the simplification already made for RST-before-SYN ordering
	// below.
	if !seg.Flags.HasAll(FlagACK) || uint32(seg.ACK) != s.seqNum+1 {
		return nil, usrnet.ErrIgnored
	}
	if seg.Flags.HasAll(FlagRST) {
		s.ctx.log.Info("tcp: SYN_SENT received RST, closing", connLogAttrs(s.connectingTo)...)
		return closedState{ctx: s.ctx}, nil
	}
	if seg.Flags.HasAll(FlagSYN) {
		s.ctx.log.Info("tcp: SYN_SENT received SYN+ACK, established", connLogAttrs(s.connectingTo)...)
		return s.toEstablished(uint32(seg.SEQ)), nil
	}
	return nil, usrnet.ErrIgnored
}

func (s *synSentState) toEstablished(remoteSeq uint32) *establishedState {
	return &establishedState{
		ctx:         s.ctx,
		connectedTo: s.connectingTo,
		seqNum:      s.seqNum + 1,
		ackNum:      remoteSeq + 1,
	}
}

const initialWindow = 4096
