package tcp

import "github.com/cbxgyh/usrnet"

// establishedState is the ESTABLISHED state. The opening-phase FSM only
// needs to send the final ACK that completes the three-way handshake; data
// transfer and teardown are out of scope, so once that ACK ships the state
// has nothing further to send.
type establishedState struct {
	baseState
	ctx         *socketContext
	connectedTo usrnet.SocketAddr
	seqNum      uint32
	ackNum      uint32
	ackSent     bool
}

func (*establishedState) kind() State { return StateEstablished }

func (s *establishedState) accepts(src, dst usrnet.SocketAddr) bool {
	return src == s.connectedTo && dst == s.ctx.localAddr()
}

func (s *establishedState) sendDequeue(f txFunc) (state, int, error) {
	if s.ackSent {
		return nil, 0, usrnet.ErrExhausted
	}
	out := OutSegment{
		Src: s.ctx.localAddr(),
		Dst: s.connectedTo,
		Seg: Segment{
			SEQ:   Value(s.seqNum),
			ACK:   Value(s.ackNum),
			Flags: FlagACK,
			WND:   Size(initialWindow),
		},
	}
	n, err := f(out)
	if err != nil {
		return nil, 0, err
	}
	s.ackSent = true
	return nil, n, nil
}

// recvEnqueue is intentionally not overridden: once ESTABLISHED, this FSM
// does not process further ingress segments (data transfer is out of
// scope), so baseState's ErrIgnored default applies.
