package tcp

import "github.com/cbxgyh/usrnet"

// closedState is the CLOSED pseudo-state: no connection exists yet. It only
// knows how to transition out, either actively (toSynSent) or passively
// (toListen).
type closedState struct {
	baseState
	ctx *socketContext
}

func (closedState) kind() State { return StateClosed }

func (cs closedState) toSynSent(addr usrnet.SocketAddr) *synSentState {
	return &synSentState{
		ctx:          cs.ctx,
		connectingTo: addr,
		seqNum:       nextISN(),
		timer:        newOpeningTimer(),
	}
}

func (cs closedState) toListen(cfg ListenConfig) *listenState {
	if cfg.SynBacklog <= 0 {
		cfg.SynBacklog = defaultSynBacklog
	}
	if cfg.EstBacklog <= 0 {
		cfg.EstBacklog = defaultEstBacklog
	}
	return &listenState{
		ctx:      cs.ctx,
		synQueue: make([]*synRecvState, 0, cfg.SynBacklog),
		estQueue: make([]*establishedState, 0, cfg.EstBacklog),
	}
}

// ListenConfig bounds the backlog of a LISTEN socket.
type ListenConfig struct {
	// SynBacklog bounds the number of connections mid-handshake (SYN_RECV).
	SynBacklog int
	// EstBacklog bounds the number of completed connections awaiting Accept.
	EstBacklog int
}

const (
	defaultSynBacklog = 16
	defaultEstBacklog = 16
)
