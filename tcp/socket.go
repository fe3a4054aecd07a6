package tcp

import (
	"errors"
	"log/slog"

	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/internal"
	"github.com/rs/xid"
)

// OutSegment is the information a state hands to the caller-supplied build
// function when it has a segment ready to send.
type OutSegment struct {
	Src, Dst usrnet.SocketAddr
	Seg      Segment
	// MSS is the maximum segment size option value to include, or 0 to omit
	// the option entirely.
	MSS uint16
}

// txFunc builds and writes the wire bytes for an OutSegment, returning the
// number of bytes written.
type txFunc func(OutSegment) (int, error)

// socketContext is shared by every state a Socket passes through, including
// the SYN_RECV and ESTABLISHED children a LISTEN socket spawns.
type socketContext struct {
	binding *usrnet.Lease
	clock   internal.Clock
	log     internal.Logger
	metrics *internal.Metrics
	mtu     int
	// id identifies this socket (and, for a child spawned out of LISTEN,
	// distinguishes it from its parent and siblings) across log lines.
	id xid.ID
}

func (c *socketContext) localAddr() usrnet.SocketAddr { return c.binding.Addr() }

// mss computes the maximum segment size that fits within the interface MTU,
// accounting for the IPv4 header, TCP header, and the MSS option itself.
func (c *socketContext) mss() uint16 {
	const mssOptionLen = 4
	avail := c.mtu - usrnet.SizeHeaderIPv4 - usrnet.SizeHeaderTCP - mssOptionLen
	if avail < 0 {
		return 0
	}
	return uint16(avail)
}

func (c *socketContext) stateChanged(s State) {
	if c.metrics != nil {
		c.metrics.TcpStateChange.WithLabelValues(s.String()).Inc()
	}
	c.log.Debug("tcp: state change", slog.String("conn", c.id.String()), slog.String("state", s.String()))
}

var isnCounter uint32 = 0x9e3779b9 // golden-ratio seed, arbitrary but non-zero.

// nextISN derives a pseudo-random initial sequence number.
func nextISN() uint32 {
	isnCounter = internal.Prand32(isnCounter)
	return isnCounter
}

// state is implemented by every TCP state a Socket can be in. Default
// behavior (reject sends and ignore receives) is provided by embedding
// baseState; concrete states override only what applies to them.
type state interface {
	kind() State
	sendDequeue(f txFunc) (state, int, error)
	recvEnqueue(src, dst usrnet.SocketAddr, seg Segment) (state, error)
}

type baseState struct{}

func (baseState) sendDequeue(txFunc) (state, int, error) { return nil, 0, usrnet.ErrExhausted }
func (baseState) recvEnqueue(usrnet.SocketAddr, usrnet.SocketAddr, Segment) (state, error) {
	return nil, usrnet.ErrIgnored
}

var errWrongState = errors.New("tcp: operation not valid in current state")

// Socket is a TCP endpoint, progressing through the opening sequence
// CLOSED -> SYN_SENT/SYN_RECV -> ESTABLISHED (active or passive open), or
// CLOSED -> LISTEN for a server socket that spawns SYN_RECV/ESTABLISHED
// children as connections arrive. Data transfer and connection teardown are
// out of scope: once ESTABLISHED, the socket only exchanges the one
// acknowledgment of the opening handshake.
type Socket struct {
	ctx *socketContext
	cur state
}

// NewSocket constructs a Socket bound via binding, starting in CLOSED.
func NewSocket(binding *usrnet.Lease, mtu int, clock internal.Clock, log internal.Logger, metrics *internal.Metrics) *Socket {
	if clock == nil {
		clock = internal.NewRealClock()
	}
	ctx := &socketContext{binding: binding, clock: clock, log: log, metrics: metrics, mtu: mtu, id: xid.New()}
	return &Socket{ctx: ctx, cur: closedState{ctx: ctx}}
}

// State reports the socket's current state.
func (s *Socket) State() State { return s.cur.kind() }

// ID returns a unique identifier for this socket, stable for its lifetime
// and distinct from its parent listener's and any sibling connection's, for
// correlating log lines and metrics to one connection.
func (s *Socket) ID() string { return s.ctx.id.String() }

// IsClosed reports whether the socket is in CLOSED.
func (s *Socket) IsClosed() bool { return s.cur.kind() == StateClosed }

// IsEstablishing reports whether the socket is actively or passively
// opening (SYN_SENT or SYN_RECV).
func (s *Socket) IsEstablishing() bool {
	k := s.cur.kind()
	return k == StateSynSent || k == StateSynRcvd
}

// IsConnected reports whether the socket has reached ESTABLISHED.
func (s *Socket) IsConnected() bool { return s.cur.kind() == StateEstablished }

// IsListening reports whether the socket is in LISTEN.
func (s *Socket) IsListening() bool { return s.cur.kind() == StateListen }

// Connect initiates an active open to addr. The socket must be CLOSED.
func (s *Socket) Connect(addr usrnet.SocketAddr) error {
	cs, ok := s.cur.(closedState)
	if !ok {
		return errWrongState
	}
	next := cs.toSynSent(addr)
	s.cur = next
	s.ctx.stateChanged(next.kind())
	return nil
}

// Listen transitions the socket to LISTEN with the given backlog sizes. The
// socket must be CLOSED.
func (s *Socket) Listen(cfg ListenConfig) error {
	cs, ok := s.cur.(closedState)
	if !ok {
		return errWrongState
	}
	next := cs.toListen(cfg)
	s.cur = next
	s.ctx.stateChanged(next.kind())
	return nil
}

// Accept dequeues a connection that completed its handshake, if the socket
// is LISTENing and one is available.
func (s *Socket) Accept() (*Socket, error) {
	ls, ok := s.cur.(*listenState)
	if !ok {
		return nil, errWrongState
	}
	est, ok := ls.accept()
	if !ok {
		return nil, usrnet.ErrExhausted
	}
	childCtx := &socketContext{
		binding: s.ctx.binding.Acquire(),
		clock:   s.ctx.clock,
		log:     s.ctx.log,
		metrics: s.ctx.metrics,
		mtu:     s.ctx.mtu,
		id:      xid.New(),
	}
	est.ctx = childCtx
	return &Socket{ctx: childCtx, cur: est}, nil
}

// SendDequeue asks the current state for its next outgoing segment, handing
// it to f to encode. The state only advances if f succeeds.
func (s *Socket) SendDequeue(f txFunc) (int, error) {
	next, n, err := s.cur.sendDequeue(f)
	if next != nil {
		s.cur = next
		s.ctx.stateChanged(next.kind())
	}
	return n, err
}

// RecvEnqueue hands an inbound segment to the current state.
func (s *Socket) RecvEnqueue(src, dst usrnet.SocketAddr, seg Segment) error {
	next, err := s.cur.recvEnqueue(src, dst, seg)
	if next != nil {
		s.cur = next
		s.ctx.stateChanged(next.kind())
	}
	return err
}

// Close releases the socket's address binding. It does not perform the TCP
// close handshake, which is out of scope for the opening-phase FSM above.
func (s *Socket) Close() { s.ctx.binding.Release() }
