package iface

import (
	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/internal"
	"github.com/cbxgyh/usrnet/socket"
	"github.com/cbxgyh/usrnet/tcp"
)

// SocketEnv is a construction helper for the socket types: it owns the
// address-binding table shared by every socket built from it and derives
// queue sizes and maximum packet sizes from the owning Interface's MTU, so
// callers never size buffers by hand.
type SocketEnv struct {
	ifc      *Interface
	bindings *usrnet.Bindings
	clock    internal.Clock
	depth    int
}

// NewSocketEnv constructs a SocketEnv for sockets that will be driven by
// ifc. clock, if nil, defaults to a real clock.
func NewSocketEnv(ifc *Interface, clock internal.Clock) *SocketEnv {
	if clock == nil {
		clock = internal.NewRealClock()
	}
	return &SocketEnv{
		ifc:      ifc,
		bindings: usrnet.NewBindings(),
		clock:    clock,
		depth:    ifc.cfg.SocketQueueDepth,
	}
}

// RawSocket constructs a raw socket exchanging whole packets at kind's
// layer, with queues sized to hold a full Ethernet frame at this
// Interface's MTU.
func (e *SocketEnv) RawSocket(kind socket.RawKind) *socket.RawSocket {
	maxPacket := e.ifc.mtu + usrnet.SizeHeaderEthNoVLAN
	return socket.NewRawSocket(kind, e.depth, maxPacket)
}

// UdpSocket binds addr for UDP and constructs a UdpSocket over it, with
// queues sized to hold a full datagram payload at this Interface's MTU.
func (e *SocketEnv) UdpSocket(addr usrnet.SocketAddr) (*socket.UdpSocket, error) {
	lease, err := e.bindings.Bind(usrnet.TransportUDP, addr)
	if err != nil {
		return nil, err
	}
	maxPayload := e.ifc.mtu - usrnet.SizeHeaderIPv4 - usrnet.SizeHeaderUDP
	if e.ifc.metrics != nil {
		e.ifc.metrics.SocketsBound.Inc()
	}
	return socket.NewUdpSocket(lease, e.depth, maxPayload), nil
}

// TcpSocket binds addr for TCP and constructs a CLOSED tcp.Socket over it.
func (e *SocketEnv) TcpSocket(addr usrnet.SocketAddr) (*tcp.Socket, error) {
	lease, err := e.bindings.Bind(usrnet.TransportTCP, addr)
	if err != nil {
		return nil, err
	}
	if e.ifc.metrics != nil {
		e.ifc.metrics.SocketsBound.Inc()
	}
	return tcp.NewSocket(lease, e.ifc.mtu, e.clock, e.ifc.log, e.ifc.metrics), nil
}
