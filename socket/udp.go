package socket

import (
	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/storage"
)

type udpItem struct {
	buf  storage.Buffer
	addr usrnet.SocketAddr
}

// UdpSocket is a datagram socket bound to a local SocketAddr, with
// independent bounded send and receive queues each holding a payload plus
// its associated peer address.
type UdpSocket struct {
	binding    *usrnet.Lease
	sendBuffer *storage.Ring[udpItem]
	recvBuffer *storage.Ring[udpItem]
}

// NewUdpSocket constructs a UdpSocket bound via binding, with depth-sized
// send/recv queues each holding up to maxPayload bytes.
func NewUdpSocket(binding *usrnet.Lease, depth, maxPayload int) *UdpSocket {
	send := storage.NewRing[udpItem](depth)
	recv := storage.NewRing[udpItem](depth)
	for i := range send.Raw() {
		send.Raw()[i].buf = *storage.NewBuffer(make([]byte, maxPayload))
	}
	for i := range recv.Raw() {
		recv.Raw()[i].buf = *storage.NewBuffer(make([]byte, maxPayload))
	}
	return &UdpSocket{binding: binding, sendBuffer: send, recvBuffer: recv}
}

// LocalAddr returns the socket's bound local address.
func (s *UdpSocket) LocalAddr() usrnet.SocketAddr { return s.binding.Addr() }

// Accepts reports whether an inbound datagram destined for dst belongs to
// this socket.
func (s *UdpSocket) Accepts(dst usrnet.SocketAddr) bool { return s.binding.Addr() == dst }

// Send enqueues a payload of n bytes addressed to addr, returning the
// writable payload buffer.
func (s *UdpSocket) Send(n int, addr usrnet.SocketAddr) ([]byte, error) {
	return storage.EnqueueMaybe(s.sendBuffer, func(item *udpItem) ([]byte, error) {
		if err := item.buf.TryResize(n); err != nil {
			return nil, err
		}
		item.addr = addr
		return item.buf.Bytes(), nil
	})
}

// Recv dequeues the oldest received datagram along with its source address.
func (s *UdpSocket) Recv() ([]byte, usrnet.SocketAddr, error) {
	type result struct {
		payload []byte
		addr    usrnet.SocketAddr
	}
	r, err := storage.DequeueWith(s.recvBuffer, func(item *udpItem) result {
		return result{payload: item.buf.Bytes(), addr: item.addr}
	})
	return r.payload, r.addr, err
}

// SendDequeue pops the oldest datagram queued for sending and hands its
// source/destination and payload to f; the datagram is only dequeued if f
// returns a nil error.
func (s *UdpSocket) SendDequeue(f func(src, dst usrnet.SocketAddr, payload []byte) error) error {
	local := s.binding.Addr()
	_, err := storage.DequeueMaybe(s.sendBuffer, func(item *udpItem) (struct{}, error) {
		return struct{}{}, f(local, item.addr, item.buf.Bytes())
	})
	return err
}

// RecvEnqueue copies an inbound datagram into the socket's receive queue, if
// its destination matches this socket's binding.
func (s *UdpSocket) RecvEnqueue(src, dst usrnet.SocketAddr, payload []byte) error {
	if dst != s.binding.Addr() {
		return usrnet.ErrIgnored
	}
	_, err := storage.EnqueueMaybe(s.recvBuffer, func(item *udpItem) (struct{}, error) {
		if err := item.buf.TryResize(len(payload)); err != nil {
			return struct{}{}, err
		}
		copy(item.buf.Bytes(), payload)
		item.addr = src
		return struct{}{}, nil
	})
	return err
}

// SendEnqueued reports the number of datagrams currently queued for sending.
func (s *UdpSocket) SendEnqueued() int { return s.sendBuffer.Len() }

// RecvEnqueued reports the number of datagrams currently queued for
// receiving.
func (s *UdpSocket) RecvEnqueued() int { return s.recvBuffer.Len() }

// Close releases the socket's address binding.
func (s *UdpSocket) Close() { s.binding.Release() }
