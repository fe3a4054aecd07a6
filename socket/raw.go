// Package socket implements the fixed-slot socket table and the raw and UDP
// socket types that sit above the per-interface send/recv pipeline. TCP
// connections are represented by *tcp.Socket and plugged into this package's
// tagged union and handle table, but their state machine lives in package
// tcp to keep the transport-specific FSM out of the socket bookkeeping.
package socket

import (
	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/storage"
)

// RawKind distinguishes what layer a RawSocket exchanges whole packets at.
type RawKind uint8

const (
	// RawEthernet exchanges whole Ethernet frames, header included.
	RawEthernet RawKind = iota
	// RawIPv4 exchanges whole IPv4 datagrams, header included.
	RawIPv4
)

func (k RawKind) String() string {
	switch k {
	case RawEthernet:
		return "ethernet"
	case RawIPv4:
		return "ipv4"
	default:
		return "raw(?)"
	}
}

// RawSocket sends and receives whole packets (Ethernet frames or IPv4
// datagrams, depending on Kind) without any transport-layer demultiplexing.
type RawSocket struct {
	kind       RawKind
	sendBuffer *storage.Ring[storage.Buffer]
	recvBuffer *storage.Ring[storage.Buffer]
}

// NewRawSocket constructs a RawSocket of the given kind with depth-sized send
// and receive queues, each packet bounded by maxPacket bytes.
func NewRawSocket(kind RawKind, depth, maxPacket int) *RawSocket {
	send := storage.NewRing[storage.Buffer](depth)
	recv := storage.NewRing[storage.Buffer](depth)
	for i := range send.Raw() {
		send.Raw()[i] = *storage.NewBuffer(make([]byte, maxPacket))
	}
	for i := range recv.Raw() {
		recv.Raw()[i] = *storage.NewBuffer(make([]byte, maxPacket))
	}
	return &RawSocket{kind: kind, sendBuffer: send, recvBuffer: recv}
}

// Kind reports whether this socket exchanges Ethernet frames or IPv4
// datagrams.
func (s *RawSocket) Kind() RawKind { return s.kind }

// Send enqueues a packet of n bytes for sending and returns the writable
// buffer for the caller to fill.
func (s *RawSocket) Send(n int) ([]byte, error) {
	return storage.EnqueueMaybe(s.sendBuffer, func(buf *storage.Buffer) ([]byte, error) {
		if err := buf.TryResize(n); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

// Recv dequeues the oldest received packet.
func (s *RawSocket) Recv() ([]byte, error) {
	return storage.DequeueWith(s.recvBuffer, func(buf *storage.Buffer) []byte {
		return buf.Bytes()
	})
}

// SendDequeue pops the oldest packet queued for sending and hands it to f;
// the packet is only dequeued if f returns a nil error.
func (s *RawSocket) SendDequeue(f func(packet []byte) error) error {
	_, err := storage.DequeueMaybe(s.sendBuffer, func(buf *storage.Buffer) (struct{}, error) {
		return struct{}{}, f(buf.Bytes())
	})
	return err
}

// RecvEnqueue copies an inbound packet into the socket's receive queue, if
// it matches this socket's Kind.
func (s *RawSocket) RecvEnqueue(kind RawKind, packet []byte) error {
	if kind != s.kind {
		return usrnet.ErrIgnored
	}
	_, err := storage.EnqueueMaybe(s.recvBuffer, func(buf *storage.Buffer) (struct{}, error) {
		if err := buf.TryResize(len(packet)); err != nil {
			return struct{}{}, err
		}
		copy(buf.Bytes(), packet)
		return struct{}{}, nil
	})
	return err
}

// SendEnqueued reports the number of packets currently queued for sending.
func (s *RawSocket) SendEnqueued() int { return s.sendBuffer.Len() }

// RecvEnqueued reports the number of packets currently queued for receiving.
func (s *RawSocket) RecvEnqueued() int { return s.recvBuffer.Len() }
