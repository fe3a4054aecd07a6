package socket

import (
	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/tcp"
)

// Kind distinguishes which variant of the tagged union a slot holds.
type Kind uint8

const (
	KindRaw Kind = iota
	KindUdp
	KindTcp
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindUdp:
		return "udp"
	case KindTcp:
		return "tcp"
	default:
		return "kind(?)"
	}
}

// Handle identifies a slot in a Set. It stays valid until the slot is
// Remove'd, even as other slots come and go.
type Handle int

type slot struct {
	used bool
	kind Kind
	raw  *RawSocket
	udp  *UdpSocket
	tcp  *tcp.Socket
}

// Set is the fixed-slot handle table an Interface walks once per
// send/recv pump: every raw, UDP or TCP socket a caller constructs is
// installed here under a tagged union, so the pipeline can dispatch on Kind
// without dynamic interface dispatch. Slots are never reallocated; Set's
// capacity is fixed at construction.
type Set struct {
	slots []slot
}

// NewSet constructs a Set with room for capacity sockets of any kind.
func NewSet(capacity int) *Set {
	return &Set{slots: make([]slot, capacity)}
}

// Cap returns the fixed number of slots in the set.
func (s *Set) Cap() int { return len(s.slots) }

// Len reports the number of occupied slots.
func (s *Set) Len() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].used {
			n++
		}
	}
	return n
}

func (s *Set) freeSlot() (int, bool) {
	for i := range s.slots {
		if !s.slots[i].used {
			return i, true
		}
	}
	return 0, false
}

// AddRaw installs r into the lowest free slot, returning its Handle.
func (s *Set) AddRaw(r *RawSocket) (Handle, error) {
	i, ok := s.freeSlot()
	if !ok {
		return 0, usrnet.ErrExhausted
	}
	s.slots[i] = slot{used: true, kind: KindRaw, raw: r}
	return Handle(i), nil
}

// AddUdp installs u into the lowest free slot, returning its Handle.
func (s *Set) AddUdp(u *UdpSocket) (Handle, error) {
	i, ok := s.freeSlot()
	if !ok {
		return 0, usrnet.ErrExhausted
	}
	s.slots[i] = slot{used: true, kind: KindUdp, udp: u}
	return Handle(i), nil
}

// AddTcp installs t into the lowest free slot, returning its Handle.
func (s *Set) AddTcp(t *tcp.Socket) (Handle, error) {
	i, ok := s.freeSlot()
	if !ok {
		return 0, usrnet.ErrExhausted
	}
	s.slots[i] = slot{used: true, kind: KindTcp, tcp: t}
	return Handle(i), nil
}

// Remove frees the slot held by h. It does not close the underlying
// socket (release its binding); callers must do that first if applicable.
func (s *Set) Remove(h Handle) {
	if int(h) >= 0 && int(h) < len(s.slots) {
		s.slots[h] = slot{}
	}
}

// Get returns the kind and socket pointer held at h. Exactly one of
// raw/udp/tcpSock is non-nil when ok is true.
func (s *Set) Get(h Handle) (kind Kind, raw *RawSocket, udp *UdpSocket, tcpSock *tcp.Socket, ok bool) {
	if int(h) < 0 || int(h) >= len(s.slots) || !s.slots[h].used {
		return 0, nil, nil, nil, false
	}
	sl := s.slots[h]
	return sl.kind, sl.raw, sl.udp, sl.tcp, true
}

// Each calls fn once for every occupied slot in ascending Handle order,
// stopping early if fn returns false. The egress/ingress pumps in package
// iface rely on this ascending, stable order for round-robin fairness
// across sockets.
func (s *Set) Each(fn func(h Handle, kind Kind, raw *RawSocket, udp *UdpSocket, tcpSock *tcp.Socket) bool) {
	for i := range s.slots {
		if !s.slots[i].used {
			continue
		}
		sl := s.slots[i]
		if !fn(Handle(i), sl.kind, sl.raw, sl.udp, sl.tcp) {
			return
		}
	}
}
