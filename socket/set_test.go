package socket

import (
	"errors"
	"testing"

	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/tcp"
)

func TestSetAddAndGet(t *testing.T) {
	s := NewSet(2)
	raw := NewRawSocket(RawEthernet, 4, 64)
	h, err := s.AddRaw(raw)
	if err != nil {
		t.Fatalf("AddRaw: %v", err)
	}
	kind, gotRaw, gotUdp, gotTcp, ok := s.Get(h)
	if !ok || kind != KindRaw || gotRaw != raw || gotUdp != nil || gotTcp != nil {
		t.Fatalf("Get(%v) = %v, %v, %v, %v, %v", h, kind, gotRaw, gotUdp, gotTcp, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestSetExhausted(t *testing.T) {
	s := NewSet(1)
	if _, err := s.AddRaw(NewRawSocket(RawEthernet, 1, 16)); err != nil {
		t.Fatalf("first AddRaw: %v", err)
	}
	_, err := s.AddRaw(NewRawSocket(RawEthernet, 1, 16))
	if !errors.Is(err, usrnet.ErrExhausted) {
		t.Fatalf("second AddRaw error = %v, want ErrExhausted", err)
	}
}

func TestSetRemoveFreesSlot(t *testing.T) {
	s := NewSet(1)
	h, _ := s.AddRaw(NewRawSocket(RawEthernet, 1, 16))
	s.Remove(h)
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Remove", s.Len())
	}
	if _, err := s.AddRaw(NewRawSocket(RawEthernet, 1, 16)); err != nil {
		t.Fatalf("AddRaw after Remove: %v", err)
	}
}

func TestSetEachAscendingOrderAndEarlyStop(t *testing.T) {
	s := NewSet(4)
	var handles []Handle
	for i := 0; i < 3; i++ {
		h, err := s.AddRaw(NewRawSocket(RawEthernet, 1, 16))
		if err != nil {
			t.Fatalf("AddRaw %d: %v", i, err)
		}
		handles = append(handles, h)
	}

	var visited []Handle
	s.Each(func(h Handle, kind Kind, raw *RawSocket, udp *UdpSocket, tcpSock *tcp.Socket) bool {
		visited = append(visited, h)
		return h != handles[1]
	})
	if len(visited) != 2 || visited[0] != handles[0] || visited[1] != handles[1] {
		t.Fatalf("Each visited %v, want early stop at %v", visited, handles[:2])
	}
}
