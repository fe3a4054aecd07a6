package tcp

import (
	"errors"
	"testing"
	"time"

	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/internal"
)

const testMTU = 1500

func newTestSocket(t *testing.T, addr usrnet.SocketAddr) (*Socket, *usrnet.Bindings) {
	t.Helper()
	bindings := usrnet.NewBindings()
	lease, err := bindings.Bind(usrnet.TransportTCP, addr)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return NewSocket(lease, testMTU, internal.NewFakeClock(), internal.Logger{}, nil), bindings
}

var (
	clientAddr = usrnet.SocketAddr{Addr: usrnet.Ipv4{10, 0, 0, 1}, Port: 4000}
	serverAddr = usrnet.SocketAddr{Addr: usrnet.Ipv4{10, 0, 0, 2}, Port: 80}
)

func TestSocketActiveOpenHandshake(t *testing.T) {
	cli, _ := newTestSocket(t, clientAddr)
	if err := cli.Connect(serverAddr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if cli.State() != StateSynSent {
		t.Fatalf("State() = %v, want StateSynSent", cli.State())
	}

	var syn OutSegment
	n, err := cli.SendDequeue(func(out OutSegment) (int, error) {
		syn = out
		return 1, nil
	})
	if err != nil || n != 1 {
		t.Fatalf("SendDequeue(SYN) = %d, %v", n, err)
	}
	if !syn.Seg.Flags.HasAll(FlagSYN) || syn.Seg.Flags.HasAny(FlagACK) {
		t.Fatalf("expected bare SYN, got flags %v", syn.Seg.Flags)
	}
	if cli.State() != StateSynSent {
		t.Fatalf("State() after sending SYN = %v, want StateSynSent", cli.State())
	}

	// Immediate re-dequeue before the retransmit interval elapses must not
	// produce another segment.
	if _, err := cli.SendDequeue(func(OutSegment) (int, error) {
		t.Fatal("unexpected retransmit before timer elapsed")
		return 0, nil
	}); !errors.Is(err, usrnet.ErrExhausted) {
		t.Fatalf("SendDequeue() error = %v, want ErrExhausted", err)
	}

	serverISN := uint32(5000)
	synack := Segment{SEQ: Value(serverISN), ACK: syn.Seg.SEQ + 1, Flags: FlagSYN | FlagACK, WND: initialWindow}
	if err := cli.RecvEnqueue(serverAddr, clientAddr, synack); err != nil {
		t.Fatalf("RecvEnqueue(SYN+ACK): %v", err)
	}
	if cli.State() != StateEstablished {
		t.Fatalf("State() after SYN+ACK = %v, want StateEstablished", cli.State())
	}

	var ack OutSegment
	n, err = cli.SendDequeue(func(out OutSegment) (int, error) {
		ack = out
		return 1, nil
	})
	if err != nil || n != 1 {
		t.Fatalf("SendDequeue(ACK) = %d, %v", n, err)
	}
	if ack.Seg.Flags != FlagACK {
		t.Fatalf("expected bare ACK, got flags %v", ack.Seg.Flags)
	}
	if uint32(ack.Seg.SEQ) != uint32(syn.Seg.SEQ)+1 || uint32(ack.Seg.ACK) != serverISN+1 {
		t.Fatalf("final ACK SEQ/ACK mismatch: got SEQ=%d ACK=%d", ack.Seg.SEQ, ack.Seg.ACK)
	}

	// Established: no further segment to send, ever (data transfer is out of
	// scope for this FSM).
	if _, err := cli.SendDequeue(func(OutSegment) (int, error) {
		t.Fatal("ESTABLISHED should have nothing further to send")
		return 0, nil
	}); !errors.Is(err, usrnet.ErrExhausted) {
		t.Fatalf("SendDequeue() error = %v, want ErrExhausted", err)
	}
}

func TestSocketSynSentRetransmitsAfterTimerElapses(t *testing.T) {
	bindings := usrnet.NewBindings()
	lease, err := bindings.Bind(usrnet.TransportTCP, clientAddr)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	clock := internal.NewFakeClock()
	cli := NewSocket(lease, testMTU, clock, internal.Logger{}, nil)
	if err := cli.Connect(serverAddr); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	calls := 0
	send := func(OutSegment) (int, error) { calls++; return 1, nil }
	if _, err := cli.SendDequeue(send); err != nil {
		t.Fatalf("first SendDequeue: %v", err)
	}
	if _, err := cli.SendDequeue(send); !errors.Is(err, usrnet.ErrExhausted) {
		t.Fatalf("SendDequeue before timer = %v, want ErrExhausted", err)
	}

	clock.Advance(2 * time.Second)
	if _, err := cli.SendDequeue(send); err != nil {
		t.Fatalf("SendDequeue after timer elapsed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (initial SYN + one retransmit)", calls)
	}
}

func TestSocketActiveOpenRejectsWrongPeer(t *testing.T) {
	cli, _ := newTestSocket(t, clientAddr)
	if err := cli.Connect(serverAddr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var syn OutSegment
	if _, err := cli.SendDequeue(func(out OutSegment) (int, error) { syn = out; return 1, nil }); err != nil {
		t.Fatalf("SendDequeue: %v", err)
	}

	other := usrnet.SocketAddr{Addr: usrnet.Ipv4{10, 0, 0, 9}, Port: 80}
	segFromOther := Segment{SEQ: 1, ACK: syn.Seg.SEQ + 1, Flags: synack, WND: initialWindow}
	if err := cli.RecvEnqueue(other, clientAddr, segFromOther); !errors.Is(err, usrnet.ErrIgnored) {
		t.Fatalf("RecvEnqueue from unexpected peer = %v, want ErrIgnored", err)
	}
	if cli.State() != StateSynSent {
		t.Fatalf("State() = %v, want unchanged StateSynSent", cli.State())
	}
}

func TestSocketConnectRequiresClosed(t *testing.T) {
	cli, _ := newTestSocket(t, clientAddr)
	if err := cli.Connect(serverAddr); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := cli.Connect(serverAddr); !errors.Is(err, errWrongState) {
		t.Fatalf("second Connect() = %v, want errWrongState", err)
	}
}

func TestSocketListenAcceptsHandshake(t *testing.T) {
	srv, _ := newTestSocket(t, serverAddr)
	if err := srv.Listen(ListenConfig{SynBacklog: 2, EstBacklog: 2}); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if !srv.IsListening() {
		t.Fatal("expected IsListening() after Listen")
	}

	clientISN := uint32(100)
	syn := Segment{SEQ: Value(clientISN), Flags: FlagSYN, WND: initialWindow}
	if err := srv.RecvEnqueue(clientAddr, serverAddr, syn); err != nil {
		t.Fatalf("RecvEnqueue(SYN): %v", err)
	}
	if srv.State() != StateListen {
		t.Fatalf("State() after SYN = %v, want StateListen (the parent stays in LISTEN)", srv.State())
	}
	if _, err := srv.Accept(); !errors.Is(err, usrnet.ErrExhausted) {
		t.Fatalf("Accept() before handshake completes = %v, want ErrExhausted", err)
	}

	var synackOut OutSegment
	n, err := srv.SendDequeue(func(out OutSegment) (int, error) { synackOut = out; return 1, nil })
	if !errors.Is(err, usrnet.ErrExhausted) || n != 0 {
		t.Fatalf("SendDequeue(SYN+ACK) = %d, %v, want 0, ErrExhausted (LISTEN reports no segment of its own)", n, err)
	}
	if !synackOut.Seg.Flags.HasAll(synack) {
		t.Fatalf("expected SYN+ACK, got flags %v", synackOut.Seg.Flags)
	}
	if uint32(synackOut.Seg.ACK) != clientISN+1 {
		t.Fatalf("SYN+ACK ACK = %d, want %d", synackOut.Seg.ACK, clientISN+1)
	}

	finalAck := Segment{SEQ: Value(clientISN + 1), ACK: synackOut.Seg.SEQ + 1, Flags: FlagACK, WND: initialWindow}
	if err := srv.RecvEnqueue(clientAddr, serverAddr, finalAck); err != nil {
		t.Fatalf("RecvEnqueue(final ACK): %v", err)
	}

	conn, err := srv.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if conn.State() != StateEstablished {
		t.Fatalf("accepted connection state = %v, want StateEstablished", conn.State())
	}
	if conn.ID() == srv.ID() {
		t.Fatal("accepted connection must have its own ID, distinct from the listener's")
	}
	if _, err := srv.Accept(); !errors.Is(err, usrnet.ErrExhausted) {
		t.Fatalf("second Accept() = %v, want ErrExhausted", err)
	}
}

func TestSocketListenIgnoresNonSYN(t *testing.T) {
	srv, _ := newTestSocket(t, serverAddr)
	if err := srv.Listen(ListenConfig{}); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ack := Segment{SEQ: 1, ACK: 1, Flags: FlagACK, WND: initialWindow}
	if err := srv.RecvEnqueue(clientAddr, serverAddr, ack); !errors.Is(err, usrnet.ErrIgnored) {
		t.Fatalf("RecvEnqueue(bare ACK) = %v, want ErrIgnored", err)
	}
}

func TestSocketListenDropsSynOnceSynBacklogFull(t *testing.T) {
	srv, _ := newTestSocket(t, serverAddr)
	if err := srv.Listen(ListenConfig{SynBacklog: 1, EstBacklog: 1}); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	first := usrnet.SocketAddr{Addr: usrnet.Ipv4{10, 0, 0, 5}, Port: 1111}
	second := usrnet.SocketAddr{Addr: usrnet.Ipv4{10, 0, 0, 6}, Port: 2222}

	syn := Segment{SEQ: 1, Flags: FlagSYN, WND: initialWindow}
	if err := srv.RecvEnqueue(first, serverAddr, syn); err != nil {
		t.Fatalf("first SYN: %v", err)
	}
	if err := srv.RecvEnqueue(second, serverAddr, syn); !errors.Is(err, usrnet.ErrExhausted) {
		t.Fatalf("second SYN with full backlog = %v, want ErrExhausted", err)
	}
}

func TestSocketListenRequiresClosed(t *testing.T) {
	srv, _ := newTestSocket(t, serverAddr)
	if err := srv.Listen(ListenConfig{}); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := srv.Listen(ListenConfig{}); !errors.Is(err, errWrongState) {
		t.Fatalf("second Listen() = %v, want errWrongState", err)
	}
}

func TestSocketSynRecvClosesOnRST(t *testing.T) {
	srv, _ := newTestSocket(t, serverAddr)
	if err := srv.Listen(ListenConfig{SynBacklog: 1, EstBacklog: 1}); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	clientISN := uint32(1)
	syn := Segment{SEQ: Value(clientISN), Flags: FlagSYN, WND: initialWindow}
	if err := srv.RecvEnqueue(clientAddr, serverAddr, syn); err != nil {
		t.Fatalf("SYN: %v", err)
	}
	var synackOut OutSegment
	if _, err := srv.SendDequeue(func(out OutSegment) (int, error) { synackOut = out; return 1, nil }); !errors.Is(err, usrnet.ErrExhausted) {
		t.Fatalf("SendDequeue(SYN+ACK) = %v, want ErrExhausted (LISTEN reports no segment of its own)", err)
	}

	rst := Segment{SEQ: Value(clientISN + 1), ACK: synackOut.Seg.SEQ + 1, Flags: FlagRST, WND: initialWindow}
	if err := srv.RecvEnqueue(clientAddr, serverAddr, rst); err != nil {
		t.Fatalf("RecvEnqueue(RST): %v", err)
	}
	// The half-open child is dropped; the listener itself is unaffected and
	// has nothing queued to Accept.
	if srv.State() != StateListen {
		t.Fatalf("State() = %v, want StateListen", srv.State())
	}
	if _, err := srv.Accept(); !errors.Is(err, usrnet.ErrExhausted) {
		t.Fatalf("Accept() after RST = %v, want ErrExhausted", err)
	}
}
