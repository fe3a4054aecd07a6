package iface

import (
	"errors"
	"testing"

	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/arp"
	"github.com/cbxgyh/usrnet/ethernet"
	"github.com/cbxgyh/usrnet/internal"
	"github.com/cbxgyh/usrnet/ipv4"
	"github.com/cbxgyh/usrnet/ipv4/icmpv4"
	"github.com/cbxgyh/usrnet/socket"
	"github.com/cbxgyh/usrnet/udp"
)

// fakeDevice is a non-blocking Device backed by in-memory frame queues: Recv
// pops from in, Send appends a copy to out.
type fakeDevice struct {
	in  [][]byte
	out [][]byte
	mtu int
}

func newFakeDevice(mtu int) *fakeDevice { return &fakeDevice{mtu: mtu} }

func (d *fakeDevice) Recv(buf []byte) (int, error) {
	if len(d.in) == 0 {
		return 0, usrnet.ErrExhausted
	}
	frame := d.in[0]
	d.in = d.in[1:]
	return copy(buf, frame), nil
}

func (d *fakeDevice) Send(buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	d.out = append(d.out, cp)
	return nil
}

func (d *fakeDevice) MaxTransmissionUnit() int { return d.mtu }

var (
	ourMAC  = usrnet.Mac{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	ourIP   = usrnet.Ipv4{192, 168, 1, 1}
	peerMAC = usrnet.Mac{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	peerIP  = usrnet.Ipv4{192, 168, 1, 2}
)

func newTestInterface(t *testing.T, dev Device) *Interface {
	t.Helper()
	return New(dev, Config{
		HardwareAddr: ourMAC,
		IP:           ourIP,
		CIDR:         usrnet.Ipv4Cidr{Addr: usrnet.Ipv4{192, 168, 1, 0}, PrefixLength: 24},
		Gateway:      usrnet.Ipv4{192, 168, 1, 254},
		Clock:        internal.NewFakeClock(),
	})
}

// buildEthernet wraps payload in an Ethernet II frame.
func buildEthernet(dst, src usrnet.Mac, etherType ethernet.Type, payload []byte) []byte {
	buf := make([]byte, usrnet.SizeHeaderEthNoVLAN+len(payload))
	efrm, err := ethernet.NewFrame(buf)
	if err != nil {
		panic(err)
	}
	*efrm.DestinationHardwareAddr() = [6]byte(dst)
	*efrm.SourceHardwareAddr() = [6]byte(src)
	efrm.SetEtherType(etherType)
	copy(efrm.Payload(), payload)
	return buf
}

// buildARP builds an IPv4-over-Ethernet ARP message.
func buildARP(op arp.Operation, senderHW usrnet.Mac, senderIP usrnet.Ipv4, targetHW usrnet.Mac, targetIP usrnet.Ipv4) []byte {
	buf := make([]byte, usrnet.SizeHeaderARPv4)
	afrm, err := arp.NewFrame(buf)
	if err != nil {
		panic(err)
	}
	afrm.ClearHeader()
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(op)
	sHW, sIP := afrm.Sender4()
	*sHW = senderHW
	*sIP = senderIP
	tHW, tIP := afrm.Target4()
	*tHW = targetHW
	*tIP = targetIP
	return buf
}

// buildIPv4 wraps body (a fully-formed transport segment, checksum already
// computed against the header fields below) in an IPv4 header.
func buildIPv4(src, dst usrnet.Ipv4, proto usrnet.IPProto, body []byte) []byte {
	const ihl = 5
	buf := make([]byte, ihl*4+len(body))
	ifrm, err := ipv4.NewFrame(buf)
	if err != nil {
		panic(err)
	}
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, ihl)
	*ifrm.SourceAddr() = src
	*ifrm.DestinationAddr() = dst
	ifrm.SetTotalLength(uint16(len(buf)))
	ifrm.SetTTL(64)
	ifrm.SetProtocol(proto)
	copy(ifrm.Payload(), body)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return buf
}

func buildICMPEchoRequest(id, seq uint16, data []byte) []byte {
	buf := make([]byte, usrnet.SizeHeaderICMPv4+4+len(data))
	frm, err := icmpv4.NewFrame(buf)
	if err != nil {
		panic(err)
	}
	frm.SetType(icmpv4.TypeEcho)
	frm.SetCode(0)
	echo := icmpv4.FrameEcho{Frame: frm}
	echo.SetIdentifier(id)
	echo.SetSequenceNumber(seq)
	copy(echo.Data(), data)
	var crc usrnet.CRC791
	frm.CRCWrite(&crc)
	frm.SetCRC(crc.Sum16())
	return buf
}

func buildUDP(src, dst usrnet.SocketAddr, payload []byte) []byte {
	n := usrnet.SizeHeaderUDP + len(payload)
	buf := make([]byte, n)
	ufrm, err := udp.NewFrame(buf)
	if err != nil {
		panic(err)
	}
	ufrm.ClearHeader()
	ufrm.SetSourcePort(src.Port)
	ufrm.SetDestinationPort(dst.Port)
	ufrm.SetLength(uint16(n))
	copy(ufrm.Payload(), payload)
	ipBuf := buildIPv4(src.Addr, dst.Addr, usrnet.IPProtoUDP, buf)
	ifrm, _ := ipv4.NewFrame(ipBuf)
	ufrm, _ = udp.NewFrame(ifrm.Payload())
	ufrm.SetCRC(ufrm.CalculateIPv4Checksum(ifrm))
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return ipBuf
}

func TestSendRawIPv4ResolvesARPFirst(t *testing.T) {
	dev := newFakeDevice(1500)
	ifc := newTestInterface(t, dev)
	sockets := socket.NewSet(4)

	raw := socket.NewRawSocket(socket.RawIPv4, 4, 1514)
	if _, err := sockets.AddRaw(raw); err != nil {
		t.Fatalf("AddRaw: %v", err)
	}
	payload := buildIPv4(ourIP, peerIP, usrnet.IPProtoUDP, make([]byte, 8))
	out, err := raw.Send(len(payload))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	copy(out, payload)

	if err := ifc.Send(sockets); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(dev.out) != 1 {
		t.Fatalf("want exactly 1 ARP request emitted, got %d", len(dev.out))
	}
	efrm, err := ethernet.NewFrame(dev.out[0])
	if err != nil || efrm.EtherTypeOrSize() != ethernet.TypeARP {
		t.Fatalf("expected an ARP frame, got err=%v etherType=%v", err, efrm.EtherTypeOrSize())
	}
	if raw.SendEnqueued() != 1 {
		t.Fatalf("datagram should remain queued pending ARP resolution, SendEnqueued() = %d", raw.SendEnqueued())
	}

	// Deliver the ARP reply.
	reply := buildEthernet(ourMAC, peerMAC, ethernet.TypeARP, buildARP(arp.OpReply, peerMAC, peerIP, ourMAC, ourIP))
	dev.in = append(dev.in, reply)
	if err := ifc.Recv(sockets); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if mac, ok := ifc.ArpCache().Lookup(peerIP); !ok || mac != peerMAC {
		t.Fatalf("ArpCache().Lookup(peerIP) = %v, %v, want %v, true", mac, ok, peerMAC)
	}

	dev.out = nil
	if err := ifc.Send(sockets); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if raw.SendEnqueued() != 0 {
		t.Fatalf("datagram should have been sent once ARP resolved, SendEnqueued() = %d", raw.SendEnqueued())
	}
	if len(dev.out) != 1 {
		t.Fatalf("want exactly 1 IPv4 frame emitted, got %d", len(dev.out))
	}
	efrm, err = ethernet.NewFrame(dev.out[0])
	if err != nil || efrm.EtherTypeOrSize() != ethernet.TypeIPv4 || *efrm.DestinationHardwareAddr() != [6]byte(peerMAC) {
		t.Fatalf("expected IPv4 frame to peer MAC, got err=%v", err)
	}
}

func TestRecvARPRequestSendsReply(t *testing.T) {
	dev := newFakeDevice(1500)
	ifc := newTestInterface(t, dev)
	sockets := socket.NewSet(4)

	req := buildEthernet(usrnet.BroadcastMac, peerMAC, ethernet.TypeARP, buildARP(arp.OpRequest, peerMAC, peerIP, usrnet.Mac{}, ourIP))
	dev.in = append(dev.in, req)
	if err := ifc.Recv(sockets); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if mac, ok := ifc.ArpCache().Lookup(peerIP); !ok || mac != peerMAC {
		t.Fatalf("expected peer learned from request, got %v, %v", mac, ok)
	}
	if len(dev.out) != 1 {
		t.Fatalf("want exactly 1 ARP reply, got %d", len(dev.out))
	}
	efrm, err := ethernet.NewFrame(dev.out[0])
	if err != nil || efrm.EtherTypeOrSize() != ethernet.TypeARP {
		t.Fatalf("expected ARP frame, got err=%v", err)
	}
	afrm, err := arp.NewFrame(efrm.Payload())
	if err != nil || afrm.Operation() != arp.OpReply {
		t.Fatalf("expected ARP reply, got err=%v op=%v", err, afrm.Operation())
	}
}

func TestRecvICMPEchoRequestRepliesWithSamePayload(t *testing.T) {
	dev := newFakeDevice(1500)
	ifc := newTestInterface(t, dev)
	sockets := socket.NewSet(4)

	data := []byte("ping")
	icmp := buildICMPEchoRequest(7, 1, data)
	ip := buildIPv4(peerIP, ourIP, usrnet.IPProtoICMP, icmp)
	frame := buildEthernet(ourMAC, peerMAC, ethernet.TypeIPv4, ip)
	dev.in = append(dev.in, frame)

	if err := ifc.Recv(sockets); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	// Source MAC is unicast, so it is cached during Recv and the echo reply
	// is transmitted from Recv itself with no ARP round trip; this Send pass
	// has nothing further to emit.
	if err := ifc.Send(sockets); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(dev.out) != 1 {
		t.Fatalf("want exactly 1 reply frame, got %d", len(dev.out))
	}
	efrm, err := ethernet.NewFrame(dev.out[0])
	if err != nil || efrm.EtherTypeOrSize() != ethernet.TypeIPv4 {
		t.Fatalf("expected IPv4 reply frame, got err=%v", err)
	}
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil || ifrm.Protocol() != usrnet.IPProtoICMP {
		t.Fatalf("expected ICMP payload, got err=%v proto=%v", err, ifrm.Protocol())
	}
	icmpFrm, err := icmpv4.NewFrame(ifrm.Payload())
	if err != nil || !icmpFrm.IsEchoReply() {
		t.Fatalf("expected echo reply, got err=%v", err)
	}
	echo := icmpv4.FrameEcho{Frame: icmpFrm}
	if echo.Identifier() != 7 || echo.SequenceNumber() != 1 || string(echo.Data()) != "ping" {
		t.Fatalf("echo reply mismatch: id=%d seq=%d data=%q", echo.Identifier(), echo.SequenceNumber(), echo.Data())
	}
}

func TestRecvUDPUnclaimedSendsPortUnreachable(t *testing.T) {
	dev := newFakeDevice(1500)
	ifc := newTestInterface(t, dev)
	sockets := socket.NewSet(4)

	src := usrnet.SocketAddr{Addr: peerIP, Port: 5000}
	dst := usrnet.SocketAddr{Addr: ourIP, Port: 9999}
	datagram := buildUDP(src, dst, []byte("hello"))
	frame := buildEthernet(ourMAC, peerMAC, ethernet.TypeIPv4, datagram)
	dev.in = append(dev.in, frame)

	if err := ifc.Recv(sockets); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := ifc.Send(sockets); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(dev.out) != 1 {
		t.Fatalf("want exactly 1 port-unreachable reply, got %d", len(dev.out))
	}
	efrm, _ := ethernet.NewFrame(dev.out[0])
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil || ifrm.Protocol() != usrnet.IPProtoICMP {
		t.Fatalf("expected ICMP reply, got err=%v proto=%v", err, ifrm.Protocol())
	}
	icmpFrm, err := icmpv4.NewFrame(ifrm.Payload())
	if err != nil || !icmpFrm.IsDestinationUnreachable() {
		t.Fatalf("expected destination-unreachable, got err=%v", err)
	}
	du := icmpv4.FrameDestinationUnreachable{Frame: icmpFrm}
	if du.Code() != icmpv4.CodePortUnreachable {
		t.Fatalf("Code() = %v, want CodePortUnreachable", du.Code())
	}
}

func TestRecvUDPDeliversToBoundSocket(t *testing.T) {
	dev := newFakeDevice(1500)
	ifc := newTestInterface(t, dev)
	sockets := socket.NewSet(4)

	bindings := usrnet.NewBindings()
	dst := usrnet.SocketAddr{Addr: ourIP, Port: 53}
	lease, err := bindings.Bind(usrnet.TransportUDP, dst)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	u := socket.NewUdpSocket(lease, 4, 512)
	if _, err := sockets.AddUdp(u); err != nil {
		t.Fatalf("AddUdp: %v", err)
	}

	src := usrnet.SocketAddr{Addr: peerIP, Port: 6000}
	datagram := buildUDP(src, dst, []byte("query"))
	frame := buildEthernet(ourMAC, peerMAC, ethernet.TypeIPv4, datagram)
	dev.in = append(dev.in, frame)

	if err := ifc.Recv(sockets); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	payload, gotSrc, err := u.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(payload) != "query" || gotSrc != src {
		t.Fatalf("got payload=%q src=%v, want %q, %v", payload, gotSrc, "query", src)
	}
	if len(dev.out) != 0 {
		t.Fatalf("no port-unreachable expected once a socket claims the datagram, got %d frames", len(dev.out))
	}
}

func TestRecvDropsFramesNotAddressedToUs(t *testing.T) {
	dev := newFakeDevice(1500)
	ifc := newTestInterface(t, dev)
	sockets := socket.NewSet(4)

	otherMAC := usrnet.Mac{0x02, 0x00, 0x00, 0x00, 0x00, 0x09}
	req := buildEthernet(otherMAC, peerMAC, ethernet.TypeARP, buildARP(arp.OpRequest, peerMAC, peerIP, usrnet.Mac{}, ourIP))
	dev.in = append(dev.in, req)
	if err := ifc.Recv(sockets); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if len(dev.out) != 0 {
		t.Fatalf("frame addressed to a different MAC must be dropped silently, got %d outgoing frames", len(dev.out))
	}
	if _, ok := ifc.ArpCache().Lookup(peerIP); ok {
		t.Fatal("dropped frame must not update the ARP cache")
	}
}

func TestRecvReportsDeviceError(t *testing.T) {
	boom := errors.New("boom")
	failing := &erroringDevice{fakeDevice: newFakeDevice(1500), err: boom}
	ifc := newTestInterface(t, failing)
	sockets := socket.NewSet(4)

	err := ifc.Recv(sockets)
	var devErr *usrnet.DeviceError
	if !errors.As(err, &devErr) || !errors.Is(devErr.Err, boom) {
		t.Fatalf("Recv() = %v, want a DeviceError wrapping %v", err, boom)
	}
}

type erroringDevice struct {
	*fakeDevice
	err error
}

func (d *erroringDevice) Recv(buf []byte) (int, error) { return 0, d.err }
