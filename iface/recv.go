package iface

import (
	"errors"

	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/arp"
	"github.com/cbxgyh/usrnet/ethernet"
	"github.com/cbxgyh/usrnet/internal"
	"github.com/cbxgyh/usrnet/ipv4"
	"github.com/cbxgyh/usrnet/ipv4/icmpv4"
	"github.com/cbxgyh/usrnet/socket"
	"github.com/cbxgyh/usrnet/tcp"
	"github.com/cbxgyh/usrnet/udp"
)

// Recv reads frames from the device until it reports no more are
// available, fanning each out to the sockets that accept it. A device
// error other than exhaustion aborts the pass and is returned; malformed
// or checksum-failing frames are logged and skipped individually.
func (ifc *Interface) Recv(sockets *socket.Set) error {
	for {
		n, err := ifc.dev.Recv(ifc.rxBuf)
		if err != nil {
			if errors.Is(err, usrnet.ErrExhausted) {
				return nil
			}
			return &usrnet.DeviceError{Err: err}
		}
		ifc.recvOne(sockets, ifc.rxBuf[:n])
	}
}

// recvOne parses a single Ethernet frame, drops it if it is addressed to
// neither us nor the broadcast address, fans a copy out to every raw
// Ethernet socket, and dispatches the payload by EtherType.
func (ifc *Interface) recvOne(sockets *socket.Set, frame []byte) {
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return
	}
	var vld usrnet.Validator
	efrm.ValidateSize(&vld)
	if vld.HasError() {
		return
	}
	dst := usrnet.Mac(*efrm.DestinationHardwareAddr())
	if !efrm.IsBroadcast() && dst != ifc.cfg.HardwareAddr {
		return
	}
	if ifc.metrics != nil {
		ifc.metrics.EthernetRecv.Inc()
	}

	sockets.Each(func(h socket.Handle, kind socket.Kind, raw *socket.RawSocket, _ *socket.UdpSocket, _ *tcp.Socket) bool {
		if kind == socket.KindRaw {
			raw.RecvEnqueue(socket.RawEthernet, frame)
		}
		return true
	})

	src := usrnet.Mac(*efrm.SourceHardwareAddr())
	payload := efrm.Payload()
	switch efrm.EtherTypeOrSize() {
	case ethernet.TypeARP:
		ifc.recvARP(payload)
	case ethernet.TypeIPv4:
		ifc.recvIPv4(sockets, payload, src)
	}
}

// recvARP learns the sender's mapping when we are the target (so a reply
// to our own outstanding request resolves it, and so any request or reply
// directed at us refreshes the cache), and answers requests for our
// address.
func (ifc *Interface) recvARP(payload []byte) {
	afrm, err := arp.NewFrame(payload)
	if err != nil {
		return
	}
	var vld usrnet.Validator
	afrm.ValidateSize(&vld)
	if vld.HasError() {
		return
	}
	hwType, _ := afrm.Hardware()
	protoType, _ := afrm.Protocol()
	if hwType != 1 || protoType != ethernet.TypeIPv4 {
		return
	}
	senderHW, senderIP := afrm.Sender4()
	_, targetIP := afrm.Target4()
	if usrnet.Ipv4(*targetIP) != ifc.cfg.IP {
		return
	}
	ifc.arp.Insert(usrnet.Ipv4(*senderIP), usrnet.Mac(*senderHW))
	if ifc.metrics != nil {
		ifc.metrics.ArpResolved.Inc()
		ifc.metrics.ArpCacheSize.Set(float64(ifc.arp.Len()))
	}
	if afrm.Operation() == arp.OpRequest {
		ifc.sendArpReply(usrnet.Mac(*senderHW), usrnet.Ipv4(*senderIP))
	}
}

// recvIPv4 validates and checksums an IPv4 datagram addressed to us,
// updates the ARP cache from its source if the frame's source MAC is
// unicast (so an immediate reply like an ICMP echo resolves without
// waiting on a fresh ARP round trip), fans a copy out to raw IPv4 sockets,
// and dispatches the payload by IP protocol.
func (ifc *Interface) recvIPv4(sockets *socket.Set, payload []byte, srcMAC usrnet.Mac) {
	ifrm, err := ipv4.NewFrame(payload)
	if err != nil {
		return
	}
	var vld usrnet.Validator
	ifrm.ValidateExceptCRC(&vld)
	if vld.HasError() {
		return
	}
	if ifrm.CRC() != ifrm.CalculateHeaderCRC() {
		if ifc.metrics != nil {
			ifc.metrics.Ipv4ChecksumKO.WithLabelValues("ipv4").Inc()
		}
		ifc.log.Debug("iface: dropping ipv4 datagram with bad header checksum", internal.SlogAddr6("src_mac", (*[6]byte)(&srcMAC)))
		return
	}
	if usrnet.Ipv4(*ifrm.DestinationAddr()) != ifc.cfg.IP {
		return
	}
	if ifc.metrics != nil {
		ifc.metrics.Ipv4Recv.Inc()
	}

	src := usrnet.Ipv4(*ifrm.SourceAddr())
	if srcMAC.IsUnicast() {
		ifc.arp.Insert(src, srcMAC)
	}

	sockets.Each(func(h socket.Handle, kind socket.Kind, raw *socket.RawSocket, _ *socket.UdpSocket, _ *tcp.Socket) bool {
		if kind == socket.KindRaw {
			raw.RecvEnqueue(socket.RawIPv4, ifrm.RawData()[:ifrm.TotalLength()])
		}
		return true
	})

	body := ifrm.Payload()
	switch ifrm.Protocol() {
	case usrnet.IPProtoICMP:
		ifc.recvICMP(src, body)
	case usrnet.IPProtoUDP:
		ifc.recvUDP(sockets, ifrm, body)
	case usrnet.IPProtoTCP:
		ifc.recvTCP(sockets, ifrm, body)
	}
}

// recvICMP answers echo requests; every other message is only parsed and
// checksummed, never acted on.
func (ifc *Interface) recvICMP(src usrnet.Ipv4, body []byte) {
	frm, err := icmpv4.NewFrame(body)
	if err != nil {
		return
	}
	var vld usrnet.Validator
	frm.ValidateSize(&vld)
	if vld.HasError() {
		return
	}
	var crc usrnet.CRC791
	frm.CRCWrite(&crc)
	if crc.Sum16() != frm.CRC() {
		if ifc.metrics != nil {
			ifc.metrics.Ipv4ChecksumKO.WithLabelValues("icmp").Inc()
		}
		return
	}
	if !frm.IsEchoRequest() {
		return
	}
	echo := icmpv4.FrameEcho{Frame: frm}
	ifc.sendICMPEchoReply(src, echo.Identifier(), echo.SequenceNumber(), echo.Data())
}

// recvUDP offers the datagram to every bound UDP socket whose local
// address it matches. If none accept it, a Destination-Unreachable/
// Port-Unreachable ICMP message is sent back.
func (ifc *Interface) recvUDP(sockets *socket.Set, ifrm ipv4.Frame, body []byte) {
	ufrm, err := udp.NewFrame(body)
	if err != nil {
		return
	}
	var vld usrnet.Validator
	ufrm.ValidateSize(&vld)
	if vld.HasError() {
		return
	}
	if ufrm.CRC() != 0 && ufrm.CalculateIPv4Checksum(ifrm) != ufrm.CRC() {
		if ifc.metrics != nil {
			ifc.metrics.Ipv4ChecksumKO.WithLabelValues("udp").Inc()
		}
		return
	}

	src := usrnet.SocketAddr{Addr: usrnet.Ipv4(*ifrm.SourceAddr()), Port: ufrm.SourcePort()}
	dst := usrnet.SocketAddr{Addr: usrnet.Ipv4(*ifrm.DestinationAddr()), Port: ufrm.DestinationPort()}
	payload := ufrm.Payload()

	if ifc.metrics != nil {
		ifc.metrics.UdpDatagrams.WithLabelValues("recv").Inc()
	}

	accepted := false
	sockets.Each(func(h socket.Handle, kind socket.Kind, _ *socket.RawSocket, u *socket.UdpSocket, _ *tcp.Socket) bool {
		if kind != socket.KindUdp || !u.Accepts(dst) {
			return true
		}
		accepted = true
		u.RecvEnqueue(src, dst, payload)
		return true
	})
	if !accepted {
		ifc.sendPortUnreachable(src.Addr, ifrm)
	}
}

// recvTCP offers the segment to every TCP socket unconditionally; whether
// it is accepted is entirely up to each socket's own state machine. No RST
// is generated for a SYN that no listener claims.
func (ifc *Interface) recvTCP(sockets *socket.Set, ifrm ipv4.Frame, body []byte) {
	tfrm, err := tcp.NewFrame(body)
	if err != nil {
		return
	}
	var vld usrnet.Validator
	tfrm.ValidateExceptCRC(&vld)
	if vld.HasError() {
		return
	}
	if tfrm.CalculateIPv4Checksum(ifrm) != tfrm.CRC() {
		if ifc.metrics != nil {
			ifc.metrics.Ipv4ChecksumKO.WithLabelValues("tcp").Inc()
		}
		return
	}

	src := usrnet.SocketAddr{Addr: usrnet.Ipv4(*ifrm.SourceAddr()), Port: tfrm.SourcePort()}
	dst := usrnet.SocketAddr{Addr: usrnet.Ipv4(*ifrm.DestinationAddr()), Port: tfrm.DestinationPort()}
	seg := tfrm.Segment(len(tfrm.Payload()))

	if ifc.metrics != nil {
		ifc.metrics.TcpSegments.WithLabelValues("recv").Inc()
	}
	sockets.Each(func(h socket.Handle, kind socket.Kind, _ *socket.RawSocket, _ *socket.UdpSocket, t *tcp.Socket) bool {
		if kind == socket.KindTcp {
			t.RecvEnqueue(src, dst, seg)
		}
		return true
	})
}
