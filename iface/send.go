package iface

import (
	"errors"
	"log/slog"

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

// Send pumps every socket's outbound queue, round-robin, one send attempt
// per socket per round, for as many rounds as some socket keeps making
// progress. A round where every socket came back exhausted (or worse) ends
// the pump; a device-level failure aborts it immediately and is returned.
func (ifc *Interface) Send(sockets *socket.Set) error {
	for {
		progressed := false
		var fatal error
		sockets.Each(func(h socket.Handle, kind socket.Kind, raw *socket.RawSocket, u *socket.UdpSocket, t *tcp.Socket) bool {
			err := ifc.sendOne(kind, raw, u, t)
			switch {
			case err == nil:
				progressed = true
			case isFatalDeviceErr(err):
				fatal = err
				return false
			case errors.Is(err, usrnet.ErrExhausted), isMacResolution(err), errors.Is(err, usrnet.ErrIgnored):
				// Drained, ARP pending, or not our concern: try again next round.
			default:
				ifc.log.Warn("iface: send failed", slog.String("kind", kind.String()), slog.String("err", err.Error()))
			}
			return true
		})
		if fatal != nil {
			return fatal
		}
		if !progressed {
			return nil
		}
	}
}

func isFatalDeviceErr(err error) bool {
	var devErr *usrnet.DeviceError
	return errors.As(err, &devErr)
}

func isMacResolution(err error) bool {
	var macErr *usrnet.MacResolutionError
	return errors.As(err, &macErr)
}

func (ifc *Interface) sendOne(kind socket.Kind, raw *socket.RawSocket, u *socket.UdpSocket, t *tcp.Socket) error {
	switch kind {
	case socket.KindRaw:
		if raw.Kind() == socket.RawEthernet {
			return ifc.sendRawEthernet(raw)
		}
		return ifc.sendRawIPv4(raw)
	case socket.KindUdp:
		return ifc.sendUDP(u)
	case socket.KindTcp:
		return ifc.sendTCP(t)
	default:
		return usrnet.ErrIgnored
	}
}

// sendRawEthernet passes the queued frame to the wire verbatim, only
// overwriting the source hardware address with this interface's own.
func (ifc *Interface) sendRawEthernet(raw *socket.RawSocket) error {
	return raw.SendDequeue(func(packet []byte) error {
		efrm, err := ethernet.NewFrame(packet)
		if err != nil {
			return err
		}
		*efrm.SourceHardwareAddr() = ifc.cfg.HardwareAddr
		return ifc.transmit(packet)
	})
}

// sendRawIPv4 routes the queued IPv4 datagram, resolves its next hop's
// hardware address, and wraps it in an Ethernet frame without rewriting any
// of its header fields.
func (ifc *Interface) sendRawIPv4(raw *socket.RawSocket) error {
	return raw.SendDequeue(func(packet []byte) error {
		ifrm, err := ipv4.NewFrame(packet)
		if err != nil {
			return err
		}
		nextHop := usrnet.Ipv4(*ifrm.DestinationAddr())
		if !ifc.cfg.CIDR.Contains(nextHop) {
			nextHop = ifc.cfg.Gateway
		}
		mac, err := ifc.resolveMAC(nextHop)
		if err != nil {
			return err
		}
		efrm, err := ethernet.NewFrame(ifc.txBuf)
		if err != nil {
			return err
		}
		*efrm.DestinationHardwareAddr() = mac
		*efrm.SourceHardwareAddr() = ifc.cfg.HardwareAddr
		efrm.SetEtherType(ethernet.TypeIPv4)
		n := copy(efrm.RawData()[usrnet.SizeHeaderEthNoVLAN:], packet)
		return ifc.transmit(efrm.RawData()[:usrnet.SizeHeaderEthNoVLAN+n])
	})
}

func (ifc *Interface) sendUDP(u *socket.UdpSocket) error {
	return u.SendDequeue(func(src, dst usrnet.SocketAddr, payload []byte) error {
		if ifc.metrics != nil {
			ifc.metrics.UdpDatagrams.WithLabelValues("send").Inc()
		}
		return ifc.ipv4Send(dst.Addr, usrnet.IPProtoUDP, func(body []byte) (int, error) {
			n := usrnet.SizeHeaderUDP + len(payload)
			if len(body) < n {
				return 0, usrnet.ErrShortBuffer
			}
			ufrm, err := udp.NewFrame(body[:n])
			if err != nil {
				return 0, err
			}
			ufrm.ClearHeader()
			ufrm.SetSourcePort(src.Port)
			ufrm.SetDestinationPort(dst.Port)
			ufrm.SetLength(uint16(n))
			copy(ufrm.Payload(), payload)
			return n, nil
		}, func(ifrm ipv4.Frame) {
			ufrm, _ := udp.NewFrame(ifrm.Payload())
			ufrm.SetCRC(ufrm.CalculateIPv4Checksum(ifrm))
		})
	})
}

func (ifc *Interface) sendTCP(t *tcp.Socket) error {
	_, err := t.SendDequeue(func(out tcp.OutSegment) (int, error) {
		if ifc.metrics != nil {
			ifc.metrics.TcpSegments.WithLabelValues("send").Inc()
		}
		var built int
		sendErr := ifc.ipv4Send(out.Dst.Addr, usrnet.IPProtoTCP, func(body []byte) (int, error) {
			optLen := 0
			if out.MSS != 0 && out.Seg.Flags.HasAll(tcp.FlagSYN) {
				optLen = 4 // kind(1) + length(1) + MSS value(2), no padding needed
			}
			headerLen := usrnet.SizeHeaderTCP + optLen
			n := headerLen + int(out.Seg.DATALEN)
			if len(body) < n {
				return 0, usrnet.ErrShortBuffer
			}
			tfrm, err := tcp.NewFrame(body[:n])
			if err != nil {
				return 0, err
			}
			tfrm.ClearHeader()
			tfrm.SetSourcePort(out.Src.Port)
			tfrm.SetDestinationPort(out.Dst.Port)
			tfrm.SetSegment(out.Seg, uint8(headerLen/4))
			if optLen > 0 {
				tcp.OptionCodec{}.PutOption16(tfrm.Options(), tcp.OptMaxSegmentSize, out.MSS)
			}
			built = n
			return n, nil
		}, func(ifrm ipv4.Frame) {
			tfrm, _ := tcp.NewFrame(ifrm.Payload())
			tfrm.SetCRC(tfrm.CalculateIPv4Checksum(ifrm))
		})
		if sendErr != nil {
			return 0, sendErr
		}
		return built, nil
	})
	return err
}

// ipv4Send implements the shared IPv4 egress algorithm used by ICMP, UDP
// and TCP: route dst on- or off-subnet, resolve the next hop's hardware
// address (failing with a MacResolutionError and an ARP request already in
// flight if absent), wrap the datagram build in an Ethernet frame, then
// finalize the IPv4 header fields and checksum last -- after build has
// written the transport header and payload, since the transport checksum
// covers the IPv4 pseudo-header and needs TotalLength already set.
func (ifc *Interface) ipv4Send(dst usrnet.Ipv4, proto usrnet.IPProto, build func(body []byte) (int, error), transportChecksum func(ipv4.Frame)) error {
	nextHop := dst
	if !ifc.cfg.CIDR.Contains(dst) {
		nextHop = ifc.cfg.Gateway
	}
	mac, err := ifc.resolveMAC(nextHop)
	if err != nil {
		return err
	}

	efrm, err := ethernet.NewFrame(ifc.txBuf)
	if err != nil {
		return err
	}
	*efrm.DestinationHardwareAddr() = mac
	*efrm.SourceHardwareAddr() = ifc.cfg.HardwareAddr
	efrm.SetEtherType(ethernet.TypeIPv4)

	const ihl = 5
	const headerLen = ihl * 4
	ipBuf := efrm.RawData()[usrnet.SizeHeaderEthNoVLAN:]
	ifrm, err := ipv4.NewFrame(ipBuf)
	if err != nil {
		return err
	}
	ifrm.ClearHeader()
	n, err := build(ipBuf[headerLen:])
	if err != nil {
		return err
	}

	const dontFrag = 0x4000
	ifrm.SetVersionAndIHL(4, ihl)
	*ifrm.SourceAddr() = ifc.cfg.IP
	*ifrm.DestinationAddr() = dst
	ifrm.SetToS(0)
	ifrm.SetID(ifc.ipID)
	ifc.ipID = internal.Prand16(ifc.ipID)
	ifrm.SetTotalLength(uint16(headerLen + n))
	ifrm.SetFlags(dontFrag)
	ifrm.SetTTL(64)
	ifrm.SetProtocol(proto)
	if transportChecksum != nil {
		transportChecksum(ifrm)
	}
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	if ifc.metrics != nil {
		ifc.metrics.Ipv4Sent.Inc()
	}
	frameLen := usrnet.SizeHeaderEthNoVLAN + headerLen + n
	return ifc.transmit(efrm.RawData()[:frameLen])
}

// sendArpRequest broadcasts a request for target's hardware address.
func (ifc *Interface) sendArpRequest(target usrnet.Ipv4) error {
	efrm, err := ethernet.NewFrame(ifc.txBuf)
	if err != nil {
		return err
	}
	*efrm.DestinationHardwareAddr() = usrnet.BroadcastMac
	*efrm.SourceHardwareAddr() = ifc.cfg.HardwareAddr
	efrm.SetEtherType(ethernet.TypeARP)

	afrm, err := arp.NewFrame(efrm.RawData()[usrnet.SizeHeaderEthNoVLAN:])
	if err != nil {
		return err
	}
	afrm.ClearHeader()
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpRequest)
	senderHW, senderIP := afrm.Sender4()
	*senderHW = ifc.cfg.HardwareAddr
	*senderIP = ifc.cfg.IP
	targetHW, targetIP := afrm.Target4()
	*targetHW = usrnet.Mac{}
	*targetIP = target

	frameLen := usrnet.SizeHeaderEthNoVLAN + usrnet.SizeHeaderARPv4
	return ifc.transmit(efrm.RawData()[:frameLen])
}

// sendArpReply answers a request targeting our own address.
func (ifc *Interface) sendArpReply(dstHW usrnet.Mac, dstIP usrnet.Ipv4) error {
	efrm, err := ethernet.NewFrame(ifc.txBuf)
	if err != nil {
		return err
	}
	*efrm.DestinationHardwareAddr() = dstHW
	*efrm.SourceHardwareAddr() = ifc.cfg.HardwareAddr
	efrm.SetEtherType(ethernet.TypeARP)

	afrm, err := arp.NewFrame(efrm.RawData()[usrnet.SizeHeaderEthNoVLAN:])
	if err != nil {
		return err
	}
	afrm.ClearHeader()
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(arp.OpReply)
	senderHW, senderIP := afrm.Sender4()
	*senderHW = ifc.cfg.HardwareAddr
	*senderIP = ifc.cfg.IP
	targetHW, targetIP := afrm.Target4()
	*targetHW = dstHW
	*targetIP = dstIP

	frameLen := usrnet.SizeHeaderEthNoVLAN + usrnet.SizeHeaderARPv4
	return ifc.transmit(efrm.RawData()[:frameLen])
}

// sendICMPEchoReply answers an echo request, carrying the request's
// original payload unchanged.
func (ifc *Interface) sendICMPEchoReply(dst usrnet.Ipv4, id, seq uint16, data []byte) error {
	return ifc.ipv4Send(dst, usrnet.IPProtoICMP, func(body []byte) (int, error) {
		n := usrnet.SizeHeaderICMPv4 + 4 + len(data)
		if len(body) < n {
			return 0, usrnet.ErrShortBuffer
		}
		frm, err := icmpv4.NewFrame(body[:n])
		if err != nil {
			return 0, err
		}
		frm.SetType(icmpv4.TypeEchoReply)
		frm.SetCode(0)
		echo := icmpv4.FrameEcho{Frame: frm}
		echo.SetIdentifier(id)
		echo.SetSequenceNumber(seq)
		copy(echo.Data(), data)
		return n, nil
	}, icmpChecksum)
}

// sendPortUnreachable answers an unclaimed UDP datagram with a
// Destination-Unreachable/Port-Unreachable message carrying the offending
// IPv4 header plus the first 8 bytes of its payload.
func (ifc *Interface) sendPortUnreachable(dst usrnet.Ipv4, original ipv4.Frame) error {
	orig := original.RawData()
	n := 28
	if len(orig) < n {
		n = len(orig)
	}
	return ifc.ipv4Send(dst, usrnet.IPProtoICMP, func(body []byte) (int, error) {
		total := usrnet.SizeHeaderICMPv4 + 4 + n
		if len(body) < total {
			return 0, usrnet.ErrShortBuffer
		}
		frm, err := icmpv4.NewFrame(body[:total])
		if err != nil {
			return 0, err
		}
		frm.SetType(icmpv4.TypeDestinationUnreachable)
		du := icmpv4.FrameDestinationUnreachable{Frame: frm}
		du.SetCode(icmpv4.CodePortUnreachable)
		copy(du.Data(), orig[:n])
		return total, nil
	}, icmpChecksum)
}

// icmpChecksum computes and fills an ICMP message's checksum, zeroing the
// field first per RFC792 (ICMP, unlike UDP/TCP, has no pseudo-header, so
// ifrm is only used to locate the already-finalized payload).
func icmpChecksum(ifrm ipv4.Frame) {
	frm, _ := icmpv4.NewFrame(ifrm.Payload())
	frm.SetCRC(0)
	var crc usrnet.CRC791
	frm.CRCWrite(&crc)
	frm.SetCRC(crc.Sum16())
}
