package usrnet

import "strconv"

// EtherType identifies the payload protocol carried by an Ethernet frame, or,
// for values <= 1500, the payload length of a legacy (non-DIX) frame.
type EtherType uint16

// IsSize returns true if the EtherType is actually the size of the payload
// and should NOT be interpreted as an EtherType.
func (et EtherType) IsSize() bool { return et <= 1500 }

// Ethernet type flags
const (
	EtherTypeIPv4 EtherType = 0x0800 // IPv4
	EtherTypeARP  EtherType = 0x0806 // ARP
	EtherTypeVLAN EtherType = 0x8100 // VLAN
	EtherTypeIPv6 EtherType = 0x86DD // IPv6
	// minEthPayload is the minimum payload size for an Ethernet frame, assuming
	// that no 802.1Q VLAN tags are present.
	minEthPayload = 46
)

func (et EtherType) String() string {
	switch et {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeVLAN:
		return "VLAN"
	case EtherTypeIPv6:
		return "IPv6"
	default:
		if et.IsSize() {
			return "size(" + strconv.Itoa(int(et)) + ")"
		}
		return "ethertype(0x" + strconv.FormatUint(uint64(et), 16) + ")"
	}
}

// VLANTag holds priority (PCP) Drop indicator (DEI) and VLAN ID bits of the VLAN tag field.
type VLANTag uint16

// DropEligibleIndicator returns true if the DEI bit is set.
func (vt VLANTag) DropEligibleIndicator() bool { return vt&(1<<3) != 0 }

// PriorityCodePoint is the 3-bit IEEE 802.1p class of service field.
func (vt VLANTag) PriorityCodePoint() uint8 { return uint8(vt & 0b111) }

// VLANIdentifier is the 12 bit field specifying which VLAN the frame belongs to.
func (vt VLANTag) VLANIdentifier() uint16 { return uint16(vt) >> 4 }

// IPToS represents the Traffic Class (a.k.a Type of Service).
type IPToS uint8

// DS returns the Differentiated Services field (top 6 bits).
func (tos IPToS) DS() uint8 { return uint8(tos) >> 2 }

// ECN is the Explicit Congestion Notification field (bottom 2 bits).
func (tos IPToS) ECN() uint8 { return uint8(tos & 0b11) }

// IPv4Flags holds fragmentation field data of an IPv4 header.
type IPv4Flags uint16

// IsEvil returns true if the evil bit is set, per [RFC3514].
//
// [RFC3514]: https://datatracker.ietf.org/doc/html/rfc3514
func (f IPv4Flags) IsEvil() bool { return f&0x8000 != 0 }

// DontFragment specifies whether the datagram must not be fragmented.
func (f IPv4Flags) DontFragment() bool { return f&0x4000 != 0 }

// MoreFragments is cleared for unfragmented packets or the last fragment.
func (f IPv4Flags) MoreFragments() bool { return f&0x2000 != 0 }

// FragmentOffset specifies the offset, in 8-byte units, of a fragment
// relative to the start of the original unfragmented datagram.
func (f IPv4Flags) FragmentOffset() uint16 { return uint16(f) & 0x1fff }

const (
	SizeHeaderIPv4      = 20
	SizeHeaderTCP       = 20
	SizeHeaderEthNoVLAN = 14
	SizeHeaderUDP       = 8
	SizeHeaderARPv4     = 28
	SizeHeaderICMPv4    = 4
)

// IPProto represents the IP protocol number carried in the IPv4 header's
// Protocol field. Only the numbers this stack terminates are named; all
// others still format legibly via String.
type IPProto uint8

const (
	IPProtoICMP IPProto = 1  // Internet Control Message [RFC792]
	IPProtoTCP  IPProto = 6  // Transmission Control [RFC793]
	IPProtoUDP  IPProto = 17 // User Datagram [RFC768]
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	default:
		return "ipproto(" + strconv.Itoa(int(p)) + ")"
	}
}

// ARPOp represents the type of ARP packet, either request or reply.
type ARPOp uint8

const (
	ARPRequest ARPOp = 1 // request
	ARPReply   ARPOp = 2 // reply
)

func (op ARPOp) String() string {
	switch op {
	case ARPRequest:
		return "request"
	case ARPReply:
		return "reply"
	default:
		return "arpop(" + strconv.Itoa(int(op)) + ")"
	}
}
