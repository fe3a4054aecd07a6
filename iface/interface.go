// Package iface implements the per-interface service pipeline that sits
// atop the protocol frame codecs (ethernet, arp, ipv4, icmpv4, udp, tcp) and
// the socket types: it is the only part of the stack that talks to a
// concrete link device, resolving ARP, routing IPv4 on and off subnet, and
// dispatching ICMP/UDP/TCP to a socket.Set. Everything below it works on
// borrowed []byte frames and performs no I/O of its own.
package iface

import (
	"time"

	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/arp"
	"github.com/cbxgyh/usrnet/internal"
)

// Device is the only external dependency of the core stack: a single
// non-blocking Ethernet frame source/sink. Recv must write at most one
// frame per call and return usrnet.ErrExhausted when none is available;
// Send must transmit exactly one frame per call.
type Device interface {
	// Recv reads at most one frame into buf, returning its length, or
	// fails with usrnet.ErrExhausted if none is currently available.
	Recv(buf []byte) (int, error)
	// Send transmits exactly one frame.
	Send(buf []byte) error
	// MaxTransmissionUnit returns the largest IPv4 datagram the device can
	// carry, i.e. the link MTU excluding the 14-byte Ethernet header (the
	// conventional meaning of Ethernet MTU). Socket send/recv rings are
	// sized from this value minus the IPv4 and transport header sizes.
	MaxTransmissionUnit() int
}

// Config bundles the addressing and tuning parameters of an Interface.
type Config struct {
	HardwareAddr usrnet.Mac
	IP           usrnet.Ipv4
	CIDR         usrnet.Ipv4Cidr
	Gateway      usrnet.Ipv4

	// ArpExpiration bounds how long a resolved hardware address is trusted
	// before a lookup treats it as absent again. Defaults to 60s.
	ArpExpiration time.Duration

	// SocketQueueDepth bounds how many packets/datagrams a socket built by a
	// SocketEnv (see NewSocketEnv) queues per direction. Defaults to 128.
	SocketQueueDepth int

	Clock   internal.Clock
	Log     internal.Logger
	Metrics *internal.Metrics
}

// Interface drives a Device's egress and ingress pipelines. Send pumps
// every socket's outbound queue onto the wire; Recv reads inbound frames
// and fans them out to the sockets that accept them. Both are
// non-blocking; a single cooperative loop calls them back-to-back (see
// cmd/usrnetd for an example host loop). Interface holds no goroutines and
// no global state: every Interface is independent.
type Interface struct {
	dev     Device
	cfg     Config
	mtu     int
	arp     *arp.Cache
	log     internal.Logger
	metrics *internal.Metrics

	// txBuf/rxBuf are scratch buffers sized to one full Ethernet frame
	// (mtu + 14), reused across every send/recv call: the pipeline never
	// holds more than one outgoing and one incoming frame at a time.
	txBuf []byte
	rxBuf []byte

	// ipID seeds the IPv4 identification field of every datagram this
	// interface originates, advanced by internal.Prand16 on each send so
	// repeated datagrams to the same peer don't share an ID.
	ipID uint16
}

// New constructs an Interface driving dev with the given configuration.
func New(dev Device, cfg Config) *Interface {
	if cfg.Clock == nil {
		cfg.Clock = internal.NewRealClock()
	}
	if cfg.ArpExpiration <= 0 {
		cfg.ArpExpiration = 60 * time.Second
	}
	if cfg.SocketQueueDepth <= 0 {
		cfg.SocketQueueDepth = 128
	}
	mtu := dev.MaxTransmissionUnit()
	frameSize := mtu + usrnet.SizeHeaderEthNoVLAN
	return &Interface{
		dev:     dev,
		cfg:     cfg,
		mtu:     mtu,
		arp:     arp.NewCache(cfg.ArpExpiration, cfg.Clock),
		log:     cfg.Log,
		metrics: cfg.Metrics,
		txBuf:   make([]byte, frameSize),
		rxBuf:   make([]byte, frameSize),
		ipID:    internal.Prand16(uint16(cfg.Clock.Now().UnixNano())),
	}
}

// MaxTransmissionUnit returns the payload-capable MTU used to size socket
// send/recv rings (see SocketEnv).
func (ifc *Interface) MaxTransmissionUnit() int { return ifc.mtu }

// HardwareAddr returns the interface's own MAC address.
func (ifc *Interface) HardwareAddr() usrnet.Mac { return ifc.cfg.HardwareAddr }

// IP returns the interface's own IPv4 address.
func (ifc *Interface) IP() usrnet.Ipv4 { return ifc.cfg.IP }

// ArpCache exposes the interface's ARP cache, mainly for tests and metrics.
func (ifc *Interface) ArpCache() *arp.Cache { return ifc.arp }

// transmit hands frame to the device, wrapping any failure as a
// usrnet.DeviceError so callers can distinguish a bad frame from a dead
// link.
func (ifc *Interface) transmit(frame []byte) error {
	if err := ifc.dev.Send(frame); err != nil {
		return &usrnet.DeviceError{Err: err}
	}
	if ifc.metrics != nil {
		ifc.metrics.EthernetSent.Inc()
	}
	return nil
}

// resolveMAC returns the cached hardware address for ip. If absent, it
// enqueues an ARP request for ip and fails with a MacResolutionError: the
// caller's packet is expected to stay queued in its originating socket and
// retried on a later Send pump once the reply updates the cache.
func (ifc *Interface) resolveMAC(ip usrnet.Ipv4) (usrnet.Mac, error) {
	if mac, ok := ifc.arp.Lookup(ip); ok {
		return mac, nil
	}
	if err := ifc.sendArpRequest(ip); err != nil {
		return usrnet.Mac{}, err
	}
	return usrnet.Mac{}, &usrnet.MacResolutionError{Addr: ip}
}
