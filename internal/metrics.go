package internal

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges an Interface reports while driving
// its egress/ingress pipeline. Each Interface owns its own Metrics instance
// so that multiple interfaces (or tests) never collide on metric identity;
// callers that want process-wide /metrics exposition register Registry()
// with their own prometheus.Registry.
type Metrics struct {
	reg *prometheus.Registry

	EthernetRecv   prometheus.Counter
	EthernetSent   prometheus.Counter
	EthernetDrop   *prometheus.CounterVec
	ArpResolved    prometheus.Counter
	ArpTimeouts    prometheus.Counter
	ArpCacheSize   prometheus.Gauge
	Ipv4Recv       prometheus.Counter
	Ipv4Sent       prometheus.Counter
	Ipv4ChecksumKO *prometheus.CounterVec
	SocketsBound   prometheus.Gauge
	UdpDatagrams   *prometheus.CounterVec
	TcpSegments    *prometheus.CounterVec
	TcpRetransmits prometheus.Counter
	TcpStateChange *prometheus.CounterVec
}

// NewMetrics constructs a Metrics instance, registering all its collectors
// against reg. A nil reg allocates a private registry so callers who don't
// care about exposition can still use Metrics unconditionally.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		reg: reg,
		EthernetRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usrnet_ethernet_frames_received_total", Help: "Ethernet frames accepted from the device.",
		}),
		EthernetSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usrnet_ethernet_frames_sent_total", Help: "Ethernet frames written to the device.",
		}),
		EthernetDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usrnet_ethernet_frames_dropped_total", Help: "Ethernet frames dropped, by reason.",
		}, []string{"reason"}),
		ArpResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usrnet_arp_resolutions_total", Help: "Successful ARP address resolutions.",
		}),
		ArpTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usrnet_arp_timeouts_total", Help: "ARP resolutions that expired unanswered.",
		}),
		ArpCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usrnet_arp_cache_entries", Help: "Current number of entries in the ARP cache.",
		}),
		Ipv4Recv: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usrnet_ipv4_datagrams_received_total", Help: "IPv4 datagrams accepted for this host.",
		}),
		Ipv4Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usrnet_ipv4_datagrams_sent_total", Help: "IPv4 datagrams sent.",
		}),
		Ipv4ChecksumKO: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usrnet_ipv4_checksum_failures_total", Help: "IPv4/transport checksum validation failures, by layer.",
		}, []string{"layer"}),
		SocketsBound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usrnet_sockets_bound", Help: "Current number of bound socket slots.",
		}),
		UdpDatagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usrnet_udp_datagrams_total", Help: "UDP datagrams processed, by direction.",
		}, []string{"direction"}),
		TcpSegments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usrnet_tcp_segments_total", Help: "TCP segments processed, by direction.",
		}, []string{"direction"}),
		TcpRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usrnet_tcp_retransmits_total", Help: "TCP segments retransmitted after RTO expiry.",
		}),
		TcpStateChange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usrnet_tcp_state_transitions_total", Help: "TCP FSM state transitions, by destination state.",
		}, []string{"state"}),
	}
	reg.MustRegister(
		m.EthernetRecv, m.EthernetSent, m.EthernetDrop,
		m.ArpResolved, m.ArpTimeouts, m.ArpCacheSize,
		m.Ipv4Recv, m.Ipv4Sent, m.Ipv4ChecksumKO,
		m.SocketsBound, m.UdpDatagrams, m.TcpSegments,
		m.TcpRetransmits, m.TcpStateChange,
	)
	return m
}

// Registry returns the registry this Metrics instance registered against.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
