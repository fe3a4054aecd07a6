// Command usrnetd drives the stack against a Linux TAP device: it answers
// ARP and ICMP echo requests automatically and accepts TCP connections on a
// configured port, logging each completed handshake. It exists to exercise
// the pipeline end-to-end against a real device; it is not part of the
// stack itself.
package main

import (
	"flag"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cbxgyh/usrnet"
	"github.com/cbxgyh/usrnet/iface"
	"github.com/cbxgyh/usrnet/internal"
	"github.com/cbxgyh/usrnet/socket"
	"github.com/cbxgyh/usrnet/tcp"
)

func main() {
	tapName := flag.String("tap", "tap0", "TAP device name")
	cidr := flag.String("addr", "192.168.10.1/24", "stack IPv4 address/prefix")
	gw := flag.String("gw", "192.168.10.254", "default gateway")
	macFlag := flag.String("mac", "c0:ff:ee:00:de:ad", "stack MAC address")
	listenPort := flag.Uint("port", 7, "TCP port to accept connections on")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	prefix, err := netip.ParsePrefix(*cidr)
	if err != nil {
		log.Error("parse addr", slog.String("err", err.Error()))
		os.Exit(1)
	}
	hwAddr, err := parseMac(*macFlag)
	if err != nil {
		log.Error("parse mac", slog.String("err", err.Error()))
		os.Exit(1)
	}
	gwAddr, err := netip.ParseAddr(*gw)
	if err != nil {
		log.Error("parse gw", slog.String("err", err.Error()))
		os.Exit(1)
	}

	tap, err := internal.NewTap(*tapName, prefix)
	if err != nil {
		log.Error("open tap", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer tap.Close()

	reg := prometheus.NewRegistry()
	metrics := internal.NewMetrics(reg)

	ifc := iface.New(&tapDevice{tap: tap}, iface.Config{
		HardwareAddr: hwAddr,
		IP:           usrnet.Ipv4FromNetip(prefix.Addr()),
		CIDR:         usrnet.Ipv4Cidr{Addr: usrnet.Ipv4FromNetip(prefix.Masked().Addr()), PrefixLength: uint8(prefix.Bits())},
		Gateway:      usrnet.Ipv4FromNetip(gwAddr),
		Log:          internal.NewLogger(log),
		Metrics:      metrics,
	})

	env := iface.NewSocketEnv(ifc, internal.NewRealClock())
	listener, err := env.TcpSocket(usrnet.SocketAddr{Addr: ifc.IP(), Port: uint16(*listenPort)})
	if err != nil {
		log.Error("bind listener", slog.String("err", err.Error()))
		os.Exit(1)
	}
	if err := listener.Listen(tcp.ListenConfig{SynBacklog: 8, EstBacklog: 8}); err != nil {
		log.Error("listen", slog.String("err", err.Error()))
		os.Exit(1)
	}

	sockets := socket.NewSet(64)
	listenHandle, err := sockets.AddTcp(listener)
	if err != nil {
		log.Error("register listener", slog.String("err", err.Error()))
		os.Exit(1)
	}

	log.Info("usrnetd listening", slog.String("addr", ifc.IP().String()), slog.Uint64("port", uint64(*listenPort)))
	for {
		if err := ifc.Recv(sockets); err != nil {
			log.Error("recv pass", slog.String("err", err.Error()))
		}
		acceptConnections(sockets, listenHandle, log)
		if err := ifc.Send(sockets); err != nil {
			log.Error("send pass", slog.String("err", err.Error()))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// acceptConnections drains every connection that finished its handshake on
// the listener and installs it in the socket set so its final ACK keeps
// being serviced by Send.
func acceptConnections(sockets *socket.Set, listenHandle socket.Handle, log *slog.Logger) {
	_, _, _, listener, ok := sockets.Get(listenHandle)
	if !ok {
		return
	}
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		if _, err := sockets.AddTcp(conn); err != nil {
			log.Warn("accept: socket set full, dropping connection", slog.String("id", conn.ID()))
			return
		}
		log.Info("accepted connection", slog.String("id", conn.ID()))
	}
}

func parseMac(s string) (usrnet.Mac, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return usrnet.Mac{}, err
	}
	var mac usrnet.Mac
	copy(mac[:], hw)
	return mac, nil
}
