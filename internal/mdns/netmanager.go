package mdns

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// mDNS wire constants (RFC 6762 §3).
const (
	mdnsGroupAddr   = "224.0.0.251"
	mdnsPort        = 5353
	maxDatagramSize = 9000
)

// mdnsGroup is the IPv4 multicast destination for all queries.
var mdnsGroup = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: mdnsPort}

// ErrNoInterfaces means no socket could be brought up at all; the session
// treats it as a clean empty result rather than a failure.
var ErrNoInterfaces = errors.New("mdns: no usable network interfaces")

// sendSocket is one outbound socket bound to a specific local address.
type sendSocket struct {
	conn  *net.UDPConn
	pconn *ipv4.PacketConn
	local net.IP
}

// NetworkManager owns every UDP socket used by one discovery session: one
// sending socket per usable local IPv4 address plus a broadly-bound listening
// socket joined to the multicast group on every viable interface. It is the
// only component that opens or closes these sockets.
type NetworkManager struct {
	log *zap.Logger

	mu       sync.Mutex
	disposed bool
	sends    []*sendSocket
	listens  []*net.UDPConn
	localIPs []net.IP
}

// NewNetworkManager creates an empty manager; call Init to bring sockets up.
func NewNetworkManager(log *zap.Logger) *NetworkManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &NetworkManager{log: log}
}

// Init enumerates local interfaces and opens the session's sockets.
//
// Send sockets bind to each qualifying local address on an ephemeral port,
// join the multicast group with TTL 1 so queries never leave the local
// subnet, and disable multicast loopback - self-generated traffic is instead
// observed (and filtered once) on the listening side.
//
// Returns ErrNoInterfaces when nothing could be opened.
func (m *NetworkManager) Init() error {
	interfaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("failed to enumerate interfaces: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var joinable []net.Interface
	for _, ifc := range interfaces {
		if !usableInterface(ifc) {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			m.log.Debug("interface addresses unavailable",
				zap.String("interface", ifc.Name), zap.Error(err))
			continue
		}
		ips := interfaceIPv4s(addrs)
		if len(ips) == 0 {
			continue
		}
		joinable = append(joinable, ifc)

		for _, ip := range ips {
			m.localIPs = append(m.localIPs, ip)
			sock, err := openSendSocket(ifc, ip)
			if err != nil {
				m.log.Debug("send socket unavailable",
					zap.String("interface", ifc.Name),
					zap.String("addr", ip.String()),
					zap.Error(err))
				continue
			}
			m.sends = append(m.sends, sock)
		}
	}

	// One wildcard socket on the mDNS port, joined per interface, catches
	// replies that a bind-to-one-interface design would miss.
	listen, err := openListenSocket(joinable, m.log)
	if err != nil {
		m.log.Debug("listen socket unavailable", zap.Error(err))
	} else {
		m.listens = append(m.listens, listen)
	}

	if len(m.sends) == 0 && len(m.listens) == 0 {
		return ErrNoInterfaces
	}

	m.log.Debug("network manager initialized",
		zap.Int("send_sockets", len(m.sends)),
		zap.Int("listen_sockets", len(m.listens)),
		zap.Int("local_addrs", len(m.localIPs)))
	return nil
}

func openSendSocket(ifc net.Interface, ip net.IP) (*sendSocket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", ip, err)
	}
	pconn := ipv4.NewPacketConn(conn)
	// Membership helps multicast-snooping switches but sending works
	// without it; keep the socket either way.
	_ = pconn.JoinGroup(&ifc, mdnsGroup)
	_ = pconn.SetMulticastInterface(&ifc)
	// TTL 1 keeps queries on the local subnet; loopback reception is the
	// listening socket's job.
	_ = pconn.SetMulticastTTL(1)
	_ = pconn.SetMulticastLoopback(false)
	return &sendSocket{conn: conn, pconn: pconn, local: ip}, nil
}

func openListenSocket(interfaces []net.Interface, log *zap.Logger) (*net.UDPConn, error) {
	conn, err := net.ListenMulticastUDP("udp4", nil, mdnsGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to bind mdns port: %w", err)
	}
	pconn := ipv4.NewPacketConn(conn)
	for i := range interfaces {
		if err := pconn.JoinGroup(&interfaces[i], mdnsGroup); err != nil {
			log.Debug("multicast join failed",
				zap.String("interface", interfaces[i].Name), zap.Error(err))
		}
	}
	return conn, nil
}

// SendSockets returns a snapshot of the active sending sockets.
func (m *NetworkManager) SendSockets() []*sendSocket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*sendSocket(nil), m.sends...)
}

// ListenConns returns a snapshot of the active listening sockets.
func (m *NetworkManager) ListenConns() []*net.UDPConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*net.UDPConn(nil), m.listens...)
}

// LocalIPs returns the local addresses the manager bound to.
func (m *NetworkManager) LocalIPs() []net.IP {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]net.IP(nil), m.localIPs...)
}

// IsLocal reports whether ip belongs to the discovering host itself.
func (m *NetworkManager) IsLocal(ip net.IP) bool {
	if ip == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, local := range m.localIPs {
		if local.Equal(ip) {
			return true
		}
	}
	return false
}

// Disposed reports whether Close has run. Receive loops poll this before
// each read so they can distinguish a teardown race from a genuine error.
func (m *NetworkManager) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// Close releases every socket. It is idempotent, and each socket is closed
// independently so one already-faulted socket never prevents the rest from
// being released.
func (m *NetworkManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil
	}
	m.disposed = true

	for _, sock := range m.sends {
		if err := sock.pconn.Close(); err != nil {
			m.log.Debug("send socket close failed",
				zap.String("addr", sock.local.String()), zap.Error(err))
		}
	}
	for _, conn := range m.listens {
		if err := conn.Close(); err != nil {
			m.log.Debug("listen socket close failed", zap.Error(err))
		}
	}
	m.sends = nil
	m.listens = nil
	return nil
}

// usableInterface keeps interfaces that are up, multicast-capable and not
// loopback.
func usableInterface(ifc net.Interface) bool {
	return ifc.Flags&net.FlagUp != 0 &&
		ifc.Flags&net.FlagLoopback == 0 &&
		ifc.Flags&net.FlagMulticast != 0
}

// interfaceIPv4s extracts the non-loopback IPv4 addresses from an interface
// address list.
func interfaceIPv4s(addrs []net.Addr) []net.IP {
	var ips []net.IP
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if ip4 := ip.To4(); ip4 != nil {
			ips = append(ips, ip4)
		}
	}
	return ips
}
