package demux

import (
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Socket is the shared write handle onto a Demux's underlying connection.
// It is safe for concurrent use by multiple PeerAssociations writing to
// different destinations.
type Socket struct {
	conn *net.UDPConn
}

// NewSocket wraps conn.
func NewSocket(conn *net.UDPConn) *Socket {
	return &Socket{conn: conn}
}

// WriteToUDPAddrPort writes p to addr through the shared socket.
func (s *Socket) WriteToUDPAddrPort(p []byte, addr netip.AddrPort) (int, error) {
	return s.conn.WriteToUDPAddrPort(p, addr)
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// LocalAddr returns the bound local address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// SetReadDeadline is used by package listener to poll a context.Context's
// cancellation against what would otherwise be an indefinitely blocking
// Demux.Service call.
func (s *Socket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetDSCP marks outgoing datagrams with the given differentiated-services
// code point, so handshake traffic can be prioritized over bulk data
// traffic. It dispatches to the IPv4 or IPv6 control-message API depending
// on the bound address family.
func (s *Socket) SetDSCP(dscp int) error {
	if udpAddr, ok := s.conn.LocalAddr().(*net.UDPAddr); ok && udpAddr.IP.To4() == nil {
		return ipv6.NewConn(s.conn).SetTrafficClass(dscp << 2)
	}
	return ipv4.NewConn(s.conn).SetTOS(dscp << 2)
}
