// Package unwrap provides the plaintext façade a PeerAssociation's
// Shutdown returns: a connected datagram socket that keeps routing through
// the same path (demux-routed for a server-accepted association, or the
// association's own connected UDP socket for a client) the encrypted
// session used, so callers can keep talking to a peer that has already been
// classified once the encrypted phase is done.
package unwrap

import (
	"net"
	"net/netip"
	"time"

	"dtlsassoc/bioadapter"
	"dtlsassoc/demux"
	"dtlsassoc/dtlscrypto"
	"dtlsassoc/dtlserr"
)

// Conn is the interface both concrete façades below implement: a net.Conn
// plus the getpeername/connect-rejection shape the spec's unwrapped socket
// requires, and a way for peerassoc.NewFromUnwrapped to rebuild a BIO over
// the same transport when the caller re-wraps this channel.
type Conn interface {
	net.Conn
	GetPeerName() netip.AddrPort
	Connect(netip.AddrPort) error
	NewBIO() dtlscrypto.BIO
}

// Socket is the unwrapped post-shutdown channel for a server-accepted
// association: reads drain the same demux-routed per-peer queue, writes go
// out through the shared listening socket. It implements net.Conn and adds
// ReadFrom/WriteTo for callers that want the recvfrom/sendto spelling.
type Socket struct {
	socket *demux.Socket
	queue  demux.Queue
	peer   netip.AddrPort
}

var _ Conn = (*Socket)(nil)

// New wraps the given socket/queue/peer triple. It is exported for
// peerassoc.Association.Shutdown, which is how application code obtains a
// Socket.
func New(socket *demux.Socket, q demux.Queue, peer netip.AddrPort) *Socket {
	return &Socket{socket: socket, queue: q, peer: peer}
}

func (s *Socket) Read(b []byte) (int, error) {
	return s.queue.ReadInto(b)
}

func (s *Socket) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := s.queue.ReadInto(b)
	return n, net.UDPAddrFromAddrPort(s.peer), err
}

func (s *Socket) Write(b []byte) (int, error) {
	return s.socket.WriteToUDPAddrPort(b, s.peer)
}

func (s *Socket) WriteTo(b []byte, addr netip.AddrPort) (int, error) {
	return s.socket.WriteToUDPAddrPort(b, addr)
}

func (s *Socket) Close() error {
	s.queue.Close()
	return nil
}

func (s *Socket) LocalAddr() net.Addr { return s.socket.LocalAddr() }

func (s *Socket) RemoteAddr() net.Addr { return net.UDPAddrFromAddrPort(s.peer) }

// GetPeerName returns the remembered peer address, mirroring the spec's
// getpeername.
func (s *Socket) GetPeerName() netip.AddrPort { return s.peer }

// Connect always fails: an unwrapped socket is already bound to its peer
// through the demux path it was handed off from.
func (s *Socket) Connect(netip.AddrPort) error { return dtlserr.ErrAlreadyConnected }

func (s *Socket) SetDeadline(t time.Time) error      { return nil }
func (s *Socket) SetReadDeadline(t time.Time) error  { return nil }
func (s *Socket) SetWriteDeadline(t time.Time) error { return nil }

// NewBIO rebuilds a dtlscrypto.BIO over the same demux-routed path, for
// peerassoc.NewFromUnwrapped.
func (s *Socket) NewBIO() dtlscrypto.BIO {
	return bioadapter.NewServerAdapter(s.socket, s.queue, s.peer)
}

// Underlying exposes the socket/queue triple this façade wraps, so
// peerassoc.NewFromUnwrapped can keep the same per-peer queue alive across
// a Shutdown/re-wrap cycle instead of orphaning it.
func (s *Socket) Underlying() (*demux.Socket, demux.Queue, netip.AddrPort) {
	return s.socket, s.queue, s.peer
}

// DirectSocket is the unwrapped post-shutdown channel for a client-role
// association: it wraps the same connected *net.UDPConn the encrypted
// session used directly, with no demux path to preserve.
type DirectSocket struct {
	conn *net.UDPConn
	peer netip.AddrPort
}

var _ Conn = (*DirectSocket)(nil)

// NewDirect wraps conn, which must already be connected to peer.
func NewDirect(conn *net.UDPConn, peer netip.AddrPort) *DirectSocket {
	return &DirectSocket{conn: conn, peer: peer}
}

func (s *DirectSocket) Read(b []byte) (int, error)  { return s.conn.Read(b) }
func (s *DirectSocket) Write(b []byte) (int, error) { return s.conn.Write(b) }
func (s *DirectSocket) Close() error                { return s.conn.Close() }
func (s *DirectSocket) LocalAddr() net.Addr         { return s.conn.LocalAddr() }
func (s *DirectSocket) RemoteAddr() net.Addr        { return net.UDPAddrFromAddrPort(s.peer) }

func (s *DirectSocket) GetPeerName() netip.AddrPort { return s.peer }

func (s *DirectSocket) Connect(netip.AddrPort) error { return dtlserr.ErrAlreadyConnected }

func (s *DirectSocket) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *DirectSocket) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *DirectSocket) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

// NewBIO rebuilds a dtlscrypto.BIO directly over the connected conn, for
// peerassoc.NewFromUnwrapped.
func (s *DirectSocket) NewBIO() dtlscrypto.BIO {
	return bioadapter.NewClientAdapter(s.conn, 0, 0)
}
