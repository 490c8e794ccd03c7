// Package bioadapter binds the crypto library's datagram-I/O abstraction
// (dtlscrypto.BIO) to OS sockets, on both the client's directly-owned
// connection and the server's demux-routed per-peer queue.
package bioadapter

import (
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"dtlsassoc/dtlscrypto"
)

// ClientAdapter is a single-goroutine-only BIO over a connected
// *net.UDPConn. Read/write deadlines are derived from configured durations
// rather than a single non-blocking boolean: SetNonblocking(true) keeps the
// configured deadlines, and SetNonblocking(false) clears both of them so
// reads and writes block.
type ClientAdapter struct {
	conn                        *net.UDPConn
	readDeadline, writeDeadline time.Duration
	peer                        atomic.Pointer[netip.AddrPort]
}

var _ dtlscrypto.BIO = (*ClientAdapter)(nil)

// NewClientAdapter wraps conn. A zero deadline means block indefinitely.
func NewClientAdapter(conn *net.UDPConn, readDeadline, writeDeadline time.Duration) *ClientAdapter {
	return &ClientAdapter{conn: conn, readDeadline: readDeadline, writeDeadline: writeDeadline}
}

func (a *ClientAdapter) Write(p []byte) (int, error) {
	deadline := time.Time{}
	if a.writeDeadline > 0 {
		deadline = time.Now().Add(a.writeDeadline)
	}
	if err := a.conn.SetWriteDeadline(deadline); err != nil {
		return 0, err
	}
	return a.conn.Write(p)
}

func (a *ClientAdapter) Read(p []byte) (int, error) {
	deadline := time.Time{}
	if a.readDeadline > 0 {
		deadline = time.Now().Add(a.readDeadline)
	}
	if err := a.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	return a.conn.Read(p)
}

func (a *ClientAdapter) SetNonblocking(nonblocking bool) {
	if nonblocking {
		return
	}
	a.readDeadline = 0
	a.writeDeadline = 0
}

func (a *ClientAdapter) SetPeer(addr netip.AddrPort) {
	a.peer.Store(&addr)
}

func (a *ClientAdapter) GetPeer() (netip.AddrPort, bool) {
	p := a.peer.Load()
	if p == nil {
		return netip.AddrPort{}, false
	}
	return *p, true
}

func (a *ClientAdapter) SetConnected(addr netip.AddrPort) {
	a.SetPeer(addr)
}

// Close closes the underlying connection.
func (a *ClientAdapter) Close() error {
	return a.conn.Close()
}
