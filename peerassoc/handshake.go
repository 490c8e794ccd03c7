package peerassoc

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"

	"dtlsassoc/bioadapter"
	"dtlsassoc/dtlserr"
)

// syncBlockingMode reconfigures the bound BIOs to match this Association's
// current timeout before every I/O operation, so callers never need to
// signal a mode change themselves: a finite timeout means non-blocking.
func (a *Association) syncBlockingMode() {
	nonblocking := a.timeout > 0
	if a.rbio != nil {
		a.rbio.SetNonblocking(nonblocking)
	}
	if a.wbio != nil {
		a.wbio.SetNonblocking(nonblocking)
	}
}

// Connect fixes a client Association's peer: it dials the socket supplied
// to NewClient to addr, binds the write-BIO to it, and — unless
// WithDoHandshakeOnConnect(false) was given — drives the handshake to
// completion before returning.
func (a *Association) Connect(addr netip.AddrPort) error {
	if a.role != RoleClient {
		return fmt.Errorf("peerassoc: Connect is only valid on a client association")
	}
	if a.connected {
		return dtlserr.ErrInvalidSocket
	}

	local, ok := a.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return dtlserr.ErrInvalidSocket
	}
	if err := a.conn.Close(); err != nil {
		return fmt.Errorf("peerassoc: closing unconnected socket: %w", err)
	}

	conn, err := net.DialUDP("udp", local, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return fmt.Errorf("peerassoc: dialing peer: %w", err)
	}
	a.conn = conn

	adapter := bioadapter.NewClientAdapter(conn, a.readDeadline, a.writeDeadline)
	a.rbio, a.wbio = adapter, adapter
	if err := a.session.Bind(a.rbio, a.wbio); err != nil {
		return fmt.Errorf("peerassoc: binding client session: %w", err)
	}
	a.rbio.SetConnected(addr)
	a.wbio.SetPeer(addr)

	a.peer = addr
	a.connected = true

	if a.doHandshakeOnConnect {
		for !a.HandshakeDone() {
			if err := a.DoHandshake(); err != nil && !errors.Is(err, dtlserr.ErrWantRead) {
				return err
			}
		}
	}
	return nil
}

// DoHandshake drives one step of the handshake state machine. It must be
// bound (Connect already called on a client Association, or constructed via
// NewAccepted/NewFromUnwrapped) before being called. A finite timeout
// surfaces ErrHandshakeTimeout on WANT_READ rather than blocking; a
// connection-refused syscall error (typically an ICMP port-unreachable
// delivered back through a connected UDP socket) surfaces as
// ErrPortUnreachable rather than a bare net.OpError.
func (a *Association) DoHandshake() error {
	if a.rbio == nil || a.wbio == nil {
		return fmt.Errorf("peerassoc: DoHandshake before the association is bound to a peer")
	}
	a.syncBlockingMode()

	err := a.session.DoHandshake()
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return dtlserr.ErrPortUnreachable
	}
	return err
}

// GetTimeout returns the duration until the next scheduled retransmission,
// and false if no handshake flight is currently outstanding (including
// after the handshake has completed).
func (a *Association) GetTimeout() (time.Duration, bool) {
	return a.session.GetTimeout()
}

// HandleTimeout resends the last handshake flight if its retransmission
// deadline has elapsed, reporting true if it did so. Calling this before
// the deadline elapses is a no-op (false, nil); calling it after the retry
// ceiling has been exhausted returns ErrHandshakeTimeout.
func (a *Association) HandleTimeout() (bool, error) {
	return a.session.HandleTimeout()
}
