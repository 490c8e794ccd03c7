// Package peerassoc implements the engine's per-connection state machine:
// the unit of identity the rest of this module calls a PeerAssociation.
// One Association wraps exactly one (local socket, remote address) pair —
// a client dialing out, or a peer a Listener has promoted out of the
// cookie exchange — and drives its handshake, read/write, retransmission
// timer, and shutdown through the dtlscrypto.Session it owns.
package peerassoc

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"dtlsassoc/demux"
	"dtlsassoc/dtlscrypto"
	"dtlsassoc/unwrap"
)

// Role identifies which construction path produced an Association.
type Role int

const (
	// RoleClient is a connection dialed out by this process.
	RoleClient Role = iota
	// RoleAccepted is a connection promoted out of a Listener's cookie
	// exchange (or re-entered from an unwrapped server-side socket).
	RoleAccepted
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Association is one handshake/read/write/shutdown state machine bound to
// one peer. Exactly one Association exists per distinct (local socket,
// remote address) pair at any time; the crypto session handle it owns is
// never exposed outside it. It is single-threaded cooperative: the caller
// must not invoke methods on the same Association from more than one
// goroutine at a time.
type Association struct {
	role Role

	session    dtlscrypto.Session
	rbio, wbio dtlscrypto.BIO

	// RoleClient only: the association's own connected socket.
	conn *net.UDPConn

	// RoleAccepted only: the demux-owned write socket and per-peer read
	// queue this association's BIOs are bound to. Kept so Shutdown can
	// hand back a façade over the same path; the queue is never closed
	// here (it outlives this Association's encrypted phase).
	demuxSocket *demux.Socket
	queue       demux.Queue

	peer      netip.AddrPort
	connected bool

	readDeadline, writeDeadline time.Duration
	timeout                     time.Duration

	doHandshakeOnConnect bool
	suppressRaggedEOFs   bool
}

// NewClient constructs a client-role Association over an unconnected UDP
// socket. The socket is not actually fixed to a peer until Connect is
// called; cctx must already carry any cookie callbacks and certificate
// material the embedding application needs (built via, e.g.,
// refimpl.NewContext).
func NewClient(conn *net.UDPConn, cctx dtlscrypto.Context, factory dtlscrypto.Factory, opts ...Option) (*Association, error) {
	if conn == nil {
		return nil, fmt.Errorf("peerassoc: NewClient requires a non-nil socket")
	}
	session, err := factory.NewSession(cctx, false)
	if err != nil {
		return nil, fmt.Errorf("peerassoc: constructing client session: %w", err)
	}
	session.SetConnectState()

	o := resolveOptions(opts)
	return &Association{
		role:                 RoleClient,
		session:              session,
		conn:                 conn,
		readDeadline:         o.readDeadline,
		writeDeadline:        o.writeDeadline,
		timeout:              o.readDeadline,
		doHandshakeOnConnect: o.doHandshakeOnConnect,
		suppressRaggedEOFs:   o.suppressRaggedEOFs,
	}, nil
}

// NewAccepted constructs a server-accepted Association inheriting an
// already cookie-verified session from a Listener (§4.6's handoff). It is
// exported for package listener's Accept to call; application code obtains
// accepted associations through listener.Listener.Accept, not directly.
func NewAccepted(
	socket *demux.Socket,
	q demux.Queue,
	peer netip.AddrPort,
	session dtlscrypto.Session,
	rbio, wbio dtlscrypto.BIO,
	opts ...Option,
) (*Association, error) {
	if err := session.Bind(rbio, wbio); err != nil {
		return nil, fmt.Errorf("peerassoc: binding inherited session: %w", err)
	}
	session.SetAcceptState()

	o := resolveOptions(opts)
	a := &Association{
		role:                 RoleAccepted,
		session:              session,
		rbio:                 rbio,
		wbio:                 wbio,
		demuxSocket:          socket,
		queue:                q,
		peer:                 peer,
		connected:            true,
		readDeadline:         o.readDeadline,
		writeDeadline:        o.writeDeadline,
		timeout:              o.readDeadline,
		doHandshakeOnConnect: o.doHandshakeOnConnect,
		suppressRaggedEOFs:   o.suppressRaggedEOFs,
	}
	if a.doHandshakeOnConnect {
		if err := a.DoHandshake(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// NewFromUnwrapped re-enters the encrypted state on a socket previously
// returned by Shutdown, reusing whichever transport (demux-routed or
// direct) it wraps. serverSide selects SetAcceptState vs SetConnectState on
// the freshly constructed session, mirroring the role the prior,
// now-discarded Association had.
func NewFromUnwrapped(conn unwrap.Conn, cctx dtlscrypto.Context, factory dtlscrypto.Factory, serverSide bool, opts ...Option) (*Association, error) {
	session, err := factory.NewSession(cctx, serverSide)
	if err != nil {
		return nil, fmt.Errorf("peerassoc: constructing session for re-wrap: %w", err)
	}

	bio := conn.NewBIO()
	peer := conn.GetPeerName()
	bio.SetPeer(peer)
	bio.SetConnected(peer)
	if err := session.Bind(bio, bio); err != nil {
		return nil, fmt.Errorf("peerassoc: binding re-wrapped session: %w", err)
	}

	role := RoleClient
	if serverSide {
		session.SetAcceptState()
		role = RoleAccepted
	} else {
		session.SetConnectState()
	}

	o := resolveOptions(opts)
	a := &Association{
		role:                 role,
		session:              session,
		rbio:                 bio,
		wbio:                 bio,
		peer:                 peer,
		connected:            true,
		readDeadline:         o.readDeadline,
		writeDeadline:        o.writeDeadline,
		timeout:              o.readDeadline,
		doHandshakeOnConnect: o.doHandshakeOnConnect,
		suppressRaggedEOFs:   o.suppressRaggedEOFs,
	}

	if sock, ok := conn.(*unwrap.Socket); ok {
		a.demuxSocket, a.queue, _ = sock.Underlying()
	}

	if a.doHandshakeOnConnect {
		if err := a.DoHandshake(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Role reports which construction path produced this Association.
func (a *Association) Role() Role { return a.role }

// PeerAddr returns the remote address this Association is bound to, or the
// zero value if a client Association hasn't called Connect yet.
func (a *Association) PeerAddr() netip.AddrPort { return a.peer }

// HandshakeDone reports whether the handshake has completed. It is
// equivalent to checking whether Cipher's second return is true: the spec
// requires Cipher() to return "none" iff handshake_done is false, so this
// package derives both from the same underlying session query rather than
// tracking a second, possibly-divergent flag.
func (a *Association) HandshakeDone() bool {
	_, ok := a.session.CurrentCipher()
	return ok
}
