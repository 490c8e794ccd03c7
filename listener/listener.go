// Package listener implements the server-side acceptor: it drives the
// stateless cookie exchange over a shared UDP socket and, once a peer has
// echoed a valid cookie, hands off a fully-formed peerassoc.Association to
// Accept while leaving itself immediately able to service the next peer.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sync/semaphore"

	"dtlsassoc/bioadapter"
	"dtlsassoc/cookie"
	"dtlsassoc/demux"
	"dtlsassoc/dtlscrypto"
	"dtlsassoc/dtlserr"
	"dtlsassoc/logging"
	"dtlsassoc/peerassoc"
)

// pollInterval bounds how long a single Demux.Service read blocks before
// Listen rechecks its context, so Listen/Accept remain ctx-cancellable
// without requiring the caller's socket to support native read cancellation.
const pollInterval = 200 * time.Millisecond

// pendingPeer is a cookie-verified source awaiting Accept's handoff.
type pendingPeer struct {
	peer    netip.AddrPort
	session dtlscrypto.Session
	rbio    dtlscrypto.BIO
	wbio    dtlscrypto.BIO
	queue   demux.Queue
}

// Listener owns the shared listening socket's demultiplexer, the shared
// crypto Context, and a semaphore bounding how many verified peers may sit
// between Listen and Accept at once. It is not safe for concurrent use by
// more than one goroutine at a time, mirroring the Demux.Service contract it
// drives (§5's single-goroutine-per-socket rule).
type Listener struct {
	demux   *demux.Demux
	cctx    dtlscrypto.Context
	factory dtlscrypto.Factory
	cookies *cookie.Engine

	// session is the currently "armed" listening session: the one that will
	// process the next unassociated datagram. It is swapped for a fresh one
	// at the moment a peer's cookie verifies, before that verified session
	// is ever handed to Accept, so the Listener is always immediately able
	// to service further sources even if the caller never calls Accept.
	session dtlscrypto.Session

	sem       *semaphore.Weighted
	pending   chan pendingPeer
	assocOpts []peerassoc.Option
	logger    logging.Logger
}

// New constructs a Listener bound to conn. cctx must already be configured
// server-side (certificate, verify mode, cipher list); New registers its own
// cookie callbacks on cctx via cookies, overriding any previously set.
func New(conn *net.UDPConn, cctx dtlscrypto.Context, factory dtlscrypto.Factory, cookies *cookie.Engine, opts ...Option) (*Listener, error) {
	if conn == nil {
		return nil, fmt.Errorf("listener: New requires a non-nil socket")
	}
	cctx.SetCookieCallbacks(cookieAdapter{engine: cookies})

	o := resolveOptions(opts)
	session, err := factory.NewSession(cctx, true)
	if err != nil {
		return nil, fmt.Errorf("listener: constructing initial listening session: %w", err)
	}

	l := &Listener{
		demux:     demux.New(conn, o.queueCapacity),
		cctx:      cctx,
		factory:   factory,
		cookies:   cookies,
		session:   session,
		sem:       semaphore.NewWeighted(int64(o.maxPendingAssociations)),
		pending:   make(chan pendingPeer, o.maxPendingAssociations),
		assocOpts: o.assocOpts,
		logger:    o.logger,
	}

	if o.dscp != nil {
		if err := l.demux.Socket().SetDSCP(*o.dscp); err != nil {
			return nil, fmt.Errorf("listener: setting DSCP: %w", err)
		}
	}

	return l, nil
}

// LocalAddr returns the bound local address of the listening socket.
func (l *Listener) LocalAddr() net.Addr {
	return l.demux.Socket().LocalAddr()
}

// PromotedPeers reports the addresses currently registered as known,
// cookie-verified peers. Exposed mainly for tests asserting the §8
// scenario-2 invariant that an unverified source never accumulates
// persistent state here.
func (l *Listener) PromotedPeers() []netip.AddrPort {
	return l.demux.Peers()
}

// Listen services at most one datagram from the shared socket and drives it
// through the stateless cookie-exchange state machine described in §4.5:
//
//  1. A datagram from an already-associated peer is forwarded to that
//     peer's queue internally by Demux; Listen returns (zero, false, nil)
//     and the caller should call Listen again.
//  2. A datagram from an unrecognized source is handed to the armed
//     session's Listen primitive. A cookie mismatch is dropped silently
//     (zero, false, nil); a cookieless first flight, answered with a
//     HelloVerifyRequest, likewise returns (zero, false, nil) so the
//     caller loops.
//  3. A validated echoed cookie acquires a semaphore slot, swaps in a fresh
//     listening session so the Listener remains immediately usable, and
//     queues the verified peer for Accept. Listen returns (peer, true, nil).
//
// Listen blocks until a datagram arrives, ctx is done, or an unrecoverable
// socket error occurs; it polls ctx cancellation at pollInterval granularity
// since the underlying UDP read has no native context support.
func (l *Listener) Listen(ctx context.Context) (netip.AddrPort, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return netip.AddrPort{}, false, err
		}

		deadline := time.Now().Add(pollInterval)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := l.demux.Socket().SetReadDeadline(deadline); err != nil {
			return netip.AddrPort{}, false, fmt.Errorf("listener: setting read deadline: %w", err)
		}

		addr, isNew, err := l.demux.Service()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return netip.AddrPort{}, false, fmt.Errorf("listener: servicing socket: %w", err)
		}
		if !isNew {
			return netip.AddrPort{}, false, nil
		}

		peer, accepted, err := l.processNewSource(ctx, addr)
		if err != nil {
			return netip.AddrPort{}, false, err
		}
		return peer, accepted, nil
	}
}

// processNewSource drives one not-yet-promoted source's datagram through
// the cookie-exchange state machine. Until the cookie verifies, addr is
// never registered with the Demux (no GetConnection(&addr) call): the
// datagram is read back from the shared overflow queue Forward fed, and the
// adapter built over it reads from that same overflow queue — which Listen
// never actually does, since session.Listen only writes a HelloVerify or
// returns. This is what keeps an unbounded number of cookieless or abandoned
// sources from costing more than one transient overflow read each; only a
// source whose cookie verifies is promoted to a persistent per-peer queue.
func (l *Listener) processNewSource(ctx context.Context, addr netip.AddrPort) (netip.AddrPort, bool, error) {
	if err := l.demux.Forward(); err != nil {
		return netip.AddrPort{}, false, fmt.Errorf("listener: forwarding observed datagram: %w", err)
	}
	overflow := l.demux.GetConnection(nil)

	buf := make([]byte, demux.MaxDatagramSize)
	n, ok := overflow.TryReadInto(buf)
	if !ok {
		// Forward just enqueued it; this should not happen, but treat it
		// like any other not-enough-data outcome rather than erroring.
		return netip.AddrPort{}, false, nil
	}

	rbio := bioadapter.NewServerAdapter(l.demux.Socket(), overflow, addr)
	wbio := rbio

	accepted, peer, err := l.session.Listen(rbio, wbio, buf[:n])
	if err != nil {
		if errors.Is(err, dtlserr.ErrCookieMismatch) {
			l.logger.Printf("listener: dropping %s: cookie mismatch", addr)
			return netip.AddrPort{}, false, nil
		}
		if errors.Is(err, dtlserr.ErrWantRead) {
			return netip.AddrPort{}, false, nil
		}
		return netip.AddrPort{}, false, fmt.Errorf("listener: cookie exchange: %w", err)
	}
	if !accepted {
		// Cookieless first flight: a HelloVerify was written, but addr is
		// left unregistered so its cookie-echo datagram re-surfaces as a
		// new-peer event rather than being silently routed here.
		return netip.AddrPort{}, false, nil
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return netip.AddrPort{}, false, err
	}

	replacement, err := l.factory.NewSession(l.cctx, true)
	if err != nil {
		l.sem.Release(1)
		return netip.AddrPort{}, false, fmt.Errorf("listener: arming replacement session: %w", err)
	}

	verified := l.session
	l.session = replacement

	// Only now, with the cookie verified, does addr become a known,
	// persistently-tracked peer: its own queue is allocated here, not on
	// first sight, so a flood of unverified sources leaves no trace in the
	// Demux once each flooder's single cookieless hello has been read.
	q := l.demux.GetConnection(&addr)
	rbio.SetQueue(q)

	l.logger.Printf("listener: %s presented a valid cookie, queued for Accept", peer)
	l.pending <- pendingPeer{peer: peer, session: verified, rbio: rbio, wbio: wbio, queue: q}
	return peer, true, nil
}

// Accept returns the next cookie-verified peer as a fully-formed
// RoleAccepted Association, driving Listen as needed until one is available.
// The handoff (§4.6) constructs the Association over the session Listen
// already validated; nothing about the Listener's ability to accept further
// peers depends on the caller ever finishing with this one.
func (l *Listener) Accept(ctx context.Context) (*peerassoc.Association, error) {
	for {
		select {
		case p := <-l.pending:
			return l.promote(p)
		default:
		}

		if _, _, err := l.Listen(ctx); err != nil {
			return nil, err
		}

		select {
		case p := <-l.pending:
			return l.promote(p)
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

func (l *Listener) promote(p pendingPeer) (*peerassoc.Association, error) {
	defer l.sem.Release(1)

	a, err := peerassoc.NewAccepted(l.demux.Socket(), p.queue, p.peer, p.session, p.rbio, p.wbio, l.assocOpts...)
	if err != nil {
		return nil, fmt.Errorf("listener: promoting accepted peer: %w", err)
	}
	return a, nil
}

// Shutdown is a no-op for a Listener: §4.6's operation table specifies that
// shutdown() called on a Listener (as opposed to an Association it has
// promoted) returns without error and without affecting its state.
func (l *Listener) Shutdown() error {
	return nil
}

// Close releases the listening socket. Associations already promoted via
// Accept are unaffected; their own sockets (demux-routed through this same
// underlying connection) remain usable until each is individually shut down.
func (l *Listener) Close() error {
	return l.demux.Socket().Close()
}
