// Package demux routes inbound UDP datagrams arriving on one shared socket
// to per-peer read queues, so a single bound port can serve arbitrarily many
// concurrently-associated peers.
package demux

import (
	"errors"
	"net"
	"net/netip"
	"sync"
)

// ErrNoPendingDatagram is returned by Forward when it is called without a
// preceding Service call having observed a new peer.
var ErrNoPendingDatagram = errors.New("demux: no pending datagram to forward")

// DefaultQueueCapacity bounds how many datagrams may be buffered for one
// peer before further datagrams for that peer are dropped.
const DefaultQueueCapacity = 16

type pendingDatagram struct {
	addr netip.AddrPort
	data []byte
}

// Demux owns the single shared read socket and the per-peer queues fed from
// it. Service must only ever be called from one goroutine at a time;
// GetConnection's returned PeerQueue may safely be read from a different
// goroutine concurrently with Service.
type Demux struct {
	socket *Socket

	mu            sync.Mutex
	peers         map[netip.AddrPort]*PeerQueue
	overflow      *PeerQueue
	queueCapacity int
	pending       *pendingDatagram

	scratch [MaxDatagramSize]byte
}

// New wraps conn for per-peer demultiplexing. queueCapacity bounds the
// number of datagrams buffered per peer; DefaultQueueCapacity is used if 0.
func New(conn *net.UDPConn, queueCapacity int) *Demux {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &Demux{
		socket:        NewSocket(conn),
		peers:         make(map[netip.AddrPort]*PeerQueue),
		queueCapacity: queueCapacity,
	}
}

// Socket returns the shared write/DSCP-control handle for the listening
// connection.
func (d *Demux) Socket() *Socket {
	return d.socket
}

// Service reads exactly one datagram from the shared socket. If the
// datagram's source is a known (promoted) peer, it is appended to that
// peer's queue and Service returns (zero, false, nil); the caller should
// call Service again. If the source is not a promoted peer — whether this
// is the first datagram ever seen from it or the Nth from a source still
// mid cookie-exchange — Service returns its address and true; the caller
// must then call Forward before the next Service call, so the flight
// observed here is not lost. A source only becomes "known" once the caller
// explicitly promotes it via GetConnection(&addr); Service itself never
// does so.
func (d *Demux) Service() (netip.AddrPort, bool, error) {
	n, addr, err := d.socket.conn.ReadFromUDPAddrPort(d.scratch[:])
	if err != nil {
		return netip.AddrPort{}, false, err
	}
	pkt := append([]byte(nil), d.scratch[:n]...)

	d.mu.Lock()
	q, known := d.peers[addr]
	if known {
		d.mu.Unlock()
		q.Enqueue(pkt)
		return netip.AddrPort{}, false, nil
	}
	d.pending = &pendingDatagram{addr: addr, data: pkt}
	d.mu.Unlock()

	return addr, true, nil
}

// Forward delivers the datagram most recently observed from a not-yet-known
// source (per the last Service call that returned true) into the shared
// overflow queue — never into d.peers. A source stays in the overflow queue,
// re-surfacing as a "new peer" event on every subsequent datagram, for as
// long as it remains unpromoted; only an explicit GetConnection(&addr) call
// registers it as known. This keeps per-source memory at O(1) regardless of
// how many distinct addresses merely attempt, and never complete, a cookie
// exchange. It is an error to call Forward without an outstanding pending
// datagram, or more than once per new-peer observation.
func (d *Demux) Forward() error {
	d.mu.Lock()
	p := d.pending
	if p == nil {
		d.mu.Unlock()
		return ErrNoPendingDatagram
	}
	d.pending = nil
	if d.overflow == nil {
		d.overflow = NewPeerQueue(d.queueCapacity)
	}
	q := d.overflow
	d.mu.Unlock()

	q.Enqueue(p.data)
	return nil
}

// GetConnection returns the read endpoint for addr. A nil addr returns the
// shared overflow endpoint that Forward feeds for any not-yet-promoted
// source. A non-nil addr promotes that source: it allocates (or returns, if
// already allocated) addr's persistent per-peer queue and registers it in
// d.peers, so that every later Service call routes addr's datagrams there
// silently instead of raising a new-peer event. Call this only once a
// source's cookie has actually verified — calling it for an unverified
// source is what would make it "known" prematurely.
func (d *Demux) GetConnection(addr *netip.AddrPort) *PeerQueue {
	d.mu.Lock()
	defer d.mu.Unlock()

	if addr == nil {
		if d.overflow == nil {
			d.overflow = NewPeerQueue(d.queueCapacity)
		}
		return d.overflow
	}
	return d.getOrCreateLocked(*addr)
}

func (d *Demux) getOrCreateLocked(addr netip.AddrPort) *PeerQueue {
	if q, ok := d.peers[addr]; ok {
		return q
	}
	q := NewPeerQueue(d.queueCapacity)
	d.peers[addr] = q
	return q
}

// RemovePeer closes and forgets addr's queue. Call this once an association
// for addr is torn down, or its cookie-exchange attempt was abandoned.
func (d *Demux) RemovePeer(addr netip.AddrPort) {
	d.mu.Lock()
	q, ok := d.peers[addr]
	if ok {
		delete(d.peers, addr)
	}
	d.mu.Unlock()

	if ok {
		q.Close()
	}
}

// Peers reports the addresses currently tracked, for tests and diagnostics.
func (d *Demux) Peers() []netip.AddrPort {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]netip.AddrPort, 0, len(d.peers))
	for a := range d.peers {
		out = append(out, a)
	}
	return out
}
