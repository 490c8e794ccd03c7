package bioadapter

import (
	"net/netip"
	"sync/atomic"

	"dtlsassoc/demux"
	"dtlsassoc/dtlscrypto"
)

// queue is the subset of demux.PeerQueue a ServerAdapter needs; narrowed so
// tests can substitute a fake.
type queue interface {
	ReadInto(dst []byte) (int, error)
	Close()
}

// ServerAdapter adapts a demux-routed per-peer queue plus the shared write
// socket to dtlscrypto.BIO. The destination address is stored atomically so
// NAT roaming can retarget writes without replacing the adapter in a bound
// Session.
type ServerAdapter struct {
	socket *demux.Socket
	queue  queue
	addr   atomic.Pointer[netip.AddrPort]
	// disowned is set once a Session has bound this adapter; further writes
	// are still served (the bound Session is the only caller from then on)
	// but Close becomes a no-op, so the per-peer queue the bound Session
	// reads from stays open. Close never closes the shared socket.
	disowned atomic.Bool
}

var _ dtlscrypto.BIO = (*ServerAdapter)(nil)

// NewServerAdapter builds a BIO over socket, reading from queue and writing
// to addr.
func NewServerAdapter(socket *demux.Socket, q queue, addr netip.AddrPort) *ServerAdapter {
	a := &ServerAdapter{socket: socket, queue: q}
	a.addr.Store(&addr)
	return a
}

func (a *ServerAdapter) Read(p []byte) (int, error) {
	return a.queue.ReadInto(p)
}

func (a *ServerAdapter) Write(p []byte) (int, error) {
	return a.socket.WriteToUDPAddrPort(p, *a.addr.Load())
}

// SetNonblocking is a no-op: the demux queue's ReadInto already blocks only
// until data or close, which is how the server side achieves non-blocking
// semantics (a zero-length read attempt never happens here; the caller
// polls Service/Listen instead).
func (a *ServerAdapter) SetNonblocking(bool) {}

func (a *ServerAdapter) SetPeer(addr netip.AddrPort) {
	a.addr.Store(&addr)
}

// SetQueue rebinds the adapter to read from q. The Listener builds a
// ServerAdapter over the shared overflow queue while a source's cookie is
// still unverified — Listen never reads from rbio during that phase — and
// calls SetQueue to swap in the source's own persistent per-peer queue at
// the moment its cookie verifies, before the adapter is handed off to the
// promoted Association. Not safe to call once concurrent reads may already
// be in flight.
func (a *ServerAdapter) SetQueue(q queue) {
	a.queue = q
}

func (a *ServerAdapter) GetPeer() (netip.AddrPort, bool) {
	return *a.addr.Load(), true
}

func (a *ServerAdapter) SetConnected(addr netip.AddrPort) {
	a.SetPeer(addr)
}

// Disown marks this adapter as owned by a bound Session; see Close.
func (a *ServerAdapter) Disown() {
	a.disowned.Store(true)
}

// Close closes the per-peer queue. It never touches the shared socket,
// whose lifecycle belongs to the Demux.
func (a *ServerAdapter) Close() error {
	if a.disowned.Load() {
		return nil
	}
	a.queue.Close()
	return nil
}
