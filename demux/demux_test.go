package demux

import (
	"io"
	"net"
	"net/netip"
	"testing"
	"time"
)

func mustListenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	return conn
}

func TestServiceRoutesKnownPeerWithoutNewPeerEvent(t *testing.T) {
	server := mustListenUDP(t)
	defer server.Close()
	client := mustListenUDP(t)
	defer client.Close()

	d := New(server, DefaultQueueCapacity)
	serverAddr := server.LocalAddr().(*net.UDPAddr).AddrPort()
	clientAddr := client.LocalAddr().(*net.UDPAddr).AddrPort()

	if _, err := client.WriteToUDPAddrPort([]byte("hello"), serverAddr); err != nil {
		t.Fatalf("WriteToUDPAddrPort: %v", err)
	}

	addr, isNew, err := d.Service()
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if !isNew {
		t.Fatalf("expected new peer event on first datagram")
	}
	if addr != clientAddr {
		t.Fatalf("got addr %v, want %v", addr, clientAddr)
	}

	if err := d.Forward(); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	overflow := d.GetConnection(nil)

	buf := make([]byte, 64)
	n, err := overflow.ReadInto(buf)
	if err != nil {
		t.Fatalf("ReadInto: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want %q", buf[:n], "hello")
	}

	// Only now, with the source treated as verified, does promoting it via
	// GetConnection(&addr) make later datagrams route silently.
	q := d.GetConnection(&addr)

	// Second datagram from the same now-known peer is routed silently.
	if _, err := client.WriteToUDPAddrPort([]byte("world"), serverAddr); err != nil {
		t.Fatalf("WriteToUDPAddrPort: %v", err)
	}
	_, isNew, err = d.Service()
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if isNew {
		t.Fatalf("second datagram from a known peer should not raise a new-peer event")
	}

	n, err = q.ReadInto(buf)
	if err != nil {
		t.Fatalf("ReadInto: %v", err)
	}
	if string(buf[:n]) != "world" {
		t.Fatalf("got %q, want %q", buf[:n], "world")
	}
}

func TestForwardWithoutServiceFails(t *testing.T) {
	server := mustListenUDP(t)
	defer server.Close()
	d := New(server, DefaultQueueCapacity)
	if err := d.Forward(); err != ErrNoPendingDatagram {
		t.Fatalf("got %v, want ErrNoPendingDatagram", err)
	}
}

func TestMultiplexedPeersIsolated(t *testing.T) {
	server := mustListenUDP(t)
	defer server.Close()
	serverAddr := server.LocalAddr().(*net.UDPAddr).AddrPort()

	c1 := mustListenUDP(t)
	defer c1.Close()
	c2 := mustListenUDP(t)
	defer c2.Close()

	d := New(server, DefaultQueueCapacity)

	c1.WriteToUDPAddrPort([]byte("from-1"), serverAddr)
	c2.WriteToUDPAddrPort([]byte("from-2"), serverAddr)

	seen := map[netip.AddrPort]*PeerQueue{}
	for range 2 {
		addr, isNew, err := d.Service()
		if err != nil {
			t.Fatalf("Service: %v", err)
		}
		if !isNew {
			t.Fatalf("expected new-peer event")
		}
		if err := d.Forward(); err != nil {
			t.Fatalf("Forward: %v", err)
		}
		overflow := d.GetConnection(nil)
		buf := make([]byte, 64)
		n, err := overflow.ReadInto(buf)
		if err != nil {
			t.Fatalf("ReadInto: %v", err)
		}
		payload := append([]byte(nil), buf[:n]...)

		q := d.GetConnection(&addr)
		q.Enqueue(payload)
		seen[addr] = q
	}

	c1Addr := c1.LocalAddr().(*net.UDPAddr).AddrPort()
	c2Addr := c2.LocalAddr().(*net.UDPAddr).AddrPort()

	buf := make([]byte, 64)
	n, err := seen[c1Addr].ReadInto(buf)
	if err != nil || string(buf[:n]) != "from-1" {
		t.Fatalf("c1 queue got %q, err %v", buf[:n], err)
	}
	n, err = seen[c2Addr].ReadInto(buf)
	if err != nil || string(buf[:n]) != "from-2" {
		t.Fatalf("c2 queue got %q, err %v", buf[:n], err)
	}
}

// TestUnpromotedSourceNeverRegisteredAndKeepsSurfacing reproduces §4.2/§8's
// cookie-exchange invariant at the Demux layer: a source that never gets
// promoted (e.g. it abandons the exchange, or is never handed anything but
// cookieless hellos) must never appear in Peers(), and every single one of
// its datagrams — not just the first — must re-surface as a new-peer event.
func TestUnpromotedSourceNeverRegisteredAndKeepsSurfacing(t *testing.T) {
	server := mustListenUDP(t)
	defer server.Close()
	client := mustListenUDP(t)
	defer client.Close()

	d := New(server, DefaultQueueCapacity)
	serverAddr := server.LocalAddr().(*net.UDPAddr).AddrPort()

	for i := 0; i < 3; i++ {
		if _, err := client.WriteToUDPAddrPort([]byte("hello-again"), serverAddr); err != nil {
			t.Fatalf("WriteToUDPAddrPort: %v", err)
		}
		_, isNew, err := d.Service()
		if err != nil {
			t.Fatalf("Service: %v", err)
		}
		if !isNew {
			t.Fatalf("datagram %d from a never-promoted source should still raise a new-peer event", i)
		}
		if err := d.Forward(); err != nil {
			t.Fatalf("Forward: %v", err)
		}
		overflow := d.GetConnection(nil)
		buf := make([]byte, 64)
		if _, err := overflow.ReadInto(buf); err != nil {
			t.Fatalf("ReadInto: %v", err)
		}
	}

	if peers := d.Peers(); len(peers) != 0 {
		t.Fatalf("Peers() = %v, want none: an unpromoted source must leave no persistent state", peers)
	}
}

func TestPeerQueueClosedReadReturnsEOF(t *testing.T) {
	q := NewPeerQueue(4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 16)
		if _, err := q.ReadInto(buf); err != io.EOF {
			t.Errorf("ReadInto after close: got %v, want io.EOF", err)
		}
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	<-done
}
