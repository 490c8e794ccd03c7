package bioadapter

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"dtlsassoc/demux"
)

func TestClientAdapterReadWriteRoundTrip(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer serverConn.Close()

	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer clientConn.Close()

	a := NewClientAdapter(clientConn, time.Second, time.Second)
	if _, err := a.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 16)
	serverConn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := serverConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("server ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != "hi" {
		t.Fatalf("got %q, want %q", buf[:n], "hi")
	}
}

func TestServerAdapterSetPeerRetargetsWrites(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer serverConn.Close()

	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer peerConn.Close()

	q := demux.NewPeerQueue(4)
	socket := demux.NewSocket(serverConn)
	a := NewServerAdapter(socket, q, netip.MustParseAddrPort("127.0.0.1:1"))

	peerAddr := peerConn.LocalAddr().(*net.UDPAddr).AddrPort()
	a.SetPeer(peerAddr)

	if got, _ := a.GetPeer(); got != peerAddr {
		t.Fatalf("GetPeer() = %v, want %v", got, peerAddr)
	}

	if _, err := a.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 16)
	peerConn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := peerConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("got %q, want %q", buf[:n], "ping")
	}
}

func TestServerAdapterCloseIsNoopAfterDisown(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer serverConn.Close()

	q := demux.NewPeerQueue(4)
	a := NewServerAdapter(demux.NewSocket(serverConn), q, netip.MustParseAddrPort("127.0.0.1:1"))
	a.Disown()
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Queue must still be usable; Close() must not have closed it.
	q.Enqueue([]byte("x"))
	buf := make([]byte, 4)
	n, err := q.ReadInto(buf)
	if err != nil || string(buf[:n]) != "x" {
		t.Fatalf("queue was closed despite adapter being disowned: n=%d err=%v", n, err)
	}
}
