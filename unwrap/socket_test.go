package unwrap

import (
	"net"
	"net/netip"
	"testing"

	"dtlsassoc/demux"
	"dtlsassoc/dtlserr"
)

func mustListen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	return conn
}

func TestReadWriteRoutesThroughRememberedPeer(t *testing.T) {
	serverConn := mustListen(t)
	defer serverConn.Close()
	clientConn := mustListen(t)
	defer clientConn.Close()

	clientAddr := netip.MustParseAddrPort(clientConn.LocalAddr().String())

	q := demux.NewPeerQueue(4)
	q.Enqueue([]byte("plaintext"))

	s := New(demux.NewSocket(serverConn), q, clientAddr)

	buf := make([]byte, 64)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "plaintext" {
		t.Fatalf("got %q, want %q", buf[:n], "plaintext")
	}

	if _, err := s.Write([]byte("reply")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := make([]byte, 64)
	n, _, err = clientConn.ReadFromUDP(out)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if string(out[:n]) != "reply" {
		t.Fatalf("got %q, want %q", out[:n], "reply")
	}
}

func TestConnectAlwaysFails(t *testing.T) {
	serverConn := mustListen(t)
	defer serverConn.Close()
	s := New(demux.NewSocket(serverConn), demux.NewPeerQueue(1), netip.AddrPort{})
	if err := s.Connect(netip.AddrPort{}); err != dtlserr.ErrAlreadyConnected {
		t.Fatalf("Connect error = %v, want ErrAlreadyConnected", err)
	}
}

func TestGetPeerName(t *testing.T) {
	serverConn := mustListen(t)
	defer serverConn.Close()
	addr := netip.MustParseAddrPort("127.0.0.1:4433")
	s := New(demux.NewSocket(serverConn), demux.NewPeerQueue(1), addr)
	if got := s.GetPeerName(); got != addr {
		t.Fatalf("GetPeerName = %v, want %v", got, addr)
	}
}
