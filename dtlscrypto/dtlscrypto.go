// Package dtlscrypto declares the narrow surface the engine requires of a
// DTLS-capable cryptographic library: context/session lifecycle, BIO
// binding, handshake/read/write/shutdown, certificate and cipher
// inspection, cookie callbacks, and the retransmission timer pair. No
// concrete cryptography lives here — see the refimpl sub-package for the
// one implementation the rest of this module is built and tested against.
package dtlscrypto

import (
	"io"
	"net/netip"
	"time"

	"dtlsassoc/dtlserr"
)

// BIO is the per-direction datagram I/O abstraction a Session binds to. It
// is implemented by package bioadapter.
type BIO interface {
	io.Reader
	io.Writer
	// SetNonblocking toggles non-blocking semantics to match the owning
	// socket's current timeout.
	SetNonblocking(nonblocking bool)
	// SetPeer sets the default write destination.
	SetPeer(addr netip.AddrPort)
	// GetPeer returns the address last stored by SetPeer or SetConnected, or
	// false if none yet. Reads do not update it; the source of a received
	// datagram is not tracked.
	GetPeer() (netip.AddrPort, bool)
	// SetConnected marks a client BIO as connected to a single peer.
	SetConnected(addr netip.AddrPort)
}

// CookieCallbacks is registered on a Context and invoked by Session.Listen.
// A failing callback (including one that panics) must be treated as a
// verification failure by the caller, never propagated as a crash.
type CookieCallbacks interface {
	Generate(addr netip.AddrPort) ([]byte, error)
	Verify(addr netip.AddrPort, cookie []byte) bool
}

// CertReqs mirrors the platform's standard TLS-socket cert_reqs
// enumeration.
type CertReqs int

const (
	CertNone     CertReqs = 0
	CertOptional CertReqs = 1
	CertRequired CertReqs = 2
)

// Cipher describes the negotiated cipher suite.
type Cipher struct {
	Name            string
	ProtocolVersion string
	SecretBits      int
}

// ShutdownResult reports the outcome of one Session.Shutdown call.
type ShutdownResult int

const (
	// ShutdownSent means this call sent a close-notify and has not yet
	// observed the peer's; callers must call Shutdown again without
	// disabling read-ahead in between.
	ShutdownSent ShutdownResult = iota
	// ShutdownComplete means both close-notifies have been exchanged.
	ShutdownComplete
)

// Context configures process-wide DTLS parameters shared by a Listener and
// the associations it spawns.
type Context interface {
	SetVerifyMode(reqs CertReqs)
	SetReadAhead(enabled bool)
	SetCipherList(ciphers string) error
	SetCookieCallbacks(cb CookieCallbacks)
	LoadCertificate(certPEM, keyPEM []byte) error
	LoadVerifyLocations(caPEM []byte) error
}

// Session is one handshake/record-layer instance bound to a pair of BIOs.
type Session interface {
	Bind(rbio, wbio BIO) error

	SetAcceptState()
	SetConnectState()

	// Listen processes one already-received datagram from an
	// as-yet-unassociated source as a step of the stateless cookie-exchange
	// round trip, writing any reply (a cookie challenge) through wbio
	// targeted at the address rbio.GetPeer() reports. It returns (true,
	// peer) once the datagram carries a valid echoed cookie, meaning the
	// caller should promote the source to a full association via Accept.
	// (false, zero) with a nil error means a reply was sent (or no reply
	// was needed) and the caller should keep waiting for this source.
	// dtlserr.ErrCookieMismatch means the datagram was dropped.
	//
	// Listen carries no state across calls: the same Session value may
	// service arbitrarily many distinct sources without per-source memory
	// growth, which is what keeps the cookie exchange's resource use O(1)
	// against spoofed sources.
	Listen(rbio, wbio BIO, datagram []byte) (accepted bool, peer netip.AddrPort, err error)

	DoHandshake() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Pending() int
	Shutdown() (ShutdownResult, error)

	PeerCertificateDER() ([]byte, bool)
	CurrentCipher() (Cipher, bool)

	GetTimeout() (time.Duration, bool)
	HandleTimeout() (sent bool, err error)

	DrainErrorQueue() []dtlserr.QueuedError
}

// Factory constructs Sessions bound to a shared Context.
type Factory interface {
	NewSession(ctx Context, serverSide bool) (Session, error)
}
