package refimpl

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"dtlsassoc/dtlscrypto"
	"dtlsassoc/dtlserr"
)

type role int

const (
	roleListener role = iota
	roleClient
	roleServerAccepted
)

const (
	maxRecordSize     = 1600
	initialRetransmit = 1 * time.Second
	maxRetransmit     = 60 * time.Second
	maxRetries        = 6
)

var errListenerCannotHandshake = errors.New("refimpl: a listening session cannot run DoHandshake; Accept a peer first")

// Session implements dtlscrypto.Session.
type Session struct {
	ctx  *Context
	role role

	rbio, wbio dtlscrypto.BIO

	// Handshake transcript material.
	privKey  [32]byte
	pubKey   [32]byte
	nonce    [32]byte
	peerPub  [32]byte
	peerNonce [32]byte
	cookie   []byte

	flightSent   bool
	lastFlight   []byte
	retryCount   int
	deadline     time.Time
	deadlineSet  bool

	handshakeDone bool
	peerCertDER   []byte

	sendAEAD, recvAEAD cipher.AEAD
	sendCounter        uint64
	recvCounter        uint64
	recvCounterSet     bool

	shutdownState shutdownPhase
	peerClosed    bool

	errQueue []dtlserr.QueuedError
}

type shutdownPhase int

const (
	shutdownNone shutdownPhase = iota
	shutdownSentPhase
	shutdownCompletePhase
)

var _ dtlscrypto.Session = (*Session)(nil)

func newSession(ctx *Context, r role) *Session {
	return &Session{ctx: ctx, role: r}
}

func (s *Session) Bind(rbio, wbio dtlscrypto.BIO) error {
	s.rbio = rbio
	s.wbio = wbio
	return nil
}

func (s *Session) SetAcceptState() { s.role = roleServerAccepted }
func (s *Session) SetConnectState() { s.role = roleClient }

// Listen processes one datagram from an unassociated source as a step of
// the cookie exchange. See dtlscrypto.Session for the contract.
func (s *Session) Listen(rbio, wbio dtlscrypto.BIO, datagram []byte) (bool, netip.AddrPort, error) {
	if s.ctx.cookieCB == nil {
		return false, netip.AddrPort{}, fmt.Errorf("refimpl: no cookie callbacks registered")
	}
	peer, ok := rbio.GetPeer()
	if !ok {
		return false, netip.AddrPort{}, fmt.Errorf("refimpl: bio has no peer address")
	}

	if len(datagram) == 0 || datagram[0] != msgClientHello {
		return false, netip.AddrPort{}, errBadMessage
	}
	hello, err := parseClientHello(datagram)
	if err != nil {
		return false, netip.AddrPort{}, err
	}

	if len(hello.cookie) == 0 {
		cookie, err := func() (c []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("cookie callback panicked: %v", r)
				}
			}()
			return s.ctx.cookieCB.Generate(peer)
		}()
		if err != nil {
			return false, netip.AddrPort{}, fmt.Errorf("refimpl: cookie generation failed: %w", err)
		}
		wbio.SetPeer(peer)
		if _, err := wbio.Write(helloVerify{cookie: cookie}.marshal()); err != nil {
			return false, netip.AddrPort{}, err
		}
		return false, netip.AddrPort{}, nil
	}

	verified := func() (ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		return s.ctx.cookieCB.Verify(peer, hello.cookie)
	}()
	if !verified {
		return false, netip.AddrPort{}, dtlserr.ErrCookieMismatch
	}

	// Valid cookie: capture the client's key share for the handshake
	// continuation that will run on the child session after Accept.
	s.peerNonce = hello.nonce
	s.peerPub = hello.curvePub
	return true, peer, nil
}

func (s *Session) DoHandshake() error {
	if s.handshakeDone {
		return nil
	}
	switch s.role {
	case roleClient:
		return s.clientHandshakeStep()
	case roleServerAccepted:
		return s.serverHandshakeStep()
	default:
		return errListenerCannotHandshake
	}
}

func (s *Session) clientHandshakeStep() error {
	if !s.flightSent {
		if err := s.generateEphemeral(); err != nil {
			return err
		}
		hello := clientHello{nonce: s.nonce, curvePub: s.pubKey}
		if err := s.send(hello.marshal()); err != nil {
			return err
		}
		s.flightSent = true
	}

	buf := make([]byte, maxRecordSize)
	n, err := s.rbio.Read(buf)
	if err != nil {
		return translateHandshakeReadError(err)
	}
	data := buf[:n]
	if len(data) == 0 {
		return dtlserr.ErrWantRead
	}

	switch data[0] {
	case msgHelloVerify:
		hv, err := parseHelloVerify(data)
		if err != nil {
			return err
		}
		s.cookie = hv.cookie
		hello := clientHello{cookie: s.cookie, nonce: s.nonce, curvePub: s.pubKey}
		if err := s.send(hello.marshal()); err != nil {
			return err
		}
		return dtlserr.ErrWantRead
	case msgServerHello:
		sh, err := parseServerHello(data)
		if err != nil {
			return err
		}
		return s.finishClient(sh)
	default:
		return errBadMessage
	}
}

func (s *Session) finishClient(sh serverHello) error {
	var serverPub edPublicKey
	if len(sh.certDER) > 0 {
		cert, err := x509.ParseCertificate(sh.certDER)
		if err != nil {
			return fmt.Errorf("refimpl: parsing peer certificate: %w", err)
		}
		if s.ctx.certReqs != dtlscrypto.CertNone {
			if s.ctx.trustPool == nil {
				return dtlserr.ErrNoTrustAnchors
			}
			if _, err := cert.Verify(x509.VerifyOptions{Roots: s.ctx.trustPool}); err != nil {
				return fmt.Errorf("refimpl: peer certificate verification failed: %w", err)
			}
		}
		s.peerCertDER = sh.certDER
		ed, ok := cert.PublicKey.(edPublicKey)
		if !ok {
			return fmt.Errorf("refimpl: peer certificate does not carry an Ed25519 key")
		}
		serverPub = ed25519PubFromCert(ed)
	} else if s.ctx.certReqs != dtlscrypto.CertNone {
		return dtlserr.ErrNoTrustAnchors
	}

	transcriptData := transcript(s.nonce, sh.nonce, s.pubKey, sh.curvePub)
	if serverPub != nil && !verifySignature(serverPub, transcriptData, sh.signature[:]) {
		return fmt.Errorf("refimpl: server handshake signature verification failed")
	}

	shared, err := curve25519.X25519(s.privKey[:], sh.curvePub[:])
	if err != nil {
		return fmt.Errorf("refimpl: computing shared secret: %w", err)
	}
	if err := s.deriveKeys(shared, s.nonce, sh.nonce, false); err != nil {
		return err
	}

	s.peerPub = sh.curvePub
	s.peerNonce = sh.nonce
	s.handshakeDone = true
	s.deadlineSet = false
	return nil
}

func (s *Session) serverHandshakeStep() error {
	if s.flightSent {
		return nil
	}
	if err := s.generateEphemeral(); err != nil {
		return err
	}

	shared, err := curve25519.X25519(s.privKey[:], s.peerPub[:])
	if err != nil {
		return fmt.Errorf("refimpl: computing shared secret: %w", err)
	}
	if err := s.deriveKeys(shared, s.peerNonce, s.nonce, true); err != nil {
		return err
	}

	var sig [signatureLength]byte
	if s.ctx.privKey != nil {
		transcriptData := transcript(s.peerNonce, s.nonce, s.peerPub, s.pubKey)
		copy(sig[:], signWithKey(s.ctx.privKey, transcriptData))
	}

	sh := serverHello{nonce: s.nonce, curvePub: s.pubKey, signature: sig, certDER: s.ctx.certDER}
	if err := s.send(sh.marshal()); err != nil {
		return err
	}
	s.flightSent = true
	s.handshakeDone = true
	s.deadlineSet = false
	return nil
}

func (s *Session) generateEphemeral() error {
	if _, err := io.ReadFull(rand.Reader, s.privKey[:]); err != nil {
		return err
	}
	pub, err := curve25519.X25519(s.privKey[:], curve25519.Basepoint)
	if err != nil {
		return err
	}
	copy(s.pubKey[:], pub)
	if _, err := io.ReadFull(rand.Reader, s.nonce[:]); err != nil {
		return err
	}
	return nil
}

// deriveKeys derives the two directional AEAD keys via HKDF-SHA256, salted
// by the hash of both nonces, exactly as the handshake this is grounded on
// does. isServer selects which derived key is used for which direction.
func (s *Session) deriveKeys(shared []byte, clientNonce, serverNonce [nonceLength]byte, isServer bool) error {
	salt := sha256.Sum256(append(append([]byte{}, clientNonce[:]...), serverNonce[:]...))
	s2c := hkdf.New(sha256.New, shared, salt[:], []byte("server-to-client"))
	c2s := hkdf.New(sha256.New, shared, salt[:], []byte("client-to-server"))

	s2cKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(s2c, s2cKey); err != nil {
		return err
	}
	c2sKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(c2s, c2sKey); err != nil {
		return err
	}

	sendKey, recvKey := c2sKey, s2cKey
	if isServer {
		sendKey, recvKey = s2cKey, c2sKey
	}

	sendAEAD, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return err
	}
	recvAEAD, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return err
	}
	s.sendAEAD = sendAEAD
	s.recvAEAD = recvAEAD
	return nil
}

func (s *Session) send(msg []byte) error {
	s.wbio.SetPeer(mustPeer(s.wbio))
	if _, err := s.wbio.Write(msg); err != nil {
		return err
	}
	s.lastFlight = msg
	s.retryCount = 0
	s.deadline = time.Now().Add(initialRetransmit)
	s.deadlineSet = true
	return nil
}

func mustPeer(bio dtlscrypto.BIO) netip.AddrPort {
	p, _ := bio.GetPeer()
	return p
}

func (s *Session) Read(p []byte) (int, error) {
	if !s.handshakeDone {
		return 0, fmt.Errorf("refimpl: Read before handshake is complete")
	}
	buf := make([]byte, maxRecordSize)
	n, err := s.rbio.Read(buf)
	if err != nil {
		return 0, err
	}
	data := buf[:n]
	if len(data) == 0 {
		return 0, nil
	}
	switch data[0] {
	case msgAlert:
		code, err := parseAlert(data)
		if err != nil {
			return 0, err
		}
		if code == alertCloseNotify {
			s.peerClosed = true
			return 0, io.EOF
		}
		return 0, fmt.Errorf("refimpl: received alert %d", code)
	case msgAppData:
		counter, ciphertext, err := parseAppData(data)
		if err != nil {
			return 0, err
		}
		plain, err := s.recvAEAD.Open(nil, nonceFromCounter(counter), ciphertext, nil)
		if err != nil {
			return 0, fmt.Errorf("refimpl: decryption failed: %w", err)
		}
		if len(p) < len(plain) {
			return 0, io.ErrShortBuffer
		}
		copy(p, plain)
		return len(plain), nil
	default:
		return 0, errBadMessage
	}
}

func (s *Session) Write(p []byte) (int, error) {
	if !s.handshakeDone {
		return 0, fmt.Errorf("refimpl: Write before handshake is complete")
	}
	ciphertext := s.sendAEAD.Seal(nil, nonceFromCounter(s.sendCounter), p, nil)
	frame := marshalAppData(s.sendCounter, ciphertext)
	s.sendCounter++
	if _, err := s.wbio.Write(frame); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Session) Pending() int {
	return 0
}

// Shutdown implements the double-call quirk internally: the first call
// sends a close-notify and then immediately makes the second call itself,
// so one read attempt consumes the peer's own close-notify if it is
// already in flight rather than leaving it to confuse the next operation.
// It reports ShutdownComplete if that close-notify arrived and
// ShutdownSent otherwise; later calls each make one more read attempt.
func (s *Session) Shutdown() (dtlscrypto.ShutdownResult, error) {
	if s.shutdownState == shutdownCompletePhase {
		return dtlscrypto.ShutdownComplete, nil
	}
	if s.shutdownState == shutdownNone {
		if _, err := s.wbio.Write(marshalAlert(alertCloseNotify)); err != nil {
			return dtlscrypto.ShutdownSent, err
		}
		s.shutdownState = shutdownSentPhase
		return s.Shutdown()
	}

	buf := make([]byte, maxRecordSize)
	n, err := s.rbio.Read(buf)
	if err == nil {
		if code, aerr := parseAlert(buf[:n]); aerr == nil && code == alertCloseNotify {
			s.shutdownState = shutdownCompletePhase
			return dtlscrypto.ShutdownComplete, nil
		}
	}
	return dtlscrypto.ShutdownSent, nil
}

func (s *Session) PeerCertificateDER() ([]byte, bool) {
	return s.peerCertDER, len(s.peerCertDER) > 0
}

func (s *Session) CurrentCipher() (dtlscrypto.Cipher, bool) {
	if !s.handshakeDone {
		return dtlscrypto.Cipher{}, false
	}
	return dtlscrypto.Cipher{
		Name:            "TLS_CHACHA20_POLY1305_SHA256",
		ProtocolVersion: "DTLSv1.2-equivalent",
		SecretBits:      chacha20poly1305.KeySize * 8,
	}, true
}

func (s *Session) GetTimeout() (time.Duration, bool) {
	if !s.deadlineSet || s.handshakeDone {
		return 0, false
	}
	d := time.Until(s.deadline)
	if d < 0 {
		d = 0
	}
	return d, true
}

func (s *Session) HandleTimeout() (bool, error) {
	if !s.deadlineSet || s.handshakeDone {
		return false, nil
	}
	if time.Now().Before(s.deadline) {
		return false, nil
	}
	s.retryCount++
	if s.retryCount > maxRetries {
		return false, dtlserr.ErrHandshakeTimeout
	}
	if _, err := s.wbio.Write(s.lastFlight); err != nil {
		return false, err
	}
	backoff := initialRetransmit << uint(s.retryCount)
	if backoff > maxRetransmit {
		backoff = maxRetransmit
	}
	s.deadline = time.Now().Add(backoff)
	return true, nil
}

func (s *Session) DrainErrorQueue() []dtlserr.QueuedError {
	q := s.errQueue
	s.errQueue = nil
	return q
}

func nonceFromCounter(counter uint64) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	for i := 0; i < 8; i++ {
		n[chacha20poly1305.NonceSize-1-i] = byte(counter >> (8 * i))
	}
	return n
}

func translateHandshakeReadError(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return dtlserr.ErrHandshakeTimeout
	}
	return err
}
