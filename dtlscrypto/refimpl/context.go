// Package refimpl is the one concrete dtlscrypto implementation this module
// ships and tests against: Curve25519 ECDHE, ed25519 transcript signatures,
// HKDF-SHA256 key derivation, and two directional ChaCha20-Poly1305 AEAD
// streams, wrapped in a DTLS-shaped cookie-exchange listen/accept state
// machine and a flight-based retransmission timer. It is the engine's
// stand-in for "a crypto library is assumed available" — the rest of the
// module depends only on the dtlscrypto interfaces.
package refimpl

import (
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"dtlsassoc/dtlsctx"
	"dtlsassoc/dtlscrypto"
	"dtlsassoc/dtlserr"
)

// Context implements dtlscrypto.Context.
type Context struct {
	serverSide bool
	certReqs   dtlscrypto.CertReqs
	readAhead  bool
	ciphers    string
	cookieCB   dtlscrypto.CookieCallbacks

	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	certDER []byte

	trustPool *x509.CertPool
}

var _ dtlscrypto.Context = (*Context)(nil)

// NewContext builds a refimpl Context from an already-validated
// dtlsctx.Context, extracting the ed25519 signing key this implementation
// requires. A Context configured with a non-ed25519 key pair is rejected:
// this is a deliberate narrowing of the reference implementation, not of
// the dtlscrypto.Context interface, which places no constraint on key type.
func NewContext(dctx *dtlsctx.Context) (*Context, error) {
	c := &Context{
		serverSide: dctx.ServerSide(),
		readAhead:  dctx.ReadAhead(),
		ciphers:    dctx.Ciphers(),
	}
	c.SetVerifyMode(dtlscrypto.CertReqs(dctx.CertReqs()))

	if pair, ok := dctx.KeyPair(); ok {
		priv, ok := pair.PrivateKey.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("refimpl: certificate key must be Ed25519, got %T", pair.PrivateKey)
		}
		c.privKey = priv
		c.pubKey = priv.Public().(ed25519.PublicKey)
		if len(pair.Certificate) > 0 {
			c.certDER = pair.Certificate[0]
		}
	}

	if pool, ok := dctx.TrustAnchors(); ok {
		c.trustPool = pool
	}

	return c, nil
}

func (c *Context) SetVerifyMode(reqs dtlscrypto.CertReqs) { c.certReqs = reqs }
func (c *Context) SetReadAhead(enabled bool)              { c.readAhead = enabled }

func (c *Context) SetCipherList(ciphers string) error {
	if ciphers != "DEFAULT" && ciphers != "TLS_CHACHA20_POLY1305_SHA256" {
		return dtlserr.ErrNoCipher
	}
	c.ciphers = ciphers
	return nil
}

func (c *Context) SetCookieCallbacks(cb dtlscrypto.CookieCallbacks) { c.cookieCB = cb }

func (c *Context) LoadCertificate(certPEM, keyPEM []byte) error {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return err
	}
	priv, ok := cert.PrivateKey.(ed25519.PrivateKey)
	if !ok {
		return fmt.Errorf("refimpl: certificate key must be Ed25519, got %T", cert.PrivateKey)
	}
	c.privKey = priv
	c.pubKey = priv.Public().(ed25519.PublicKey)
	if len(cert.Certificate) > 0 {
		c.certDER = cert.Certificate[0]
	}
	return nil
}

func (c *Context) LoadVerifyLocations(caPEM []byte) error {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return fmt.Errorf("refimpl: no certificates parsed from CA bundle")
	}
	c.trustPool = pool
	return nil
}
