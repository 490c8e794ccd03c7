package dtlsctx

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"dtlsassoc/dtlserr"
)

// DefaultCiphers is used when Config.Ciphers is empty.
const DefaultCiphers = "DEFAULT"

// Context is the validated, immutable configuration shared by a Listener
// and the associations it spawns. There is no explicit Destroy: Go's
// garbage collector reclaims it once the last association referencing it is
// gone.
type Context struct {
	serverSide bool
	certReqs   int
	ciphers    string
	readAhead  bool
	material   loadedMaterial
}

// New validates cfg and loads any referenced certificate material,
// following the same fail-fast argument rules a standard TLS-socket
// constructor applies:
//   - KeyFile and CertFile must be specified together.
//   - A server-side Context requires both.
//   - CertReqs != CertNone requires CACerts.
func New(cfg Config) (*Context, error) {
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, dtlserr.ErrBothKeyAndCertRequired
	}
	if cfg.ServerSide && (cfg.CertFile == "" || cfg.KeyFile == "") {
		return nil, dtlserr.ErrServerRequiresKeyAndCert
	}
	if int(cfg.CertReqs) != 0 && len(cfg.CACerts) == 0 {
		return nil, dtlserr.ErrNoTrustAnchors
	}

	ciphers := cfg.Ciphers
	if ciphers == "" {
		ciphers = DefaultCiphers
	}
	if !supportedCipherList(ciphers) {
		return nil, dtlserr.ErrNoCipher
	}

	c := &Context{
		serverSide: cfg.ServerSide,
		certReqs:   int(cfg.CertReqs),
		ciphers:    ciphers,
		readAhead:  cfg.ReadAhead,
	}

	if cfg.CertFile != "" {
		pair, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("dtlsctx: loading certificate/key: %w", err)
		}
		c.material.keyPair = &pair
		c.material.hasCerts = true
	}

	if len(cfg.CACerts) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.CACerts) {
			return nil, fmt.Errorf("dtlsctx: no certificates parsed from CACerts")
		}
		c.material.caPool = pool
	}

	return c, nil
}

// supportedCipherList reports whether ciphers names a selector this engine
// understands. The reference crypto implementation speaks exactly one
// suite, so any nonempty selector other than the well-known "DEFAULT" or
// that suite's own name, "TLS_CHACHA20_POLY1305_SHA256", is rejected rather
// than silently ignored.
func supportedCipherList(ciphers string) bool {
	return ciphers == DefaultCiphers || ciphers == "TLS_CHACHA20_POLY1305_SHA256"
}

// ServerSide reports the configured role.
func (c *Context) ServerSide() bool { return c.serverSide }

// ReadAhead reports whether read-ahead buffering is enabled.
func (c *Context) ReadAhead() bool { return c.readAhead }

// Ciphers returns the configured cipher-list selector.
func (c *Context) Ciphers() string { return c.ciphers }

// CertReqs returns the configured verification strictness.
func (c *Context) CertReqs() int { return c.certReqs }

// KeyPair returns the loaded certificate/key pair, if any was configured.
func (c *Context) KeyPair() (*tls.Certificate, bool) {
	return c.material.keyPair, c.material.hasCerts
}

// TrustAnchors returns the loaded CA pool, if any was configured.
func (c *Context) TrustAnchors() (*x509.CertPool, bool) {
	return c.material.caPool, c.material.caPool != nil
}
