// Package dtlsctx configures the per-process DTLS parameters: certificates,
// verify mode, cipher selection, and read-ahead. Context is the engine's
// configuration object; because application-level CLI or config-file
// loading is out of this engine's scope, Config is populated by the
// embedding application directly.
package dtlsctx

import (
	"crypto/tls"
	"crypto/x509"

	"dtlsassoc/dtlscrypto"
)

// Config is the caller-supplied configuration for a Context. It mirrors the
// fields of a standard TLS-socket constructor.
type Config struct {
	// ServerSide marks a server-role Context; New then requires CertFile
	// and KeyFile to be set.
	ServerSide bool
	// CertFile and KeyFile, if set, must be set together.
	CertFile, KeyFile string
	// CACerts is a PEM bundle of trust anchors.
	CACerts []byte
	// CertReqs selects the verification strictness. Zero value is
	// dtlscrypto.CertNone.
	CertReqs dtlscrypto.CertReqs
	// Ciphers is a cipher-list selector string; "" defaults to "DEFAULT".
	Ciphers string
	// ReadAhead enables buffering multiple DTLS records from one
	// underlying datagram read.
	ReadAhead bool
}

// loadedMaterial holds the parsed certificate/key pair and trust pool a
// Context carries after validation.
type loadedMaterial struct {
	keyPair  *tls.Certificate
	caPool   *x509.CertPool
	hasCerts bool
}
