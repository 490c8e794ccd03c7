// Package cookie implements the stateless HMAC cookie exchange used to
// verify a client can receive at the address it claims before any per-peer
// cryptographic state is allocated.
package cookie

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"net/netip"

	"dtlsassoc/addrcodec"
)

// SecretSize is the length of the process-lifetime cookie secret.
const SecretSize = 16

// Engine generates and verifies cookies under a single secret fixed for the
// lifetime of the process. It is immutable after construction and therefore
// safe to share, unsynchronized, between a Listener and any goroutine
// invoking its callbacks.
type Engine struct {
	secret [SecretSize]byte
}

// NewEngine generates a fresh, cryptographically strong secret.
func NewEngine() (*Engine, error) {
	var secret [SecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, err
	}
	return &Engine{secret: secret}, nil
}

// Generate returns HMAC-SHA256(secret, serialize(addr)), truncated to the
// first 16 bytes — ample for a single-round-trip anti-spoofing check, and
// small enough to keep the cookie round trip itself from amplifying
// traffic. If addr's family cannot be encoded, Generate falls back to the
// address's string form rather than failing, since Engine's own contract
// (and dtlscrypto.CookieCallbacks beneath it) has no error return here.
func (e *Engine) Generate(addr netip.AddrPort) []byte {
	mac := hmac.New(sha256.New, e.secret[:])
	mac.Write(serialize(addr))
	return mac.Sum(nil)[:SecretSize]
}

// Verify reports whether presented is the cookie this Engine would generate
// for addr under its current secret. Comparison is constant-time.
func (e *Engine) Verify(addr netip.AddrPort, presented []byte) bool {
	want := e.Generate(addr)
	return hmac.Equal(want, presented)
}

// serialize packs addr through the same RawAddr wire shape the rest of the
// module uses for address material, so a cookie binds to exactly the tuple
// addrcodec would reconstruct — not a distinct, ad hoc encoding.
func serialize(addr netip.AddrPort) []byte {
	tuple, err := addrcodec.FromAddrPort(addr)
	if err != nil {
		return []byte(addr.String())
	}
	raw, err := addrcodec.Encode(tuple)
	if err != nil {
		return []byte(addr.String())
	}

	out := make([]byte, 0, 1+2+16+4+4)
	out = append(out, byte(raw.Family))
	var port [2]byte
	binary.BigEndian.PutUint16(port[:], raw.Port)
	out = append(out, port[:]...)
	out = append(out, raw.Host[:]...)
	var flow, scope [4]byte
	binary.BigEndian.PutUint32(flow[:], raw.FlowInfo)
	binary.BigEndian.PutUint32(scope[:], raw.ScopeID)
	out = append(out, flow[:]...)
	out = append(out, scope[:]...)
	return out
}
