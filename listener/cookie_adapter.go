package listener

import (
	"net/netip"

	"dtlsassoc/cookie"
)

// cookieAdapter adapts *cookie.Engine to dtlscrypto.CookieCallbacks: the
// engine's Generate never fails, but the crypto-library interface models a
// callback that can, so Generate here always returns a nil error.
type cookieAdapter struct {
	engine *cookie.Engine
}

func (c cookieAdapter) Generate(addr netip.AddrPort) ([]byte, error) {
	return c.engine.Generate(addr), nil
}

func (c cookieAdapter) Verify(addr netip.AddrPort, presented []byte) bool {
	return c.engine.Verify(addr, presented)
}
