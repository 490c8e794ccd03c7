// Package addrcodec converts between host address tuples and the fixed-size
// wire representation a DTLS cookie or a crypto library's BIO_ADDR-alike
// structure needs: a 2-tuple for IPv4, a 4-tuple (adding flow label and
// scope id) for IPv6.
package addrcodec

import (
	"errors"
	"net/netip"
	"strconv"
)

// ErrUnsupportedAddressFamily is returned by Encode when the platform codec
// cannot represent the given tuple's address family.
var ErrUnsupportedAddressFamily = errors.New("addrcodec: unsupported address family")

// Family identifies which tuple shape a RawAddr carries.
type Family uint8

const (
	FamilyIPv4 Family = iota + 1
	FamilyIPv6
)

// Tuple is the sum type Encode/Decode operate over. Only Tuple4 and Tuple6
// implement it.
type Tuple interface {
	isTuple()
}

// Tuple4 is the IPv4 (host, port) pair.
type Tuple4 struct {
	Host [4]byte
	Port uint16
}

func (Tuple4) isTuple() {}

// Tuple6 is the IPv6 (host, port, flowinfo, scope_id) tuple.
type Tuple6 struct {
	Host     [16]byte
	Port     uint16
	FlowInfo uint32
	ScopeID  uint32
}

func (Tuple6) isTuple() {}

// RawAddr is the opaque, fixed-size storage representation, analogous to a
// BIO_ADDR: a family tag plus enough bytes for the largest supported host
// address, plus the IPv6-only fields.
type RawAddr struct {
	Family   Family
	Port     uint16
	Host     [16]byte // low 4 bytes significant for FamilyIPv4
	FlowInfo uint32   // IPv6 only
	ScopeID  uint32   // IPv6 only
}

// FromAddrPort converts a netip.AddrPort into the Tuple shape matching its
// address family. IPv4-mapped IPv6 addresses are unmapped first.
func FromAddrPort(ap netip.AddrPort) (Tuple, error) {
	addr := ap.Addr().Unmap()
	switch {
	case addr.Is4():
		return Tuple4{Host: addr.As4(), Port: ap.Port()}, nil
	case addr.Is6():
		var scope uint32
		if z := addr.Zone(); z != "" {
			// Numeric zones decode trivially; symbolic zones (platform
			// interface names) have no portable numeric form here and are
			// left as scope 0 — resolving them is a platform address-family
			// conversion, which is out of scope for this package.
			if n, err := strconv.ParseUint(z, 10, 32); err == nil {
				scope = uint32(n)
			}
		}
		return Tuple6{Host: addr.As16(), Port: ap.Port(), ScopeID: scope}, nil
	default:
		return nil, ErrUnsupportedAddressFamily
	}
}

// ToAddrPort converts a Tuple back into a netip.AddrPort, dropping
// FlowInfo/ScopeID (netip.AddrPort carries a string zone, not a numeric
// scope id; callers that need the numeric scope should use Tuple6 directly).
func ToAddrPort(t Tuple) (netip.AddrPort, error) {
	switch v := t.(type) {
	case Tuple4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Host), v.Port), nil
	case Tuple6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Host), v.Port), nil
	default:
		return netip.AddrPort{}, ErrUnsupportedAddressFamily
	}
}
