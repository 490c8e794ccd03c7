//go:build unix

package addrcodec

import "golang.org/x/sys/unix"

// Encode packs t into RawAddr by round-tripping through a genuine
// unix.RawSockaddrInet4/RawSockaddrInet6 value: family, address, and for
// IPv6 the flow label and scope id are carried as those structs' own
// fields, and the port is stored the way the kernel actually stores it —
// network byte order, via htons/ntohs — rather than assumed to already
// match RawAddr's host-order convention. This is the closest portable
// analog on unix platforms to a crypto library's BIO_ADDR, and it is the
// one place in this package where getting the wire byte order wrong would
// silently corrupt every cookie and peer lookup keyed on the result.
func Encode(t Tuple) (RawAddr, error) {
	switch v := t.(type) {
	case Tuple4:
		var sa unix.RawSockaddrInet4
		sa.Family = unix.AF_INET
		sa.Addr = v.Host
		sa.Port = htons(v.Port)
		return RawAddr{
			Family: FamilyIPv4,
			Port:   ntohs(sa.Port),
			Host:   [16]byte{sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3]},
		}, nil
	case Tuple6:
		var sa unix.RawSockaddrInet6
		sa.Family = unix.AF_INET6
		sa.Addr = v.Host
		sa.Port = htons(v.Port)
		sa.Flowinfo = v.FlowInfo
		sa.Scope_id = v.ScopeID
		return RawAddr{
			Family:   FamilyIPv6,
			Port:     ntohs(sa.Port),
			Host:     sa.Addr,
			FlowInfo: sa.Flowinfo,
			ScopeID:  sa.Scope_id,
		}, nil
	default:
		return RawAddr{}, ErrUnsupportedAddressFamily
	}
}

// htons converts a uint16 from host to network byte order; ntohs is its own
// inverse, so the same implementation serves both directions.
func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

func ntohs(v uint16) uint16 {
	return htons(v)
}

// Decode is the inverse of Encode.
func Decode(raw RawAddr) (Tuple, error) {
	switch raw.Family {
	case FamilyIPv4:
		var t Tuple4
		copy(t.Host[:], raw.Host[:4])
		t.Port = raw.Port
		return t, nil
	case FamilyIPv6:
		return Tuple6{
			Host:     raw.Host,
			Port:     raw.Port,
			FlowInfo: raw.FlowInfo,
			ScopeID:  raw.ScopeID,
		}, nil
	default:
		return nil, ErrUnsupportedAddressFamily
	}
}
