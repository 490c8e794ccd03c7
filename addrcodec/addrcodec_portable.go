//go:build !unix

package addrcodec

// Encode packs t into RawAddr using a hand-rolled layout equivalent to the
// unix build's sockaddr-shaped one, for platforms golang.org/x/sys/unix does
// not cover.
func Encode(t Tuple) (RawAddr, error) {
	switch v := t.(type) {
	case Tuple4:
		var raw RawAddr
		raw.Family = FamilyIPv4
		raw.Port = v.Port
		copy(raw.Host[:4], v.Host[:])
		return raw, nil
	case Tuple6:
		return RawAddr{
			Family:   FamilyIPv6,
			Port:     v.Port,
			Host:     v.Host,
			FlowInfo: v.FlowInfo,
			ScopeID:  v.ScopeID,
		}, nil
	default:
		return RawAddr{}, ErrUnsupportedAddressFamily
	}
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
