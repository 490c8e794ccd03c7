package addrcodec

import (
	"net/netip"
	"testing"
)

func TestRoundTripIPv4(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{
			name: "encode-decode preserves host and port",
			fn: func(t *testing.T) {
				in := Tuple4{Host: [4]byte{127, 0, 0, 1}, Port: 4433}
				raw, err := Encode(in)
				if err != nil {
					t.Fatalf("Encode: %v", err)
				}
				out, err := Decode(raw)
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				got, ok := out.(Tuple4)
				if !ok {
					t.Fatalf("Decode returned %T, want Tuple4", out)
				}
				if got != in {
					t.Fatalf("round trip mismatch: got %+v, want %+v", got, in)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func TestRoundTripIPv6(t *testing.T) {
	in := Tuple6{
		Host:     [16]byte{0: 0xfe, 1: 0x80, 15: 1},
		Port:     443,
		FlowInfo: 7,
		ScopeID:  2,
	}
	raw, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := out.(Tuple6)
	if !ok {
		t.Fatalf("Decode returned %T, want Tuple6", out)
	}
	if got != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, in)
	}
}

func TestFromAddrPortToAddrPort(t *testing.T) {
	ap := netip.MustParseAddrPort("192.0.2.1:9000")
	tuple, err := FromAddrPort(ap)
	if err != nil {
		t.Fatalf("FromAddrPort: %v", err)
	}
	back, err := ToAddrPort(tuple)
	if err != nil {
		t.Fatalf("ToAddrPort: %v", err)
	}
	if back != ap {
		t.Fatalf("got %v, want %v", back, ap)
	}
}
