package helpers

import "testing"

func TestParseHexUint32(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"0x2", 2, true},
		{"2", 2, true},
		{"0xffffffff", 0xffffffff, true},
		{"", 0, false},
		{"0x", 0, false},
		{"zz", 0, false},
		{"0x100000000", 0, false}, // overflows u32
	}
	for _, tc := range cases {
		got, ok := ParseHexUint32(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseHexUint32(%q) = %d, %v; want %d, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseHexUint64(t *testing.T) {
	got, ok := ParseHexUint64("0xfde8")
	if !ok || got != 65000 {
		t.Errorf("ParseHexUint64 = %d, %v", got, ok)
	}
	if _, ok := ParseHexUint64(""); ok {
		t.Error("empty string should not parse")
	}
}

func TestParseHexUint128(t *testing.T) {
	v, ok := ParseHexUint128("0xffffffffffffffffffffffffffffffff")
	if !ok {
		t.Fatal("max u128 should parse")
	}
	if v.BitLen() != 128 {
		t.Errorf("bitlen = %d", v.BitLen())
	}

	if _, ok := ParseHexUint128("0x100000000000000000000000000000000"); ok {
		t.Error("2^128 should be rejected")
	}
	if _, ok := ParseHexUint128(""); ok {
		t.Error("empty string should not parse")
	}
}

func TestHexBytesRoundTrip(t *testing.T) {
	b, err := HexToBytes("0xdeadbeef")
	if err != nil {
		t.Fatalf("HexToBytes error = %v", err)
	}
	if BytesToHex(b) != "deadbeef" {
		t.Errorf("round trip = %q", BytesToHex(b))
	}
}
