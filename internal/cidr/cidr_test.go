package cidr

import (
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		network   string
		broadcast string
		length    int
		wantErr   bool
	}{
		{"canonical /24", "10.0.0.0/24", "10.0.0.0", "10.0.0.255", 24, false},
		{"host bits are zeroed", "10.1.2.3/16", "10.1.0.0", "10.1.255.255", 16, false},
		{"default route", "1.2.3.4/0", "0.0.0.0", "255.255.255.255", 0, false},
		{"host route", "192.168.1.7/32", "192.168.1.7", "192.168.1.7", 32, false},
		{"point-to-point", "172.16.0.3/31", "172.16.0.2", "172.16.0.3", 31, false},
		{"top of space", "255.255.255.255/1", "128.0.0.0", "255.255.255.255", 1, false},
		{"missing length", "10.0.0.0", "", "", 0, true},
		{"two slashes", "10.0.0.0/8/8", "", "", 0, true},
		{"length too long", "10.0.0.0/33", "", "", 0, true},
		{"negative length", "10.0.0.0/-1", "", "", 0, true},
		{"signed length", "10.0.0.0/+8", "", "", 0, true},
		{"negative zero length", "10.0.0.0/-0", "", "", 0, true},
		{"empty length", "10.0.0.0/", "", "", 0, true},
		{"padded length", "10.0.0.0/008", "", "", 0, true},
		{"octet out of range", "10.0.256.0/24", "", "", 0, true},
		{"three octets", "10.0.0/24", "", "", 0, true},
		{"signed octet", "10.+1.0.0/24", "", "", 0, true},
		{"empty", "", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, broadcast, length, err := Parse(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrParse) {
					t.Fatalf("Parse(%q) error = %v, want ErrParse", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.in, err)
			}
			if got := FormatIPv4(network); got != tt.network {
				t.Errorf("network = %s, want %s", got, tt.network)
			}
			if got := FormatIPv4(broadcast); got != tt.broadcast {
				t.Errorf("broadcast = %s, want %s", got, tt.broadcast)
			}
			if length != tt.length {
				t.Errorf("length = %d, want %d", length, tt.length)
			}
		})
	}
}

func TestIPv4RoundTrip(t *testing.T) {
	for _, s := range []string{"0.0.0.0", "10.0.0.1", "192.168.255.254", "255.255.255.255"} {
		v, err := ParseIPv4(s)
		if err != nil {
			t.Fatalf("ParseIPv4(%q) error: %v", s, err)
		}
		if got := FormatIPv4(v); got != s {
			t.Errorf("round trip of %q gave %q", s, got)
		}
	}

	for _, bad := range []string{"1.2.3", "1.2.3.4.5", "a.b.c.d", "1..2.3", "1.2.3.1000"} {
		if _, err := ParseIPv4(bad); !errors.Is(err, ErrParse) {
			t.Errorf("ParseIPv4(%q) error = %v, want ErrParse", bad, err)
		}
	}
}

func TestStripHostLength(t *testing.T) {
	if got := StripHostLength("10.0.0.1/32"); got != "10.0.0.1" {
		t.Errorf("got %q", got)
	}
	if got := StripHostLength(" 10.0.0.1 "); got != "10.0.0.1" {
		t.Errorf("got %q", got)
	}
	// Only /32 is a host length.
	if got := StripHostLength("10.0.0.1/31"); got != "10.0.0.1/31" {
		t.Errorf("got %q", got)
	}
}

func TestFormatIsCanonical(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		addr := rapid.Uint32().Draw(t, "addr")
		length := rapid.IntRange(0, 32).Draw(t, "length")

		s := fmt.Sprintf("%s/%d", FormatIPv4(addr), length)
		network, broadcast, gotLen, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if gotLen != length {
			t.Fatalf("length %d != %d", gotLen, length)
		}
		if network > broadcast {
			t.Fatalf("network %d > broadcast %d", network, broadcast)
		}
		if network != addr&Mask(length) {
			t.Fatalf("host bits not zeroed for %q", s)
		}
		if uint64(broadcast-network)+1 != BlockSize(length) {
			t.Fatalf("range size mismatch for %q", s)
		}

		canonical := Format(network, gotLen)
		again, err := Canonical(canonical)
		if err != nil {
			t.Fatalf("Canonical(%q): %v", canonical, err)
		}
		if again != canonical {
			t.Fatalf("canonical form not stable: %q -> %q", canonical, again)
		}
	})
}
