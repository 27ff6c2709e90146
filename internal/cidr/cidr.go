// Package cidr converts IPv4 addresses and CIDR prefixes between their text
// form and the 32-bit integer form used by the allocator.
package cidr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParse is returned for malformed addresses and prefixes.
var ErrParse = errors.New("parse error")

// Mask returns the netmask for a prefix length. Lengths outside 0..32 are
// clamped.
func Mask(length int) uint32 {
	if length <= 0 {
		return 0
	}
	if length >= 32 {
		return ^uint32(0)
	}
	return ^uint32(0) << (32 - uint(length))
}

// Parse splits "a.b.c.d/len" into its network address, broadcast address and
// prefix length. Host bits in the address part are ignored.
func Parse(s string) (network, broadcast uint32, length int, err error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("%w: %q is not in a.b.c.d/len form", ErrParse, s)
	}

	addr, err := ParseIPv4(parts[0])
	if err != nil {
		return 0, 0, 0, err
	}

	if !isDigits(parts[1]) || len(parts[1]) > 2 {
		return 0, 0, 0, fmt.Errorf("%w: invalid prefix length %q", ErrParse, parts[1])
	}
	length, err = strconv.Atoi(parts[1])
	if err != nil || length > 32 {
		return 0, 0, 0, fmt.Errorf("%w: invalid prefix length %q", ErrParse, parts[1])
	}

	mask := Mask(length)
	network = addr & mask
	broadcast = network | ^mask
	return network, broadcast, length, nil
}

// Format renders a prefix in canonical form with host bits zeroed.
func Format(network uint32, length int) string {
	return FormatIPv4(network&Mask(length)) + "/" + strconv.Itoa(length)
}

// Canonical parses s and returns its canonical form.
func Canonical(s string) (string, error) {
	network, _, length, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(network, length), nil
}

// ParseIPv4 converts dotted-decimal notation to its integer form.
func ParseIPv4(s string) (uint32, error) {
	octets := strings.Split(strings.TrimSpace(s), ".")
	if len(octets) != 4 {
		return 0, fmt.Errorf("%w: %q is not a dotted-quad IPv4 address", ErrParse, s)
	}

	var addr uint32
	for _, octet := range octets {
		// Atoi accepts signs, so reject anything that is not plain digits.
		if !isDigits(octet) || len(octet) > 3 {
			return 0, fmt.Errorf("%w: invalid octet %q in %q", ErrParse, octet, s)
		}
		v, err := strconv.Atoi(octet)
		if err != nil || v > 255 {
			return 0, fmt.Errorf("%w: invalid octet %q in %q", ErrParse, octet, s)
		}
		addr = addr<<8 | uint32(v)
	}
	return addr, nil
}

// FormatIPv4 converts an integer address to dotted-decimal notation.
func FormatIPv4(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}

// StripHostLength removes an optional trailing "/32" from an address.
func StripHostLength(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, "/32")
}

// BlockSize returns the number of addresses in a prefix of the given length.
func BlockSize(length int) uint64 {
	if length < 0 {
		length = 0
	}
	if length > 32 {
		length = 32
	}
	return uint64(1) << (32 - uint(length))
}

func isDigits(s string) bool {
	return s != "" && strings.TrimLeft(s, "0123456789") == ""
}
