package device

import (
	"fmt"
	"strings"
)

// ValidateAddress accepts a 48-bit MAC address ("7E:7D:A3:FC:06:C9", ':' or '-' separated)
// or a CoreBluetooth peripheral UUID, which macOS reports instead of a MAC.
func ValidateAddress(address string) error {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return fmt.Errorf("device address is empty")
	}

	if len(addr) == 36 {
		if isHex(strings.ReplaceAll(addr, "-", "")) && strings.Count(addr, "-") == 4 {
			return nil
		}
		return fmt.Errorf("invalid peripheral UUID %q", address)
	}

	sep := ":"
	if strings.Contains(addr, "-") {
		sep = "-"
	}
	octets := strings.Split(addr, sep)
	if len(octets) != 6 {
		return fmt.Errorf("invalid device address %q: want 6 octets, got %d", address, len(octets))
	}
	for _, o := range octets {
		if len(o) != 2 || !isHex(o) {
			return fmt.Errorf("invalid device address %q: bad octet %q", address, o)
		}
	}
	return nil
}

// SameAddress reports whether two address strings name the same peripheral.
// Hex case and the ':'/'-' separator are presentation only.
func SameAddress(a, b string) bool {
	norm := func(s string) string {
		return strings.ReplaceAll(strings.TrimSpace(s), "-", ":")
	}
	return strings.EqualFold(norm(a), norm(b))
}
