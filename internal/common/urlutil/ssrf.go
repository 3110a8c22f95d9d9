package urlutil

import (
	"fmt"
	"net/netip"
	"strings"
)

// privateRanges are private and reserved prefixes a screenshot target may not point at
var privateRanges = []netip.Prefix{
	// IPv4
	netip.MustParsePrefix("127.0.0.0/8"),    // loopback
	netip.MustParsePrefix("10.0.0.0/8"),     // RFC 1918
	netip.MustParsePrefix("172.16.0.0/12"),  // RFC 1918
	netip.MustParsePrefix("192.168.0.0/16"), // RFC 1918
	netip.MustParsePrefix("169.254.0.0/16"), // link-local, includes cloud metadata
	netip.MustParsePrefix("100.64.0.0/10"),  // CGNAT
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("224.0.0.0/4"), // multicast

	// IPv6
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("ff00::/8"),
}

// IsPrivateIP reports whether addr belongs to a private or reserved range.
// IPv4-mapped IPv6 addresses are checked as IPv4.
func IsPrivateIP(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range privateRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ValidateHostNotPrivateIP rejects IP literals in private ranges and the localhost name.
// No DNS resolution happens here, so other domain names pass through.
func ValidateHostNotPrivateIP(hostname string) error {
	h := strings.TrimSuffix(strings.ToLower(hostname), ".")
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return fmt.Errorf("hostname points to loopback: %s", hostname)
	}

	addr, err := netip.ParseAddr(strings.Trim(h, "[]"))
	if err != nil {
		return nil
	}

	if IsPrivateIP(addr) {
		return fmt.Errorf("hostname is a private/reserved IP address: %s", hostname)
	}
	return nil
}
