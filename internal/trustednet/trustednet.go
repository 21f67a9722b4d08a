// Package trustednet holds the parse-once, query-per-request allowlist of
// networks a request may legitimately originate from. Both services use it to
// verify that traffic arrived through the trusted edge proxy rather than
// hitting their direct address.
package trustednet

import (
	"fmt"
	"net/netip"
	"strings"
)

// DefaultEdgeIPv4 are the edge provider's published IPv4 ranges.
// Source: https://www.cloudflare.com/ips-v4
var DefaultEdgeIPv4 = []string{
	"173.245.48.0/20",
	"103.21.244.0/22",
	"103.22.200.0/22",
	"103.31.4.0/22",
	"141.101.64.0/18",
	"108.162.192.0/18",
	"190.93.240.0/20",
	"188.114.96.0/20",
	"197.234.240.0/22",
	"198.41.128.0/17",
	"162.158.0.0/15",
	"104.16.0.0/13",
	"104.24.0.0/14",
	"172.64.0.0/13",
	"131.0.72.0/22",
}

// DefaultEdgeIPv6 are the edge provider's published IPv6 ranges.
// Source: https://www.cloudflare.com/ips-v6
var DefaultEdgeIPv6 = []string{
	"2400:cb00::/32",
	"2606:4700::/32",
	"2803:f800::/32",
	"2405:b500::/32",
	"2405:8100::/32",
	"2a06:98c0::/29",
	"2c0f:f248::/32",
}

// Network is an immutable set of CIDR ranges parsed once at startup.
type Network struct {
	prefixes []netip.Prefix
}

// Parse builds a Network from CIDR strings. Whitespace-only entries are
// skipped; any malformed entry fails the whole parse so a typo in
// configuration cannot silently shrink the allowlist.
func Parse(cidrs ...string) (*Network, error) {
	n := &Network{}
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("parse cidr %q: %w", raw, err)
		}
		n.prefixes = append(n.prefixes, prefix.Masked())
	}
	return n, nil
}

// MustParse is Parse for the compiled-in default lists.
func MustParse(cidrs ...string) *Network {
	n, err := Parse(cidrs...)
	if err != nil {
		panic(err)
	}
	return n
}

// DefaultEdge returns the allowlist built from the compiled-in edge provider
// ranges, both address families.
func DefaultEdge() *Network {
	return MustParse(append(append([]string{}, DefaultEdgeIPv4...), DefaultEdgeIPv6...)...)
}

// Contains reports whether the address falls inside any configured range.
// An empty Network contains nothing, so a misconfigured allowlist fails
// closed rather than open.
func (n *Network) Contains(addr netip.Addr) bool {
	if n == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range n.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ContainsString parses the address and reports containment. Unparseable
// addresses are never contained.
func (n *Network) ContainsString(raw string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return n.Contains(addr)
}

// Empty reports whether the allowlist has no ranges at all.
func (n *Network) Empty() bool {
	return n == nil || len(n.prefixes) == 0
}
