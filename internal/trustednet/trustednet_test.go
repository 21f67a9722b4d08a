package trustednet

import (
	"net/netip"
	"testing"
)

func TestDefaultEdgeContains(t *testing.T) {
	edge := DefaultEdge()
	cases := []struct {
		addr string
		want bool
	}{
		{"173.245.48.1", true},
		{"104.16.0.1", true},
		{"104.27.255.254", true},
		{"2400:cb00::1", true},
		{"2606:4700:4700::1111", true},
		{"127.0.0.1", false},
		{"10.0.0.1", false},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}
	for _, tc := range cases {
		if got := edge.ContainsString(tc.addr); got != tc.want {
			t.Errorf("Contains(%s) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestContainsUnmapsIPv4InIPv6(t *testing.T) {
	edge := DefaultEdge()
	mapped := netip.MustParseAddr("::ffff:173.245.48.1")
	if !edge.Contains(mapped) {
		t.Fatal("v4-mapped address not matched against v4 ranges")
	}
}

func TestEmptyNetworkFailsClosed(t *testing.T) {
	var nilNet *Network
	if nilNet.Contains(netip.MustParseAddr("1.2.3.4")) {
		t.Fatal("nil network contained an address")
	}
	if !nilNet.Empty() {
		t.Fatal("nil network not reported empty")
	}

	empty, err := Parse()
	if err != nil {
		t.Fatal(err)
	}
	if empty.Contains(netip.MustParseAddr("1.2.3.4")) {
		t.Fatal("empty network contained an address")
	}
	if !empty.Empty() {
		t.Fatal("empty network not reported empty")
	}
}

func TestParseRejectsMalformedEntry(t *testing.T) {
	if _, err := Parse("10.0.0.0/8", "not-a-cidr"); err == nil {
		t.Fatal("malformed CIDR accepted")
	}
	// Bare addresses without a prefix are also rejected.
	if _, err := Parse("10.0.0.1"); err == nil {
		t.Fatal("bare address accepted as CIDR")
	}
}

func TestParseSkipsBlankEntries(t *testing.T) {
	n, err := Parse(" 10.0.0.0/8 ", "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if !n.ContainsString("10.1.2.3") {
		t.Fatal("trimmed CIDR not matched")
	}
	if n.ContainsString("not an ip") {
		t.Fatal("garbage address contained")
	}
}
