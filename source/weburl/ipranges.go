package weburl

import (
	"net"
)

// Reserved ranges that the net.IP predicates do not cover. Parsed once at
// package initialization.
var reservedNets = mustParseCIDRs(
	"0.0.0.0/8",          // "this" network
	"100.64.0.0/10",      // carrier-grade NAT
	"192.0.0.0/24",       // IETF protocol assignments
	"192.0.2.0/24",       // TEST-NET-1
	"198.18.0.0/15",      // benchmarking
	"198.51.100.0/24",    // TEST-NET-2
	"203.0.113.0/24",     // TEST-NET-3
	"240.0.0.0/4",        // reserved for future use
	"255.255.255.255/32", // limited broadcast
	"100::/64",           // discard-only
	"2001:db8::/32",      // documentation
)

var nat64Net = mustParseCIDRs("64:ff9b::/96")[0]

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR " + cidr + ": " + err.Error())
		}
		nets = append(nets, n)
	}
	return nets
}

// IsBlockedIP reports whether ip is private, loopback, link-local, multicast,
// unspecified or otherwise reserved. IPv4-mapped IPv6 addresses and NAT64
// addresses are checked against their embedded IPv4 address.
func IsBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	} else if nat64Net.Contains(ip) {
		return IsBlockedIP(net.IP(ip[12:16]))
	}

	if ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return true
	}

	for _, n := range reservedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
