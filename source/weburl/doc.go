// Package weburl classifies URLs for the safe fetch layer.
//
// # Overview
//
// A Classifier decides whether a URL may be dereferenced. It is the first
// step of every hop the fetch layer makes, including every redirect target,
// so that no socket is opened for a host that failed validation.
//
// # Classification
//
// Classify applies these checks in order:
//
//   - The URL must parse and carry a host
//   - The scheme must be http or https
//   - IP literals are rejected when private, loopback, link-local,
//     multicast, unspecified or reserved
//   - "localhost" and hosts matching the deny patterns are rejected
//   - Domain names are resolved and rejected if any answer is blocked,
//     if resolution fails, or if it returns nothing
//
// Results are never cached. A domain can answer differently between two
// lookups, so the fetch layer also re-checks addresses at dial time.
//
// # Blocked ranges
//
// IsBlockedIP covers RFC 1918, RFC 3927 (including the cloud metadata
// address 169.254.169.254), RFC 5735 / RFC 6890 special-purpose ranges,
// CGNAT, IPv6 unique local and link-local, documentation prefixes, and
// IPv4-mapped or NAT64 forms of any of these.
//
// # Resolvers
//
// The default resolver is the system resolver. DNSResolver queries a fixed
// upstream nameserver over miekg/dns, and StaticResolver answers from a
// table for tests and pinned deployments.
//
// # Usage
//
//	c := weburl.NewClassifier()
//	if !c.IsSafeURL(ctx, "https://example.com/feed") {
//	    return errBlocked
//	}
package weburl
