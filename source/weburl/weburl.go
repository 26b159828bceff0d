// Package weburl decides whether a URL may be dereferenced by the fetch layer.
// It implements SSRF prevention: scheme allow-listing, host deny patterns, and
// private/reserved IP detection for both literal and resolved addresses.
package weburl

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/net/idna"
)

// HostKind describes how the host of a URL was written.
type HostKind int

const (
	// KindUnknown is used when the URL could not be parsed far enough to tell.
	KindUnknown HostKind = iota
	// KindIPLiteral is a host written as an IPv4 or IPv6 address.
	KindIPLiteral
	// KindDomain is a host name that needs resolution.
	KindDomain
)

func (k HostKind) String() string {
	switch k {
	case KindIPLiteral:
		return "ip_literal"
	case KindDomain:
		return "domain"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of a classification.
type Verdict int

const (
	// VerdictUnsafe means the URL must not be requested.
	VerdictUnsafe Verdict = iota
	// VerdictSafe means the URL may be requested.
	VerdictSafe
)

func (v Verdict) String() string {
	if v == VerdictSafe {
		return "safe"
	}
	return "unsafe"
}

// Classification is the derived fact about a URL's host. It is computed
// fresh on every call and never cached, since domains can rebind.
type Classification struct {
	Kind              HostKind
	Host              string
	ResolvedAddresses []net.IP
	Verdict           Verdict
	Reason            string

	// Err is the resolver error behind an unsafe verdict, if any. Callers
	// use it to tell an expired context apart from a host that is blocked.
	Err error
}

// Safe reports whether the verdict allows the request.
func (c Classification) Safe() bool {
	return c.Verdict == VerdictSafe
}

// DefaultBlockedHosts are host glob patterns rejected before any DNS lookup.
var DefaultBlockedHosts = []string{
	"*.local",
	"*.internal",
	"*.localhost",
	"metadata.google.internal",
}

// Classifier validates URLs before the fetch layer opens a connection.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	resolver     Resolver
	blockedHosts []string
	logger       *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithResolver sets the resolver used for domain hosts.
func WithResolver(r Resolver) Option {
	return func(c *Classifier) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithBlockedHosts replaces the host deny patterns. Patterns use glob syntax
// and are matched against the lower-cased ASCII host name.
func WithBlockedHosts(patterns []string) Option {
	return func(c *Classifier) {
		c.blockedHosts = normalizePatterns(patterns)
	}
}

// WithLogger sets the logger for rejected URLs.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClassifier creates a classifier using the system resolver and the
// default host deny patterns unless overridden by options.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		resolver:     SystemResolver(),
		blockedHosts: normalizePatterns(DefaultBlockedHosts),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidatePatterns reports the first malformed host glob pattern.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(strings.ToLower(strings.TrimSpace(p))) {
			return fmt.Errorf("invalid host pattern %q", p)
		}
	}
	return nil
}

// IsSafeURL reports whether rawURL may be requested.
func (c *Classifier) IsSafeURL(ctx context.Context, rawURL string) bool {
	return c.Classify(ctx, rawURL).Safe()
}

// Classify parses rawURL and decides whether it may be requested. The only
// side effect is a DNS lookup for domain hosts. Resolution failures are
// treated as unsafe and are not retried.
func (c *Classifier) Classify(ctx context.Context, rawURL string) Classification {
	result := c.classify(ctx, rawURL)
	if !result.Safe() {
		c.logger.Debug("URL rejected",
			"url", rawURL,
			"host", result.Host,
			"kind", result.Kind.String(),
			"reason", result.Reason)
	}
	return result
}

func (c *Classifier) classify(ctx context.Context, rawURL string) Classification {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return unsafe(KindUnknown, "", "invalid URL: "+err.Error())
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return unsafe(KindUnknown, parsed.Hostname(), fmt.Sprintf("scheme %q is not allowed", parsed.Scheme))
	}

	host := parsed.Hostname()
	if host == "" {
		return unsafe(KindUnknown, "", "URL has no host")
	}

	if ip := parseIPLiteral(host); ip != nil {
		if IsBlockedIP(ip) {
			return Classification{
				Kind:              KindIPLiteral,
				Host:              host,
				ResolvedAddresses: []net.IP{ip},
				Verdict:           VerdictUnsafe,
				Reason:            fmt.Sprintf("address %s is in a blocked range", ip),
			}
		}
		return Classification{
			Kind:              KindIPLiteral,
			Host:              host,
			ResolvedAddresses: []net.IP{ip},
			Verdict:           VerdictSafe,
		}
	}

	asciiHost, err := idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil {
		return unsafe(KindDomain, host, "invalid host name: "+err.Error())
	}
	asciiHost = strings.ToLower(asciiHost)

	if asciiHost == "localhost" {
		return unsafe(KindDomain, host, "localhost is not allowed")
	}
	if pattern, ok := c.matchBlockedHost(asciiHost); ok {
		return unsafe(KindDomain, host, fmt.Sprintf("host matches blocked pattern %q", pattern))
	}

	addrs, err := c.resolver.LookupIPAddr(ctx, asciiHost)
	if err != nil {
		result := unsafe(KindDomain, host, "resolution failed: "+err.Error())
		result.Err = err
		return result
	}
	if len(addrs) == 0 {
		return unsafe(KindDomain, host, "resolution returned no addresses")
	}

	resolved := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		resolved = append(resolved, addr.IP)
	}
	// Every answer is checked; a single private record poisons the host.
	for _, ip := range resolved {
		if IsBlockedIP(ip) {
			return Classification{
				Kind:              KindDomain,
				Host:              host,
				ResolvedAddresses: resolved,
				Verdict:           VerdictUnsafe,
				Reason:            fmt.Sprintf("resolves to blocked address %s", ip),
			}
		}
	}

	return Classification{
		Kind:              KindDomain,
		Host:              host,
		ResolvedAddresses: resolved,
		Verdict:           VerdictSafe,
	}
}

func (c *Classifier) matchBlockedHost(host string) (string, bool) {
	for _, pattern := range c.blockedHosts {
		if ok, err := doublestar.Match(pattern, host); err == nil && ok {
			return pattern, true
		}
	}
	return "", false
}

func unsafe(kind HostKind, host, reason string) Classification {
	return Classification{Kind: kind, Host: host, Verdict: VerdictUnsafe, Reason: reason}
}

// parseIPLiteral accepts dotted IPv4, IPv6 and IPv6 with a zone suffix.
func parseIPLiteral(host string) net.IP {
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	return net.ParseIP(host)
}

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExtractOrigin returns the scheme, lower-cased host and effective port of a
// parsed URL. Default ports are filled in so that http://a and http://a:80
// compare equal.
func ExtractOrigin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + net.JoinHostPort(strings.ToLower(u.Hostname()), port)
}
