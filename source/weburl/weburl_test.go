package weburl

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"
)

func newTestClassifier(table StaticResolver) *Classifier {
	return NewClassifier(WithResolver(table))
}

func TestClassify_Schemes(t *testing.T) {
	c := newTestClassifier(StaticResolver{"example.com": {"93.184.216.34"}})

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"http allowed", "http://example.com/feed", true},
		{"https allowed", "https://example.com/feed", true},
		{"uppercase scheme allowed", "HTTPS://example.com/", true},
		{"file rejected", "file:///etc/passwd", false},
		{"ftp rejected", "ftp://example.com/file", false},
		{"javascript rejected", "javascript:alert(1)", false},
		{"gopher rejected", "gopher://example.com:70/", false},
		{"data rejected", "data:text/plain,hello", false},
		{"no scheme rejected", "example.com/feed", false},
		{"missing host rejected", "http:///feed", false},
		{"invalid URL rejected", "http://[::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsSafeURL(context.Background(), tt.url); got != tt.want {
				t.Errorf("IsSafeURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestClassify_IPLiterals(t *testing.T) {
	// No table entries: IP literals must never reach the resolver.
	c := newTestClassifier(StaticResolver{})

	tests := []struct {
		url  string
		want bool
	}{
		{"http://127.0.0.1/", false},
		{"http://127.10.20.30:8080/", false},
		{"http://10.0.0.1/", false},
		{"http://10.255.255.255/", false},
		{"http://172.16.0.1/", false},
		{"http://172.31.255.255/", false},
		{"http://192.168.1.1/", false},
		{"http://169.254.169.254/latest/meta-data/", false},
		{"http://169.254.0.1/", false},
		{"http://0.0.0.0/", false},
		{"http://100.64.0.1/", false},
		{"http://224.0.0.1/", false},
		{"http://240.0.0.1/", false},
		{"http://255.255.255.255/", false},
		{"http://[::1]/", false},
		{"http://[fe80::1]/", false},
		{"http://[fc00::1]/", false},
		{"http://[::ffff:127.0.0.1]/", false},
		{"http://[::ffff:169.254.169.254]/", false},
		{"http://[64:ff9b::a00:1]/", false},
		{"http://[ff02::1]/", false},
		{"http://8.8.8.8/", true},
		{"https://1.1.1.1/", true},
		{"http://172.32.0.1/", true},
		{"http://[2606:4700:4700::1111]/", true},
		{"http://[::ffff:8.8.8.8]/", true},
		{"http://[64:ff9b::808:808]/", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got := c.Classify(context.Background(), tt.url)
			if got.Safe() != tt.want {
				t.Errorf("Classify(%q) verdict = %v (%s), want safe=%v", tt.url, got.Verdict, got.Reason, tt.want)
			}
			if got.Kind != KindIPLiteral {
				t.Errorf("Classify(%q) kind = %v, want %v", tt.url, got.Kind, KindIPLiteral)
			}
		})
	}
}

func TestClassify_Domains(t *testing.T) {
	table := StaticResolver{
		"example.com":           {"93.184.216.34"},
		"internal-looking.com":  {"192.168.1.1"},
		"mixed.example":         {"93.184.216.34", "10.0.0.5"},
		"metadata.example":      {"169.254.169.254"},
		"v6.example":            {"2606:4700:4700::1111"},
		"v6-loop.example":       {"8.8.8.8", "::1"},
		"xn--bcher-kva.example": {"93.184.216.34"},
	}
	c := newTestClassifier(table)

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"public domain", "http://example.com", true},
		{"mixed case host", "http://EXAMPLE.com", true},
		{"trailing dot", "https://example.com./", true},
		{"private resolution", "http://internal-looking.com", false},
		{"private record hidden behind public", "http://mixed.example/", false},
		{"metadata resolution", "http://metadata.example/", false},
		{"public IPv6 resolution", "https://v6.example/", true},
		{"loopback IPv6 in answers", "https://v6-loop.example/", false},
		{"unresolvable domain", "https://nonexistent.example/", false},
		{"localhost", "http://localhost", false},
		{"localhost uppercase", "http://LOCALHOST:8080/", false},
		{"localhost subdomain", "http://app.localhost/", false},
		{"local suffix", "http://printer.local/", false},
		{"internal suffix", "https://api.corp.internal/", false},
		{"gcp metadata host", "http://metadata.google.internal/computeMetadata/v1/", false},
		{"idn host", "https://bücher.example/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(context.Background(), tt.url)
			if got.Safe() != tt.want {
				t.Errorf("Classify(%q) = %v (%s), want safe=%v", tt.url, got.Verdict, got.Reason, tt.want)
			}
		})
	}
}

func TestClassify_ResolvedAddresses(t *testing.T) {
	c := newTestClassifier(StaticResolver{"mixed.example": {"93.184.216.34", "10.0.0.5"}})

	got := c.Classify(context.Background(), "http://mixed.example/")
	if got.Kind != KindDomain {
		t.Fatalf("kind = %v, want %v", got.Kind, KindDomain)
	}
	if len(got.ResolvedAddresses) != 2 {
		t.Fatalf("resolved %d addresses, want 2", len(got.ResolvedAddresses))
	}
	if got.Reason == "" {
		t.Error("expected a reason for the unsafe verdict")
	}
}

func TestClassify_ResolutionErrorIsKept(t *testing.T) {
	c := newTestClassifier(StaticResolver{"example.com": {"93.184.216.34"}, "internal-looking.com": {"192.168.1.1"}})

	got := c.Classify(context.Background(), "https://nonexistent.example/")
	var dnsErr *net.DNSError
	if got.Safe() || !errors.As(got.Err, &dnsErr) {
		t.Errorf("unresolvable host: verdict %v, err %v; want unsafe with DNS error", got.Verdict, got.Err)
	}

	if got := c.Classify(context.Background(), "https://internal-looking.com/"); got.Err != nil {
		t.Errorf("blocked host carries resolver error %v", got.Err)
	}
	if got := c.Classify(context.Background(), "https://example.com/"); got.Err != nil {
		t.Errorf("safe host carries error %v", got.Err)
	}
}

func TestClassify_CustomBlockedHosts(t *testing.T) {
	table := StaticResolver{
		"printer.local":  {"93.184.216.34"},
		"cdn.blocked.io": {"93.184.216.34"},
	}
	c := NewClassifier(WithResolver(table), WithBlockedHosts([]string{"*.blocked.io"}))

	if !c.IsSafeURL(context.Background(), "http://printer.local/") {
		t.Error("default patterns should be replaced, printer.local should resolve as public")
	}
	if c.IsSafeURL(context.Background(), "http://cdn.blocked.io/") {
		t.Error("cdn.blocked.io should match *.blocked.io")
	}
}

func TestValidatePatterns(t *testing.T) {
	if err := ValidatePatterns(DefaultBlockedHosts); err != nil {
		t.Errorf("default patterns should be valid: %v", err)
	}
	if err := ValidatePatterns([]string{"[a-"}); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestIsBlockedIP(t *testing.T) {
	tests := []struct {
		ip       string
		expected bool
	}{
		// IPv4 private ranges
		{"192.168.1.1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true},

		// Reserved
		{"0.1.2.3", true},
		{"100.64.0.1", true},
		{"100.127.255.255", true},
		{"192.0.0.1", true},
		{"192.0.2.10", true},
		{"198.18.0.1", true},
		{"198.19.255.255", true},
		{"198.51.100.7", true},
		{"203.0.113.9", true},
		{"239.255.255.250", true},
		{"250.1.1.1", true},

		// IPv4 public
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"93.184.216.34", false},
		{"100.128.0.1", false},
		{"198.20.0.1", false},

		// IPv6
		{"::", true},
		{"::1", true},
		{"::ffff:192.168.1.1", true},
		{"::ffff:127.0.0.1", true},
		{"::ffff:8.8.8.8", false},
		{"fe80::1", true},
		{"fc00::1", true},
		{"fd12:3456::1", true},
		{"ff05::2", true},
		{"2001:db8::1", true},
		{"64:ff9b::c0a8:101", true},
		{"2606:4700:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("failed to parse IP: %s", tt.ip)
			}
			if got := IsBlockedIP(ip); got != tt.expected {
				t.Errorf("IsBlockedIP(%q) = %v, want %v", tt.ip, got, tt.expected)
			}
		})
	}

	if !IsBlockedIP(nil) {
		t.Error("nil IP should be blocked")
	}
}

func TestExtractOrigin(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"http://example.com/a", "http://example.com:80/b", true},
		{"https://example.com/a", "https://EXAMPLE.com:443/b?x=1", true},
		{"http://example.com/", "https://example.com/", false},
		{"https://example.com/", "https://example.com:8443/", false},
		{"https://example.com/", "https://other.example.com/", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			ua, _ := url.Parse(tt.a)
			ub, _ := url.Parse(tt.b)
			if got := ExtractOrigin(ua) == ExtractOrigin(ub); got != tt.same {
				t.Errorf("same origin = %v, want %v (%s, %s)", got, tt.same, ExtractOrigin(ua), ExtractOrigin(ub))
			}
		})
	}
}
