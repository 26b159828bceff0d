package weburl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver resolves a host name to all of its addresses.
// *net.Resolver satisfies this interface.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// SystemResolver returns the process-wide system resolver.
func SystemResolver() Resolver {
	return net.DefaultResolver
}

// ErrNoAddresses is returned when a lookup succeeds without any A or AAAA record.
var ErrNoAddresses = errors.New("no addresses found")

// DNSResolver queries a fixed upstream nameserver for A and AAAA records
// instead of going through the system resolver.
type DNSResolver struct {
	server string
	client *dns.Client
	tcp    *dns.Client
}

// NewDNSResolver creates a resolver for server, given as host or host:port.
// Port 53 is assumed when omitted.
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(strings.Trim(server, "[]"), "53")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

// LookupIPAddr returns the union of A and AAAA answers. Any failed query or
// non-success response code fails the whole lookup.
func (r *DNSResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	var addrs []net.IPAddr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		ips, err := r.query(ctx, host, qtype)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			addrs = append(addrs, net.IPAddr{IP: ip})
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("lookup %s: %w", host, ErrNoAddresses)
	}
	return addrs, nil
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err == nil && resp.Truncated {
		// A truncated UDP answer may be missing records; repeat over TCP.
		resp, _, err = r.tcp.ExchangeContext(ctx, msg, r.server)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s: %w", host, dns.TypeToString[qtype], err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("lookup %s %s: %s", host, dns.TypeToString[qtype], dns.RcodeToString[resp.Rcode])
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			ips = append(ips, rec.A)
		case *dns.AAAA:
			ips = append(ips, rec.AAAA)
		}
	}
	return ips, nil
}

// StaticResolver answers from a fixed host table. Unknown hosts fail.
type StaticResolver map[string][]string

// LookupIPAddr resolves host from the table, case-insensitively.
func (s StaticResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	entries, ok := s[strings.ToLower(host)]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	addrs := make([]net.IPAddr, 0, len(entries))
	for _, e := range entries {
		ip := net.ParseIP(e)
		if ip == nil {
			return nil, fmt.Errorf("static resolver: invalid address %q for %s", e, host)
		}
		addrs = append(addrs, net.IPAddr{IP: ip})
	}
	return addrs, nil
}
