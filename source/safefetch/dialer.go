package safefetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/safefetch/source/weburl"
)

// BlockedAddressError is returned by the guarded dialer when a host resolves
// to a blocked address at connect time.
type BlockedAddressError struct {
	Host string
	IP   net.IP
}

func (e *BlockedAddressError) Error() string {
	return fmt.Sprintf("connection to %s (%s) is not allowed", e.Host, e.IP)
}

// GuardedDialer resolves the target itself, refuses blocked addresses and
// dials only the literal IPs it validated. This pins each connection to the
// answer that was checked, so a DNS answer that changes after classification
// cannot redirect the socket to an internal address.
type GuardedDialer struct {
	Resolver weburl.Resolver
	Dialer   *net.Dialer

	// IsBlocked decides which addresses are refused. Nil uses weburl.IsBlockedIP.
	IsBlocked func(net.IP) bool
}

// NewGuardedDialer creates a dialer using resolver for name lookups.
func NewGuardedDialer(resolver weburl.Resolver) *GuardedDialer {
	if resolver == nil {
		resolver = weburl.SystemResolver()
	}
	return &GuardedDialer{
		Resolver: resolver,
		Dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// DialContext implements the http.Transport dial hook.
func (d *GuardedDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	ips, err := d.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	blocked := d.IsBlocked
	if blocked == nil {
		blocked = weburl.IsBlockedIP
	}
	for _, ip := range ips {
		if blocked(ip) {
			return nil, &BlockedAddressError{Host: host, IP: ip}
		}
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	var lastErr error
	for _, ip := range filterFamily(network, ips) {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no %s address for %s", network, host)
	}
	return nil, fmt.Errorf("connect to %s: %w", host, lastErr)
}

func (d *GuardedDialer) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return []net.IP{ip}, nil
	}
	addrs, err := d.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed: %w", err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("DNS lookup for %s returned no addresses", host)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

func filterFamily(network string, ips []net.IP) []net.IP {
	switch network {
	case "tcp4", "udp4":
		var out []net.IP
		for _, ip := range ips {
			if ip.To4() != nil {
				out = append(out, ip)
			}
		}
		return out
	case "tcp6", "udp6":
		var out []net.IP
		for _, ip := range ips {
			if ip.To4() == nil {
				out = append(out, ip)
			}
		}
		return out
	default:
		return ips
	}
}

// NewTransport returns an http.Transport that dials through the guarded
// dialer and ignores proxy environment variables, since a proxy would make
// the dial-time address check meaningless.
func NewTransport(dialer *GuardedDialer) *http.Transport {
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// isBlockedDial reports whether a transport error came from the dial guard.
func isBlockedDial(err error) (*BlockedAddressError, bool) {
	var blocked *BlockedAddressError
	if errors.As(err, &blocked) {
		return blocked, true
	}
	return nil, false
}
